package bucketing

import (
	"testing"
	"time"

	"neighborly-auth/internal/config"
)

func newTestManager() *BucketingManager {
	return NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{
			UserBuckets:  64,
			EventBuckets: 128,
		},
	})
}

func TestUserBucketStableAndInRange(t *testing.T) {
	bm := newTestManager()

	first := bm.UserBucket("user-123")
	for i := 0; i < 100; i++ {
		if got := bm.UserBucket("user-123"); got != first {
			t.Fatalf("bucket changed between calls: %d vs %d", got, first)
		}
	}

	ids := []string{"a", "b", "user-1", "user-2", "3f2c", ""}
	for _, id := range ids {
		if got := bm.UserBucket(id); got < 0 || got >= 64 {
			t.Errorf("UserBucket(%q) = %d, out of range", id, got)
		}
	}
}

func TestEventBucketRange(t *testing.T) {
	bm := newTestManager()

	for _, key := range []string{"evt", "phonehash", "user-9"} {
		if got := bm.EventBucket(key); got < 0 || got >= 128 {
			t.Errorf("EventBucket(%q) = %d, out of range", key, got)
		}
	}
}

func TestDateBucket(t *testing.T) {
	bm := newTestManager()

	at := time.Date(2025, 3, 7, 23, 59, 0, 0, time.UTC)
	if got := bm.DateBucket(at); got != "2025-03-07" {
		t.Errorf("DateBucket = %q", got)
	}

	// Non-UTC input buckets by the UTC day.
	ist := time.FixedZone("IST", 5*3600+1800)
	late := time.Date(2025, 3, 8, 1, 0, 0, 0, ist)
	if got := bm.DateBucket(late); got != "2025-03-07" {
		t.Errorf("DateBucket across zones = %q, want 2025-03-07", got)
	}
}
