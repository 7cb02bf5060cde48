package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"neighborly-auth/internal/config"
)

// BucketingManager assigns stable murmur3 buckets used as Scylla partition
// key prefixes, spreading hot phone prefixes across the cluster.
type BucketingManager struct {
	userBuckets  uint32
	eventBuckets uint32
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	return &BucketingManager{
		userBuckets:  cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
		hasherPool: sync.Pool{
			New: func() interface{} {
				return murmur3.New64()
			},
		},
	}
}

// UserBucket returns the partition bucket for a user id, in [0, userBuckets).
func (bm *BucketingManager) UserBucket(userID string) int {
	return bm.bucket(userID, bm.userBuckets)
}

// EventBucket returns the partition bucket for a security event key.
func (bm *BucketingManager) EventBucket(key string) int {
	return bm.bucket(key, bm.eventBuckets)
}

// DateBucket is the UTC day used to partition audit tables.
func (bm *BucketingManager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) bucket(key string, numBuckets uint32) int {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return int(hasher.Sum64() % uint64(numBuckets))
}
