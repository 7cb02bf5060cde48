package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/go-chi/chi/v5"

	"neighborly-auth/internal/service"
)

type fakeModerator struct {
	banFn   func(ctx context.Context, userID string, expiresAt *time.Time) error
	unbanFn func(ctx context.Context, userID string) error

	bannedID  string
	banExpiry *time.Time
}

func (f *fakeModerator) Ban(ctx context.Context, userID string, expiresAt *time.Time) error {
	f.bannedID = userID
	f.banExpiry = expiresAt
	if f.banFn != nil {
		return f.banFn(ctx, userID, expiresAt)
	}
	return nil
}

func (f *fakeModerator) Unban(ctx context.Context, userID string) error {
	if f.unbanFn != nil {
		return f.unbanFn(ctx, userID)
	}
	return nil
}

type fakeSearcher struct {
	lastQuery map[string]interface{}
	hits      string
}

func (f *fakeSearcher) Search(_ context.Context, _ string, query map[string]interface{}) (*esapi.Response, error) {
	f.lastQuery = query
	body := f.hits
	if body == "" {
		body = `{"hits":{"total":{"value":0},"hits":[]}}`
	}
	return &esapi.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func (f *fakeSearcher) ParseResponse(res *esapi.Response, target interface{}) error {
	defer res.Body.Close()
	return json.NewDecoder(res.Body).Decode(target)
}

type fakeStatsProvider struct {
	statsFn func(ctx context.Context) (map[string]interface{}, error)
}

func (f *fakeStatsProvider) Stats(ctx context.Context) (map[string]interface{}, error) {
	if f.statsFn != nil {
		return f.statsFn(ctx)
	}
	return map[string]interface{}{"total_otp_rows": int64(42)}, nil
}

func newAdminTestServer(moderator Moderator, searcher EventSearcher) *httptest.Server {
	return newAdminTestServerWithStats(moderator, searcher, &fakeStatsProvider{})
}

func newAdminTestServerWithStats(moderator Moderator, searcher EventSearcher, stats StatsProvider) *httptest.Server {
	router := chi.NewRouter()
	passthrough := func(next http.Handler) http.Handler { return next }
	NewAdminHandler(moderator, searcher, stats, "events").RegisterRoutes(router, passthrough)
	return httptest.NewServer(router)
}

const testUserID = "a7f4c1d2-0f3b-4e5a-9c8d-112233445566"

func TestBanUser(t *testing.T) {
	moderator := &fakeModerator{}
	srv := newAdminTestServer(moderator, &fakeSearcher{})
	defer srv.Close()

	res := postJSON(t, srv.URL+"/admin/users/"+testUserID+"/ban", "")
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if moderator.bannedID != testUserID {
		t.Errorf("banned %q", moderator.bannedID)
	}
	if moderator.banExpiry != nil {
		t.Error("empty body should mean a permanent ban")
	}
}

func TestBanUserWithExpiry(t *testing.T) {
	moderator := &fakeModerator{}
	srv := newAdminTestServer(moderator, &fakeSearcher{})
	defer srv.Close()

	expiry := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)
	res := postJSON(t, srv.URL+"/admin/users/"+testUserID+"/ban",
		`{"expires_at":"`+expiry+`"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if moderator.banExpiry == nil {
		t.Error("expiry lost")
	}
}

func TestBanUserRejectsBadRequests(t *testing.T) {
	srv := newAdminTestServer(&fakeModerator{}, &fakeSearcher{})
	defer srv.Close()

	res := postJSON(t, srv.URL+"/admin/users/not-a-uuid/ban", "")
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("bad uuid: status = %d, want 400", res.StatusCode)
	}

	past := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	res = postJSON(t, srv.URL+"/admin/users/"+testUserID+"/ban",
		`{"expires_at":"`+past+`"}`)
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("past expiry: status = %d, want 400", res.StatusCode)
	}
}

func TestBanUnknownUser(t *testing.T) {
	moderator := &fakeModerator{
		banFn: func(context.Context, string, *time.Time) error {
			return service.ErrUserNotFound
		},
	}
	srv := newAdminTestServer(moderator, &fakeSearcher{})
	defer srv.Close()

	res := postJSON(t, srv.URL+"/admin/users/"+testUserID+"/ban", "")
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", res.StatusCode)
	}
}

func TestUnbanUser(t *testing.T) {
	var unbanned string
	moderator := &fakeModerator{
		unbanFn: func(_ context.Context, userID string) error {
			unbanned = userID
			return nil
		},
	}
	srv := newAdminTestServer(moderator, &fakeSearcher{})
	defer srv.Close()

	res := postJSON(t, srv.URL+"/admin/users/"+testUserID+"/unban", "")
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if unbanned != testUserID {
		t.Errorf("unbanned %q", unbanned)
	}
}

func TestSearchEvents(t *testing.T) {
	searcher := &fakeSearcher{
		hits: `{"hits":{"total":{"value":2},"hits":[` +
			`{"_source":{"event_type":"otp_issued"}},` +
			`{"_source":{"event_type":"login"}}]}}`,
	}
	srv := newAdminTestServer(&fakeModerator{}, searcher)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/admin/events?user_id=user-1&type=login&limit=10")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	defer res.Body.Close()
	var body struct {
		Success bool              `json:"success"`
		Data    []json.RawMessage `json:"data"`
		Meta    *Meta             `json:"meta"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 2 {
		t.Errorf("got %d events, want 2", len(body.Data))
	}
	if body.Meta == nil || body.Meta.Total != 2 {
		t.Errorf("meta = %+v", body.Meta)
	}

	if searcher.lastQuery["size"] != 10 {
		t.Errorf("query size = %v", searcher.lastQuery["size"])
	}
	if _, ok := searcher.lastQuery["query"]; !ok {
		t.Error("filters not applied to the query")
	}
}

func TestSearchEventsWithoutBackend(t *testing.T) {
	srv := newAdminTestServer(&fakeModerator{}, nil)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/admin/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", res.StatusCode)
	}
}

func TestStats(t *testing.T) {
	srv := newAdminTestServer(&fakeModerator{}, &fakeSearcher{})
	defer srv.Close()

	res, err := http.Get(srv.URL + "/admin/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}

	var body struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success {
		t.Error("success = false")
	}
	if body.Data["total_otp_rows"] != float64(42) {
		t.Errorf("data = %v", body.Data)
	}
}

func TestStatsWithoutBackend(t *testing.T) {
	srv := newAdminTestServerWithStats(&fakeModerator{}, &fakeSearcher{}, nil)
	defer srv.Close()

	res, err := http.Get(srv.URL + "/admin/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", res.StatusCode)
	}
}
