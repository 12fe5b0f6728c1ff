package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-scheduler/dispatch"
	"relay-scheduler/pkg/scheduling"
	"relay-scheduler/storage"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return d, nil
}

func (m *memBackend) Set(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

type fakeTicker struct{ err error }

func (f *fakeTicker) Tick(context.Context) error { return f.err }

type fakeEnricher struct{}

func (fakeEnricher) Enrich(_ context.Context, post *scheduling.ScheduledPost) {
	if post.ImageURL == "" {
		post.ImageURL = "https://cdn.example.com/og.jpg"
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, ticker Ticker) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.Open(context.Background(), &memBackend{data: map[string][]byte{}}, testLogger())
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	dispatch.NewMetrics(reg)
	ids := 0
	s := New(&Config{
		Store:    store,
		Ticker:   ticker,
		Enricher: fakeEnricher{},
		Gatherer: reg,
		Logger:   testLogger(),
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
		NewID: func() string {
			ids++
			return "id-" + string(rune('0'+ids))
		},
	})
	return s, store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeTicker{})
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = do(t, s.Handler(), http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCreateAndListPosts(t *testing.T) {
	s, store := newTestServer(t, &fakeTicker{})
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/posts", `{"contentType":"review","title":"Late","targetUrl":"https://example.com/b","scheduledTime":1700000500,"status":"published"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created scheduling.ScheduledPost
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "id-1", created.ID)
	assert.Equal(t, scheduling.StatusPending, created.Status)
	assert.Equal(t, int64(1700000000), created.CreatedAt)
	assert.Equal(t, "https://cdn.example.com/og.jpg", created.ImageURL)

	rec = do(t, h, http.MethodPost, "/api/posts", `{"contentType":"trip","title":"Early","targetUrl":"https://example.com/a","scheduledTime":1700000100}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/posts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []scheduling.ScheduledPost
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "Early", list[0].Title)
	assert.Equal(t, "Late", list[1].Title)

	// Resubmitting keeps the creation time.
	require.NoError(t, store.Upsert(context.Background(), scheduling.ScheduledPost{
		ID: "fixed", ContentType: scheduling.ContentCustom, Title: "x", TargetURL: "https://e", ScheduledTime: 1, CreatedAt: 42,
	}))
	rec = do(t, h, http.MethodPost, "/api/posts", `{"id":"fixed","contentType":"custom","title":"y","targetUrl":"https://e","scheduledTime":2}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	got, err := store.Get("fixed")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.CreatedAt)
	assert.Equal(t, "y", got.Title)
}

func TestCreatePostValidation(t *testing.T) {
	s, store := newTestServer(t, &fakeTicker{})
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/posts", `{"contentType":"poem","title":"","scheduledTime":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown content type")
	assert.Contains(t, rec.Body.String(), "missing title")

	rec = do(t, h, http.MethodPost, "/api/posts", `{"bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/posts", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.List())
}

func TestDeletePost(t *testing.T) {
	s, store := newTestServer(t, &fakeTicker{})
	h := s.Handler()
	require.NoError(t, store.Upsert(context.Background(), scheduling.ScheduledPost{ID: "gone", ContentType: scheduling.ContentReview, Title: "t", TargetURL: "u", ScheduledTime: 1}))

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/posts?id=gone", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/posts?id=gone", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodDelete, "/api/posts", "").Code)
}

func TestSocialPosts(t *testing.T) {
	s, store := newTestServer(t, &fakeTicker{})
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/social", `{"id":"s1","contentType":"stock-media","title":"Harbour","targetUrl":"https://example.com","scheduledTime":1700000000,"platform":"myspace"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/social", `{"id":"s1","contentType":"stock-media","title":"Harbour","targetUrl":"https://example.com","scheduledTime":1700000000,"platform":"twitter","status":"ready","preparedText":"x"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	list := store.ListSocial()
	require.Len(t, list, 1)
	assert.Equal(t, scheduling.SocialPending, list[0].Status)
	assert.Empty(t, list[0].PreparedText)

	rec = do(t, h, http.MethodPost, "/api/social/posted?id=s1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, scheduling.SocialPostedManually, store.ListSocial()[0].Status)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/social/posted?id=nope", "").Code)

	rec = do(t, h, http.MethodGet, "/api/social", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"posted-manually"`)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/social?id=s1", "").Code)
	assert.Empty(t, store.ListSocial())
}

func TestPoll(t *testing.T) {
	ticker := &fakeTicker{}
	s, _ := newTestServer(t, ticker)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/pollz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"completed"}`, rec.Body.String())

	ticker.err = dispatch.ErrTickInProgress
	rec = do(t, h, http.MethodPost, "/pollz", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/pollz", "").Code)
}

func TestMetrics(t *testing.T) {
	s, _ := newTestServer(t, &fakeTicker{})
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scheduler_pending_posts")
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter()
	for range 20 {
		require.True(t, l.allow("10.0.0.1"))
	}
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", clientIP(r))
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}
