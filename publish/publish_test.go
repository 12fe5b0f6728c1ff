package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-scheduler/notify"
	"relay-scheduler/pkg/scheduling"
	"relay-scheduler/relay"
	"relay-scheduler/signer"
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

type fakeRelays struct {
	mu     sync.Mutex
	err    error
	block  bool
	events []*relay.Event
}

func (f *fakeRelays) Publish(ctx context.Context, ev *relay.Event) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store  *storage.Store
	relays *fakeRelays
	mock   *notify.MockProvider
	pub    *Publisher
}

func newFixture(t *testing.T, s EventSigner) *fixture {
	t.Helper()
	store, err := storage.Open(context.Background(), &memBackend{data: map[string][]byte{}}, testLogger())
	require.NoError(t, err)
	if s == nil {
		s, err = signer.Generate()
		require.NoError(t, err)
	}
	f := &fixture{store: store, relays: &fakeRelays{}, mock: notify.NewMockProvider(testLogger())}
	f.pub = New(Config{
		Store:    store,
		Signer:   s,
		Relays:   f.relays,
		Notifier: notify.New(f.mock, "me@example.com", testLogger()),
		Logger:   testLogger(),
		Timeout:  200 * time.Millisecond,
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	})
	return f
}

func review(id string) scheduling.ScheduledPost {
	return scheduling.ScheduledPost{
		ID:            id,
		ContentType:   scheduling.ContentReview,
		Title:         "Corner café",
		Description:   "Great coffee.",
		TargetURL:     "https://example.com/r/" + id,
		ScheduledTime: 1699999999,
		Status:        scheduling.StatusPending,
		CreatedAt:     1699990000,
	}
}

func TestPublishSuccess(t *testing.T) {
	f := newFixture(t, nil)
	post := review("a")
	require.NoError(t, f.store.Upsert(context.Background(), post))

	require.NoError(t, f.pub.Publish(context.Background(), post))

	got, err := f.store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusPublished, got.Status)
	require.Len(t, f.relays.events, 1)
	ev := f.relays.events[0]
	assert.Equal(t, ev.ID, got.PublishedEventID)
	assert.Equal(t, int64(1700000000), ev.CreatedAt)
	assert.Equal(t, relay.KindTextNote, ev.Kind)
	assert.Contains(t, ev.Content, "📍 Corner café")
	require.NoError(t, signer.Verify(ev))

	sent := f.mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Published: Corner café", sent[0].Subject)
	assert.Equal(t, notify.KindPublished, sent[0].Kind)
}

func TestPublishRelayFailureMarksFailed(t *testing.T) {
	f := newFixture(t, nil)
	f.relays.err = &relay.RejectedError{Relay: "wss://r", Message: "blocked"}
	post := review("b")
	require.NoError(t, f.store.Upsert(context.Background(), post))

	err := f.pub.Publish(context.Background(), post)
	var rejected *relay.RejectedError
	require.ErrorAs(t, err, &rejected)

	got, err := f.store.Get("b")
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "blocked")
	failures := f.mock.SentOfKind(notify.KindFailed, post.ID)
	require.Len(t, failures, 1)
	assert.Equal(t, "Publish failed: Corner café", failures[0].Subject)

	// Terminal: a second attempt cannot move it back.
	f.relays.err = nil
	require.NoError(t, f.pub.Publish(context.Background(), post))
	got, _ = f.store.Get("b")
	assert.Equal(t, scheduling.StatusFailed, got.Status)
}

func TestPublishWithoutIdentity(t *testing.T) {
	noKey, err := signer.FromHex("")
	require.NoError(t, err)
	f := newFixture(t, noKey)
	post := review("c")
	require.NoError(t, f.store.Upsert(context.Background(), post))

	err = f.pub.Publish(context.Background(), post)
	assert.ErrorIs(t, err, signer.ErrNoIdentity)
	assert.Empty(t, f.relays.events)
	got, _ := f.store.Get("c")
	assert.Equal(t, scheduling.StatusFailed, got.Status)
}

func TestPublishTimeoutMarksFailed(t *testing.T) {
	f := newFixture(t, nil)
	f.relays.block = true
	post := review("d")
	require.NoError(t, f.store.Upsert(context.Background(), post))

	err := f.pub.Publish(context.Background(), post)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	got, _ := f.store.Get("d")
	assert.Equal(t, scheduling.StatusFailed, got.Status)
}

func TestPublishShutdownLeavesPending(t *testing.T) {
	f := newFixture(t, nil)
	f.relays.block = true
	post := review("e")
	require.NoError(t, f.store.Upsert(context.Background(), post))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err := f.pub.Publish(ctx, post)
	assert.True(t, errors.Is(err, context.Canceled))

	got, _ := f.store.Get("e")
	assert.Equal(t, scheduling.StatusPending, got.Status)
	assert.Empty(t, f.mock.Sent())
}

func TestFail(t *testing.T) {
	f := newFixture(t, nil)
	post := review("f")
	post.Title = ""
	require.NoError(t, f.store.Upsert(context.Background(), post))

	f.pub.Fail(context.Background(), post, post.Validate())
	got, _ := f.store.Get("f")
	assert.Equal(t, scheduling.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "missing title")
	assert.Empty(t, f.relays.events)
}
