package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-scheduler/pkg/scheduling"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierEscapesContent(t *testing.T) {
	mock := NewMockProvider(testLogger())
	n := New(mock, "me@example.com", testLogger())
	post := &scheduling.ScheduledPost{
		ID:          "p1",
		Title:       "<script>alert(1)</script>",
		ContentType: scheduling.ContentReview,
		TargetURL:   "https://example.com/?a=1&b=2",
	}

	require.NoError(t, n.PublishSucceeded(context.Background(), post, "ev1"))
	require.NoError(t, n.PublishFailed(context.Background(), post, errors.New("relay said <no>")))

	sent := mock.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, KindPublished, sent[0].Kind)
	assert.Equal(t, KindFailed, sent[1].Kind)
	assert.Equal(t, "p1", sent[1].PostID)
	assert.Equal(t, "me@example.com", sent[0].To)
	assert.Equal(t, "Published: <script>alert(1)</script>", sent[0].Subject)
	assert.NotContains(t, sent[0].Body, "<script>")
	assert.Contains(t, sent[0].Body, "&lt;script&gt;")
	assert.Contains(t, sent[0].Body, "https://example.com/?a=1&amp;b=2")
	assert.Contains(t, sent[0].Body, "ev1")
	assert.Contains(t, sent[1].Body, "relay said &lt;no&gt;")
}

func TestSocialReady(t *testing.T) {
	mock := NewMockProvider(testLogger())
	n := New(mock, "me@example.com", testLogger())
	post := &scheduling.SocialScheduledPost{
		ScheduledPost: scheduling.ScheduledPost{ID: "s1", Title: "Harbour"},
		Platform:      scheduling.PlatformInstagram,
		PreparedText:  "📷 Harbour\n\n#stockmedia",
	}
	require.NoError(t, n.SocialReady(context.Background(), post))

	sent := mock.SentOfKind(KindSocialReady, "s1")
	require.Len(t, sent, 1)
	assert.Empty(t, mock.SentOfKind(KindPublished, ""))
	assert.Equal(t, "Ready to post on instagram: Harbour", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "<pre>📷 Harbour\n\n#stockmedia</pre>")
}

func TestSanitizeHeader(t *testing.T) {
	assert.Equal(t, "SubjectBcc: evil@example.com", sanitizeHeader("Subject\r\nBcc: evil@example.com"))
	msg := mimeMessage(Message{
		Kind:    KindFailed,
		PostID:  "p7\r\nBcc: y@example.com",
		To:      "a@example.com\nBcc: x@example.com",
		Subject: "Hi",
		Body:    "<p>body</p>",
	})
	assert.Equal(t, 7, strings.Count(msg, "\r\n"))
	assert.Contains(t, msg, "To: a@example.comBcc: x@example.com\r\n")
	assert.Contains(t, msg, "X-Relay-Scheduler-Kind: failed\r\n")
	assert.Contains(t, msg, "X-Relay-Scheduler-Post: p7Bcc: y@example.com\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\n<p>body</p>"))

	noPost := mimeMessage(Message{To: "a@example.com", Subject: "Hi", Body: "x"})
	assert.NotContains(t, noPost, "X-Relay-Scheduler")
}

func TestBrevoProvider(t *testing.T) {
	var got brevoSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewBrevoProvider("secret", "from@example.com", "Scheduler", srv.URL, testLogger())
	msg := Message{Kind: KindPublished, PostID: "p1", To: "to@example.com", Subject: "Subject", Body: "<p>hi</p>"}
	require.NoError(t, p.Send(context.Background(), msg))
	assert.Equal(t, "from@example.com", got.Sender.Email)
	assert.Equal(t, []brevoContact{{Email: "to@example.com"}}, got.To)
	assert.Equal(t, "<p>hi</p>", got.HTML)
	assert.Equal(t, []string{"published"}, got.Tags)
	assert.Equal(t, map[string]string{"X-Relay-Scheduler-Post": "p1"}, got.Headers)
}

func TestBrevoProviderRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewBrevoProvider("secret", "from@example.com", "", srv.URL, testLogger())
	err := p.Send(context.Background(), Message{Kind: KindFailed, To: "to@example.com", Subject: "Subject", Body: "body"})
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNtfyProvider(t *testing.T) {
	var title, tags, priority, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = r.Header.Get("Title")
		tags = r.Header.Get("Tags")
		priority = r.Header.Get("Priority")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
	}))
	defer srv.Close()

	p := NewNtfyProvider(srv.URL+"/mytopic", testLogger())
	html := publishedBody(&scheduling.ScheduledPost{Title: "Trip", ContentType: scheduling.ContentTrip}, "ev9")
	require.NoError(t, p.Send(context.Background(), Message{Kind: KindPublished, PostID: "t1", Subject: "Published: Trip", Body: html}))

	assert.Equal(t, "Published: Trip", title)
	assert.Equal(t, "white_check_mark", tags)
	assert.Equal(t, "default", priority)
	assert.Equal(t, "Scheduled post published\n\nTrip (trip) was published.\n\nEvent id: ev9", body)
	assert.NotContains(t, body, "font-family")
}

func TestNtfyFailureIsHighPriority(t *testing.T) {
	var tags, priority string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tags = r.Header.Get("Tags")
		priority = r.Header.Get("Priority")
	}))
	defer srv.Close()

	p := NewNtfyProvider(srv.URL+"/mytopic", testLogger())
	require.NoError(t, p.Send(context.Background(), Message{Kind: KindFailed, Subject: "Publish failed: Trip", Body: "<p>relay down</p>"}))
	assert.Equal(t, "x", tags)
	assert.Equal(t, "high", priority)
}
