package preview

import (
	"context"
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

const page = `<!DOCTYPE html>
<html><head>
<title>Fallback title</title>
<meta property="og:title" content="Lisbon in three days">
<meta name="description" content="Plain description">
<meta property="og:description" content="  Trams, tiles and pastries.  ">
<meta property="og:image" content="https://cdn.example.com/lisbon.jpg">
</head><body><p>hello</p></body></html>`

func TestParse(t *testing.T) {
	p, err := Parse(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, "Lisbon in three days", p.Title)
	assert.Equal(t, "Trams, tiles and pastries.", p.Description)
	assert.Equal(t, "https://cdn.example.com/lisbon.jpg", p.Image)

	p, err = Parse(strings.NewReader(`<html><head><title> Only title </title><meta name="description" content="desc"></head></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Only title", p.Title)
	assert.Equal(t, "desc", p.Description)
	assert.Empty(t, p.Image)
}

func TestEnrichFillsEmptyFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, page)
	}))
	defer srv.Close()

	f := New(srv.Client(), testLogger())
	post := &scheduling.ScheduledPost{ID: "p1", TargetURL: srv.URL, Description: "mine"}
	f.Enrich(context.Background(), post)
	assert.Equal(t, "mine", post.Description)
	assert.Equal(t, "https://cdn.example.com/lisbon.jpg", post.ImageURL)
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(srv.Client(), testLogger())
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, int32(1), calls.Load())

	post := &scheduling.ScheduledPost{ID: "p2", TargetURL: srv.URL}
	f.Enrich(context.Background(), post)
	assert.Empty(t, post.ImageURL)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, page)
	}))
	defer srv.Close()

	p, err := New(srv.Client(), testLogger()).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Lisbon in three days", p.Title)
	assert.Equal(t, int32(2), calls.Load())
}
