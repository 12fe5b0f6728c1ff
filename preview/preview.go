// Package preview reads OpenGraph metadata from a target page so drafts
// posted without an image or description can be filled in.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/carlmjohnson/requests"
	"github.com/codeGROOVE-dev/retry"

	"relay-scheduler/pkg/scheduling"
)

// DefaultTimeout bounds one preview fetch including retries.
const DefaultTimeout = 5 * time.Second

const userAgent = "relay-scheduler/1.0 (+preview)"

// Preview is the page metadata the scheduler cares about.
type Preview struct {
	Title       string
	Description string
	Image       string
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// Fetcher fetches and parses target pages.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a fetcher. A nil client means http.DefaultClient.
func New(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, timeout: DefaultTimeout, logger: logger}
}

// Fetch downloads pageURL and extracts its OpenGraph metadata. Client
// errors (4xx) are not retried.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Preview, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var p *Preview
	err := retry.Do(
		func() error {
			var buf bytes.Buffer
			startTime := time.Now()
			err := requests.URL(pageURL).
				Client(f.client).
				UserAgent(userAgent).
				Accept("text/html,application/xhtml+xml").
				AddValidator(func(res *http.Response) error {
					if res.StatusCode < 200 || res.StatusCode >= 300 {
						return &StatusError{URL: pageURL, StatusCode: res.StatusCode}
					}
					return nil
				}).
				ToBytesBuffer(&buf).
				Fetch(ctx)
			if err != nil {
				f.logger.Warn("Preview fetch failed", "url", pageURL, "duration_ms", time.Since(startTime).Milliseconds(), "error", err)
				return err
			}
			p, err = Parse(&buf)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Attempts(2),
		retry.Delay(200*time.Millisecond),
		retry.MaxJitter(100*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Info("Retrying preview fetch after error", "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode >= 500
			}
			return true
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch preview: %w", err)
	}
	return p, nil
}

// Parse extracts OpenGraph metadata, falling back to <title> and the
// description meta tag.
func Parse(body io.Reader) (*Preview, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	meta := func(selectors ...string) string {
		for _, sel := range selectors {
			if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	p := &Preview{
		Title:       meta(`meta[property="og:title"]`, `meta[name="twitter:title"]`),
		Description: meta(`meta[property="og:description"]`, `meta[name="description"]`),
		Image:       meta(`meta[property="og:image"]`, `meta[name="twitter:image"]`),
	}
	if p.Title == "" {
		p.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return p, nil
}

// Enrich fills the empty description and image of post from its target
// page. Failures are logged and leave post unchanged.
func (f *Fetcher) Enrich(ctx context.Context, post *scheduling.ScheduledPost) {
	if post.TargetURL == "" || (post.Description != "" && post.ImageURL != "") {
		return
	}
	p, err := f.Fetch(ctx, post.TargetURL)
	if err != nil {
		f.logger.Warn("Skipping preview enrichment", "post_id", post.ID, "url", post.TargetURL, "error", err)
		return
	}
	if post.Description == "" {
		post.Description = p.Description
	}
	if post.ImageURL == "" {
		post.ImageURL = p.Image
	}
}
