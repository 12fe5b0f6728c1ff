// Package publish turns one due ScheduledPost into a signed network event
// and records the outcome.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relay-scheduler/format"
	"relay-scheduler/pkg/scheduling"
	"relay-scheduler/relay"
	"relay-scheduler/signer"
	"relay-scheduler/storage"
)

// DefaultTimeout bounds a single publish attempt.
const DefaultTimeout = 10 * time.Second

// StatusStore records the terminal status of a post.
type StatusStore interface {
	SetStatus(ctx context.Context, id string, status scheduling.Status, opts ...storage.StatusOption) error
}

// EventSigner signs event drafts.
type EventSigner interface {
	Sign(d signer.Draft) (*relay.Event, error)
}

// EventPublisher writes signed events to the network.
type EventPublisher interface {
	Publish(ctx context.Context, ev *relay.Event) error
}

// Notifier is told about every outcome.
type Notifier interface {
	PublishSucceeded(ctx context.Context, post *scheduling.ScheduledPost, eventID string) error
	PublishFailed(ctx context.Context, post *scheduling.ScheduledPost, cause error) error
}

// Config holds the collaborators of a Publisher.
type Config struct {
	Store    StatusStore
	Signer   EventSigner
	Relays   EventPublisher
	Notifier Notifier // Optional
	Logger   *slog.Logger
	Timeout  time.Duration    // Zero means DefaultTimeout
	Now      func() time.Time // Zero means time.Now
}

// Publisher publishes posts exactly once per call, without retry.
type Publisher struct {
	store    StatusStore
	signer   EventSigner
	relays   EventPublisher
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// New creates a publisher.
func New(cfg Config) *Publisher {
	p := &Publisher{
		store:    cfg.Store,
		signer:   cfg.Signer,
		relays:   cfg.Relays,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		timeout:  cfg.Timeout,
		now:      cfg.Now,
	}
	if p.timeout <= 0 {
		p.timeout = DefaultTimeout
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Publish formats, signs and writes post, then moves it to published or
// failed and notifies. The returned error is the publish failure, if any.
// When ctx itself is cancelled before the outcome is known the post is
// left pending.
func (p *Publisher) Publish(ctx context.Context, post scheduling.ScheduledPost) error {
	startTime := time.Now()
	ev, err := p.attempt(ctx, &post)
	if err != nil && ctx.Err() != nil {
		p.logger.Warn("Publish interrupted, leaving post pending", "post_id", post.ID, "error", err)
		return err
	}

	// The outcome is known; record it even if shutdown starts now.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		p.logger.Error("Failed to publish scheduled post",
			"post_id", post.ID,
			"content_type", post.ContentType,
			"duration_ms", time.Since(startTime).Milliseconds(),
			"error", err)
		p.record(ctx, &post, scheduling.StatusFailed, storage.WithError(err))
		if p.notifier != nil {
			if nerr := p.notifier.PublishFailed(ctx, &post, err); nerr != nil {
				p.logger.Warn("Failed to send failure notification", "post_id", post.ID, "error", nerr)
			}
		}
		return err
	}

	p.logger.Info("Published scheduled post",
		"post_id", post.ID,
		"event_id", ev.ID,
		"content_type", post.ContentType,
		"duration_ms", time.Since(startTime).Milliseconds())
	p.record(ctx, &post, scheduling.StatusPublished, storage.WithEventID(ev.ID))
	if p.notifier != nil {
		if nerr := p.notifier.PublishSucceeded(ctx, &post, ev.ID); nerr != nil {
			p.logger.Warn("Failed to send publish notification", "post_id", post.ID, "error", nerr)
		}
	}
	return nil
}

// Fail marks post failed without attempting to publish it.
func (p *Publisher) Fail(ctx context.Context, post scheduling.ScheduledPost, cause error) {
	p.logger.Warn("Rejecting invalid scheduled post", "post_id", post.ID, "error", cause)
	p.record(ctx, &post, scheduling.StatusFailed, storage.WithError(cause))
	if p.notifier != nil {
		if err := p.notifier.PublishFailed(ctx, &post, cause); err != nil {
			p.logger.Warn("Failed to send failure notification", "post_id", post.ID, "error", err)
		}
	}
}

func (p *Publisher) attempt(ctx context.Context, post *scheduling.ScheduledPost) (*relay.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	formatted := format.Format(post)
	ev, err := p.signer.Sign(signer.Draft{
		Kind:      relay.KindTextNote,
		Content:   formatted.Text,
		Tags:      formatted.Tags,
		CreatedAt: p.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := p.relays.Publish(ctx, ev); err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	return ev, nil
}

func (p *Publisher) record(ctx context.Context, post *scheduling.ScheduledPost, status scheduling.Status, opt storage.StatusOption) {
	err := p.store.SetStatus(ctx, post.ID, status, opt)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrTerminalStatus), errors.Is(err, storage.ErrNotFound):
		p.logger.Warn("Post changed while publishing", "post_id", post.ID, "status", status, "error", err)
	default:
		p.logger.Error("Failed to persist post status", "post_id", post.ID, "status", status, "error", err)
	}
}
