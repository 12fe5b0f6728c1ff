// Package notify tells the operator what the scheduler did, through a
// pluggable delivery provider.
package notify

import (
	"context"
	"log/slog"

	"relay-scheduler/pkg/scheduling"
)

// Kind classifies a notification.
type Kind string

const (
	KindPublished   Kind = "published"
	KindFailed      Kind = "failed"
	KindSocialReady Kind = "social-ready"
)

// Message is one notification about a scheduled post.
type Message struct {
	Kind    Kind
	PostID  string
	To      string
	Subject string
	Body    string // HTML
}

// Provider delivers one message.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier formats publish outcomes and hands them to a Provider.
type Notifier struct {
	provider Provider
	to       string
	logger   *slog.Logger
}

// New creates a notifier that addresses every message to to.
func New(provider Provider, to string, logger *slog.Logger) *Notifier {
	return &Notifier{
		provider: provider,
		to:       to,
		logger:   logger,
	}
}

// PublishSucceeded reports that post went out as event eventID.
func (n *Notifier) PublishSucceeded(ctx context.Context, post *scheduling.ScheduledPost, eventID string) error {
	n.logger.Info("Sending publish notification", "post_id", post.ID, "event_id", eventID)
	return n.provider.Send(ctx, Message{
		Kind:    KindPublished,
		PostID:  post.ID,
		To:      n.to,
		Subject: "Published: " + post.Title,
		Body:    publishedBody(post, eventID),
	})
}

// PublishFailed reports that post could not be published.
func (n *Notifier) PublishFailed(ctx context.Context, post *scheduling.ScheduledPost, cause error) error {
	n.logger.Info("Sending failure notification", "post_id", post.ID, "error", cause)
	return n.provider.Send(ctx, Message{
		Kind:    KindFailed,
		PostID:  post.ID,
		To:      n.to,
		Subject: "Publish failed: " + post.Title,
		Body:    failedBody(post, cause),
	})
}

// SocialReady reports that a social post is due and carries the text to paste.
func (n *Notifier) SocialReady(ctx context.Context, post *scheduling.SocialScheduledPost) error {
	n.logger.Info("Sending social reminder", "post_id", post.ID, "platform", post.Platform)
	return n.provider.Send(ctx, Message{
		Kind:    KindSocialReady,
		PostID:  post.ID,
		To:      n.to,
		Subject: "Ready to post on " + string(post.Platform) + ": " + post.Title,
		Body:    socialBody(post),
	})
}
