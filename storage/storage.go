// Package storage handles persistence of scheduled posts.
package storage

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"relay-scheduler/pkg/scheduling"
)

// Persistence slots.
const (
	ScheduleKey = "scheduled-posts"
	SocialKey   = "social-scheduled-posts"
)

var (
	// ErrNotFound is returned when a slot or record does not exist.
	ErrNotFound = errors.New("storage: object doesn't exist")
	// ErrTerminalStatus is returned when a status change would leave a terminal state.
	ErrTerminalStatus = errors.New("storage: record is in a terminal state")
)

// IsNotFound checks if an error indicates a slot or record was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Backend is a persisted key-value store holding one JSON document per key.
type Backend interface {
	// Get returns ErrNotFound when the key was never written.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte) error
}

// Store keeps the scheduled post lists in memory, sorted by scheduled time,
// and writes a full snapshot to the backend after every mutation.
// The in-memory lists are the source of truth for the running process.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu     sync.Mutex
	posts  []scheduling.ScheduledPost
	social []scheduling.SocialScheduledPost
}

// Open loads both lists from the backend. Missing slots start empty.
func Open(ctx context.Context, backend Backend, logger *slog.Logger) (*Store, error) {
	s := &Store{backend: backend, logger: logger}

	if err := load(ctx, backend, ScheduleKey, &s.posts); err != nil {
		return nil, err
	}
	if err := load(ctx, backend, SocialKey, &s.social); err != nil {
		return nil, err
	}
	slices.SortStableFunc(s.posts, comparePosts)
	slices.SortStableFunc(s.social, compareSocial)

	logger.Info("Schedule store loaded", "posts", len(s.posts), "social_posts", len(s.social))
	return s, nil
}

func load(ctx context.Context, backend Backend, key string, into any) error {
	data, err := backend.Get(ctx, key)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// StatusOption amends a post while its status is being changed.
type StatusOption func(*scheduling.ScheduledPost)

// WithEventID records the id of the network event that published the post.
func WithEventID(id string) StatusOption {
	return func(p *scheduling.ScheduledPost) { p.PublishedEventID = id }
}

// WithError records the reason a post failed.
func WithError(err error) StatusOption {
	return func(p *scheduling.ScheduledPost) {
		if err != nil {
			p.Error = err.Error()
		}
	}
}

// List returns a copy of the scheduled posts in ascending scheduled time.
func (s *Store) List() []scheduling.ScheduledPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.posts)
}

// Get returns a single scheduled post.
func (s *Store) Get(id string) (scheduling.ScheduledPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.posts, func(p scheduling.ScheduledPost) bool { return p.ID == id })
	if i < 0 {
		return scheduling.ScheduledPost{}, ErrNotFound
	}
	return s.posts[i], nil
}

// Upsert inserts post or replaces the record sharing its id.
func (s *Store) Upsert(ctx context.Context, post scheduling.ScheduledPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.posts = upsertSorted(s.posts, post, postID, comparePosts)
	s.logger.Debug("Scheduled post upserted", "post_id", post.ID, "scheduled_time", post.ScheduledTime)
	return s.persist(ctx, ScheduleKey, s.posts)
}

// Remove deletes the post with id.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.posts)
	s.posts = slices.DeleteFunc(s.posts, func(p scheduling.ScheduledPost) bool { return p.ID == id })
	if len(s.posts) == n {
		return ErrNotFound
	}
	s.logger.Debug("Scheduled post removed", "post_id", id)
	return s.persist(ctx, ScheduleKey, s.posts)
}

// SetStatus moves a pending post to status. Published and failed posts
// are never changed again; that returns ErrTerminalStatus.
func (s *Store) SetStatus(ctx context.Context, id string, status scheduling.Status, opts ...StatusOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.posts, func(p scheduling.ScheduledPost) bool { return p.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	if s.posts[i].Status.Terminal() {
		return fmt.Errorf("set %s to %s: %w", id, status, ErrTerminalStatus)
	}
	s.posts[i].Status = status
	for _, opt := range opts {
		opt(&s.posts[i])
	}
	s.logger.Info("Scheduled post status changed", "post_id", id, "status", status)
	return s.persist(ctx, ScheduleKey, s.posts)
}

// ListSocial returns a copy of the social posts in ascending scheduled time.
func (s *Store) ListSocial() []scheduling.SocialScheduledPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.social)
}

// UpsertSocial inserts post or replaces the social record sharing its id.
func (s *Store) UpsertSocial(ctx context.Context, post scheduling.SocialScheduledPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.social = upsertSorted(s.social, post, socialID, compareSocial)
	return s.persist(ctx, SocialKey, s.social)
}

// RemoveSocial deletes the social post with id.
func (s *Store) RemoveSocial(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.social)
	s.social = slices.DeleteFunc(s.social, func(p scheduling.SocialScheduledPost) bool { return p.ID == id })
	if len(s.social) == n {
		return ErrNotFound
	}
	return s.persist(ctx, SocialKey, s.social)
}

// SetSocialStatus changes the status of a social post. The dispatcher may
// only move pending posts to ready; posted-manually is a user action and is
// accepted from any state.
func (s *Store) SetSocialStatus(ctx context.Context, id string, status scheduling.SocialStatus, preparedText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.social, func(p scheduling.SocialScheduledPost) bool { return p.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	if status != scheduling.SocialPostedManually && s.social[i].Status.Terminal() {
		return fmt.Errorf("set %s to %s: %w", id, status, ErrTerminalStatus)
	}
	s.social[i].Status = status
	if preparedText != "" {
		s.social[i].PreparedText = preparedText
	}
	s.logger.Info("Social post status changed", "post_id", id, "status", status, "platform", s.social[i].Platform)
	return s.persist(ctx, SocialKey, s.social)
}

func (s *Store) persist(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.backend.Set(ctx, key, data); err != nil {
		s.logger.Error("Failed to persist schedule", "key", key, "error", err)
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

func upsertSorted[T any](list []T, item T, id func(T) string, compare func(a, b T) int) []T {
	list = slices.DeleteFunc(list, func(existing T) bool { return id(existing) == id(item) })
	// Insert after any record with the same time so equal times keep insertion order.
	i, _ := slices.BinarySearchFunc(list, item, func(e, target T) int {
		if c := compare(e, target); c != 0 {
			return c
		}
		return -1
	})
	return slices.Insert(list, i, item)
}

func postID(p scheduling.ScheduledPost) string         { return p.ID }
func socialID(p scheduling.SocialScheduledPost) string { return p.ID }

func comparePosts(a, b scheduling.ScheduledPost) int {
	return cmp.Compare(a.ScheduledTime, b.ScheduledTime)
}

func compareSocial(a, b scheduling.SocialScheduledPost) int {
	return cmp.Compare(a.ScheduledTime, b.ScheduledTime)
}
