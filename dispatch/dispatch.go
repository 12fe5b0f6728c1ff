// Package dispatch runs the periodic loop that hands due posts to the
// publisher.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"relay-scheduler/format"
	"relay-scheduler/pkg/scheduling"
	"relay-scheduler/storage"
)

// DefaultInterval is the time between ticks.
const DefaultInterval = 60 * time.Second

// ErrTickInProgress is returned by Tick while another tick is running.
var ErrTickInProgress = errors.New("dispatch: tick already in progress")

// Store lists posts and records social post progress.
type Store interface {
	List() []scheduling.ScheduledPost
	ListSocial() []scheduling.SocialScheduledPost
	SetSocialStatus(ctx context.Context, id string, status scheduling.SocialStatus, preparedText string) error
}

// Publisher handles one due post.
type Publisher interface {
	Publish(ctx context.Context, post scheduling.ScheduledPost) error
	Fail(ctx context.Context, post scheduling.ScheduledPost, cause error)
}

// SocialNotifier is told when a social post is ready to be posted by hand.
type SocialNotifier interface {
	SocialReady(ctx context.Context, post *scheduling.SocialScheduledPost) error
}

// Config holds the collaborators of a Dispatcher.
type Config struct {
	Store     Store
	Publisher Publisher
	Notifier  SocialNotifier // Optional
	Metrics   *Metrics       // Optional
	Logger    *slog.Logger
	Interval  time.Duration    // Zero means DefaultInterval
	Now       func() time.Time // Zero means time.Now
}

// Dispatcher owns the schedule loop. Only one tick runs at a time.
type Dispatcher struct {
	store     Store
	publisher Publisher
	notifier  SocialNotifier
	metrics   *Metrics
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	running atomic.Bool
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		interval:  cfg.Interval,
		now:       cfg.Now,
	}
	if d.interval <= 0 {
		d.interval = DefaultInterval
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}
	return d
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatcher started", "interval", d.interval.String())
	d.tickAndLog(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
			d.tickAndLog(ctx)
		}
	}
}

func (d *Dispatcher) tickAndLog(ctx context.Context) {
	err := d.Tick(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrTickInProgress):
		d.logger.Debug("Skipping tick, previous tick still running")
	case ctx.Err() != nil:
	default:
		d.logger.Error("Tick failed", "error", err)
	}
}

// Tick dispatches every post that is due now. Each due post is published
// concurrently; Tick returns when all of them have finished.
func (d *Dispatcher) Tick(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrTickInProgress
	}
	defer d.running.Store(false)

	startTime := time.Now()
	now := d.now().Unix()
	d.metrics.Ticks.Inc()

	var (
		wg      sync.WaitGroup
		due     int
		pending int
	)
	for _, post := range d.store.List() {
		if post.Status == scheduling.StatusPending {
			pending++
		}
		if !post.Due(now) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		due++
		if err := post.Validate(); err != nil {
			wg.Go(func() {
				d.publisher.Fail(ctx, post, err)
				d.metrics.Dispatched.WithLabelValues("invalid").Inc()
			})
			continue
		}
		wg.Go(func() {
			err := d.publisher.Publish(ctx, post)
			switch {
			case err == nil:
				d.metrics.Dispatched.WithLabelValues("published").Inc()
			case ctx.Err() != nil:
				d.metrics.Dispatched.WithLabelValues("interrupted").Inc()
			default:
				d.metrics.Dispatched.WithLabelValues("failed").Inc()
			}
		})
	}
	d.metrics.Pending.Set(float64(pending))

	ready := d.prepareSocial(ctx, now)
	wg.Wait()

	d.metrics.TickDuration.Observe(time.Since(startTime).Seconds())
	if due > 0 || ready > 0 {
		d.logger.Info("Tick completed",
			"due", due,
			"social_ready", ready,
			"pending", pending,
			"duration_ms", time.Since(startTime).Milliseconds())
	}
	return ctx.Err()
}

// prepareSocial renders due social posts and marks them ready.
func (d *Dispatcher) prepareSocial(ctx context.Context, now int64) int {
	var ready int
	for _, post := range d.store.ListSocial() {
		if !post.Due(now) || ctx.Err() != nil {
			continue
		}
		if err := post.Validate(); err != nil {
			d.logger.Warn("Skipping invalid social post", "post_id", post.ID, "error", err)
			continue
		}
		text := format.Format(&post.ScheduledPost).Text
		err := d.store.SetSocialStatus(ctx, post.ID, scheduling.SocialReady, text)
		if errors.Is(err, storage.ErrTerminalStatus) || errors.Is(err, storage.ErrNotFound) {
			d.logger.Warn("Social post changed before it was marked ready", "post_id", post.ID, "error", err)
			continue
		}
		if err != nil {
			// Memory already holds the new state; only the write failed.
			d.logger.Error("Failed to persist social post status", "post_id", post.ID, "error", err)
		}
		ready++
		d.metrics.SocialReady.Inc()
		post.Status = scheduling.SocialReady
		post.PreparedText = text
		if d.notifier != nil {
			if err := d.notifier.SocialReady(ctx, &post); err != nil {
				d.logger.Warn("Failed to send social reminder", "post_id", post.ID, "error", err)
			}
		}
	}
	return ready
}
