// Package curator selects qualifying items from the content network and
// reposts a bounded number of them to a community channel.
package curator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"relay-scheduler/format"
	"relay-scheduler/pkg/scheduling"
	"relay-scheduler/relay"
)

// Defaults for Config.
const (
	DefaultFetchLimit       = 20
	DefaultMinContentLength = 100
	DefaultMinRating        = 4
	DefaultMaxPostsPerRun   = 1
	DefaultPostDelay        = 2 * time.Second
)

// ErrAuth is returned when the posting tool cannot authenticate. The run is
// aborted before anything is fetched.
var ErrAuth = errors.New("curator: posting tool authentication failed")

// Categories in fetch order with the event kind each is stored as.
var categories = []struct {
	Type scheduling.ContentType
	Kind int
}{
	{scheduling.ContentReview, relay.KindReview},
	{scheduling.ContentStory, relay.KindStory},
	{scheduling.ContentTrip, relay.KindTrip},
}

// priorities rank categories; lower is shared first.
var priorities = map[scheduling.ContentType]int{
	scheduling.ContentStory:  1,
	scheduling.ContentTrip:   2,
	scheduling.ContentReview: 3,
}

// Querier reads events from the network.
type Querier interface {
	Query(ctx context.Context, filter relay.Filter) ([]relay.Event, error)
}

// Poster publishes text to the community channel.
type Poster interface {
	Authenticate(ctx context.Context) error
	Post(ctx context.Context, text string) error
}

// Ledger remembers which events were already shared.
type Ledger interface {
	Posted(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID, category string) error
}

// Config tunes selection.
type Config struct {
	FetchLimit       int
	MinContentLength int
	MinRating        float64
	MaxPostsPerRun   int
	PostDelay        time.Duration
	DryRun           bool
	LinkBase         string // Prefix for the event link, e.g. "https://example.com/e/"
}

// WithDefaults fills zero fields with the package defaults.
func (c Config) WithDefaults() Config {
	if c.FetchLimit <= 0 {
		c.FetchLimit = DefaultFetchLimit
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = DefaultMinContentLength
	}
	if c.MinRating <= 0 {
		c.MinRating = DefaultMinRating
	}
	if c.MaxPostsPerRun <= 0 {
		c.MaxPostsPerRun = DefaultMaxPostsPerRun
	}
	if c.PostDelay <= 0 {
		c.PostDelay = DefaultPostDelay
	}
	return c
}

// Candidate is a fetched item considered for sharing during one run.
type Candidate struct {
	Category scheduling.ContentType
	Event    relay.Event
	Priority int
}

// Result summarizes a run.
type Result struct {
	Fetched  int
	Eligible int
	Selected []Candidate
	Texts    []string // Formatted text per selected candidate
	Posted   int
	Failed   int
}

// Agent runs the selection pipeline.
type Agent struct {
	cfg     Config
	querier Querier
	poster  Poster
	ledger  Ledger // Optional
	logger  *slog.Logger
}

// New creates an agent. ledger may be nil.
func New(cfg Config, querier Querier, poster Poster, ledger Ledger, logger *slog.Logger) *Agent {
	cfg = cfg.WithDefaults()
	return &Agent{
		cfg:     cfg,
		querier: querier,
		poster:  poster,
		ledger:  ledger,
		logger:  logger,
	}
}

// Run authenticates, fetches, selects and posts. In dry run mode the poster
// is never called and Result.Texts holds what would have been posted.
func (a *Agent) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()
	if !a.cfg.DryRun {
		if err := a.poster.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuth, err)
		}
	}

	candidates := a.Fetch(ctx)
	res := &Result{Fetched: len(candidates)}

	eligible := lo.Filter(candidates, func(c Candidate, _ int) bool { return a.Qualifies(c) })
	eligible = a.unposted(ctx, eligible)
	res.Eligible = len(eligible)
	res.Selected = a.Select(eligible)

	a.logger.Info("Selected content to share",
		"fetched", res.Fetched,
		"eligible", res.Eligible,
		"selected", len(res.Selected),
		"dry_run", a.cfg.DryRun)

	attempts := 0
	for _, c := range res.Selected {
		text := format.FormatCandidate(c.Category, &c.Event, a.cfg.LinkBase)
		res.Texts = append(res.Texts, text)
		if a.cfg.DryRun {
			a.logger.Info("Dry run, not posting", "event_id", c.Event.ID, "category", c.Category)
			continue
		}
		if attempts > 0 {
			if err := a.pause(ctx); err != nil {
				return res, err
			}
		}
		attempts++
		if err := a.poster.Post(ctx, text); err != nil {
			res.Failed++
			a.logger.Error("Failed to share item", "event_id", c.Event.ID, "category", c.Category, "error", err)
			continue
		}
		res.Posted++
		a.logger.Info("Shared item", "event_id", c.Event.ID, "category", c.Category)
		if a.ledger != nil {
			if err := a.ledger.Record(ctx, c.Event.ID, string(c.Category)); err != nil {
				a.logger.Warn("Failed to record shared item", "event_id", c.Event.ID, "error", err)
			}
		}
	}

	a.logger.Info("Curator run completed",
		"posted", res.Posted,
		"failed", res.Failed,
		"duration_ms", time.Since(startTime).Milliseconds())
	return res, nil
}

// pause waits PostDelay after the previous post finished.
func (a *Agent) pause(ctx context.Context) error {
	t := time.NewTimer(a.cfg.PostDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch queries every category in parallel. A category that fails yields
// no candidates.
func (a *Agent) Fetch(ctx context.Context) []Candidate {
	results := make([][]Candidate, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, cat := range categories {
		g.Go(func() error {
			events, err := a.querier.Query(gctx, relay.Filter{Kinds: []int{cat.Kind}, Limit: a.cfg.FetchLimit})
			if err != nil {
				a.logger.Warn("Failed to fetch category", "category", cat.Type, "error", err)
				return nil
			}
			a.logger.Debug("Fetched category", "category", cat.Type, "count", len(events))
			results[i] = lo.Map(events, func(ev relay.Event, _ int) Candidate {
				return Candidate{Category: cat.Type, Event: ev, Priority: priorities[cat.Type]}
			})
			return nil
		})
	}
	_ = g.Wait()
	return slices.Concat(results...)
}

// Qualifies applies the quality filters to c.
func (a *Agent) Qualifies(c Candidate) bool {
	if utf8.RuneCountInString(c.Event.Content) < a.cfg.MinContentLength {
		return false
	}
	if !c.Event.HasTag("image") {
		return false
	}
	if c.Category == scheduling.ContentReview {
		rating, ok := c.Event.NumericTag("rating")
		if !ok || rating < a.cfg.MinRating {
			return false
		}
	}
	return true
}

// Select orders candidates by ascending priority, keeping fetch order for
// equal priorities, and returns the first MaxPostsPerRun.
func (a *Agent) Select(candidates []Candidate) []Candidate {
	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(x, y Candidate) int { return cmp.Compare(x.Priority, y.Priority) })
	if len(sorted) > a.cfg.MaxPostsPerRun {
		sorted = sorted[:a.cfg.MaxPostsPerRun]
	}
	return sorted
}

func (a *Agent) unposted(ctx context.Context, candidates []Candidate) []Candidate {
	if a.ledger == nil {
		return candidates
	}
	return lo.Filter(candidates, func(c Candidate, _ int) bool {
		posted, err := a.ledger.Posted(ctx, c.Event.ID)
		if err != nil {
			a.logger.Warn("Ledger lookup failed, keeping candidate", "event_id", c.Event.ID, "error", err)
			return true
		}
		return !posted
	})
}
