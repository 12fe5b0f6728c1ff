// Package server exposes the schedule over HTTP and lets an operator
// trigger a dispatcher tick.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay-scheduler/dispatch"
	"relay-scheduler/pkg/scheduling"
)

// Store is the schedule the API reads and edits.
type Store interface {
	List() []scheduling.ScheduledPost
	Get(id string) (scheduling.ScheduledPost, error)
	Upsert(ctx context.Context, post scheduling.ScheduledPost) error
	Remove(ctx context.Context, id string) error
	ListSocial() []scheduling.SocialScheduledPost
	UpsertSocial(ctx context.Context, post scheduling.SocialScheduledPost) error
	RemoveSocial(ctx context.Context, id string) error
	SetSocialStatus(ctx context.Context, id string, status scheduling.SocialStatus, preparedText string) error
}

// Ticker runs one dispatcher tick.
type Ticker interface {
	Tick(ctx context.Context) error
}

// Enricher fills missing post fields from the target page.
type Enricher interface {
	Enrich(ctx context.Context, post *scheduling.ScheduledPost)
}

// Config holds server configuration.
type Config struct {
	Store    Store
	Ticker   Ticker
	Enricher Enricher           // Optional
	Gatherer prometheus.Gatherer // Optional; nil disables /metrics
	Logger   *slog.Logger
	Now      func() time.Time // Zero means time.Now
	NewID    func() string    // Zero means random UUIDs
}

// Server handles HTTP requests.
type Server struct {
	store    Store
	ticker   Ticker
	enricher Enricher
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	writes   *ipLimiter
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	s := &Server{
		store:    cfg.Store,
		ticker:   cfg.Ticker,
		enricher: cfg.Enricher,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
		now:      cfg.Now,
		newID:    cfg.NewID,
		writes:   newIPLimiter(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = newUUID
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("/api/posts", s.handlePosts)
	mux.HandleFunc("/api/social", s.handleSocial)
	mux.HandleFunc("/api/social/posted", s.handleSocialPosted)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered")
	err := s.ticker.Tick(r.Context())
	switch {
	case errors.Is(err, dispatch.ErrTickInProgress):
		s.writeJSON(w, http.StatusConflict, map[string]string{"status": "in_progress"})
	case err != nil:
		s.logger.Error("Poll tick failed", "error", err)
		http.Error(w, "Tick failed", http.StatusInternalServerError)
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	}
}
