// Package main runs the scheduling service: it publishes scheduled posts to
// relays when they fall due and serves the schedule API.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"relay-scheduler/config"
	"relay-scheduler/dispatch"
	"relay-scheduler/notify"
	"relay-scheduler/preview"
	"relay-scheduler/publish"
	"relay-scheduler/relay"
	"relay-scheduler/server"
	"relay-scheduler/signer"
	"relay-scheduler/storage"
)

func main() {
	logger := config.Setup(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Scheduler exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadScheduler()
	if err != nil {
		return err
	}

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	store, err := storage.Open(ctx, backend, logger)
	if err != nil {
		return err
	}

	sig, err := signer.FromHex(cfg.SecretKey)
	if err != nil {
		return err
	}
	if sig.HasIdentity() {
		logger.Info("Signing identity loaded", "pubkey", sig.PubKey())
	} else {
		logger.Warn("No NOSTR_SECRET_KEY set; every due post will fail with no identity")
	}

	notifier := notify.New(notificationProvider(ctx, cfg, logger), cfg.NotifyEmail, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	publisher := publish.New(publish.Config{
		Store:    store,
		Signer:   sig,
		Relays:   relay.New(cfg.RelayURLs, relay.DefaultTimeout, logger),
		Notifier: notifier,
		Logger:   logger,
		Timeout:  cfg.PublishTimeout,
	})
	dispatcher := dispatch.New(dispatch.Config{
		Store:     store,
		Publisher: publisher,
		Notifier:  notifier,
		Metrics:   dispatch.NewMetrics(registry),
		Logger:    logger,
		Interval:  cfg.Interval,
	})

	srvCfg := &server.Config{
		Store:    store,
		Ticker:   dispatcher,
		Gatherer: registry,
		Logger:   logger,
	}
	if cfg.PreviewEnrich {
		srvCfg.Enricher = preview.New(&http.Client{Timeout: preview.DefaultTimeout}, logger)
	}
	srv := server.New(srvCfg)

	logger.Info("Scheduler starting",
		"relays", cfg.RelayURLs,
		"interval", cfg.Interval.String(),
		"posts", len(store.List()),
		"social_posts", len(store.ListSocial()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() { dispatcher.Run(ctx) })
	err = srv.ListenAndServe(ctx, cfg.Port)
	reason := context.Cause(ctx)
	// Stops the dispatcher when the server failed on its own.
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("Scheduler stopped", "reason", reason)
	return nil
}

func openBackend(ctx context.Context, cfg config.Scheduler, logger *slog.Logger) (storage.Backend, func(), error) {
	switch {
	case cfg.SQLitePath != "":
		logger.Info("Using SQLite storage", "path", cfg.SQLitePath)
		b, err := storage.NewSQLiteBackend(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, closer(b, logger), nil
	case cfg.Bucket != "":
		logger.Info("Using Cloud Storage", "bucket", cfg.Bucket)
		var opts []option.ClientOption
		if cfg.GoogleCredsRaw != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GoogleCredsRaw)))
		}
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewGCSBackend(client, cfg.Bucket, logger), closer(client, logger), nil
	default:
		logger.Info("Using local storage", "path", cfg.LocalStorage)
		b, err := storage.NewLocalBackend(cfg.LocalStorage, logger)
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	}
}

func closer(c io.Closer, logger *slog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Warn("Failed to close storage", "error", err)
		}
	}
}

// notificationProvider picks Brevo, Gmail or ntfy from the configuration and
// falls back to logging.
func notificationProvider(ctx context.Context, cfg config.Scheduler, logger *slog.Logger) notify.Provider {
	switch {
	case cfg.NotifyEmail != "" && cfg.BrevoAPIKey != "":
		logger.Info("Notifications via Brevo", "to", cfg.NotifyEmail)
		return notify.NewBrevoProvider(cfg.BrevoAPIKey, cfg.EmailFrom, "Relay Scheduler", "", logger)
	case cfg.NotifyEmail != "" && (cfg.GoogleCredsRaw != "" || isCloudRun(ctx)):
		service, err := initGmailService(ctx, cfg.GoogleCredsRaw)
		if err != nil {
			logger.Warn("Failed to initialize Gmail service, using mock notifications", "error", err)
			return notify.NewMockProvider(logger)
		}
		logger.Info("Notifications via Gmail", "to", cfg.NotifyEmail)
		return notify.NewGmailProvider(service, logger)
	case cfg.NtfyTopic != "":
		logger.Info("Notifications via ntfy", "topic", cfg.NtfyTopic)
		return notify.NewNtfyProvider(cfg.NtfyTopic, logger)
	default:
		logger.Info("Mock notification mode enabled")
		return notify.NewMockProvider(logger)
	}
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}

// initGmailService uses explicit credentials when given and Application
// Default Credentials otherwise.
func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}
	return gmail.NewService(ctx)
}
