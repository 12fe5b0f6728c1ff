// Command curator picks the best recent item from the content network and
// shares it to a community channel through an external posting tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"relay-scheduler/config"
	"relay-scheduler/curator"
	"relay-scheduler/relay"
	"relay-scheduler/storage"
)

func main() {
	logger := config.Setup(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		if errors.Is(err, curator.ErrAuth) {
			logger.Error("Posting tool is not authenticated", "error", err)
		} else {
			logger.Error("Curator failed", "error", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadCurator()
	if err != nil {
		return err
	}

	var ledger curator.Ledger
	if cfg.LedgerPath != "" {
		l, err := storage.OpenLedger(cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := l.Close(); err != nil {
				logger.Warn("Failed to close ledger", "error", err)
			}
		}()
		ledger = l
	}

	agent := curator.New(curator.Config{
		FetchLimit:       cfg.FetchLimit,
		MinContentLength: cfg.MinContentLength,
		MinRating:        cfg.MinRating,
		MaxPostsPerRun:   cfg.MaxPostsPerRun,
		PostDelay:        cfg.PostDelay,
		DryRun:           cfg.DryRun,
		LinkBase:         cfg.LinkBase,
	},
		relay.New([]string{cfg.RelayURL}, relay.DefaultTimeout, logger),
		&curator.ExecPoster{
			Tool:     cfg.Tool,
			AuthArgs: cfg.AuthArgs,
			PostArgs: cfg.PostArgs,
			Channel:  cfg.Channel,
			Logger:   logger,
		},
		ledger,
		logger,
	)

	res, err := agent.Run(ctx)
	if err != nil {
		return err
	}
	if cfg.DryRun {
		for i, text := range res.Texts {
			fmt.Printf("--- %d/%d (%s) ---\n%s\n\n", i+1, len(res.Texts), res.Selected[i].Category, text)
		}
		if len(res.Texts) == 0 {
			fmt.Println("Nothing qualifies for sharing right now.")
		}
	}
	return nil
}
