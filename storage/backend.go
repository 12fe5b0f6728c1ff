package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// LocalBackend stores each key as <dir>/<key>.json.
type LocalBackend struct {
	dir    string
	logger *slog.Logger
}

// NewLocalBackend creates dir if needed and returns a filesystem backend.
func NewLocalBackend(dir string, logger *slog.Logger) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create local storage directory: %w", err)
	}
	return &LocalBackend{dir: dir, logger: logger}, nil
}

// Get reads the document stored under key.
func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read from local storage: %w", err)
	}
	return data, nil
}

// Set replaces the document stored under key. The file is written to a
// temporary name first so readers never see a partial document.
func (b *LocalBackend) Set(_ context.Context, key string, data []byte) error {
	path := b.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write to local storage: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename in local storage: %w", err)
	}
	b.logger.Debug("Slot saved to local storage", "path", path, "bytes", len(data))
	return nil
}

func (b *LocalBackend) path(key string) string {
	return filepath.Join(b.dir, key+".json")
}

// GCSBackend stores each key as the object <key>.json in a Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewGCSBackend creates a Cloud Storage backend.
func NewGCSBackend(client *storage.Client, bucket string, logger *slog.Logger) *GCSBackend {
	return &GCSBackend{client: client, bucket: bucket, logger: logger}
}

// Get reads the object for key, retrying transient failures.
func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	object := key + ".json"
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := b.client.Bucket(b.bucket).Object(object).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(ErrNotFound)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					b.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retryOptions(ctx, b.logger, "load", object)...,
	)
	if IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// Set writes the object for key, retrying transient failures.
func (b *GCSBackend) Set(ctx context.Context, key string, data []byte) error {
	object := key + ".json"
	err := retry.Do(
		func() error {
			w := b.client.Bucket(b.bucket).Object(object).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					b.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retryOptions(ctx, b.logger, "save", object)...,
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	b.logger.Debug("Slot saved", "bucket", b.bucket, "object", object, "bytes", len(data))
	return nil
}

func retryOptions(ctx context.Context, logger *slog.Logger, op, object string) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10 * time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "object", object, "error", err)
		}),
	}
}
