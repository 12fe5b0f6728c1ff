// Package config reads service settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv seeds the environment from .env.local and .env in the working
// directory. Variables already set in the process win, and .env.local
// wins over .env.
func LoadEnv(logger *slog.Logger) {
	var loaded []string
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			logger.Warn("Failed to load env file", "file", file, "error", err)
			continue
		}
		loaded = append(loaded, file)
	}
	if len(loaded) == 0 {
		logger.Debug("No env files loaded; relying on process environment")
		return
	}
	logger.Debug("Loaded env files", "files", strings.Join(loaded, ", "))
}

// GetEnv returns the trimmed value of key or def when unset.
func GetEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// GetEnvInt returns key parsed as an integer, or def.
func GetEnvInt(key string, def int) (int, error) {
	v := GetEnv(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, &InvalidError{Key: key, Value: v, Err: err}
	}
	return n, nil
}

// GetEnvFloat returns key parsed as a float, or def.
func GetEnvFloat(key string, def float64) (float64, error) {
	v := GetEnv(key, "")
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, &InvalidError{Key: key, Value: v, Err: err}
	}
	return f, nil
}

// GetEnvBool returns key parsed as a boolean, or def.
func GetEnvBool(key string, def bool) (bool, error) {
	v := GetEnv(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, &InvalidError{Key: key, Value: v, Err: err}
	}
	return b, nil
}

// GetEnvDuration accepts Go durations ("90s", "2m") or whole seconds.
func GetEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := GetEnv(key, "")
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, &InvalidError{Key: key, Value: v, Err: err}
	}
	return d, nil
}

// GetEnvList splits a comma or whitespace separated value.
func GetEnvList(key string, def []string) []string {
	v := GetEnv(key, "")
	if v == "" {
		return def
	}
	return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' })
}

// InvalidError reports an unparsable variable.
type InvalidError struct {
	Key   string
	Value string
	Err   error
}

func (e *InvalidError) Error() string {
	return "invalid " + e.Key + "=" + strconv.Quote(e.Value) + ": " + e.Err.Error()
}

func (e *InvalidError) Unwrap() error { return e.Err }

// ParseLogLevel maps debug, info, warn and error to slog levels. Anything
// else is info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the JSON logger every binary uses, at LOG_LEVEL.
func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLogLevel(os.Getenv("LOG_LEVEL")),
	}))
}

// Setup loads the env files and then builds the JSON logger, so a
// LOG_LEVEL set in .env takes effect. The logger becomes the slog default.
func Setup(w io.Writer) *slog.Logger {
	LoadEnv(NewLogger(w))
	logger := NewLogger(w)
	slog.SetDefault(logger)
	return logger
}

// collect keeps the first parse error per variable.
type collect struct{ errs []error }

func (c *collect) add(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

func (c *collect) err() error { return errors.Join(c.errs...) }
