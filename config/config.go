package config

import (
	"errors"
	"time"
)

// DefaultRelay is used when no relay is configured.
const DefaultRelay = "wss://relay.damus.io"

// Scheduler configures the scheduling service.
type Scheduler struct {
	Port string

	LocalStorage   string
	Bucket         string
	SQLitePath     string
	GoogleCredsRaw string

	RelayURLs      []string
	SecretKey      string
	Interval       time.Duration
	PublishTimeout time.Duration

	NotifyEmail   string
	BrevoAPIKey   string
	EmailFrom     string
	NtfyTopic     string
	PreviewEnrich bool
}

// LoadScheduler reads the scheduler settings. With no storage configured
// it defaults to ./data on local disk.
func LoadScheduler() (Scheduler, error) {
	var c collect
	s := Scheduler{
		Port:           GetEnv("PORT", "8080"),
		LocalStorage:   GetEnv("LOCAL_STORAGE", ""),
		Bucket:         GetEnv("STORAGE_BUCKET", ""),
		SQLitePath:     GetEnv("SQLITE_PATH", ""),
		GoogleCredsRaw: GetEnv("GOOGLE_CREDENTIALS_JSON", ""),
		RelayURLs:      GetEnvList("RELAY_URLS", []string{DefaultRelay}),
		SecretKey:      GetEnv("NOSTR_SECRET_KEY", ""),
		NotifyEmail:    GetEnv("NOTIFY_EMAIL", ""),
		BrevoAPIKey:    GetEnv("BREVO_API_KEY", ""),
		EmailFrom:      GetEnv("EMAIL_FROM", ""),
		NtfyTopic:      GetEnv("NTFY_TOPIC", ""),
	}
	var err error
	s.Interval, err = GetEnvDuration("DISPATCH_INTERVAL", time.Minute)
	c.add(err)
	s.PublishTimeout, err = GetEnvDuration("PUBLISH_TIMEOUT", 10*time.Second)
	c.add(err)
	s.PreviewEnrich, err = GetEnvBool("PREVIEW_ENRICH", false)
	c.add(err)

	if s.LocalStorage == "" && s.Bucket == "" && s.SQLitePath == "" {
		s.LocalStorage = "./data"
	}
	if s.Interval <= 0 {
		c.add(errors.New("DISPATCH_INTERVAL must be positive"))
	}
	if s.BrevoAPIKey != "" && s.EmailFrom == "" {
		c.add(errors.New("EMAIL_FROM is required with BREVO_API_KEY"))
	}
	return s, c.err()
}

// Curator configures the selection agent.
type Curator struct {
	RelayURL         string
	DryRun           bool
	MaxPostsPerRun   int
	MinRating        float64
	MinContentLength int
	FetchLimit       int
	PostDelay        time.Duration

	Channel    string
	Tool       string
	AuthArgs   []string
	PostArgs   []string
	LinkBase   string
	LedgerPath string
}

// LoadCurator reads the agent settings. The posting tool and channel are
// required unless running dry.
func LoadCurator() (Curator, error) {
	var c collect
	cur := Curator{
		RelayURL:   GetEnv("CURATOR_RELAY_URL", DefaultRelay),
		Channel:    GetEnv("CURATOR_CHANNEL", ""),
		Tool:       GetEnv("CURATOR_TOOL", ""),
		AuthArgs:   GetEnvList("CURATOR_TOOL_AUTH_ARGS", nil),
		PostArgs:   GetEnvList("CURATOR_TOOL_POST_ARGS", nil),
		LinkBase:   GetEnv("CURATOR_LINK_BASE", ""),
		LedgerPath: GetEnv("CURATOR_LEDGER_PATH", ""),
	}
	var err error
	cur.DryRun, err = GetEnvBool("DRY_RUN", false)
	c.add(err)
	cur.MaxPostsPerRun, err = GetEnvInt("MAX_POSTS_PER_RUN", 1)
	c.add(err)
	cur.MinRating, err = GetEnvFloat("MIN_RATING", 4)
	c.add(err)
	cur.MinContentLength, err = GetEnvInt("MIN_CONTENT_LENGTH", 100)
	c.add(err)
	cur.FetchLimit, err = GetEnvInt("FETCH_LIMIT", 20)
	c.add(err)
	cur.PostDelay, err = GetEnvDuration("POST_DELAY", 2*time.Second)
	c.add(err)

	if !cur.DryRun {
		if cur.Tool == "" {
			c.add(errors.New("CURATOR_TOOL is required unless DRY_RUN is set"))
		}
		if cur.Channel == "" {
			c.add(errors.New("CURATOR_CHANNEL is required unless DRY_RUN is set"))
		}
	}
	return cur, c.err()
}
