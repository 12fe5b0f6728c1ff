package notify

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
)

// Headers stamped on every mail so operators can filter scheduler traffic.
const (
	headerKind = "X-Relay-Scheduler-Kind"
	headerPost = "X-Relay-Scheduler-Post"
)

// GmailProvider mails notifications from the account the service runs as.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{service: service, logger: logger}
}

// sanitizeHeader drops control characters so a value cannot start a new header.
func sanitizeHeader(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

// mimeMessage renders msg as an RFC 5322 HTML mail. Gmail fills in From.
func mimeMessage(msg Message) string {
	headers := [][2]string{
		{"MIME-Version", "1.0"},
		{"To", msg.To},
		{"Subject", msg.Subject},
		{headerKind, string(msg.Kind)},
		{headerPost, msg.PostID},
		{"Content-Type", "text/html; charset=utf-8"},
	}
	var b strings.Builder
	for _, h := range headers {
		if h[1] == "" {
			continue
		}
		b.WriteString(h[0] + ": " + sanitizeHeader(h[1]) + "\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return b.String()
}

// Send mails msg, retrying API errors.
func (g *GmailProvider) Send(ctx context.Context, msg Message) error {
	raw := base64.URLEncoding.EncodeToString([]byte(mimeMessage(msg)))
	log := g.logger.With("kind", msg.Kind, "post_id", msg.PostID)

	return retry.Do(
		func() error {
			startTime := time.Now()
			_, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
			if err != nil {
				log.Warn("Gmail notification failed", "duration_ms", time.Since(startTime).Milliseconds(), "error", err)
				return err
			}
			log.Info("Gmail notification sent", "duration_ms", time.Since(startTime).Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.Info("Retrying Gmail notification", "attempt", n, "error", err)
		}),
	)
}
