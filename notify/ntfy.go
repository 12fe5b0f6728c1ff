package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/carlmjohnson/requests"
)

// NtfyProvider pushes messages to an ntfy topic URL. Message.To is ignored;
// the topic decides who sees the message.
type NtfyProvider struct {
	topic  string
	client *http.Client
	logger *slog.Logger
}

// NewNtfyProvider creates a provider posting to the full topic URL.
func NewNtfyProvider(topic string, logger *slog.Logger) *NtfyProvider {
	return &NtfyProvider{
		topic:  topic,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// ntfyStyle maps a kind to ntfy's emoji tag and priority headers.
var ntfyStyle = map[Kind][2]string{
	KindPublished:   {"white_check_mark", "default"},
	KindFailed:      {"x", "high"},
	KindSocialReady: {"bell", "default"},
}

// Send posts the plain text of the body with the subject as the title.
func (n *NtfyProvider) Send(ctx context.Context, msg Message) error {
	text, err := plainText(msg.Body)
	if err != nil {
		return err
	}
	req := requests.URL(n.topic).
		Client(n.client).
		Method(http.MethodPost).
		Header("Title", sanitizeHeader(msg.Subject)).
		BodyReader(strings.NewReader(text))
	if style, ok := ntfyStyle[msg.Kind]; ok {
		req = req.Header("Tags", style[0]).Header("Priority", style[1])
	}
	if err := req.Fetch(ctx); err != nil {
		return fmt.Errorf("ntfy: %w", err)
	}
	n.logger.Debug("Ntfy message sent", "topic", n.topic, "kind", msg.Kind, "post_id", msg.PostID)
	return nil
}

// plainText collapses an HTML body to its visible text, one line per block.
func plainText(htmlBody string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return "", fmt.Errorf("parse body: %w", err)
	}
	doc.Find("style, script").Remove()
	var lines []string
	doc.Find("h2, p, pre").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			lines = append(lines, t)
		}
	})
	return strings.Join(lines, "\n\n"), nil
}
