package notify

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/codeGROOVE-dev/retry"
)

// DefaultBrevoEndpoint is the Brevo transactional email API.
const DefaultBrevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// BrevoProvider sends email through the Brevo API.
type BrevoProvider struct {
	apiKey   string
	fromAddr string
	fromName string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewBrevoProvider creates a new Brevo provider. An empty endpoint means
// DefaultBrevoEndpoint.
func NewBrevoProvider(apiKey, fromAddr, fromName, endpoint string, logger *slog.Logger) *BrevoProvider {
	if endpoint == "" {
		endpoint = DefaultBrevoEndpoint
	}
	return &BrevoProvider{
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"htmlContent"`
	Tags    []string          `json:"tags,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Send delivers msg via the Brevo API, retrying transient failures. The
// kind becomes a Brevo tag for filtering in the dashboard.
func (b *BrevoProvider) Send(ctx context.Context, msg Message) error {
	body := brevoSendRequest{
		Sender:  brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:      []brevoContact{{Email: msg.To}},
		Subject: msg.Subject,
		HTML:    msg.Body,
		Tags:    []string{string(msg.Kind)},
	}
	if msg.PostID != "" {
		body.Headers = map[string]string{headerPost: msg.PostID}
	}

	return retry.Do(
		func() error {
			startTime := time.Now()
			err := requests.URL(b.endpoint).
				Client(b.client).
				Method(http.MethodPost).
				Header("api-key", b.apiKey).
				BodyJSON(body).
				Fetch(ctx)
			if err != nil {
				b.logger.Warn("Brevo API request failed",
					"kind", msg.Kind,
					"post_id", msg.PostID,
					"duration_ms", time.Since(startTime).Milliseconds(),
					"error", err)
				return err
			}
			b.logger.Info("Brevo API request completed",
				"kind", msg.Kind,
				"post_id", msg.PostID,
				"duration_ms", time.Since(startTime).Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying Brevo send after error", "attempt", n, "error", err)
		}),
	)
}
