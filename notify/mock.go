package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// MockProvider keeps notifications in memory and logs a summary of each.
// It is the provider when no delivery channel is configured.
type MockProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

// NewMockProvider creates an in-memory provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

func (m *MockProvider) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	m.logger.Info("Notification recorded without delivery",
		"kind", msg.Kind,
		"post_id", msg.PostID,
		"subject", msg.Subject)
	return nil
}

// Sent returns every message recorded so far.
func (m *MockProvider) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// SentOfKind returns the recorded messages of kind k for post id, or for
// every post when id is empty.
func (m *MockProvider) SentOfKind(k Kind, id string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.sent {
		if msg.Kind == k && (id == "" || msg.PostID == id) {
			out = append(out, msg)
		}
	}
	return out
}
