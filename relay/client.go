package relay

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultTimeout bounds every relay round trip.
const DefaultTimeout = 10 * time.Second

// RejectedError indicates the relay answered OK=false for an event.
type RejectedError struct {
	Relay   string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("relay %s rejected event: %s", e.Relay, e.Message)
}

// Client publishes to and queries a set of relays.
type Client struct {
	urls    []string
	dialer  *websocket.Dialer
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a relay client. A zero timeout means DefaultTimeout.
func New(urls []string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		urls:    urls,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		timeout: timeout,
		logger:  logger,
	}
}

// Publish sends ev to every relay concurrently. It succeeds when at least
// one relay accepts the event.
func (c *Client) Publish(ctx context.Context, ev *Event) error {
	if len(c.urls) == 0 {
		return errors.New("no relays configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     []error
		accepted int
	)
	for _, url := range c.urls {
		wg.Go(func() {
			err := c.publishOne(ctx, url, ev)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", url, err))
				return
			}
			accepted++
		})
	}
	wg.Wait()

	if accepted == 0 {
		return errors.Join(errs...)
	}
	if len(errs) > 0 {
		c.logger.Warn("Event rejected by some relays", "event_id", ev.ID, "accepted", accepted, "error", errors.Join(errs...))
	}
	return nil
}

func (c *Client) publishOne(ctx context.Context, url string, ev *Event) error {
	startTime := time.Now()
	conn, stop, err := c.dial(ctx, url)
	if err != nil {
		return err
	}
	defer stop()

	if err := conn.WriteJSON([]any{"EVENT", ev}); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	for {
		label, msg, err := readEnvelope(conn)
		if err != nil {
			return ctxErr(ctx, err)
		}
		switch label {
		case "OK":
			var id string
			var ok bool
			var message string
			if len(msg) < 3 {
				return errors.New("malformed OK message")
			}
			if err := json.Unmarshal(msg[0], &id); err != nil || id != ev.ID {
				continue
			}
			if err := json.Unmarshal(msg[1], &ok); err != nil {
				return fmt.Errorf("decode OK flag: %w", err)
			}
			_ = json.Unmarshal(msg[2], &message)
			if !ok {
				return &RejectedError{Relay: url, Message: message}
			}
			c.logger.Info("Event accepted by relay",
				"relay", url,
				"event_id", ev.ID,
				"duration_ms", time.Since(startTime).Milliseconds())
			return nil
		case "NOTICE":
			if len(msg) > 0 {
				c.logger.Warn("Relay notice", "relay", url, "notice", string(msg[0]))
			}
		}
	}
}

// Query runs filter against every relay and merges the results, newest
// first, de-duplicated by id. Relays that fail are skipped; an error is
// returned only when all of them fail.
func (c *Client) Query(ctx context.Context, filter Filter) ([]Event, error) {
	if len(c.urls) == 0 {
		return nil, errors.New("no relays configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		seen = map[string]Event{}
	)
	for _, url := range c.urls {
		wg.Go(func() {
			events, err := c.queryOne(ctx, url, filter)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", url, err))
				return
			}
			for _, ev := range events {
				seen[ev.ID] = ev
			}
		})
	}
	wg.Wait()

	if len(errs) == len(c.urls) {
		return nil, errors.Join(errs...)
	}

	events := make([]Event, 0, len(seen))
	for _, ev := range seen {
		events = append(events, ev)
	}
	slices.SortFunc(events, func(a, b Event) int {
		if d := cmp.Compare(b.CreatedAt, a.CreatedAt); d != 0 {
			return d
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(events) > filter.Limit {
		events = events[:filter.Limit]
	}
	return events, nil
}

func (c *Client) queryOne(ctx context.Context, url string, filter Filter) ([]Event, error) {
	conn, stop, err := c.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	defer stop()

	subID := uuid.NewString()
	if err := conn.WriteJSON([]any{"REQ", subID, filter}); err != nil {
		return nil, fmt.Errorf("write REQ: %w", err)
	}

	var events []Event
	for {
		label, msg, err := readEnvelope(conn)
		if err != nil {
			return nil, ctxErr(ctx, err)
		}
		switch label {
		case "EVENT":
			if len(msg) < 2 || !sameSub(msg[0], subID) {
				continue
			}
			var ev Event
			if err := json.Unmarshal(msg[1], &ev); err != nil {
				c.logger.Debug("Skipping undecodable event", "relay", url, "error", err)
				continue
			}
			if id, err := ev.ComputeID(); err != nil || id != ev.ID {
				c.logger.Debug("Skipping event with mismatched id", "relay", url, "event_id", ev.ID)
				continue
			}
			events = append(events, ev)
		case "EOSE":
			if len(msg) > 0 && sameSub(msg[0], subID) {
				if err := conn.WriteJSON([]any{"CLOSE", subID}); err != nil {
					c.logger.Debug("Failed to close subscription", "relay", url, "error", err)
				}
				c.logger.Debug("Relay query completed", "relay", url, "events", len(events))
				return events, nil
			}
		case "CLOSED":
			if len(msg) > 0 && sameSub(msg[0], subID) {
				var reason string
				if len(msg) > 1 {
					_ = json.Unmarshal(msg[1], &reason)
				}
				return nil, fmt.Errorf("subscription closed by relay: %s", reason)
			}
		case "NOTICE":
			if len(msg) > 0 {
				c.logger.Warn("Relay notice", "relay", url, "notice", string(msg[0]))
			}
		}
	}
}

// dial connects to url and ties the connection lifetime to ctx. The
// returned stop func must be called to release the connection.
func (c *Client) dial(ctx context.Context, url string) (*websocket.Conn, func(), error) {
	conn, resp, err := c.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial relay: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	stopAfter := context.AfterFunc(ctx, func() { _ = conn.Close() })
	return conn, func() {
		stopAfter()
		_ = conn.Close()
	}, nil
}

func readEnvelope(conn *websocket.Conn) (string, []json.RawMessage, error) {
	var raw []json.RawMessage
	if err := conn.ReadJSON(&raw); err != nil {
		return "", nil, err
	}
	if len(raw) == 0 {
		return "", nil, nil
	}
	var label string
	if err := json.Unmarshal(raw[0], &label); err != nil {
		return "", nil, nil
	}
	return label, raw[1:], nil
}

func sameSub(raw json.RawMessage, subID string) bool {
	var id string
	return json.Unmarshal(raw, &id) == nil && id == subID
}

// ctxErr prefers the context error when the connection was torn down by it.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("read relay: %w", ctx.Err())
	}
	return fmt.Errorf("read relay: %w", err)
}
