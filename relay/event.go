// Package relay speaks the relay websocket protocol of the content network:
// signed events are written with EVENT and read back with REQ subscriptions.
package relay

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// Event kinds used by the scheduler and the curator.
const (
	KindTextNote = 1
	KindStory    = 30023 // long-form article
	KindTrip     = 30531
	KindReview   = 31555
)

// Event is a signed network item.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Serialize returns the canonical form the event id is hashed from.
func (e *Event) Serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = [][]string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// Content must be hashed verbatim, without <, > and & escapes.
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}); err != nil {
		return nil, fmt.Errorf("serialize event: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash returns the sha256 of the canonical serialization.
func (e *Event) Hash() ([32]byte, error) {
	data, err := e.Serialize()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// ComputeID hashes the event and returns the hex id.
func (e *Event) ComputeID() (string, error) {
	h, err := e.Hash()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

// Tag returns the first non-empty value of a tag called name.
func (e *Event) Tag(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name && t[1] != "" {
			return t[1]
		}
	}
	return ""
}

// HasTag reports whether a tag called name with a non-empty value exists.
func (e *Event) HasTag(name string) bool {
	return e.Tag(name) != ""
}

// NumericTag parses the first value of tag name as a number.
func (e *Event) NumericTag(name string) (float64, bool) {
	v := e.Tag(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Filter selects events in a REQ subscription.
type Filter struct {
	Kinds []int               `json:"kinds,omitempty"`
	Limit int                 `json:"limit,omitempty"`
	Tags  map[string][]string `json:"-"` // Serialized as "#<name>"
}

// MarshalJSON flattens tag filters into "#t": [...] members.
func (f Filter) MarshalJSON() ([]byte, error) {
	type plain Filter
	base, err := json.Marshal(plain(f))
	if err != nil {
		return nil, err
	}
	if len(f.Tags) == 0 {
		return base, nil
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for name, values := range f.Tags {
		raw, err := json.Marshal(values)
		if err != nil {
			return nil, err
		}
		m["#"+name] = raw
	}
	return json.Marshal(m)
}
