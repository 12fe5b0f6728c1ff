// Package signer turns event drafts into signed network events.
package signer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"relay-scheduler/relay"
)

// ErrNoIdentity is returned when no signing key is configured.
var ErrNoIdentity = errors.New("no signing identity configured")

// Draft is the unsigned content of an event.
type Draft struct {
	Kind      int
	Content   string
	Tags      [][]string
	CreatedAt time.Time
}

// Signer signs events with a secp256k1 key using BIP-340 Schnorr signatures.
type Signer struct {
	key    *btcec.PrivateKey
	pubKey string
}

// FromHex creates a signer from a hex encoded 32 byte secret key. An empty
// key yields a signer without identity whose Sign always fails with
// ErrNoIdentity.
func FromHex(secret string) (*Signer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Signer{}, nil
	}
	raw, err := hex.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes, got %d", len(raw))
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return newSigner(key), nil
}

// Generate creates a signer with a fresh random key.
func Generate() (*Signer, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newSigner(key), nil
}

func newSigner(key *btcec.PrivateKey) *Signer {
	return &Signer{
		key:    key,
		pubKey: hex.EncodeToString(schnorr.SerializePubKey(key.PubKey())),
	}
}

// HasIdentity reports whether a key is configured.
func (s *Signer) HasIdentity() bool {
	return s != nil && s.key != nil
}

// PubKey returns the x-only public key in hex.
func (s *Signer) PubKey() string {
	if !s.HasIdentity() {
		return ""
	}
	return s.pubKey
}

// Sign builds, hashes and signs an event from d.
func (s *Signer) Sign(d Draft) (*relay.Event, error) {
	if !s.HasIdentity() {
		return nil, ErrNoIdentity
	}
	tags := d.Tags
	if tags == nil {
		tags = [][]string{}
	}
	ev := &relay.Event{
		PubKey:    s.pubKey,
		CreatedAt: d.CreatedAt.Unix(),
		Kind:      d.Kind,
		Tags:      tags,
		Content:   d.Content,
	}
	hash, err := ev.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := schnorr.Sign(s.key, hash[:])
	if err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}
	ev.ID = hex.EncodeToString(hash[:])
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return ev, nil
}

// Verify checks the id and signature of ev.
func Verify(ev *relay.Event) error {
	id, err := ev.ComputeID()
	if err != nil {
		return err
	}
	if id != ev.ID {
		return errors.New("event id does not match content")
	}
	pubBytes, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return fmt.Errorf("decode pubkey: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("parse pubkey: %w", err)
	}
	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	idBytes, _ := hex.DecodeString(ev.ID)
	if !sig.Verify(idBytes, pub) {
		return errors.New("invalid signature")
	}
	return nil
}
