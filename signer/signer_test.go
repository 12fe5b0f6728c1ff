package signer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-scheduler/relay"
)

func TestSignAndVerify(t *testing.T) {
	s, err := Generate()
	require.NoError(t, err)
	require.True(t, s.HasIdentity())
	assert.Len(t, s.PubKey(), 64)

	ev, err := s.Sign(Draft{
		Kind:      relay.KindTextNote,
		Content:   "Sunrise over <the> ridge & valley",
		Tags:      [][]string{{"t", "travel"}},
		CreatedAt: time.Unix(1700000000, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ev.CreatedAt)
	assert.Len(t, ev.ID, 64)
	assert.Len(t, ev.Sig, 128)
	require.NoError(t, Verify(ev))

	ev.Content = "tampered"
	assert.Error(t, Verify(ev))
}

func TestFromHex(t *testing.T) {
	const secret = "0000000000000000000000000000000000000000000000000000000000000003"
	s, err := FromHex(secret)
	require.NoError(t, err)
	// BIP-340 test vector 0 public key for secret key 3.
	assert.Equal(t, "f9308a019258c31049344f85f89d5229b531c845836f99b08601f113bce036f9", s.PubKey())

	_, err = FromHex("zz")
	assert.Error(t, err)
	_, err = FromHex("abcd")
	assert.Error(t, err)
}

func TestNoIdentity(t *testing.T) {
	s, err := FromHex("")
	require.NoError(t, err)
	assert.False(t, s.HasIdentity())

	_, err = s.Sign(Draft{Kind: relay.KindTextNote, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrNoIdentity)

	var nilSigner *Signer
	_, err = nilSigner.Sign(Draft{})
	assert.ErrorIs(t, err, ErrNoIdentity)
}
