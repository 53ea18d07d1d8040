package banking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSigner_RoundTrip(t *testing.T) {
	s := NewStateSigner("0123456789abcdef")
	state, err := s.Sign(42, "demo")
	require.NoError(t, err)

	claims, err := s.Verify(state)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.TenantID)
	assert.Equal(t, "demo", claims.Bank)
	assert.NotEmpty(t, claims.Nonce)

	other, err := s.Sign(42, "demo")
	require.NoError(t, err)
	assert.NotEqual(t, state, other, "every state carries a fresh nonce")
}

func TestStateSigner_Expired(t *testing.T) {
	s := NewStateSigner("0123456789abcdef")
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }
	state, err := s.Sign(1, "demo")
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(StateTTL + time.Second) }
	_, err = s.Verify(state)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateSigner_Tampered(t *testing.T) {
	s := NewStateSigner("0123456789abcdef")
	state, err := s.Sign(1, "demo")
	require.NoError(t, err)

	_, err = s.Verify(state + "x")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = NewStateSigner("fedcba9876543210").Verify(state)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = s.Verify("")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestVerifierCache(t *testing.T) {
	c := NewVerifierCache(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("demo", "s1", "v1")
	c.Put("other", "s1", "v2")

	v, ok := c.Take("demo", "s1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	_, ok = c.Take("demo", "s1")
	assert.False(t, ok, "single use")

	now = now.Add(2 * time.Minute)
	_, ok = c.Take("other", "s1")
	assert.False(t, ok, "expired")
	assert.Equal(t, 0, c.Len())
}

func TestVerifierCache_PutPurgesExpired(t *testing.T) {
	c := NewVerifierCache(time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("demo", "old", "v1")
	now = now.Add(5 * time.Minute)
	c.Put("demo", "new", "v2")
	assert.Equal(t, 1, c.Len())
}
