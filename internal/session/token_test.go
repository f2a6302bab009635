package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedCodec(ttl time.Duration, now time.Time) *TokenCodec {
	codec := NewTokenCodec([]byte("test-secret-material"), ttl)
	codec.now = func() time.Time { return now }
	return codec
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	codec := fixedCodec(30*time.Minute, now)

	token, expiresAt, err := codec.Sign("identity-42")
	require.NoError(t, err)
	require.True(t, expiresAt.Equal(now.Add(30*time.Minute)))

	identityID, err := codec.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "identity-42", identityID)
}

func TestTokenSignatureTampering(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	codec := fixedCodec(30*time.Minute, now)

	token, _, err := codec.Sign("identity-42")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	// Flipping any byte of the signature must fail verification.
	sig := parts[2]
	for i := 0; i < len(sig); i++ {
		flipped := []byte(sig)
		if flipped[i] == 'A' {
			flipped[i] = 'B'
		} else {
			flipped[i] = 'A'
		}
		if string(flipped) == sig {
			continue
		}
		tampered := parts[0] + "." + parts[1] + "." + string(flipped)
		_, err := codec.Verify(tampered)
		require.Errorf(t, err, "signature byte %d flipped but token verified", i)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	now := time.Now()
	codec := fixedCodec(30*time.Minute, now)
	token, _, err := codec.Sign("identity-42")
	require.NoError(t, err)

	other := NewTokenCodec([]byte("a-different-secret"), 30*time.Minute)
	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenExpiryBoundary(t *testing.T) {
	issuedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	codec := fixedCodec(30*time.Minute, issuedAt)

	token, expiresAt, err := codec.Sign("identity-42")
	require.NoError(t, err)

	t.Run("one second before expiry verifies", func(t *testing.T) {
		codec.now = func() time.Time { return expiresAt.Add(-time.Second) }
		identityID, err := codec.Verify(token)
		require.NoError(t, err)
		require.Equal(t, "identity-42", identityID)
	})

	t.Run("exactly at expiry fails", func(t *testing.T) {
		codec.now = func() time.Time { return expiresAt }
		_, err := codec.Verify(token)
		require.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("after expiry fails", func(t *testing.T) {
		codec.now = func() time.Time { return expiresAt.Add(time.Minute) }
		_, err := codec.Verify(token)
		require.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestTokenGarbage(t *testing.T) {
	codec := fixedCodec(30*time.Minute, time.Now())

	for _, token := range []string{
		"",
		"not-a-token",
		"a.b.c",
		strings.Repeat("x", 512),
	} {
		_, err := codec.Verify(token)
		require.ErrorIs(t, err, ErrTokenInvalid)
	}
}
