package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTokenInvalid covers malformed tokens and bad signatures.
	ErrTokenInvalid = errors.New("session token invalid")

	// ErrTokenExpired means the signature checked out but exp passed.
	ErrTokenExpired = errors.New("session token expired")

	// ErrSessionRevoked means the renewal artifact was invalidated:
	// logout, rotation, or replay of a rotated artifact.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrSessionExpired means the renewal artifact outlived its window.
	ErrSessionExpired = errors.New("session expired")
)

// Session is a renewal grant issued to the agent. The session id doubles
// as the renewal artifact; the stateless token derived from it is never
// persisted.
type Session struct {
	SessionID  string    `json:"session_id"`
	IdentityID string    `json:"identity_id"`
	CreatedAt  time.Time `json:"created_at"`

	// ExpiresAt bounds this artifact; AbsoluteExpiresAt bounds the
	// whole rotation chain, so renewal can never extend a grant past
	// the lifetime fixed at first issuance.
	ExpiresAt         time.Time `json:"expires_at"`
	AbsoluteExpiresAt time.Time `json:"absolute_expires_at"`

	Active bool `json:"active"`

	// ReplacedBy points at the rotation successor. A lookup that hits
	// an inactive session with a successor is an artifact replay.
	ReplacedBy string `json:"replaced_by,omitempty"`
}

// Store persists renewal grants keyed by session id.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Update(ctx context.Context, s Session) error
	Delete(ctx context.Context, sessionID string) error

	// Claim atomically retires an active artifact, recording
	// successorID as its rotation successor, and returns the pre-claim
	// snapshot. Of any set of concurrent claims on one artifact,
	// exactly one observes Active=true; the rest see the retired
	// session. A missing artifact returns (nil, nil).
	Claim(ctx context.Context, sessionID, successorID string) (*Session, error)
}

// GenerateID generates a cryptographically secure session id.
// 32 bytes = 256 bits of entropy.
func GenerateID() (string, error) {

	const size = 32 // 256 bits

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
