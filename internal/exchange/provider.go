package exchange

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidState means the anti-forgery state did not match a
	// pending authorization. Terminal: the login must restart.
	ErrInvalidState = errors.New("authorization state invalid")

	// ErrInvalidGrant means the provider rejected the code or renewal
	// secret (used, expired, malformed, revoked). Terminal.
	ErrInvalidGrant = errors.New("authorization grant invalid")

	// ErrProviderUnavailable is a transient provider failure. Safe for
	// the caller to retry with backoff; never retried internally.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Token is the normalized provider credential result of a code exchange
// or a renewal.
type Token struct {
	AccessSecret  string
	RenewalSecret string
	Expiry        time.Time
	Scopes        []string
}

// Profile is the provider-asserted user profile.
type Profile struct {
	Email       string
	DisplayName string
}

// Provider is the external identity provider. Implementations return
// credential and profile facts only and must classify their failures
// into the sentinel errors above.
type Provider interface {
	// AuthCodeURL builds the authorization URL requesting offline
	// (renewable) access for the given anti-forgery state.
	AuthCodeURL(state string) string

	// ExchangeCode exchanges an authorization code for a credential.
	ExchangeCode(ctx context.Context, code string) (*Token, error)

	// Refresh exchanges a renewal secret for a fresh access secret.
	// The returned RenewalSecret is empty when the provider did not
	// rotate it.
	Refresh(ctx context.Context, renewalSecret string) (*Token, error)

	// UserInfo fetches the profile behind an access secret.
	UserInfo(ctx context.Context, accessSecret string) (*Profile, error)
}
