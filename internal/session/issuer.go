package session

import (
	"context"
	"fmt"
	"time"
)

// Grant is what a completed login or renewal hands back to the agent:
// a short-lived stateless token plus the renewal artifact.
type Grant struct {
	IdentityID     string
	SessionID      string // the renewal artifact
	Token          string
	TokenExpiresAt time.Time
	ExpiresIn      int // token lifetime in whole seconds
}

// Issuer mints, verifies, renews, and invalidates sessions. Renewal
// artifacts rotate on use: each renewal retires the old artifact, and a
// replay of a retired artifact revokes its successor chain, since reuse
// after rotation is a strong compromise signal.
type Issuer struct {
	store       Store
	codec       *TokenCodec
	maxLifetime time.Duration
	now         func() time.Time
}

func NewIssuer(store Store, codec *TokenCodec, maxLifetime time.Duration) *Issuer {
	return &Issuer{
		store:       store,
		codec:       codec,
		maxLifetime: maxLifetime,
		now:         time.Now,
	}
}

// Issue creates a fresh session for the identity. The absolute expiry
// fixed here is never extended by later renewals.
func (i *Issuer) Issue(ctx context.Context, identityID string) (*Grant, error) {
	sessionID, err := GenerateID()
	if err != nil {
		return nil, err
	}

	now := i.now()
	absolute := now.Add(i.maxLifetime)

	sess := Session{
		SessionID:         sessionID,
		IdentityID:        identityID,
		CreatedAt:         now,
		ExpiresAt:         absolute,
		AbsoluteExpiresAt: absolute,
		Active:            true,
	}

	if err := i.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: persisting session: %w", err)
	}

	return i.grantFor(&sess)
}

// Verify checks a stateless token. No storage lookup happens here, so
// it can run on every proxied request without backpressure.
func (i *Issuer) Verify(token string) (identityID string, err error) {
	return i.codec.Verify(token)
}

// Renew exchanges a renewal artifact for a fresh grant, rotating the
// artifact. The rotation claims the artifact atomically in the store,
// so concurrent renewals of one artifact (two server replicas, or a
// thief racing the owner) cannot both mint live successors: exactly one
// wins, and every loser is handled as a replay.
func (i *Issuer) Renew(ctx context.Context, artifact string) (*Grant, error) {
	newID, err := GenerateID()
	if err != nil {
		return nil, err
	}

	sess, err := i.store.Claim(ctx, artifact, newID)
	if err != nil {
		return nil, fmt.Errorf("session: claiming artifact: %w", err)
	}
	if sess == nil {
		return nil, ErrSessionRevoked
	}

	if !sess.Active {
		// Rotated, logged out, or a lost concurrent claim. All of
		// these are indistinguishable from artifact theft, so whatever
		// chain grew out of this artifact dies.
		if sess.ReplacedBy != "" {
			i.revokeChain(ctx, sess.ReplacedBy)
		}
		return nil, ErrSessionRevoked
	}

	now := i.now()
	if !now.Before(sess.ExpiresAt) || !now.Before(sess.AbsoluteExpiresAt) {
		// Claimed but expired: the artifact stays retired and no
		// successor is minted.
		return nil, ErrSessionExpired
	}

	successor := Session{
		SessionID:         newID,
		IdentityID:        sess.IdentityID,
		CreatedAt:         now,
		ExpiresAt:         sess.AbsoluteExpiresAt,
		AbsoluteExpiresAt: sess.AbsoluteExpiresAt,
		Active:            true,
	}
	if err := i.store.Create(ctx, successor); err != nil {
		return nil, fmt.Errorf("session: persisting rotated session: %w", err)
	}

	return i.grantFor(&successor)
}

// Invalidate is the logout path. Idempotent: an unknown or already
// inactive session is a no-op.
func (i *Issuer) Invalidate(ctx context.Context, sessionID string) error {
	sess, err := i.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session: loading session: %w", err)
	}
	if sess == nil || !sess.Active {
		return nil
	}
	sess.Active = false
	if err := i.store.Update(ctx, *sess); err != nil {
		return fmt.Errorf("session: invalidating session: %w", err)
	}
	return nil
}

func (i *Issuer) grantFor(sess *Session) (*Grant, error) {
	token, expiresAt, err := i.codec.Sign(sess.IdentityID)
	if err != nil {
		return nil, err
	}
	return &Grant{
		IdentityID:     sess.IdentityID,
		SessionID:      sess.SessionID,
		Token:          token,
		TokenExpiresAt: expiresAt,
		ExpiresIn:      int(i.codec.ttl / time.Second),
	}, nil
}

// revokeChain walks rotation successors and deactivates them. Depth is
// capped so a corrupt ReplacedBy cycle cannot spin forever.
func (i *Issuer) revokeChain(ctx context.Context, sessionID string) {
	const maxDepth = 64

	for depth := 0; sessionID != "" && depth < maxDepth; depth++ {
		sess, err := i.store.Get(ctx, sessionID)
		if err != nil || sess == nil {
			return
		}
		next := sess.ReplacedBy
		if sess.Active {
			sess.Active = false
			_ = i.store.Update(ctx, *sess)
		}
		sessionID = next
	}
}
