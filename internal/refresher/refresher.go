package refresher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calendar-proxy/internal/exchange"
	"calendar-proxy/internal/logger"
	"calendar-proxy/internal/vault"

	"golang.org/x/sync/singleflight"
)

// DefaultMargin is how long before its expiry a credential is treated
// as stale.
const DefaultMargin = 5 * time.Minute

// Refresher renews expiring custody-held credentials on demand. Renewal
// is lazy: it happens only when a request observes an almost-expired
// credential, never from a background loop.
type Refresher struct {
	vault    *vault.Vault
	provider exchange.Provider
	margin   time.Duration
	now      func() time.Time

	// group collapses concurrent renewals for one identity into a
	// single provider call. Some providers invalidate a renewal secret
	// on first use when rotation is on; a duplicate concurrent renewal
	// would strand the loser with a dead secret.
	group singleflight.Group
}

func New(v *vault.Vault, provider exchange.Provider, margin time.Duration) *Refresher {
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &Refresher{
		vault:    v,
		provider: provider,
		margin:   margin,
		now:      time.Now,
	}
}

// EnsureFresh returns a usable credential for the identity, renewing it
// first if it is within the safety margin of expiry. A revoked
// credential fails immediately without touching the network.
func (r *Refresher) EnsureFresh(ctx context.Context, identityID string) (*vault.Credential, error) {
	cred, err := r.vault.Get(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if cred.Fresh(r.now(), r.margin) {
		return cred, nil
	}

	result, err, _ := r.group.Do(identityID, func() (any, error) {
		// Re-read inside the flight: a follower queued behind the
		// winning renewal must not renew again.
		cred, err := r.vault.Get(ctx, identityID)
		if err != nil {
			return nil, err
		}
		if cred.Fresh(r.now(), r.margin) {
			return cred, nil
		}
		return r.renew(ctx, identityID, cred)
	})
	if err != nil {
		return nil, err
	}
	return result.(*vault.Credential), nil
}

func (r *Refresher) renew(
	ctx context.Context,
	identityID string,
	cred *vault.Credential,
) (*vault.Credential, error) {

	tok, err := r.provider.Refresh(ctx, cred.RenewalSecret)
	if errors.Is(err, exchange.ErrInvalidGrant) {
		// The doctor or the provider revoked the grant. Terminal until
		// a new authorization completes.
		if revokeErr := r.vault.MarkRevoked(ctx, identityID); revokeErr != nil {
			logger.Error("failed to mark credential revoked", map[string]any{
				"identity_id": identityID,
				"error":       revokeErr.Error(),
			})
		}
		return nil, vault.ErrCredentialRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("refresher: renewal exchange: %w", err)
	}

	renewed := &vault.Credential{
		AccessSecret:  tok.AccessSecret,
		RenewalSecret: cred.RenewalSecret,
		Expiry:        tok.Expiry,
		Scopes:        cred.Scopes,
		AccountEmail:  cred.AccountEmail,
	}
	if tok.RenewalSecret != "" {
		renewed.RenewalSecret = tok.RenewalSecret
	}
	if len(tok.Scopes) > 0 {
		renewed.Scopes = tok.Scopes
	}

	if err := r.vault.Put(ctx, identityID, renewed); err != nil {
		return nil, err
	}

	logger.Info("credential renewed", map[string]any{
		"identity_id": identityID,
		"expiry":      renewed.Expiry.UTC().Format(time.RFC3339),
	})

	return renewed, nil
}
