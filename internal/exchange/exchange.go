package exchange

import (
	"context"
	"fmt"

	"calendar-proxy/internal/identity"
	"calendar-proxy/internal/logger"
	"calendar-proxy/internal/session"
	"calendar-proxy/internal/utils"
	"calendar-proxy/internal/vault"
)

// Exchange converts an authorization code into a custody-held credential
// plus a usable session, in one round trip for the caller.
type Exchange struct {
	provider   Provider
	states     StateStore
	identities identity.Store
	vault      *vault.Vault
	issuer     *session.Issuer

	// Profile fields the provider does not assert.
	defaultTimezone   string
	defaultCalendarID string
}

func New(
	provider Provider,
	states StateStore,
	identities identity.Store,
	v *vault.Vault,
	issuer *session.Issuer,
) *Exchange {
	return &Exchange{
		provider:          provider,
		states:            states,
		identities:        identities,
		vault:             v,
		issuer:            issuer,
		defaultTimezone:   "America/New_York",
		defaultCalendarID: "primary",
	}
}

// BeginAuthorization issues a fresh anti-forgery state and the provider
// authorization URL to redirect the doctor to.
func (e *Exchange) BeginAuthorization(ctx context.Context) (authURL, state string, err error) {
	state = utils.RandomString(32)
	if err := e.states.Put(ctx, state); err != nil {
		return "", "", fmt.Errorf("exchange: persisting state: %w", err)
	}
	return e.provider.AuthCodeURL(state), state, nil
}

// CompleteAuthorization validates the returned state, exchanges the code,
// fetches the profile, upserts the identity with its sealed credential in
// one atomic write, and issues a fresh session.
func (e *Exchange) CompleteAuthorization(
	ctx context.Context,
	code string,
	state string,
) (*identity.Identity, *session.Grant, error) {

	ok, err := e.states.Consume(ctx, state)
	if err != nil {
		return nil, nil, fmt.Errorf("exchange: consuming state: %w", err)
	}
	if !ok {
		return nil, nil, ErrInvalidState
	}

	tok, err := e.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	profile, err := e.provider.UserInfo(ctx, tok.AccessSecret)
	if err != nil {
		return nil, nil, err
	}

	cred := &vault.Credential{
		AccessSecret:  tok.AccessSecret,
		RenewalSecret: tok.RenewalSecret,
		Expiry:        tok.Expiry,
		Scopes:        tok.Scopes,
		AccountEmail:  profile.Email,
	}

	ident, err := e.identities.Upsert(ctx, identity.Profile{
		Email:             profile.Email,
		DisplayName:       profile.DisplayName,
		Timezone:          e.defaultTimezone,
		CalendarAccountID: e.defaultCalendarID,
	}, func(identityID string) ([]byte, error) {
		return e.vault.Seal(identityID, cred)
	}, tok.Expiry)
	if err != nil {
		return nil, nil, fmt.Errorf("exchange: upserting identity: %w", err)
	}

	grant, err := e.issuer.Issue(ctx, ident.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("exchange: issuing session: %w", err)
	}

	logger.Info("authorization completed", map[string]any{
		"identity_id": ident.ID,
	})

	return ident, grant, nil
}
