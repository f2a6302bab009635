package google

import (
	"context"
	"errors"
	"fmt"

	"calendar-proxy/internal/exchange"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const issuerURL = "https://accounts.google.com"

// calendarScope grants read/write access to the doctor's calendar.
const calendarScope = "https://www.googleapis.com/auth/calendar"

// Provider implements exchange.Provider against Google's OIDC endpoints.
type Provider struct {
	oauthConfig  *oauth2.Config
	oidcProvider *oidc.Provider
}

func New(
	ctx context.Context,
	clientID string,
	clientSecret string,
	redirectURL string,
) (*Provider, error) {

	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, errors.New("google oauth config missing required fields")
	}

	oidcProvider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to init google oidc provider: %w", err)
	}

	oauthCfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     oidcProvider.Endpoint(),
		Scopes: []string{
			oidc.ScopeOpenID,
			"profile",
			"email",
			calendarScope,
		},
	}

	return &Provider{
		oauthConfig:  oauthCfg,
		oidcProvider: oidcProvider,
	}, nil
}

// AuthCodeURL requests offline access so Google returns a renewal
// secret; prompt=consent forces one even on repeat authorizations.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(
		state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

func (p *Provider) ExchangeCode(ctx context.Context, code string) (*exchange.Token, error) {
	tok, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, classify(err)
	}
	return &exchange.Token{
		AccessSecret:  tok.AccessToken,
		RenewalSecret: tok.RefreshToken,
		Expiry:        tok.Expiry,
		Scopes:        p.oauthConfig.Scopes,
	}, nil
}

// Refresh exchanges the stored renewal secret for a new access secret.
func (p *Provider) Refresh(ctx context.Context, renewalSecret string) (*exchange.Token, error) {
	source := p.oauthConfig.TokenSource(ctx, &oauth2.Token{
		RefreshToken: renewalSecret,
	})

	tok, err := source.Token()
	if err != nil {
		return nil, classify(err)
	}

	renewed := &exchange.Token{
		AccessSecret: tok.AccessToken,
		Expiry:       tok.Expiry,
		Scopes:       p.oauthConfig.Scopes,
	}
	// Google only returns a refresh token when it rotates it.
	if tok.RefreshToken != renewalSecret {
		renewed.RenewalSecret = tok.RefreshToken
	}
	return renewed, nil
}

func (p *Provider) UserInfo(ctx context.Context, accessSecret string) (*exchange.Profile, error) {
	info, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessSecret,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, classify(err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("google userinfo claims parse failed: %w", err)
	}
	if claims.Email == "" {
		return nil, errors.New("google userinfo missing email")
	}

	return &exchange.Profile{
		Email:       claims.Email,
		DisplayName: claims.Name,
	}, nil
}

// classify maps transport-level failures onto the exchange sentinels.
// Provider 4xx means the grant itself is bad; everything else is
// treated as transient.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", exchange.ErrProviderUnavailable, re.Response.StatusCode)
		}
		return fmt.Errorf("%w: %s", exchange.ErrInvalidGrant, re.ErrorCode)
	}
	return fmt.Errorf("%w: %v", exchange.ErrProviderUnavailable, err)
}
