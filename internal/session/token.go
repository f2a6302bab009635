package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenCodec signs and verifies the stateless session tokens handed to
// the agent. Verification is pure computation: signature check plus
// timestamp comparison, no storage lookup.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type tokenClaims struct {
	IdentityID string `json:"identity_id"`
	jwt.RegisteredClaims
}

func NewTokenCodec(secret []byte, ttl time.Duration) *TokenCodec {
	return &TokenCodec{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign mints a token carrying only the identity id. The external
// credential never rides in a token.
func (c *TokenCodec) Sign(identityID string) (token string, expiresAt time.Time, err error) {
	now := c.now()
	expiresAt = now.Add(c.ttl)

	claims := tokenClaims{
		IdentityID: identityID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: signing token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify returns the identity id for a valid token. A token whose exp
// equals the current instant is already expired.
func (c *TokenCodec) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(
		token,
		&tokenClaims{},
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.IdentityID == "" {
		return "", ErrTokenInvalid
	}
	return claims.IdentityID, nil
}
