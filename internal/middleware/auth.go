package middleware

import (
	"net/http"
	"strings"

	"calendar-proxy/internal/session"

	"github.com/gin-gonic/gin"
)

const (
	// IdentityIDKey is where RequireSession stores the verified
	// identity id in the gin context.
	IdentityIDKey = "identityID"

	// TokenKey is where RequireSession stores the raw bearer token so
	// handlers can hand it to the dispatcher, which re-verifies.
	TokenKey = "sessionToken"
)

type AuthMiddleware struct {
	issuer *session.Issuer
}

func NewAuthMiddleware(issuer *session.Issuer) *AuthMiddleware {
	return &AuthMiddleware{issuer: issuer}
}

// RequireSession fails fast on requests without a verifiable bearer
// token. Verification is pure computation, so doing it both here and in
// the dispatcher costs nothing and keeps the dispatcher self-contained.
func (a *AuthMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing bearer token",
			})
			return
		}

		identityID, err := a.issuer.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired session token",
			})
			return
		}

		c.Set(IdentityIDKey, identityID)
		c.Set(TokenKey, token)
		c.Next()
	}
}

// BearerToken extracts the token from the Authorization header. Tokens
// never travel in URLs or query strings.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}
