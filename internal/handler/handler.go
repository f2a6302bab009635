package handler

import (
	"errors"
	"net/http"

	"calendar-proxy/internal/dispatch"
	"calendar-proxy/internal/exchange"
	"calendar-proxy/internal/schedule"
	"calendar-proxy/internal/session"

	"github.com/gin-gonic/gin"
)

// Handler owns the public HTTP surface: the authorization flow and the
// proxied calendar operations.
type Handler struct {
	exchange   *exchange.Exchange
	issuer     *session.Issuer
	dispatcher *dispatch.Dispatcher
}

func NewHandler(
	ex *exchange.Exchange,
	issuer *session.Issuer,
	dispatcher *dispatch.Dispatcher,
) *Handler {
	return &Handler{
		exchange:   ex,
		issuer:     issuer,
		dispatcher: dispatcher,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, requireSession gin.HandlerFunc) {
	r.GET("/auth/authorize-url", h.authorizeURL)
	r.POST("/auth/callback", h.callback)
	r.POST("/auth/refresh", h.refresh)

	authed := r.Group("/")
	authed.Use(requireSession)

	authed.POST("/auth/logout", h.logout)
	authed.GET("/calendar/status", h.calendarStatus)
	authed.POST("/calendar/disconnect", h.disconnect)
	authed.POST("/calendar/check-availability", h.checkAvailability)
	authed.POST("/appointments", h.createAppointment)
	authed.GET("/appointments/upcoming", h.upcomingAppointments)
}

// grantResponse is the token payload shape shared by callback and
// refresh.
type grantResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	IdentityID   string `json:"identity_id"`
}

func newGrantResponse(grant *session.Grant) grantResponse {
	return grantResponse{
		AccessToken:  grant.Token,
		RefreshToken: grant.SessionID,
		TokenType:    "bearer",
		ExpiresIn:    grant.ExpiresIn,
		IdentityID:   grant.IdentityID,
	}
}

// writeError is the single place dispatcher and component errors become
// caller-facing responses. Internal detail stays out of the body.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, exchange.ErrInvalidState):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid state"})
	case errors.Is(err, exchange.ErrInvalidGrant):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization failed"})
	case errors.Is(err, session.ErrTokenExpired),
		errors.Is(err, session.ErrTokenInvalid),
		errors.Is(err, session.ErrSessionRevoked),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, dispatch.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, dispatch.ErrReauthorizationRequired):
		c.JSON(http.StatusForbidden, gin.H{"error": "reconnect_required"})
	case errors.Is(err, dispatch.ErrValidation),
		errors.Is(err, dispatch.ErrUnknownOperation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, exchange.ErrProviderUnavailable),
		errors.Is(err, schedule.ErrUpstream):
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
