package handler

import (
	"net/http"

	"calendar-proxy/internal/logger"
	"calendar-proxy/internal/middleware"

	"github.com/gin-gonic/gin"
)

func (h *Handler) authorizeURL(c *gin.Context) {
	authURL, state, err := h.exchange.BeginAuthorization(c.Request.Context())
	if err != nil {
		logger.Error("begin authorization failed", map[string]any{
			"error": err.Error(),
		})
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authorization_url": authURL,
		"state":             state,
	})
}

type callbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

func (h *Handler) callback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" || req.State == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and state are required"})
		return
	}

	ident, grant, err := h.exchange.CompleteAuthorization(
		c.Request.Context(),
		req.Code,
		req.State,
	)
	if err != nil {
		logger.Warn("authorization callback failed", map[string]any{
			"error": err.Error(),
		})
		writeError(c, err)
		return
	}

	resp := newGrantResponse(grant)
	resp.IdentityID = ident.ID
	c.JSON(http.StatusOK, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	grant, err := h.issuer.Renew(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newGrantResponse(grant))
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// logout invalidates the renewal artifact. The stateless token cannot be
// recalled, it simply ages out; what matters is that the artifact can no
// longer mint successors. Idempotent.
func (h *Handler) logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	if req.RefreshToken != "" {
		if err := h.issuer.Invalidate(c.Request.Context(), req.RefreshToken); err != nil {
			writeError(c, err)
			return
		}
		logger.Info("session invalidated", map[string]any{
			"identity_id": c.GetString(middleware.IdentityIDKey),
		})
	}

	c.Status(http.StatusNoContent)
}
