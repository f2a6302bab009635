package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"calendar-proxy/internal/dispatch"
	"calendar-proxy/internal/middleware"

	"github.com/gin-gonic/gin"
)

func (h *Handler) calendarStatus(c *gin.Context) {
	status, err := h.dispatcher.Status(
		c.Request.Context(),
		c.GetString(middleware.TokenKey),
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) disconnect(c *gin.Context) {
	err := h.dispatcher.Disconnect(
		c.Request.Context(),
		c.GetString(middleware.TokenKey),
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

func (h *Handler) checkAvailability(c *gin.Context) {
	h.proxy(c, dispatch.OpCheckAvailability, rawBody(c))
}

func (h *Handler) createAppointment(c *gin.Context) {
	h.proxy(c, dispatch.OpCreateAppointment, rawBody(c))
}

func (h *Handler) upcomingAppointments(c *gin.Context) {
	params := json.RawMessage(nil)
	if v := c.Query("hours_ahead"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hours_ahead"})
			return
		}
		encoded, _ := json.Marshal(gin.H{"hours_ahead": hours})
		params = encoded
	}
	h.proxy(c, dispatch.OpUpcomingAppointments, params)
}

// proxy funnels an operation through the dispatcher and serializes the
// sanitized result.
func (h *Handler) proxy(c *gin.Context, op dispatch.Operation, params json.RawMessage) {
	result, err := h.dispatcher.Dispatch(
		c.Request.Context(),
		c.GetString(middleware.TokenKey),
		op,
		params,
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func rawBody(c *gin.Context) json.RawMessage {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil
	}
	return data
}
