package handlers

import (
	"net/http"

	"presence-service/internal/websocket"

	"github.com/gin-gonic/gin"
)

// HealthHandler exposes a read-only introspection surface: live connection
// count and process uptime. It mutates nothing.
type HealthHandler struct {
	hub *websocket.Hub
}

func NewHealthHandler(hub *websocket.Hub) *HealthHandler {
	return &HealthHandler{hub: hub}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"connections":    h.hub.ConnectionCount(),
		"uptime_seconds": int64(h.hub.Uptime().Seconds()),
	})
}
