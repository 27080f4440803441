package handlers

import (
	"log/slog"

	"presence-service/internal/websocket"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

type WSHandler struct {
	hub      *websocket.Hub
	upgrader *gorilla.Upgrader
}

func NewWSHandler(hub *websocket.Hub, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:      hub,
		upgrader: websocket.NewUpgrader(allowedOrigins),
	}
}

// HandleWebSocket upgrades the request and hands the connection to the hub.
// An optional resume query parameter asks for session recovery after a
// transient interruption.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	if err := websocket.Upgrade(h.hub, h.upgrader, c.Writer, c.Request); err != nil {
		// Upgrade already wrote the HTTP error (or rejected the origin)
		slog.Warn("WebSocket upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}
}
