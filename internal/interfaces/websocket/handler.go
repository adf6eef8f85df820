package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/port/outbound"
)

// WebSocketHandler validates the session and hands the upgrade request to
// the session's hub.
type WebSocketHandler struct {
	router   *hub.Router
	sessions outbound.SessionValidator
	logger   logger.Logger
}

func NewWebSocketHandler(
	router *hub.Router,
	sessions outbound.SessionValidator,
	logger logger.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		router:   router,
		sessions: sessions,
		logger:   logger.WithField("handler", "websocket"),
	}
}

// Connect handles GET /ws/:sessionId.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	sessionID := c.Param("sessionId")

	if !h.router.IsRunning() {
		h.logger.Error("Hub router is not running")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Service temporarily unavailable",
		})
		return
	}

	active, err := h.sessions.SessionActive(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Errorf("Failed to validate session %s: %v", sessionID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Service temporarily unavailable",
		})
		return
	}
	if !active {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Session not found or expired",
		})
		return
	}

	hubInstance, err := h.router.Resolve(sessionID)
	if err != nil {
		h.logger.Errorf("Failed to resolve hub for session %s: %v", sessionID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Service temporarily unavailable",
		})
		return
	}

	h.router.Forward(hubInstance, c.Writer, c.Request)
}
