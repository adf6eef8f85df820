package sse

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/port/outbound"
)

// ServerSentEventHandler serves read-only event streams, used by displays
// that never send anything back.
type ServerSentEventHandler struct {
	router   *hub.Router
	sessions outbound.SessionValidator
	logger   logger.Logger
}

func NewServerSentEventHandler(
	router *hub.Router,
	sessions outbound.SessionValidator,
	logger logger.Logger,
) *ServerSentEventHandler {
	return &ServerSentEventHandler{
		router:   router,
		sessions: sessions,
		logger:   logger.WithField("handler", "sse"),
	}
}

// Connect handles GET /sse/:sessionId and blocks until the stream ends.
func (h *ServerSentEventHandler) Connect(c *gin.Context) {
	sessionID := c.Param("sessionId")

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

	hubInstance.ServeSSE(c.Writer, c.Request)
}
