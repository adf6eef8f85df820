package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/port/inbound"
	"go-ama-realtime/internal/protocol"
)

type SessionHandler struct {
	router      *hub.Router
	broadcaster inbound.BroadcastUseCase
	logger      logger.Logger
}

// PublishEventRequest is the JSON body accepted by PublishEvent.
type PublishEventRequest struct {
	Type                string          `json:"type" binding:"required"`
	Data                json.RawMessage `json:"data"`
	ExcludeConnectionID string          `json:"excludeConnectionId"`
}

type ConnectionsResponse struct {
	SessionID   string         `json:"sessionId"`
	Total       int            `json:"total"`
	Live        int            `json:"live"`
	Connections []hub.Presence `json:"connections"`
}

func NewSessionHandler(
	router *hub.Router,
	broadcaster inbound.BroadcastUseCase,
	logger logger.Logger,
) *SessionHandler {
	return &SessionHandler{
		router:      router,
		broadcaster: broadcaster,
		logger:      logger.WithField("handler", "session"),
	}
}

// Broadcast handles POST /internal/sessions/:sessionId/broadcast. The
// request reaches the hub untouched and the hub writes the response.
func (h *SessionHandler) Broadcast(c *gin.Context) {
	hubInstance, err := h.router.Resolve(c.Param("sessionId"))
	if err != nil {
		h.writeResolveError(c, err)
		return
	}
	h.router.Forward(hubInstance, c.Writer, c.Request)
}

// PublishEvent handles POST /api/v1/sessions/:sessionId/events for
// collaborators that prefer the JSON envelope over the raw internal path.
func (h *SessionHandler) PublishEvent(c *gin.Context) {
	var req PublishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warnf("Invalid publish request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid event format",
		})
		return
	}

	eventType, err := protocol.ParseEventType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	ev := protocol.Event{Type: eventType, Data: req.Data}

	sessionID := c.Param("sessionId")
	if err := h.broadcaster.Publish(c.Request.Context(), sessionID, ev, req.ExcludeConnectionID); err != nil {
		if errors.Is(err, protocol.ErrMalformedFrame) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid event format",
			})
			return
		}
		h.writeResolveError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"sessionId": sessionID,
			"type":      ev.Type,
		},
	})
}

// Connections handles GET /api/v1/sessions/:sessionId/connections.
func (h *SessionHandler) Connections(c *gin.Context) {
	sessionID := c.Param("sessionId")

	presence, err := h.router.Presence(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, hub.ErrSessionRequired) {
			h.writeResolveError(c, err)
			return
		}
		h.logger.Errorf("Failed to list connections for %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to list connections",
		})
		return
	}

	live := 0
	if hubInstance, ok := h.router.Lookup(sessionID); ok {
		live = hubInstance.ConnectionCount()
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": ConnectionsResponse{
			SessionID:   sessionID,
			Total:       len(presence),
			Live:        live,
			Connections: presence,
		},
	})
}

func (h *SessionHandler) writeResolveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, hub.ErrSessionRequired):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Session ID is required",
		})
	default:
		h.logger.Errorf("Hub unavailable: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "Service temporarily unavailable",
		})
	}
}
