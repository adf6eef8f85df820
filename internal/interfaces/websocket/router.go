package websocket

import (
	"github.com/gin-gonic/gin"

	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/port/outbound"
)

// InitWebSocketRouter registers the session-scoped upgrade path.
func InitWebSocketRouter(
	logger logger.Logger,
	router *hub.Router,
	sessions outbound.SessionValidator,
	rg *gin.RouterGroup,
) {
	wsHandler := NewWebSocketHandler(router, sessions, logger)

	wsGroup := rg.Group("/ws")
	wsGroup.GET("/:sessionId", wsHandler.Connect)
}
