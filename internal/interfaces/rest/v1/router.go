package v1

import (
	"github.com/gin-gonic/gin"

	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/interfaces/rest/v1/handler"
	"go-ama-realtime/internal/port/inbound"
)

// InitRESTRouter registers the internal trigger path and the session API.
func InitRESTRouter(
	logger logger.Logger,
	router *hub.Router,
	broadcaster inbound.BroadcastUseCase,
	rg *gin.RouterGroup,
) {
	sessionHandler := handler.NewSessionHandler(router, broadcaster, logger)

	internalGroup := rg.Group("/internal/sessions/:sessionId")
	internalGroup.POST("/broadcast", sessionHandler.Broadcast)

	apiGroup := rg.Group("/api/v1/sessions/:sessionId")
	{
		apiGroup.POST("/events", sessionHandler.PublishEvent)
		apiGroup.GET("/connections", sessionHandler.Connections)
	}
}
