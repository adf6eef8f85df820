package sse

import (
	"github.com/gin-gonic/gin"

	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
	"go-ama-realtime/internal/port/outbound"
)

func InitSSERouter(
	logger logger.Logger,
	router *hub.Router,
	sessions outbound.SessionValidator,
	rg *gin.RouterGroup,
) {
	sseHandler := NewServerSentEventHandler(router, sessions, logger)

	sseGroup := rg.Group("/sse")
	sseGroup.GET("/:sessionId", sseHandler.Connect)
}
