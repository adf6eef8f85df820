package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-ama-realtime/internal/infrastructure/hub"
	"go-ama-realtime/internal/infrastructure/logger"
	v1 "go-ama-realtime/internal/interfaces/rest/v1"
	"go-ama-realtime/internal/interfaces/sse"
	"go-ama-realtime/internal/interfaces/websocket"
	"go-ama-realtime/internal/port/inbound"
	"go-ama-realtime/internal/port/outbound"
)

func InitRouter(
	hubRouter *hub.Router,
	sessions outbound.SessionValidator,
	broadcaster inbound.BroadcastUseCase,
	log logger.Logger,
) http.Handler {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	rootGroup := router.Group("")

	rootGroup.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rootGroup.GET("/hub/status", func(c *gin.Context) {
		stats := hubRouter.Stats()
		log.Debugf("Hub status check - Hubs: %d, Connections: %d", stats.Hubs, stats.Connections)
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"router_running": hubRouter.IsRunning(),
			"hubs":           stats.Hubs,
			"connections":    stats.Connections,
			"sessions":       stats.Sessions,
		})
	})

	rootGroup.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1.InitRESTRouter(log, hubRouter, broadcaster, rootGroup)
	sse.InitSSERouter(log, hubRouter, sessions, rootGroup)
	websocket.InitWebSocketRouter(log, hubRouter, sessions, rootGroup)

	return router
}
