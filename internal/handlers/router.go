package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/mossy-p/call-signaling/internal/signaling"
	"go.uber.org/zap"
)

// NewRouter builds the HTTP surface of the signaling server.
func NewRouter(cfg *config.Config, coord *signaling.Coordinator, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log.Named("http")))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		// Token issuing is for local development only
		if !cfg.IsProduction() {
			apiGroup.POST("/auth/token", IssueToken(cfg.JWTSecret))
		}

		apiGroup.GET("/rooms/:roomId/presence", middleware.JWTAuth(cfg.JWTSecret), GetPresence(coord))
	}

	// WebSocket signaling endpoint; the handler authenticates itself so
	// browsers can pass the token as a query parameter or cookie
	ws := NewSignalingHandler(coord, cfg.WebSocket, cfg.JWTSecret, log)
	router.GET("/ws/rooms/:roomId", ws.HandleSignaling)
	router.GET("/call/ws/rooms/:roomId", ws.HandleSignaling)

	return router
}
