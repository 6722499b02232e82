package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/demir/mentora/internal/app/controllers"
	"github.com/demir/mentora/internal/app/models"
	"github.com/demir/mentora/internal/middleware"
	"github.com/demir/mentora/internal/pkg/realtime"
)

// SetupRouter configures all application routes
func SetupRouter(
	router *gin.Engine,
	chatController *controllers.ChatController,
	wsHandler *realtime.Handler,
	authMiddleware *middleware.AuthMiddleware,
	uploadDir string,
) {
	// Operational endpoints (public)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Uploaded attachments are served statically
	router.Static("/uploads", uploadDir)

	// API version group
	v1 := router.Group("/api/v1")

	// All chat routes require authentication
	authenticated := v1.Group("")
	authenticated.Use(authMiddleware.JWTAuth())
	{
		chats := authenticated.Group("/chats")
		{
			// Threads are opened by the student; mentors reach theirs
			// through the listing.
			chats.POST("/courses/:courseId",
				authMiddleware.RoleRequired(string(models.RoleStudent)),
				chatController.GetOrCreateThread)
			chats.GET("", chatController.ListThreads)
			chats.GET("/:threadId/messages", chatController.GetMessages)
			chats.POST("/:threadId/messages", chatController.SendMessage)
			chats.PUT("/:threadId/read", chatController.MarkRead)
		}

		// WebSocket upgrade; browsers pass the token as a query parameter
		authenticated.GET("/ws", wsHandler.HandleConnection)
	}
}
