// internal/app/router.go
package app

import (
	adminHandler "inkgen-service/internal/handlers/admin"
	authHandler "inkgen-service/internal/handlers/auth"
	creditsHandler "inkgen-service/internal/handlers/credits"
	generationHandler "inkgen-service/internal/handlers/generation"
	usageHandler "inkgen-service/internal/handlers/usage"
	wsHandler "inkgen-service/internal/handlers/websocket"
	"inkgen-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	AuthHandler         *authHandler.AuthHandler
	GenerationHandler   *generationHandler.GenerationHandler
	UsageHandler        *usageHandler.UsageHandler
	AdminHandler        *adminHandler.AdminHandler
	CreditsHandler      *creditsHandler.CreditsHandler
	WSHandler           *wsHandler.WebSocketHandler
	AuthMiddleware      *middleware.AuthMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)

	// ==================== Public Auth Routes ====================
	authPublic := api.Group("/auth")
	{
		authPublic.POST("/register", h.AuthHandler.Register)
		authPublic.POST("/login", h.AuthHandler.Login)
		authPublic.POST("/refresh", h.AuthHandler.Refresh)
		// Heartbeat authenticates on the session token alone so the
		// client still learns why its session died after the JWT check
		// would have passed anyway.
		authPublic.POST("/heartbeat", h.AuthHandler.Heartbeat)
	}

	// ==================== Authenticated Auth Routes ====================
	authProtected := api.Group("/auth")
	authProtected.Use(h.AuthMiddleware.Auth())
	{
		authProtected.POST("/logout", h.AuthHandler.Logout)
		authProtected.POST("/logout-all", h.AuthHandler.LogoutAll)
		authProtected.PUT("/change-password", h.AuthHandler.ChangePassword)
		authProtected.GET("/me", h.AuthHandler.Me)
	}

	// ==================== Content Generation ====================
	generate := api.Group("/generate")
	generate.Use(h.AuthMiddleware.Auth())
	{
		generate.POST("/:module", h.RateLimitMiddleware.Limit(), h.GenerationHandler.Generate)
	}

	// ==================== Usage ====================
	usage := api.Group("/usage")
	usage.Use(h.AuthMiddleware.Auth())
	{
		usage.GET("/status", h.UsageHandler.Status)
	}

	// ==================== Credits & API Keys ====================
	credits := api.Group("/credits")
	credits.Use(h.AuthMiddleware.Auth())
	{
		credits.GET("/wallet", h.CreditsHandler.Wallet)
		credits.GET("/transactions", h.CreditsHandler.Transactions)
		credits.POST("/keys", h.CreditsHandler.CreateAPIKey)
		credits.GET("/keys", h.CreditsHandler.ListAPIKeys)
		credits.DELETE("/keys/:id", h.CreditsHandler.RevokeAPIKey)
	}

	// ==================== Admin ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		admin.GET("/ratelimit/config", h.AdminHandler.GetConfig)
		admin.PUT("/ratelimit/config", h.AdminHandler.UpdateConfig)
		admin.GET("/ratelimit/sharing-report", h.AdminHandler.SharingReport)

		admin.GET("/users/:id/usage", h.AdminHandler.UserUsage)
		admin.GET("/users/:id/audit", h.AdminHandler.UserAudit)
		admin.POST("/users/:id/block", h.AdminHandler.BlockUser)
		admin.POST("/users/:id/unblock", h.AdminHandler.UnblockUser)
		admin.POST("/users/:id/force-logout", h.AdminHandler.ForceLogout)
		admin.POST("/users/:id/credits", h.AdminHandler.GrantCredits)
	}
}
