package routes

import (
	"github.com/labstack/echo/v4"

	"vashsender/internal/api/middleware"
	"vashsender/internal/handlers"
	"vashsender/internal/models"
)

// SetupAuthRoutes mounts the public auth endpoints on e and the
// authenticated account endpoints on api. Public endpoints are limited per IP.
func SetupAuthRoutes(e *echo.Echo, api *echo.Group, authHandler *handlers.AuthHandler, limiter echo.MiddlewareFunc) {
	// Auth routes group
	auth := e.Group("/api/v1/auth", limiter)

	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", authHandler.Logout)

	api.GET("/auth/me", authHandler.Me)

	team := api.Group("/team")
	team.GET("/members", authHandler.Members)
	team.POST("/members", authHandler.AddMember, middleware.RequireRole(models.UserRoleAdmin))
}
