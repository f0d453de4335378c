package routes

import (
	"github.com/labstack/echo/v4"

	"vashsender/internal/api/middleware"
	"vashsender/internal/handlers"
	"vashsender/internal/models"
)

func SetupSubscriptionRoutes(e *echo.Echo, api *echo.Group, subscriptionHandler *handlers.SubscriptionHandler) {
	// Public billing routes
	public := e.Group("/api/v1/billing")
	public.GET("/plans", subscriptionHandler.Plans)
	public.POST("/webhook", subscriptionHandler.HandleWebhook)

	// Protected billing routes
	billing := api.Group("/billing")
	billing.GET("/usage", subscriptionHandler.Usage)
	billing.POST("/checkout", subscriptionHandler.Checkout, middleware.RequireRole(models.UserRoleOwner))
	billing.GET("/portal", subscriptionHandler.Portal, middleware.RequireRole(models.UserRoleOwner))
}
