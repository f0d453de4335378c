package routes

import (
	"github.com/labstack/echo/v4"

	"vashsender/internal/handlers"
)

// 📊 RegisterTrackingRoutes registers the public links embedded in emails
func RegisterTrackingRoutes(e *echo.Echo, h *handlers.TrackingHandler) {
	// Public tracking endpoints (no auth required)
	trackGroup := e.Group("/t")
	trackGroup.GET("/open", h.HandleEmailOpen)
	trackGroup.GET("/click", h.HandleEmailClick)
	trackGroup.GET("/unsubscribe", h.HandleEmailUnsubscribe)
	trackGroup.POST("/unsubscribe", h.HandleEmailUnsubscribe)
}
