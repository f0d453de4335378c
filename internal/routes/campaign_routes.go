package routes

import (
	"github.com/labstack/echo/v4"

	"vashsender/internal/handlers"
)

func SetupCampaignRoutes(api *echo.Group, h *handlers.CampaignHandler, tracking *handlers.TrackingHandler) {
	campaigns := api.Group("/campaigns")

	campaigns.GET("", h.List)
	campaigns.POST("", h.Create)
	campaigns.GET("/:id", h.Get)
	campaigns.PUT("/:id", h.Update)
	campaigns.DELETE("/:id", h.Delete)

	// Lifecycle
	campaigns.POST("/:id/schedule", h.Schedule)
	campaigns.POST("/:id/start", h.Start)
	campaigns.POST("/:id/pause", h.Pause)
	campaigns.POST("/:id/resume", h.Resume)
	campaigns.POST("/:id/cancel", h.Cancel)
	campaigns.POST("/:id/test", h.SendTest)

	// Reporting
	campaigns.GET("/:id/stats", h.Stats)
	campaigns.GET("/:id/recipients", h.Recipients)
	campaigns.GET("/:id/events", h.Events)
	campaigns.GET("/:id/export", h.Export)
	campaigns.GET("/:id/engagement", tracking.GetEngagement)
}
