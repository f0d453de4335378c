package routes

import (
	"github.com/labstack/echo/v4"

	"vashsender/internal/api/middleware"
	"vashsender/internal/handlers"
	"vashsender/internal/models"
)

// SetupDomainRoutes registers domain and sender routes. Members may read,
// only admins change sending identities.
func SetupDomainRoutes(api *echo.Group, h *handlers.DomainHandler) {
	admin := middleware.RequireWriteRole(models.UserRoleAdmin)

	domains := api.Group("/domains", admin)
	domains.GET("", h.ListDomains)
	domains.POST("", h.AddDomain)
	domains.GET("/:id", h.GetDomain)
	domains.DELETE("/:id", h.DeleteDomain)
	domains.GET("/:id/records", h.Records)
	domains.POST("/:id/verify", h.VerifyDomain)

	senders := api.Group("/senders", admin)
	senders.GET("", h.ListSenders)
	senders.POST("", h.AddSender)
	senders.DELETE("/:id", h.DeleteSender)
	senders.POST("/:id/confirm", h.ConfirmSender)
	senders.POST("/:id/resend", h.ResendCode)
}
