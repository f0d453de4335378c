package routes

import (
	"github.com/labstack/echo/v4"

	"vashsender/internal/api/middleware"
	"vashsender/internal/handlers"
	"vashsender/internal/models"
)

func SetupSMTPRoutes(api *echo.Group, smtpHandler *handlers.SMTPHandler) {
	admin := middleware.RequireRole(models.UserRoleAdmin)

	// SMTP test routes
	api.POST("/smtp/test", smtpHandler.TestSMTPConnection, admin)
	api.POST("/smtp-configs/:id/test", smtpHandler.TestStoredConfig, admin)
}
