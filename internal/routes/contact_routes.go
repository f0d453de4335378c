package routes

import (
	"github.com/labstack/echo/v4"

	"vashsender/internal/handlers"
)

// SetupContactRoutes adds the non-CRUD contact and template endpoints. The
// CRUD routes come from the registry.
func SetupContactRoutes(api *echo.Group, h *handlers.ContactHandler, templates *handlers.TemplateHandler) {
	imports := api.Group("/imports")
	imports.POST("", h.CreateImport)
	imports.GET("", h.ListImports)
	imports.GET("/:id", h.GetImport)

	api.GET("/lists/counts", h.ListCounts)
	api.POST("/contacts/unsubscribe", h.Unsubscribe)

	api.POST("/templates/:id/preview", templates.Preview)
}
