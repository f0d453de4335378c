package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vashsender/internal/api/middleware"
	"vashsender/internal/services"
)

type TemplateHandler struct {
	templates *services.TemplateService
}

func NewTemplateHandler(templates *services.TemplateService) *TemplateHandler {
	return &TemplateHandler{templates: templates}
}

type PreviewRequest struct {
	Variables map[string]string `json:"variables"`
}

// @Summary Preview template
// @Description Renders subject and bodies with sample values. Unknown variables render empty.
// @Tags Templates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Template ID"
// @Param request body PreviewRequest false "Sample values"
// @Success 200 {object} services.Rendered
// @Router /api/v1/templates/{id}/preview [post]
func (h *TemplateHandler) Preview(c echo.Context) error {
	var req PreviewRequest
	if c.Request().ContentLength != 0 {
		if err := BindAndValidate(c, &req); err != nil {
			return err
		}
	}

	out, err := h.templates.Preview(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"), req.Variables)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
