package controllers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vashsender/internal/api/middleware"
	"vashsender/internal/handlers"
	"vashsender/internal/services"
)

// BaseController provides generic team-scoped CRUD operations for any model
type BaseController[T any] struct {
	service services.BaseService[T]
}

// NewBaseController creates a new base controller
func NewBaseController[T any](service services.BaseService[T]) *BaseController[T] {
	return &BaseController[T]{
		service: service,
	}
}

// Create handles creation of new entities
func (c *BaseController[T]) Create(ctx echo.Context) error {
	var entity T
	if err := handlers.BindAndValidate(ctx, &entity); err != nil {
		return err
	}

	if err := c.service.Create(ctx.Request().Context(), middleware.GetTeamID(ctx), &entity); err != nil {
		return handlers.RespondError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, entity)
}

// Get handles retrieval of a single entity
func (c *BaseController[T]) Get(ctx echo.Context) error {
	entity, err := c.service.Get(ctx.Request().Context(), middleware.GetTeamID(ctx), ctx.Param("id"))
	if err != nil {
		return handlers.RespondError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, entity)
}

// List handles retrieval of multiple entities with pagination and filtering
func (c *BaseController[T]) List(ctx echo.Context) error {
	page, limit := handlers.Pagination(ctx)

	// Parse filters from query parameters; the service ignores unknown keys
	filters := make(map[string]interface{})
	for key, values := range ctx.QueryParams() {
		if key != "page" && key != "limit" && len(values) > 0 {
			filters[key] = values[0]
		}
	}

	entities, total, err := c.service.List(ctx.Request().Context(), middleware.GetTeamID(ctx), page, limit, filters)
	if err != nil {
		return handlers.RespondError(ctx, err)
	}

	return handlers.Paged(ctx, entities, total, page, limit)
}

// Update handles updating an existing entity
func (c *BaseController[T]) Update(ctx echo.Context) error {
	var entity T
	if err := handlers.BindAndValidate(ctx, &entity); err != nil {
		return err
	}

	if err := c.service.Update(ctx.Request().Context(), middleware.GetTeamID(ctx), ctx.Param("id"), &entity); err != nil {
		return handlers.RespondError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, entity)
}

// Delete handles deletion of an entity
func (c *BaseController[T]) Delete(ctx echo.Context) error {
	if err := c.service.Delete(ctx.Request().Context(), middleware.GetTeamID(ctx), ctx.Param("id")); err != nil {
		return handlers.RespondError(ctx, err)
	}

	return ctx.NoContent(http.StatusNoContent)
}

// RegisterRoutes registers CRUD routes for the controller
func (c *BaseController[T]) RegisterRoutes(g *echo.Group, path string, methods ...string) {
	if len(methods) == 0 {
		methods = []string{"POST", "GET", "PUT", "DELETE"}
	}

	for _, method := range methods {
		switch method {
		case "POST":
			g.POST(path, c.Create)
		case "GET":
			g.GET(path+"/:id", c.Get)
			g.GET(path, c.List)
		case "PUT":
			g.PUT(path+"/:id", c.Update)
		case "DELETE":
			g.DELETE(path+"/:id", c.Delete)
		}
	}
}
