package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vashsender/internal/models"
)

// RoleAllows reports whether role is at least required.
func RoleAllows(role string, required models.UserRole) bool {
	return models.RoleRank(models.UserRole(role)) >= models.RoleRank(required)
}

// RequireRole rejects requests from users below the given role. It must run
// after the auth middleware.
func RequireRole(required models.UserRole) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !RoleAllows(GetUserRole(c), required) {
				return echo.NewHTTPError(http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
			}
			return next(c)
		}
	}
}

// RequireWriteRole lets every member read but only roles of at least
// required change anything.
func RequireWriteRole(required models.UserRole) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			switch c.Request().Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}
			if !RoleAllows(GetUserRole(c), required) {
				return echo.NewHTTPError(http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
			}
			return next(c)
		}
	}
}
