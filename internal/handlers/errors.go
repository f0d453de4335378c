package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"vashsender/internal/billing"
	"vashsender/internal/services"
	"vashsender/internal/storage"
	"vashsender/internal/utils/logger"
)

var log = logger.New("HANDLERS")

// statusFor maps service errors to HTTP statuses. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrEmailTaken), errors.Is(err, gorm.ErrDuplicatedKey):
		return http.StatusConflict
	case errors.Is(err, billing.ErrQuotaExceeded), errors.Is(err, billing.ErrLimitReached), errors.Is(err, billing.ErrFeatureUnavailable):
		return http.StatusPaymentRequired
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrSenderNotVerified),
		errors.Is(err, services.ErrBadImportFile), errors.Is(err, billing.ErrUnknownPlan):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrInvalidRefresh),
		errors.Is(err, services.ErrBadTrackingLink), errors.Is(err, billing.ErrBadSignature):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// RespondError writes err as {"error": "..."} with the matching status.
// Internal errors are logged and hidden from the client.
func RespondError(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Zap().Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err))
		return c.JSON(status, map[string]string{"error": "Internal server error"})
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, map[string]string{"error": msg})
}

// BindAndValidate decodes the body into req and runs struct validation.
func BindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return badRequest("Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return badRequest(err.Error())
	}
	return nil
}

func Pagination(c echo.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 20
	}
	return page, limit
}

func Paged(c echo.Context, data interface{}, total int64, page, limit int) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  data,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}
