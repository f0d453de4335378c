package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"vashsender/internal/api/middleware"
	"vashsender/internal/services"
	"vashsender/internal/utils"
	"vashsender/internal/utils/logger"
)

var trackingLog = logger.New("TRACKING_HANDLER")

// 🔍 TrackingHandler serves the public open/click/unsubscribe links and
// campaign engagement analytics
type TrackingHandler struct {
	tracking *services.TrackingService
}

// 🆕 NewTrackingHandler creates a new tracking handler
func NewTrackingHandler(tracking *services.TrackingService) *TrackingHandler {
	return &TrackingHandler{tracking: tracking}
}

func hit(c echo.Context) services.Hit {
	return services.Hit{IP: utils.GetIPAddress(c.Request()), UserAgent: c.Request().UserAgent()}
}

// 👁️ HandleEmailOpen records an open and always answers with the pixel
// @Summary Handle open tracking
// @Tags tracking
// @Produce image/gif
// @Param token query string true "Token"
// @Success 200 {file} file "1x1 GIF"
// @Router /t/open [get]
func (h *TrackingHandler) HandleEmailOpen(c echo.Context) error {
	if token := c.QueryParam("token"); token != "" {
		if err := h.tracking.RecordOpen(c.Request().Context(), token, hit(c)); err != nil && !errors.Is(err, services.ErrBadTrackingLink) {
			trackingLog.Zap().Warn("failed to record open", zap.Error(err))
		}
	}

	c.Response().Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	return c.Blob(http.StatusOK, "image/gif", utils.TransparentGIF())
}

// 🖱️ HandleEmailClick records a click and redirects to the signed URL
// @Summary Handle click tracking
// @Tags tracking
// @Param token query string true "Token"
// @Success 302 "Redirect to the original link"
// @Failure 400 {object} map[string]string "Invalid link"
// @Router /t/click [get]
func (h *TrackingHandler) HandleEmailClick(c echo.Context) error {
	target, err := h.tracking.RecordClick(c.Request().Context(), c.QueryParam("token"), hit(c))
	if err != nil {
		if errors.Is(err, services.ErrBadTrackingLink) || errors.Is(err, services.ErrNotFound) {
			return c.String(http.StatusBadRequest, "This link is invalid or has expired.")
		}
		return RespondError(c, err)
	}
	return c.Redirect(http.StatusFound, target)
}

var unsubscribePage = template.Must(template.New("unsubscribe").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Unsubscribed</title></head>
<body style="font-family:sans-serif;text-align:center;padding:48px">
<h1>You have been unsubscribed</h1>
<p>{{.}} will no longer receive these emails.</p>
</body></html>`))

// HandleEmailUnsubscribe handles unsubscribe links. POST is the one-click
// variant mail clients send from the List-Unsubscribe header.
// @Summary Unsubscribe from email list
// @Tags tracking
// @Produce html
// @Param token query string true "Unsubscribe token"
// @Success 200 {string} string "Confirmation page"
// @Failure 400 {string} string "Invalid link"
// @Router /t/unsubscribe [get]
// @Router /t/unsubscribe [post]
func (h *TrackingHandler) HandleEmailUnsubscribe(c echo.Context) error {
	email, err := h.tracking.Unsubscribe(c.Request().Context(), c.QueryParam("token"), hit(c))
	if err != nil {
		if errors.Is(err, services.ErrBadTrackingLink) || errors.Is(err, services.ErrNotFound) {
			return c.String(http.StatusBadRequest, "This link is invalid or has expired.")
		}
		return RespondError(c, err)
	}

	if c.Request().Method == http.MethodPost {
		return c.NoContent(http.StatusOK)
	}
	var page strings.Builder
	if err := unsubscribePage.Execute(&page, email); err != nil {
		return RespondError(c, err)
	}
	return c.HTML(http.StatusOK, page.String())
}

// 📈 GetEngagement returns opens and clicks by client and time of day
// @Summary Campaign engagement breakdown
// @Tags analytics
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} services.Engagement
// @Failure 404 {object} map[string]string "Not found"
// @Router /api/v1/campaigns/{id}/engagement [get]
func (h *TrackingHandler) GetEngagement(c echo.Context) error {
	out, err := h.tracking.Engagement(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
