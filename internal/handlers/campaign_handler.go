package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"vashsender/internal/api/middleware"
	"vashsender/internal/models"
	"vashsender/internal/services"
)

type CampaignHandler struct {
	campaigns *services.CampaignService
	tracking  *services.TrackingService
}

func NewCampaignHandler(campaigns *services.CampaignService, tracking *services.TrackingService) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns, tracking: tracking}
}

type ScheduleRequest struct {
	At time.Time `json:"at" validate:"required"`
}

type TestSendRequest struct {
	To        string            `json:"to" validate:"required,email"`
	Variables map[string]string `json:"variables"`
}

// @Summary List campaigns
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param status query string false "Campaign status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {array} models.Campaign
// @Router /api/v1/campaigns [get]
func (h *CampaignHandler) List(c echo.Context) error {
	page, limit := Pagination(c)
	items, total, err := h.campaigns.List(c.Request().Context(), middleware.GetTeamID(c), c.QueryParam("status"), page, limit)
	if err != nil {
		return RespondError(c, err)
	}
	return Paged(c, items, total, page, limit)
}

// @Summary Get campaign
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} models.Campaign
// @Failure 404 {object} map[string]string "Not found"
// @Router /api/v1/campaigns/{id} [get]
func (h *CampaignHandler) Get(c echo.Context) error {
	campaign, err := h.campaigns.Get(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, campaign)
}

// @Summary Create campaign
// @Description Creates a DRAFT campaign. Template, sender, SMTP config and lists must belong to the team.
// @Tags campaigns
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param campaign body models.Campaign true "Campaign"
// @Success 201 {object} models.Campaign
// @Failure 400 {object} map[string]string "Validation error"
// @Router /api/v1/campaigns [post]
func (h *CampaignHandler) Create(c echo.Context) error {
	var campaign models.Campaign
	if err := BindAndValidate(c, &campaign); err != nil {
		return err
	}

	if err := h.campaigns.Create(c.Request().Context(), middleware.GetTeamID(c), &campaign); err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusCreated, campaign)
}

// @Summary Update campaign
// @Description Only DRAFT and SCHEDULED campaigns can be edited
// @Tags campaigns
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Param campaign body models.Campaign true "Campaign"
// @Success 200 {object} models.Campaign
// @Failure 409 {object} map[string]string "Campaign is not editable"
// @Router /api/v1/campaigns/{id} [put]
func (h *CampaignHandler) Update(c echo.Context) error {
	var in models.Campaign
	if err := BindAndValidate(c, &in); err != nil {
		return err
	}

	campaign, err := h.campaigns.Update(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"), &in)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, campaign)
}

// @Summary Delete campaign
// @Tags campaigns
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 204 "No content"
// @Failure 409 {object} map[string]string "Campaign is sending"
// @Router /api/v1/campaigns/{id} [delete]
func (h *CampaignHandler) Delete(c echo.Context) error {
	if err := h.campaigns.Delete(c.Request().Context(), middleware.GetTeamID(c), c.Param("id")); err != nil {
		return RespondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// @Summary Schedule campaign
// @Tags campaigns
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Param request body ScheduleRequest true "Send time"
// @Success 200 {object} models.Campaign
// @Router /api/v1/campaigns/{id}/schedule [post]
func (h *CampaignHandler) Schedule(c echo.Context) error {
	var req ScheduleRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	campaign, err := h.campaigns.Schedule(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"), req.At)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, campaign)
}

func campaignResult(c echo.Context, campaign *models.Campaign, err error) error {
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, campaign)
}

// Start
// @Summary Start sending
// @Description Checks sender verification and quota, then queues the audience
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} models.Campaign
// @Failure 400 {object} map[string]string "Sender not verified"
// @Failure 402 {object} map[string]string "Quota exceeded"
// @Failure 409 {object} map[string]string "Invalid state"
// @Router /api/v1/campaigns/{id}/start [post]
func (h *CampaignHandler) Start(c echo.Context) error {
	campaign, err := h.campaigns.Start(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	return campaignResult(c, campaign, err)
}

// @Summary Pause sending
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} models.Campaign
// @Failure 409 {object} map[string]string "Invalid state"
// @Router /api/v1/campaigns/{id}/pause [post]
func (h *CampaignHandler) Pause(c echo.Context) error {
	campaign, err := h.campaigns.Pause(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	return campaignResult(c, campaign, err)
}

// @Summary Resume sending
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} models.Campaign
// @Failure 409 {object} map[string]string "Invalid state"
// @Router /api/v1/campaigns/{id}/resume [post]
func (h *CampaignHandler) Resume(c echo.Context) error {
	campaign, err := h.campaigns.Resume(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	return campaignResult(c, campaign, err)
}

// @Summary Cancel campaign
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} models.Campaign
// @Failure 409 {object} map[string]string "Invalid state"
// @Router /api/v1/campaigns/{id}/cancel [post]
func (h *CampaignHandler) Cancel(c echo.Context) error {
	campaign, err := h.campaigns.Cancel(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	return campaignResult(c, campaign, err)
}

// @Summary Campaign statistics
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Success 200 {object} services.CampaignStats
// @Router /api/v1/campaigns/{id}/stats [get]
func (h *CampaignHandler) Stats(c echo.Context) error {
	stats, err := h.campaigns.Stats(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// @Summary Send a test message
// @Description Renders the campaign for one address without recording recipients
// @Tags campaigns
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Param request body TestSendRequest true "Test recipient"
// @Success 200 {object} map[string]string "Message ID"
// @Router /api/v1/campaigns/{id}/test [post]
func (h *CampaignHandler) SendTest(c echo.Context) error {
	var req TestSendRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	messageID, err := h.campaigns.SendTest(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"), req.To, req.Variables)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"messageId": messageID})
}

// @Summary List campaign recipients
// @Tags campaigns
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Param status query string false "Recipient status"
// @Success 200 {array} models.CampaignRecipient
// @Router /api/v1/campaigns/{id}/recipients [get]
func (h *CampaignHandler) Recipients(c echo.Context) error {
	page, limit := Pagination(c)
	items, total, err := h.campaigns.Recipients(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"), c.QueryParam("status"), page, limit)
	if err != nil {
		return RespondError(c, err)
	}
	return Paged(c, items, total, page, limit)
}

// @Summary List tracking events
// @Tags analytics
// @Produce json
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Param event query string false "open, click or unsubscribe"
// @Success 200 {array} models.EmailTracking
// @Router /api/v1/campaigns/{id}/events [get]
func (h *CampaignHandler) Events(c echo.Context) error {
	page, limit := Pagination(c)
	items, total, err := h.tracking.Events(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"), c.QueryParam("event"), page, limit)
	if err != nil {
		return RespondError(c, err)
	}
	return Paged(c, items, total, page, limit)
}

var exportContentTypes = map[string]string{
	"csv":  "text/csv; charset=utf-8",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// @Summary Export campaign analytics
// @Description Per-recipient delivery and engagement as CSV or XLSX
// @Tags analytics
// @Produce octet-stream
// @Security BearerAuth
// @Param id path string true "Campaign ID"
// @Param format query string false "csv (default) or xlsx"
// @Success 200 {file} file
// @Failure 400 {object} map[string]string "Unknown format"
// @Router /api/v1/campaigns/{id}/export [get]
func (h *CampaignHandler) Export(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = "csv"
	}

	// buffered so a failed export can still answer with a JSON error
	var buf bytes.Buffer
	id := c.Param("id")
	if err := h.tracking.Export(c.Request().Context(), middleware.GetTeamID(c), id, format, &buf); err != nil {
		return RespondError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=campaign-%s.%s", id, format))
	return c.Blob(http.StatusOK, exportContentTypes[format], buf.Bytes())
}
