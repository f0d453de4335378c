package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"vashsender/internal/api/middleware"
	"vashsender/internal/mailer"
	"vashsender/internal/models"
	"vashsender/internal/services"
)

// Prober checks that a relay accepts our connection and credentials.
type Prober interface {
	Probe(ctx context.Context, srv mailer.Server) error
}

type SMTPHandler struct {
	configs  *services.SMTPConfigService
	prober   Prober
	heloName string
}

type SMTPTestRequest struct {
	Host         string         `json:"host" validate:"required"`
	Port         int            `json:"port" validate:"required,min=1,max=65535"`
	Username     string         `json:"username"`
	Password     string         `json:"password"`
	TLSMode      models.TLSMode `json:"tlsMode" validate:"omitempty,oneof=NONE STARTTLS TLS"`
	RequiresAuth bool           `json:"requiresAuth"`
	ProxyURL     string         `json:"proxyUrl" validate:"omitempty,url"`
}

func NewSMTPHandler(configs *services.SMTPConfigService, prober Prober, heloName string) *SMTPHandler {
	return &SMTPHandler{configs: configs, prober: prober, heloName: heloName}
}

func (h *SMTPHandler) probe(c echo.Context, srv mailer.Server) error {
	srv.Timeout = 15 * time.Second
	if err := h.prober.Probe(c.Request().Context(), srv); err != nil {
		log.Zap().Info("smtp probe failed",
			zap.String("team_id", middleware.GetTeamID(c)),
			zap.String("host", srv.Host),
			zap.Error(err))
		return c.JSON(http.StatusOK, map[string]interface{}{"ok": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// TestSMTPConnection tests SMTP connection with provided credentials
// @Summary Test SMTP settings
// @Description Connects, negotiates TLS and authenticates without sending
// @Tags SMTP
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body SMTPTestRequest true "SMTP settings"
// @Success 200 {object} map[string]interface{} "Probe result"
// @Router /api/v1/smtp/test [post]
func (h *SMTPHandler) TestSMTPConnection(c echo.Context) error {
	var req SMTPTestRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}
	if req.TLSMode == "" {
		req.TLSMode = models.TLSModeStartTLS
	}

	return h.probe(c, mailer.Server{
		Host:         req.Host,
		Port:         req.Port,
		Username:     req.Username,
		Password:     req.Password,
		TLSMode:      req.TLSMode,
		RequiresAuth: req.RequiresAuth || req.Username != "",
		ProxyURL:     req.ProxyURL,
		HeloName:     h.heloName,
	})
}

// TestStoredConfig probes a saved SMTP config with its stored password
// @Summary Test saved SMTP config
// @Tags SMTP
// @Produce json
// @Security BearerAuth
// @Param id path string true "SMTP config ID"
// @Success 200 {object} map[string]interface{} "Probe result"
// @Failure 404 {object} map[string]string "Not found"
// @Router /api/v1/smtp-configs/{id}/test [post]
func (h *SMTPHandler) TestStoredConfig(c echo.Context) error {
	cfg, err := h.configs.Load(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	if err != nil {
		return RespondError(c, err)
	}
	return h.probe(c, mailer.ServerFromModel(cfg, h.heloName))
}
