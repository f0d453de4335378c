package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vashsender/internal/api/middleware"
	"vashsender/internal/services"
)

type DomainHandler struct {
	domains *services.DomainService
}

func NewDomainHandler(domains *services.DomainService) *DomainHandler {
	return &DomainHandler{domains: domains}
}

type AddDomainRequest struct {
	Name string `json:"name" validate:"required,fqdn"`
}

type ConfirmSenderRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// @Summary List domains
// @Tags domains
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Domain
// @Router /api/v1/domains [get]
func (h *DomainHandler) ListDomains(c echo.Context) error {
	domains, err := h.domains.ListDomains(c.Request().Context(), middleware.GetTeamID(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, domains)
}

// @Summary Add domain
// @Description Generates the verification token and DKIM key for a sending domain
// @Tags domains
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body AddDomainRequest true "Domain"
// @Success 201 {object} models.Domain
// @Failure 402 {object} map[string]string "Domain limit reached"
// @Failure 409 {object} map[string]string "Domain already added"
// @Router /api/v1/domains [post]
func (h *DomainHandler) AddDomain(c echo.Context) error {
	var req AddDomainRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	domain, err := h.domains.AddDomain(c.Request().Context(), middleware.GetTeamID(c), req.Name)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusCreated, domain)
}

// @Summary Get domain
// @Tags domains
// @Produce json
// @Security BearerAuth
// @Param id path string true "Domain ID"
// @Success 200 {object} models.Domain
// @Router /api/v1/domains/{id} [get]
func (h *DomainHandler) GetDomain(c echo.Context) error {
	domain, err := h.domains.GetDomain(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, domain)
}

// @Summary Delete domain
// @Description Removes the domain and its senders. Refused while a campaign uses it.
// @Tags domains
// @Security BearerAuth
// @Param id path string true "Domain ID"
// @Success 204 "No content"
// @Failure 409 {object} map[string]string "Domain in use"
// @Router /api/v1/domains/{id} [delete]
func (h *DomainHandler) DeleteDomain(c echo.Context) error {
	if err := h.domains.DeleteDomain(c.Request().Context(), middleware.GetTeamID(c), c.Param("id")); err != nil {
		return RespondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// @Summary DNS records to publish
// @Tags domains
// @Produce json
// @Security BearerAuth
// @Param id path string true "Domain ID"
// @Success 200 {array} dnscheck.Record
// @Router /api/v1/domains/{id}/records [get]
func (h *DomainHandler) Records(c echo.Context) error {
	records, err := h.domains.Records(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, records)
}

// @Summary Verify domain now
// @Tags domains
// @Produce json
// @Security BearerAuth
// @Param id path string true "Domain ID"
// @Success 200 {object} map[string]interface{} "Domain and check report"
// @Router /api/v1/domains/{id}/verify [post]
func (h *DomainHandler) VerifyDomain(c echo.Context) error {
	domain, report, err := h.domains.VerifyDomain(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"domain": domain,
		"report": report,
	})
}

// @Summary List sender addresses
// @Tags senders
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.SenderEmail
// @Router /api/v1/senders [get]
func (h *DomainHandler) ListSenders(c echo.Context) error {
	senders, err := h.domains.ListSenders(c.Request().Context(), middleware.GetTeamID(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, senders)
}

// @Summary Add sender address
// @Description The address must be on one of the team's domains. A confirmation code is mailed to it.
// @Tags senders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.SenderInput true "Sender"
// @Success 201 {object} models.SenderEmail
// @Router /api/v1/senders [post]
func (h *DomainHandler) AddSender(c echo.Context) error {
	var req services.SenderInput
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	sender, err := h.domains.AddSender(c.Request().Context(), middleware.GetTeamID(c), req)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusCreated, sender)
}

// @Summary Confirm sender address
// @Tags senders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Sender ID"
// @Param request body ConfirmSenderRequest true "Code"
// @Success 200 {object} models.SenderEmail
// @Failure 400 {object} map[string]string "Wrong or expired code"
// @Router /api/v1/senders/{id}/confirm [post]
func (h *DomainHandler) ConfirmSender(c echo.Context) error {
	var req ConfirmSenderRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	sender, err := h.domains.ConfirmSender(c.Request().Context(), middleware.GetTeamID(c), c.Param("id"), req.Code)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, sender)
}

// @Summary Resend confirmation code
// @Tags senders
// @Security BearerAuth
// @Param id path string true "Sender ID"
// @Success 202 "Accepted"
// @Failure 409 {object} map[string]string "Already confirmed"
// @Router /api/v1/senders/{id}/resend [post]
func (h *DomainHandler) ResendCode(c echo.Context) error {
	if err := h.domains.ResendCode(c.Request().Context(), middleware.GetTeamID(c), c.Param("id")); err != nil {
		return RespondError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

// @Summary Delete sender address
// @Tags senders
// @Security BearerAuth
// @Param id path string true "Sender ID"
// @Success 204 "No content"
// @Router /api/v1/senders/{id} [delete]
func (h *DomainHandler) DeleteSender(c echo.Context) error {
	if err := h.domains.DeleteSender(c.Request().Context(), middleware.GetTeamID(c), c.Param("id")); err != nil {
		return RespondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
