package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"vashsender/internal/api/middleware"
	"vashsender/internal/billing"
)

type SubscriptionHandler struct {
	billing  *billing.Service
	provider *billing.Provider
}

func NewSubscriptionHandler(bill *billing.Service, provider *billing.Provider) *SubscriptionHandler {
	return &SubscriptionHandler{billing: bill, provider: provider}
}

type CheckoutRequest struct {
	Plan  string `json:"plan" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

// @Summary List plans
// @Tags subscriptions
// @Produce json
// @Success 200 {array} models.Plan
// @Router /api/v1/billing/plans [get]
func (h *SubscriptionHandler) Plans(c echo.Context) error {
	plans, err := h.billing.Plans(c.Request().Context())
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, plans)
}

// @Summary Current plan and usage
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} billing.Usage
// @Router /api/v1/billing/usage [get]
func (h *SubscriptionHandler) Usage(c echo.Context) error {
	usage, err := h.billing.Usage(c.Request().Context(), middleware.GetTeamID(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, usage)
}

// Checkout initiates a plan purchase
// @Summary Start checkout
// @Description Creates the subscription at the payment provider and returns the payment link. The plan changes when the provider confirms payment.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CheckoutRequest true "Plan code"
// @Success 200 {object} map[string]string "Payment URL"
// @Failure 400 {object} map[string]string "Unknown plan"
// @Router /api/v1/billing/checkout [post]
func (h *SubscriptionHandler) Checkout(c echo.Context) error {
	var req CheckoutRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}
	email := req.Email
	if email == "" {
		email = middleware.GetEmail(c)
	}

	link, err := h.billing.Checkout(c.Request().Context(), middleware.GetTeamID(c), req.Plan, email)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"payment_url": link})
}

// @Summary Billing portal link
// @Tags subscriptions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string "Portal URL"
// @Failure 402 {object} map[string]string "No billing account yet"
// @Router /api/v1/billing/portal [get]
func (h *SubscriptionHandler) Portal(c echo.Context) error {
	url, err := h.billing.PortalURL(c.Request().Context(), middleware.GetTeamID(c))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"portal_url": url})
}

// HandleWebhook processes subscription webhooks from the payment provider
// @Summary Handle subscription webhooks
// @Description Signed with HMAC-SHA256 in the Webhook-Signature header
// @Tags subscriptions
// @Accept json
// @Success 200 {object} map[string]string "Success"
// @Failure 401 {object} map[string]string "Bad signature"
// @Router /api/v1/billing/webhook [post]
func (h *SubscriptionHandler) HandleWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return badRequest("Unable to read body")
	}

	evt, err := h.provider.ParseWebhook(body, c.Request().Header.Get(billing.SignatureHeader))
	if errors.Is(err, billing.ErrBadSignature) {
		return RespondError(c, err)
	}
	if err != nil {
		return badRequest("Invalid webhook payload")
	}
	if _, err := h.billing.ApplyWebhook(c.Request().Context(), *evt); err != nil {
		return RespondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
