package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vashsender/internal/config"
)

// Webhook event types sent by the payment provider.
const (
	EventSubscriptionActive    = "subscription.active"
	EventSubscriptionRenewed   = "subscription.renewed"
	EventSubscriptionOnHold    = "subscription.on_hold"
	EventSubscriptionFailed    = "subscription.failed"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionExpired   = "subscription.expired"
)

const SignatureHeader = "Webhook-Signature"

var ErrBadSignature = errors.New("invalid webhook signature")

type Customer struct {
	ID    string `json:"customer_id"`
	Email string `json:"email"`
}

type CheckoutSession struct {
	ID          string `json:"subscription_id"`
	CustomerID  string `json:"customer_id"`
	PaymentLink string `json:"payment_link"`
}

type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		SubscriptionID string    `json:"subscription_id"`
		CustomerID     string    `json:"customer_id"`
		Status         string    `json:"status"`
		PeriodStart    time.Time `json:"previous_billing_date"`
		PeriodEnd      time.Time `json:"next_billing_date"`
	} `json:"data"`
}

// Provider is a thin client for the payment provider's REST API.
type Provider struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	http          *http.Client
}

func NewProvider(cfg config.BillingConfig) *Provider {
	return &Provider{
		baseURL:       strings.TrimRight(cfg.ProviderBaseURL, "/"),
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		http:          &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Provider) CreateCustomer(ctx context.Context, email string) (*Customer, error) {
	var customer Customer
	if err := p.do(ctx, http.MethodPost, "/customers", map[string]string{"email": email, "name": email}, &customer); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return &customer, nil
}

func (p *Provider) CreateSubscription(ctx context.Context, customerID, productID string) (*CheckoutSession, error) {
	payload := map[string]interface{}{
		"customer":     map[string]string{"customer_id": customerID},
		"product_id":   productID,
		"quantity":     1,
		"payment_link": true,
	}
	var session CheckoutSession
	if err := p.do(ctx, http.MethodPost, "/subscriptions", payload, &session); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if session.PaymentLink == "" {
		return nil, errors.New("create subscription: provider returned no payment link")
	}
	return &session, nil
}

func (p *Provider) PortalURL(ctx context.Context, customerID string) (string, error) {
	var result struct {
		Link string `json:"link"`
	}
	if err := p.do(ctx, http.MethodPost, "/customers/"+customerID+"/customer-portal/session", nil, &result); err != nil {
		return "", fmt.Errorf("portal session: %w", err)
	}
	return result.Link, nil
}

func (p *Provider) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Sign returns the hex HMAC-SHA256 of body under the webhook secret.
func (p *Provider) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook verifies signature and decodes body. Signatures may carry a
// "sha256=" prefix.
func (p *Provider) ParseWebhook(body []byte, signature string) (*WebhookEvent, error) {
	if p.webhookSecret == "" || signature == "" {
		return nil, ErrBadSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return nil, ErrBadSignature
	}
	want, _ := hex.DecodeString(p.Sign(body))
	if !hmac.Equal(got, want) {
		return nil, ErrBadSignature
	}

	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	return &evt, nil
}
