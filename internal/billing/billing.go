package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vashsender/internal/events"
	"vashsender/internal/models"
	"vashsender/internal/utils/logger"
)

var (
	// ErrQuotaExceeded means the monthly email allowance cannot cover a send.
	ErrQuotaExceeded = errors.New("monthly email quota exceeded")
	// ErrLimitReached means a countable resource (contacts, domains) is at its plan cap.
	ErrLimitReached = errors.New("plan limit reached")
	// ErrFeatureUnavailable means the current plan does not include a feature.
	ErrFeatureUnavailable = errors.New("feature not available on current plan")
	ErrUnknownPlan        = errors.New("unknown plan")
)

var log = logger.New("BILLING")

type Service struct {
	db       *gorm.DB
	provider *Provider
	now      func() time.Time
}

func NewService(db *gorm.DB, provider *Provider) *Service {
	return &Service{db: db, provider: provider, now: time.Now}
}

// Usage is what the dashboard shows next to the plan.
type Usage struct {
	Plan         *models.Plan `json:"plan"`
	Period       string       `json:"period"`
	EmailsSent   int64        `json:"emailsSent"`
	EmailLimit   int64        `json:"emailLimit"`
	Contacts     int64        `json:"contacts"`
	ContactLimit int64        `json:"contactLimit"`
	Domains      int64        `json:"domains"`
	DomainLimit  int64        `json:"domainLimit"`
}

// CurrentPlan returns the plan the team is entitled to right now. Teams
// without an active (or past due, still in grace) subscription get free.
func (s *Service) CurrentPlan(ctx context.Context, teamID string) (*models.Plan, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Preload("Plan").Where("team_id = ?", teamID).First(&sub).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if err == nil && sub.Plan != nil &&
		(sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusPastDue) {
		return sub.Plan, nil
	}
	return s.plan(ctx, models.PlanCodeFree)
}

func (s *Service) plan(ctx context.Context, code string) (*models.Plan, error) {
	var plan models.Plan
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, code)
		}
		return nil, err
	}
	return &plan, nil
}

func (s *Service) Plans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("sort_order").Find(&plans).Error
	return plans, err
}

// StartFreePlan gives a newly registered team an active free subscription.
// It runs inside the registration transaction.
func StartFreePlan(tx *gorm.DB, teamID, email string, now time.Time) error {
	var free models.Plan
	if err := tx.Where("code = ?", models.PlanCodeFree).First(&free).Error; err != nil {
		return fmt.Errorf("free plan missing: %w", err)
	}
	sub := models.Subscription{
		TeamID:             teamID,
		PlanID:             free.ID,
		Status:             models.SubscriptionStatusActive,
		Email:              email,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	return tx.Create(&sub).Error
}

func (s *Service) emailsSent(ctx context.Context, teamID string) (int64, error) {
	var rec models.UsageRecord
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND period = ?", teamID, models.UsagePeriod(s.now())).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return rec.EmailsSent, err
}

// EnsureEmailCapacity checks that n more emails fit in this month's quota.
func (s *Service) EnsureEmailCapacity(ctx context.Context, teamID string, n int64) error {
	plan, err := s.CurrentPlan(ctx, teamID)
	if err != nil {
		return err
	}
	if plan.MonthlyEmailLimit <= 0 {
		return nil
	}
	sent, err := s.emailsSent(ctx, teamID)
	if err != nil {
		return err
	}
	if sent+n > plan.MonthlyEmailLimit {
		return fmt.Errorf("%w: %d sent, %d requested, limit %d", ErrQuotaExceeded, sent, n, plan.MonthlyEmailLimit)
	}
	return nil
}

// RecordEmails adds n to the team's counter for the current period.
func (s *Service) RecordEmails(ctx context.Context, teamID string, n int64) error {
	rec := models.UsageRecord{
		TeamID:     teamID,
		Period:     models.UsagePeriod(s.now()),
		EmailsSent: n,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "team_id"}, {Name: "period"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"emails_sent": gorm.Expr("usage_records.emails_sent + ?", n),
			"updated_at":  s.now(),
		}),
	}).Create(&rec).Error
}

// EnsureContactCapacity checks that adding more contacts stays within the
// plan. It returns how many of them fit when the answer is no.
func (s *Service) EnsureContactCapacity(ctx context.Context, teamID string, adding int64) (int64, error) {
	plan, err := s.CurrentPlan(ctx, teamID)
	if err != nil {
		return 0, err
	}
	if plan.ContactLimit <= 0 {
		return adding, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Contact{}).Where("team_id = ?", teamID).Count(&count).Error; err != nil {
		return 0, err
	}
	room := plan.ContactLimit - count
	if room < 0 {
		room = 0
	}
	if adding > room {
		return room, fmt.Errorf("%w: %d contacts allowed on %s", ErrLimitReached, plan.ContactLimit, plan.Name)
	}
	return adding, nil
}

func (s *Service) EnsureDomainCapacity(ctx context.Context, teamID string) error {
	plan, err := s.CurrentPlan(ctx, teamID)
	if err != nil {
		return err
	}
	if plan.DomainLimit <= 0 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Domain{}).Where("team_id = ?", teamID).Count(&count).Error; err != nil {
		return err
	}
	if count >= plan.DomainLimit {
		return fmt.Errorf("%w: %d domains allowed on %s", ErrLimitReached, plan.DomainLimit, plan.Name)
	}
	return nil
}

func (s *Service) EnsureFeature(ctx context.Context, teamID string, feature models.PlanFeature) error {
	plan, err := s.CurrentPlan(ctx, teamID)
	if err != nil {
		return err
	}
	if !plan.HasFeature(feature) {
		return fmt.Errorf("%w: %s", ErrFeatureUnavailable, feature)
	}
	return nil
}

func (s *Service) Usage(ctx context.Context, teamID string) (*Usage, error) {
	plan, err := s.CurrentPlan(ctx, teamID)
	if err != nil {
		return nil, err
	}
	sent, err := s.emailsSent(ctx, teamID)
	if err != nil {
		return nil, err
	}

	u := &Usage{
		Plan:         plan,
		Period:       models.UsagePeriod(s.now()),
		EmailsSent:   sent,
		EmailLimit:   plan.MonthlyEmailLimit,
		ContactLimit: plan.ContactLimit,
		DomainLimit:  plan.DomainLimit,
	}
	gdb := s.db.WithContext(ctx)
	if err := gdb.Model(&models.Contact{}).Where("team_id = ?", teamID).Count(&u.Contacts).Error; err != nil {
		return nil, err
	}
	if err := gdb.Model(&models.Domain{}).Where("team_id = ?", teamID).Count(&u.Domains).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// Checkout creates the customer and subscription at the payment provider
// and returns the payment link. The plan only takes effect once the
// provider confirms it through the webhook.
func (s *Service) Checkout(ctx context.Context, teamID, planCode, email string) (string, error) {
	plan, err := s.plan(ctx, planCode)
	if err != nil {
		return "", err
	}
	if plan.ProviderProductID == "" || plan.PriceCents == 0 {
		return "", fmt.Errorf("%w: %s is not purchasable", ErrUnknownPlan, planCode)
	}

	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("team_id = ?", teamID).First(&sub).Error; err != nil {
		return "", fmt.Errorf("failed to load subscription: %w", err)
	}

	customerID := sub.ProviderCustomerID
	if customerID == "" {
		customer, err := s.provider.CreateCustomer(ctx, email)
		if err != nil {
			return "", err
		}
		customerID = customer.ID
	}

	checkout, err := s.provider.CreateSubscription(ctx, customerID, plan.ProviderProductID)
	if err != nil {
		return "", err
	}

	err = s.db.WithContext(ctx).Model(&sub).Updates(map[string]interface{}{
		"provider_customer_id":     customerID,
		"provider_subscription_id": checkout.ID,
		"pending_plan_id":          plan.ID,
		"email":                    email,
	}).Error
	if err != nil {
		return "", fmt.Errorf("failed to store checkout: %w", err)
	}

	log.Info("checkout started for team %s on plan %s", teamID, plan.Code)
	return checkout.PaymentLink, nil
}

// PortalURL returns the provider's self-service page for the team.
func (s *Service) PortalURL(ctx context.Context, teamID string) (string, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("team_id = ?", teamID).First(&sub).Error; err != nil {
		return "", fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub.ProviderCustomerID == "" {
		return "", fmt.Errorf("%w: no billing account yet", ErrFeatureUnavailable)
	}
	return s.provider.PortalURL(ctx, sub.ProviderCustomerID)
}

// ApplyWebhook moves the subscription referenced by evt to its new state.
func (s *Service) ApplyWebhook(ctx context.Context, evt WebhookEvent) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("provider_subscription_id = ?", evt.Data.SubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", evt.Data.SubscriptionID, err)
	}

	updates := map[string]interface{}{}
	switch evt.Type {
	case EventSubscriptionActive, EventSubscriptionRenewed:
		updates["status"] = models.SubscriptionStatusActive
		if sub.PendingPlanID != nil {
			updates["plan_id"] = *sub.PendingPlanID
			updates["pending_plan_id"] = nil
		}
		if !evt.Data.PeriodStart.IsZero() {
			updates["current_period_start"] = evt.Data.PeriodStart
			updates["current_period_end"] = evt.Data.PeriodEnd
		}
		updates["canceled_at"] = nil
	case EventSubscriptionOnHold, EventSubscriptionFailed:
		updates["status"] = models.SubscriptionStatusPastDue
	case EventSubscriptionCancelled, EventSubscriptionExpired:
		free, err := s.plan(ctx, models.PlanCodeFree)
		if err != nil {
			return nil, err
		}
		now := s.now()
		// the team keeps sending on the free tier
		updates["status"] = models.SubscriptionStatusActive
		updates["plan_id"] = free.ID
		updates["pending_plan_id"] = nil
		updates["canceled_at"] = now
	default:
		log.Debug("ignoring webhook %s", evt.Type)
		return &sub, nil
	}

	if err := s.db.WithContext(ctx).Model(&sub).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	if err := s.db.WithContext(ctx).Preload("Plan").First(&sub, "id = ?", sub.ID).Error; err != nil {
		return nil, err
	}

	events.Emit(events.SubscriptionUpdated, &sub)
	return &sub, nil
}
