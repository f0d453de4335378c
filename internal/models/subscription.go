package models

import (
	"time"

	"gorm.io/datatypes"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "PENDING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// PlanFeature represents a feature that can be enabled/disabled for plans
type PlanFeature string

const (
	FeatureEmailCampaigns    PlanFeature = "email_campaigns"
	FeatureRecurringCampaign PlanFeature = "recurring_campaigns"
	FeatureAdvancedAnalytics PlanFeature = "advanced_analytics"
	FeatureCustomDomain      PlanFeature = "custom_domain"
	FeatureCustomSMTP        PlanFeature = "custom_smtp"
	FeatureAPIAccess         PlanFeature = "api_access"
)

const PlanCodeFree = "free"

// Plan is a billing tier. A limit of zero or less means unlimited.
type Plan struct {
	Base
	Code              string                      `gorm:"uniqueIndex;not null" json:"code"`
	Name              string                      `gorm:"not null" json:"name"`
	Description       string                      `json:"description"`
	PriceCents        int64                       `gorm:"not null;default:0" json:"priceCents"`
	Currency          string                      `gorm:"not null;default:'USD'" json:"currency"`
	Interval          string                      `gorm:"not null;default:'monthly'" json:"interval"`
	MonthlyEmailLimit int64                       `gorm:"not null;default:0" json:"monthlyEmailLimit"`
	ContactLimit      int64                       `gorm:"not null;default:0" json:"contactLimit"`
	DomainLimit       int64                       `gorm:"not null;default:0" json:"domainLimit"`
	Features          datatypes.JSONSlice[string] `json:"features"`
	ProviderProductID string                      `json:"providerProductId"`
	Active            bool                        `gorm:"not null" json:"active"`
	SortOrder         int                         `gorm:"not null;default:0" json:"sortOrder"`
}

// HasFeature checks if a plan has a specific feature enabled
func (p *Plan) HasFeature(feature PlanFeature) bool {
	for _, f := range p.Features {
		if f == string(feature) {
			return true
		}
	}
	return false
}

// Subscription represents a team's subscription
type Subscription struct {
	Base
	TeamID                 string             `gorm:"type:uuid;not null;uniqueIndex" json:"teamId"`
	PlanID                 string             `gorm:"type:uuid;not null" json:"planId"`
	Plan                   *Plan              `json:"plan,omitempty"`
	PendingPlanID          *string            `gorm:"type:uuid" json:"pendingPlanId,omitempty"`
	Status                 SubscriptionStatus `gorm:"not null;default:'PENDING'" json:"status"`
	ProviderSubscriptionID string             `gorm:"index" json:"providerSubscriptionId"`
	ProviderCustomerID     string             `json:"providerCustomerId"`
	CurrentPeriodStart     time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time          `json:"currentPeriodEnd"`
	CanceledAt             *time.Time         `json:"canceledAt,omitempty"`
	Email                  string             `json:"email"`
	Metadata               datatypes.JSON     `json:"metadata"`
}

// UsageRecord counts emails sent by a team in a calendar month (UTC).
type UsageRecord struct {
	Base
	TeamID     string `gorm:"type:uuid;not null;uniqueIndex:idx_usage_team_period" json:"teamId"`
	Period     string `gorm:"not null;uniqueIndex:idx_usage_team_period" json:"period"`
	EmailsSent int64  `gorm:"not null;default:0" json:"emailsSent"`
}

// UsagePeriod returns the YYYY-MM bucket t falls in.
func UsagePeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
