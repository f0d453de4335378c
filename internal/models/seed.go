package models

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPlans are created on startup when missing. Existing rows are left
// untouched so prices edited in the database survive restarts.
var DefaultPlans = []Plan{
	{
		Code:              PlanCodeFree,
		Name:              "Free",
		Description:       "Try VashSender with a small audience",
		PriceCents:        0,
		Currency:          "USD",
		Interval:          "monthly",
		MonthlyEmailLimit: 1000,
		ContactLimit:      500,
		DomainLimit:       1,
		Features:          []string{string(FeatureEmailCampaigns)},
		Active:            true,
		SortOrder:         0,
	},
	{
		Code:              "starter",
		Name:              "Starter",
		Description:       "For growing newsletters",
		PriceCents:        1900,
		Currency:          "USD",
		Interval:          "monthly",
		MonthlyEmailLimit: 50000,
		ContactLimit:      10000,
		DomainLimit:       3,
		Features: []string{
			string(FeatureEmailCampaigns),
			string(FeatureCustomDomain),
			string(FeatureRecurringCampaign),
		},
		Active:    true,
		SortOrder: 1,
	},
	{
		Code:              "pro",
		Name:              "Pro",
		Description:       "High volume sending with your own SMTP",
		PriceCents:        7900,
		Currency:          "USD",
		Interval:          "monthly",
		MonthlyEmailLimit: 500000,
		ContactLimit:      100000,
		DomainLimit:       0,
		Features: []string{
			string(FeatureEmailCampaigns),
			string(FeatureCustomDomain),
			string(FeatureRecurringCampaign),
			string(FeatureCustomSMTP),
			string(FeatureAdvancedAnalytics),
			string(FeatureAPIAccess),
		},
		Active:    true,
		SortOrder: 2,
	},
}

func SeedPlans(db *gorm.DB) error {
	for _, p := range DefaultPlans {
		plan := p
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(&plan).Error; err != nil {
			return fmt.Errorf("failed to seed plan %s: %w", p.Code, err)
		}
	}
	return nil
}
