package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"vashsender/internal/billing"
	"vashsender/internal/models"
)

// SMTPConfigService manages a team's own relays. Passwords never leave the
// service in API responses.
type SMTPConfigService struct {
	*BaseServiceImpl[models.SMTPConfig]
	db *gorm.DB
}

func NewSMTPConfigService(db *gorm.DB, bill *billing.Service) *SMTPConfigService {
	s := &SMTPConfigService{db: db}
	s.BaseServiceImpl = NewBaseService(db, models.SMTPConfig{}, Hooks[models.SMTPConfig]{
		BeforeSave: func(ctx context.Context, teamID string, c *models.SMTPConfig, creating bool) error {
			if creating {
				if err := bill.EnsureFeature(ctx, teamID, models.FeatureCustomSMTP); err != nil {
					return err
				}
				c.IsActive = true
			}
			if c.IsDefault {
				// only one default relay per team
				return db.WithContext(ctx).Model(&models.SMTPConfig{}).
					Where("team_id = ? AND is_default = ?", teamID, true).
					Update("is_default", false).Error
			}
			return nil
		},
		AfterLoad:  func(c *models.SMTPConfig) { c.Redact() },
		Filterable: []string{"name", "is_active"},
	})
	return s
}

// Load returns the config with its password, for probing.
func (s *SMTPConfigService) Load(ctx context.Context, teamID, id string) (*models.SMTPConfig, error) {
	var c models.SMTPConfig
	err := s.db.WithContext(ctx).Where("id = ? AND team_id = ?", id, teamID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
