package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"vashsender/internal/billing"
	"vashsender/internal/models"
)

var validate = validator.New()

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email is a syntactically valid address.
func ValidEmail(email string) bool {
	return email != "" && validate.Var(email, "required,email") == nil
}

type ContactListService struct {
	*BaseServiceImpl[models.ContactList]
	db *gorm.DB
}

func NewContactListService(db *gorm.DB) *ContactListService {
	return &ContactListService{
		BaseServiceImpl: NewBaseService(db, models.ContactList{}, Hooks[models.ContactList]{
			Filterable: []string{"name"},
		}),
		db: db,
	}
}

// ListCount is a list with its number of contacts per status.
type ListCount struct {
	ListID       string `json:"listId"`
	Total        int64  `json:"total"`
	Active       int64  `json:"active"`
	Unsubscribed int64  `json:"unsubscribed"`
	Bounced      int64  `json:"bounced"`
}

// Counts returns contact counts for every list of the team.
func (s *ContactListService) Counts(ctx context.Context, teamID string) (map[string]*ListCount, error) {
	var rows []struct {
		ListID string
		Status models.SubscriberStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Contact{}).
		Select("list_id, status, COUNT(*) AS count").
		Where("team_id = ?", teamID).
		Group("list_id, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := map[string]*ListCount{}
	for _, r := range rows {
		lc, ok := out[r.ListID]
		if !ok {
			lc = &ListCount{ListID: r.ListID}
			out[r.ListID] = lc
		}
		lc.Total += r.Count
		switch r.Status {
		case models.SubscriberStatusActive:
			lc.Active += r.Count
		case models.SubscriberStatusUnsubscribed:
			lc.Unsubscribed += r.Count
		case models.SubscriberStatusBounced, models.SubscriberStatusComplained:
			lc.Bounced += r.Count
		}
	}
	return out, nil
}

// Delete removes the list and its contacts.
func (s *ContactListService) Delete(ctx context.Context, teamID, id string) error {
	if _, err := s.Get(ctx, teamID, id); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Where("list_id = ? AND team_id = ?", id, teamID).Delete(&models.Contact{}).Error
	if err != nil {
		return err
	}
	return s.BaseServiceImpl.Delete(ctx, teamID, id)
}

type ContactService struct {
	*BaseServiceImpl[models.Contact]
	db *gorm.DB
}

func NewContactService(db *gorm.DB, bill *billing.Service) *ContactService {
	s := &ContactService{db: db}
	s.BaseServiceImpl = NewBaseService(db, models.Contact{}, Hooks[models.Contact]{
		BeforeSave: func(ctx context.Context, teamID string, c *models.Contact, creating bool) error {
			if c.Email != "" || creating {
				c.Email = NormalizeEmail(c.Email)
				if !ValidEmail(c.Email) {
					return fmt.Errorf("%w: invalid email address", ErrValidation)
				}
			}
			if c.ListID != "" || creating {
				var n int64
				err := db.WithContext(ctx).Model(&models.ContactList{}).
					Where("id = ? AND team_id = ?", c.ListID, teamID).Count(&n).Error
				if err != nil {
					return err
				}
				if n == 0 {
					return fmt.Errorf("%w: unknown contact list", ErrValidation)
				}
			}
			if creating {
				if c.Status == "" {
					c.Status = models.SubscriberStatusActive
				}
				if _, err := bill.EnsureContactCapacity(ctx, teamID, 1); err != nil {
					return err
				}
			}
			return nil
		},
		Filterable: []string{"list_id", "status", "email"},
	})
	return s
}

// Unsubscribe marks every contact of the team with this address as
// unsubscribed. It returns how many rows changed.
func (s *ContactService) Unsubscribe(ctx context.Context, teamID, email string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("team_id = ? AND email = ? AND status = ?", teamID, NormalizeEmail(email), models.SubscriberStatusActive).
		Update("status", models.SubscriberStatusUnsubscribed)
	return res.RowsAffected, res.Error
}
