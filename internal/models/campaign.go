package models

import (
	"time"

	"gorm.io/datatypes"
)

type Campaign struct {
	Base
	Name            string                      `gorm:"not null" json:"name" validate:"required,min=2"`
	TeamID          string                      `gorm:"type:uuid;not null;index" json:"teamId"`
	TemplateID      string                      `gorm:"type:uuid;not null" json:"templateId" validate:"required,uuid"`
	Template        *Template                   `json:"template,omitempty"`
	SenderEmailID   string                      `gorm:"type:uuid;not null" json:"senderEmailId" validate:"required,uuid"`
	SenderEmail     *SenderEmail                `json:"senderEmail,omitempty"`
	SMTPConfigID    *string                     `gorm:"type:uuid" json:"smtpConfigId,omitempty" validate:"omitempty,uuid"`
	SMTPConfig      *SMTPConfig                 `json:"smtpConfig,omitempty"`
	Subject         string                      `json:"subject"`
	ListIDs         datatypes.JSONSlice[string] `json:"listIds" validate:"required,min=1,dive,uuid"`
	Status          CampaignStatus              `gorm:"not null;default:'DRAFT';index" json:"status"`
	ScheduledFor    *time.Time                  `json:"scheduledFor,omitempty"`
	CronExpression  string                      `json:"cronExpression,omitempty" validate:"omitempty,cron"`
	ParentID        *string                     `gorm:"type:uuid;index" json:"parentId,omitempty"`
	NextRunAt       *time.Time                  `gorm:"index" json:"nextRunAt,omitempty"`
	BatchSize       int                         `gorm:"not null;default:0" json:"batchSize" validate:"omitempty,min=1,max=10000"`
	ExpansionCursor string                      `gorm:"not null;default:''" json:"-"`
	ExpansionDone   bool                        `gorm:"not null;default:false" json:"expansionDone"`
	TotalRecipients int                         `gorm:"not null;default:0" json:"totalRecipients"`
	SentCount       int                         `gorm:"not null;default:0" json:"sentCount"`
	FailedCount     int                         `gorm:"not null;default:0" json:"failedCount"`
	BouncedCount    int                         `gorm:"not null;default:0" json:"bouncedCount"`
	SkippedCount    int                         `gorm:"not null;default:0" json:"skippedCount"`
	OpenedCount     int                         `gorm:"not null;default:0" json:"openedCount"`
	ClickedCount    int                         `gorm:"not null;default:0" json:"clickedCount"`
	Unsubscribed    int                         `gorm:"not null;default:0" json:"unsubscribedCount"`
	StartedAt       *time.Time                  `json:"startedAt,omitempty"`
	CompletedAt     *time.Time                  `json:"completedAt,omitempty"`
	LastProgressAt  *time.Time                  `gorm:"index" json:"lastProgressAt,omitempty"`
	Error           string                      `json:"error,omitempty"`
}

// Recurring campaigns are templates for child runs and never send themselves.
func (c *Campaign) Recurring() bool {
	return c.CronExpression != "" && c.ParentID == nil
}

// Editable reports whether content and targeting may still change.
func (c *Campaign) Editable() bool {
	return c.Status == CampaignStatusDraft || c.Status == CampaignStatusScheduled
}

func (c *Campaign) EffectiveSubject() string {
	if c.Subject != "" {
		return c.Subject
	}
	if c.Template != nil {
		return c.Template.Subject
	}
	return ""
}

type CampaignRecipient struct {
	Base
	CampaignID string          `gorm:"type:uuid;not null;uniqueIndex:idx_recipient_campaign_email;index:idx_recipient_campaign_status" json:"campaignId"`
	Campaign   *Campaign       `json:"campaign,omitempty"`
	ContactID  string          `gorm:"type:uuid;not null;index" json:"contactId"`
	Contact    *Contact        `json:"contact,omitempty"`
	Email      string          `gorm:"not null;uniqueIndex:idx_recipient_campaign_email" json:"email"`
	Status     RecipientStatus `gorm:"not null;default:'PENDING';index:idx_recipient_campaign_status" json:"status"`
	Attempts   int             `gorm:"not null;default:0" json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	QueuedAt   *time.Time      `json:"queuedAt,omitempty"`
	SentAt     *time.Time      `json:"sentAt,omitempty"`
	OpenedAt   *time.Time      `json:"openedAt,omitempty"`
	ClickedAt  *time.Time      `json:"clickedAt,omitempty"`
	UnsubAt    *time.Time      `json:"unsubscribedAt,omitempty"`
}

type EmailTracking struct {
	Base
	CampaignID  string             `gorm:"type:uuid;not null;index" json:"campaignId"`
	RecipientID string             `gorm:"type:uuid;not null;index" json:"recipientId"`
	ContactID   string             `gorm:"type:uuid;not null" json:"contactId"`
	Event       EmailTrackingEvent `gorm:"not null" json:"event"`
	URL         string             `json:"url,omitempty"`
	IPAddress   string             `json:"ipAddress"`
	UserAgent   string             `json:"userAgent"`
	DeviceType  string             `json:"deviceType"`
	Browser     string             `json:"browser"`
	OS          string             `json:"os"`
	Timestamp   time.Time          `gorm:"not null;index" json:"timestamp"`
}
