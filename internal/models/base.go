package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains common columns for all tables
type Base struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate will set a UUID rather than numeric ID
func (base *Base) BeforeCreate(tx *gorm.DB) error {
	if base.ID == "" {
		base.ID = uuid.New().String()
	}
	return nil
}

type CampaignStatus string
type RecipientStatus string
type SubscriberStatus string
type ContactImportStatus string
type DomainStatus string
type TLSMode string
type UserRole string
type EmailTrackingEvent string

// Campaign status constants
const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusScheduled CampaignStatus = "SCHEDULED"
	CampaignStatusSending   CampaignStatus = "SENDING"
	CampaignStatusPaused    CampaignStatus = "PAUSED"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
	CampaignStatusFailed    CampaignStatus = "FAILED"
	CampaignStatusCancelled CampaignStatus = "CANCELLED"
)

// Recipient status constants
const (
	RecipientStatusPending RecipientStatus = "PENDING"
	RecipientStatusQueued  RecipientStatus = "QUEUED"
	RecipientStatusSent    RecipientStatus = "SENT"
	RecipientStatusFailed  RecipientStatus = "FAILED"
	RecipientStatusBounced RecipientStatus = "BOUNCED"
	RecipientStatusSkipped RecipientStatus = "SKIPPED"
)

// Terminal reports whether no further send attempt will be made.
func (s RecipientStatus) Terminal() bool {
	switch s {
	case RecipientStatusSent, RecipientStatusFailed, RecipientStatusBounced, RecipientStatusSkipped:
		return true
	}
	return false
}

// Subscriber status constants
const (
	SubscriberStatusActive       SubscriberStatus = "ACTIVE"
	SubscriberStatusUnsubscribed SubscriberStatus = "UNSUBSCRIBED"
	SubscriberStatusBounced      SubscriberStatus = "BOUNCED"
	SubscriberStatusComplained   SubscriberStatus = "COMPLAINED"
)

const (
	ContactImportStatusPending    ContactImportStatus = "PENDING"
	ContactImportStatusProcessing ContactImportStatus = "PROCESSING"
	ContactImportStatusCompleted  ContactImportStatus = "COMPLETED"
	ContactImportStatusFailed     ContactImportStatus = "FAILED"
)

const (
	DomainStatusPending  DomainStatus = "PENDING"
	DomainStatusVerified DomainStatus = "VERIFIED"
	DomainStatusFailed   DomainStatus = "FAILED"
)

const (
	TLSModeNone     TLSMode = "NONE"
	TLSModeStartTLS TLSMode = "STARTTLS"
	TLSModeTLS      TLSMode = "TLS"
)

const (
	UserRoleOwner  UserRole = "OWNER"
	UserRoleAdmin  UserRole = "ADMIN"
	UserRoleMember UserRole = "MEMBER"
)

const (
	EmailTrackingEventOpen        EmailTrackingEvent = "open"
	EmailTrackingEventClick       EmailTrackingEvent = "click"
	EmailTrackingEventUnsubscribe EmailTrackingEvent = "unsubscribe"
	EmailTrackingEventBounce      EmailTrackingEvent = "bounce"
)
