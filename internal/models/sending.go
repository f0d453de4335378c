package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"vashsender/internal/utils/crypto"
)

type Domain struct {
	Base
	Name              string       `gorm:"not null;uniqueIndex:idx_domain_team_name" json:"name" validate:"required,fqdn"`
	TeamID            string       `gorm:"type:uuid;not null;uniqueIndex:idx_domain_team_name" json:"teamId"`
	VerificationToken string       `gorm:"not null" json:"verificationToken"`
	DKIMSelector      string       `gorm:"not null" json:"dkimSelector"`
	DKIMPublicKey     string       `gorm:"type:text" json:"dkimPublicKey"`
	DKIMPrivateKey    string       `gorm:"type:text" json:"-"`
	OwnershipVerified bool         `gorm:"not null;default:false" json:"ownershipVerified"`
	SPFVerified       bool         `gorm:"not null;default:false" json:"spfVerified"`
	DKIMVerified      bool         `gorm:"not null;default:false" json:"dkimVerified"`
	DMARCVerified     bool         `gorm:"not null;default:false" json:"dmarcVerified"`
	MXFound           bool         `gorm:"not null;default:false" json:"mxFound"`
	Status            DomainStatus `gorm:"not null;default:'PENDING';index" json:"status"`
	LastError         string       `json:"lastError,omitempty"`
	LastCheckedAt     *time.Time   `json:"lastCheckedAt,omitempty"`
	VerifiedAt        *time.Time   `json:"verifiedAt,omitempty"`
}

func (d *Domain) BeforeSave(tx *gorm.DB) error {
	enc, err := crypto.Encrypt(d.DKIMPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt dkim key: %w", err)
	}
	d.DKIMPrivateKey = enc
	return nil
}

// AfterSave restores the plaintext key on the in-memory value.
func (d *Domain) AfterSave(tx *gorm.DB) error {
	return d.decryptKey()
}

func (d *Domain) AfterFind(tx *gorm.DB) error {
	return d.decryptKey()
}

func (d *Domain) decryptKey() error {
	key, err := crypto.Decrypt(d.DKIMPrivateKey)
	if err != nil {
		return fmt.Errorf("failed to decrypt dkim key: %w", err)
	}
	d.DKIMPrivateKey = key
	return nil
}

func (d *Domain) Verified() bool {
	return d.Status == DomainStatusVerified
}

type SenderEmail struct {
	Base
	Email                 string     `gorm:"not null;uniqueIndex:idx_sender_team_email" json:"email" validate:"required,email"`
	DisplayName           string     `json:"displayName"`
	ReplyTo               string     `json:"replyTo" validate:"omitempty,email"`
	TeamID                string     `gorm:"type:uuid;not null;uniqueIndex:idx_sender_team_email" json:"teamId"`
	DomainID              string     `gorm:"type:uuid;not null" json:"domainId"`
	Domain                *Domain    `json:"domain,omitempty"`
	ConfirmationCodeHash  string     `json:"-"`
	ConfirmationExpiresAt *time.Time `json:"-"`
	ConfirmedAt           *time.Time `json:"confirmedAt,omitempty"`
}

// Usable reports whether the sender may appear in a From header. Domain
// must be preloaded.
func (s *SenderEmail) Usable() bool {
	return s.ConfirmedAt != nil && s.Domain != nil && s.Domain.Verified()
}

// EmailDomain returns the part after @, lower-cased.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

type SMTPConfig struct {
	Base
	Name         string  `gorm:"not null" json:"name" validate:"required,min=2"`
	Host         string  `gorm:"not null" json:"host" validate:"required,hostname"`
	Port         int     `gorm:"not null" json:"port" validate:"required,min=1,max=65535"`
	Username     string  `json:"username" validate:"required_if=RequiresAuth true"`
	Password     string  `json:"password,omitempty"`
	TLSMode      TLSMode `gorm:"not null;default:'STARTTLS'" json:"tlsMode" validate:"required,oneof=NONE STARTTLS TLS"`
	RequiresAuth bool    `gorm:"not null" json:"requiresAuth"`
	MaxSendRate  int     `gorm:"not null;default:10" json:"maxSendRate" validate:"required,min=1"`
	ProxyURL     string  `json:"proxyUrl" validate:"omitempty,url"`
	IsDefault    bool    `gorm:"not null;default:false" json:"isDefault"`
	IsActive     bool    `gorm:"not null" json:"isActive"`
	TeamID       string  `gorm:"type:uuid;not null;index" json:"teamId"`
}

func (s *SMTPConfig) BeforeSave(tx *gorm.DB) error {
	password, err := crypto.Encrypt(s.Password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}
	s.Password = password
	return nil
}

func (s *SMTPConfig) AfterSave(tx *gorm.DB) error {
	return s.decryptPassword()
}

func (s *SMTPConfig) AfterFind(tx *gorm.DB) error {
	return s.decryptPassword()
}

func (s *SMTPConfig) decryptPassword() error {
	password, err := crypto.Decrypt(s.Password)
	if err != nil {
		return fmt.Errorf("failed to decrypt password: %w", err)
	}
	s.Password = password
	return nil
}

// Redact clears secrets before the value is rendered in an API response.
func (s *SMTPConfig) Redact() {
	s.Password = ""
}
