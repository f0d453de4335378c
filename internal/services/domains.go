package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"vashsender/internal/billing"
	"vashsender/internal/config"
	"vashsender/internal/dnscheck"
	"vashsender/internal/events"
	"vashsender/internal/models"
	"vashsender/internal/utils/crypto"
)

const (
	senderCodeTTL = 24 * time.Hour
	// pending domains are given up on after this long without records
	domainGracePeriod = 7 * 24 * time.Hour
	pendingRecheck    = 10 * time.Minute
	verifiedRecheck   = 24 * time.Hour
)

// CodeSender delivers sender confirmation codes.
type CodeSender interface {
	SendSenderCode(ctx context.Context, to, code string) error
}

// DomainQueue schedules an asynchronous domain check.
type DomainQueue interface {
	EnqueueDomainVerification(ctx context.Context, domainID string) error
}

type DomainService struct {
	db      *gorm.DB
	checker *dnscheck.Checker
	billing *billing.Service
	queue   DomainQueue
	codes   CodeSender
	mail    config.MailConfig
	log     *zap.Logger
	now     func() time.Time
}

func NewDomainService(db *gorm.DB, checker *dnscheck.Checker, bill *billing.Service, queue DomainQueue, codes CodeSender, mail config.MailConfig) *DomainService {
	return &DomainService{
		db:      db,
		checker: checker,
		billing: bill,
		queue:   queue,
		codes:   codes,
		mail:    mail,
		log:     log.Zap().Named("domains"),
		now:     time.Now,
	}
}

func normalizeDomain(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

func (s *DomainService) selector() string {
	if s.mail.DKIMSelector != "" {
		return s.mail.DKIMSelector
	}
	return "vash"
}

// AddDomain registers a sending domain and generates its DKIM key pair and
// ownership token.
func (s *DomainService) AddDomain(ctx context.Context, teamID, name string) (*models.Domain, error) {
	name = normalizeDomain(name)
	if err := validate.Var(name, "required,fqdn"); err != nil {
		return nil, fmt.Errorf("%w: %q is not a valid domain name", ErrValidation, name)
	}
	if err := s.billing.EnsureDomainCapacity(ctx, teamID); err != nil {
		return nil, err
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Domain{}).Where("team_id = ? AND name = ?", teamID, name).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: domain already added", ErrValidation)
	}

	token, err := crypto.RandomToken(16)
	if err != nil {
		return nil, err
	}
	private, public, err := dnscheck.GenerateDKIMKey(2048)
	if err != nil {
		return nil, fmt.Errorf("generate dkim key: %w", err)
	}

	d := &models.Domain{
		Name:              name,
		TeamID:            teamID,
		VerificationToken: token,
		DKIMSelector:      s.selector(),
		DKIMPublicKey:     public,
		DKIMPrivateKey:    private,
		Status:            models.DomainStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}

	if s.queue != nil {
		if err := s.queue.EnqueueDomainVerification(ctx, d.ID); err != nil {
			s.log.Warn("failed to enqueue domain check", zap.String("domain_id", d.ID), zap.Error(err))
		}
	}
	return d, nil
}

func (s *DomainService) GetDomain(ctx context.Context, teamID, id string) (*models.Domain, error) {
	var d models.Domain
	err := s.db.WithContext(ctx).Where("id = ? AND team_id = ?", id, teamID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DomainService) ListDomains(ctx context.Context, teamID string) ([]models.Domain, error) {
	var out []models.Domain
	err := s.db.WithContext(ctx).Where("team_id = ?", teamID).Order("name").Find(&out).Error
	return out, err
}

// DeleteDomain removes the domain and its senders. Domains used by an
// active campaign are kept.
func (s *DomainService) DeleteDomain(ctx context.Context, teamID, id string) error {
	d, err := s.GetDomain(ctx, teamID, id)
	if err != nil {
		return err
	}

	var busy int64
	err = s.db.WithContext(ctx).Model(&models.Campaign{}).
		Joins("JOIN sender_emails ON sender_emails.id = campaigns.sender_email_id").
		Where("sender_emails.domain_id = ? AND campaigns.status IN ?", d.ID, activeCampaignStatuses).
		Count(&busy).Error
	if err != nil {
		return err
	}
	if busy > 0 {
		return fmt.Errorf("%w: domain is used by an active campaign", ErrInvalidState)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("domain_id = ?", d.ID).Delete(&models.SenderEmail{}).Error; err != nil {
			return err
		}
		return tx.Delete(d).Error
	})
}

var activeCampaignStatuses = []models.CampaignStatus{
	models.CampaignStatusScheduled,
	models.CampaignStatusSending,
	models.CampaignStatusPaused,
}

// Records lists the DNS records the owner must publish.
func (s *DomainService) Records(ctx context.Context, teamID, id string) ([]dnscheck.Record, error) {
	d, err := s.GetDomain(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	return dnscheck.RequiredRecords(d.Name, d.VerificationToken, d.DKIMSelector, d.DKIMPublicKey, s.mail.SPFInclude), nil
}

// VerifyDomain checks the domain's DNS now.
func (s *DomainService) VerifyDomain(ctx context.Context, teamID, id string) (*models.Domain, *dnscheck.Report, error) {
	d, err := s.GetDomain(ctx, teamID, id)
	if err != nil {
		return nil, nil, err
	}
	report, err := s.verify(ctx, d)
	if err != nil {
		return nil, nil, err
	}
	return d, report, nil
}

// VerifyDomainByID is the background variant used by workers.
func (s *DomainService) VerifyDomainByID(ctx context.Context, id string) error {
	var d models.Domain
	err := s.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.verify(ctx, &d)
	return err
}

func (s *DomainService) verify(ctx context.Context, d *models.Domain) (*dnscheck.Report, error) {
	report := s.checker.Check(ctx, dnscheck.Expectation{
		Domain:     d.Name,
		Token:      d.VerificationToken,
		Selector:   d.DKIMSelector,
		PublicKey:  d.DKIMPublicKey,
		SPFInclude: s.mail.SPFInclude,
	})

	now := s.now()
	wasVerified := d.Verified()
	var status models.DomainStatus
	switch {
	case report.Verified():
		status = models.DomainStatusVerified
	case wasVerified:
		// records disappeared; senders on it stop being usable
		status = models.DomainStatusFailed
	case now.Sub(d.CreatedAt) > domainGracePeriod:
		status = models.DomainStatusFailed
	default:
		status = models.DomainStatusPending
	}

	updates := map[string]interface{}{
		"ownership_verified": report.Ownership,
		"spf_verified":       report.SPF,
		"dkim_verified":      report.DKIM,
		"dmarc_verified":     report.DMARC,
		"mx_found":           report.MX,
		"status":             status,
		"last_error":         truncate(report.Summary(), 1000),
		"last_checked_at":    now,
	}
	if status == models.DomainStatusVerified && !wasVerified {
		updates["verified_at"] = now
	}
	if err := s.db.WithContext(ctx).Model(&models.Domain{}).Where("id = ?", d.ID).Updates(updates).Error; err != nil {
		return nil, err
	}

	d.OwnershipVerified = report.Ownership
	d.SPFVerified = report.SPF
	d.DKIMVerified = report.DKIM
	d.DMARCVerified = report.DMARC
	d.MXFound = report.MX
	d.Status = status
	d.LastError = report.Summary()
	d.LastCheckedAt = &now
	if status == models.DomainStatusVerified && !wasVerified {
		d.VerifiedAt = &now
		events.Emit(events.DomainVerified, d)
	}
	if wasVerified && status != models.DomainStatusVerified {
		s.log.Warn("domain lost verification", zap.String("domain", d.Name), zap.String("problems", d.LastError))
	}
	return &report, nil
}

// CheckPending re-verifies pending domains and periodically re-checks
// verified ones. It returns how many domains were checked.
func (s *DomainService) CheckPending(ctx context.Context, now time.Time) (int, error) {
	var due []models.Domain
	err := s.db.WithContext(ctx).
		Where("(status = ? AND (last_checked_at IS NULL OR last_checked_at < ?)) OR (status = ? AND (last_checked_at IS NULL OR last_checked_at < ?))",
			models.DomainStatusPending, now.Add(-pendingRecheck),
			models.DomainStatusVerified, now.Add(-verifiedRecheck)).
		Order("last_checked_at").
		Limit(200).
		Find(&due).Error
	if err != nil {
		return 0, err
	}

	checked := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return checked, err
		}
		if _, err := s.verify(ctx, &due[i]); err != nil {
			s.log.Error("domain check failed", zap.String("domain", due[i].Name), zap.Error(err))
			continue
		}
		checked++
	}
	return checked, nil
}

func confirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// SenderInput is what a user submits to add a sender address.
type SenderInput struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"displayName" validate:"max=100"`
	ReplyTo     string `json:"replyTo" validate:"omitempty,email"`
}

// AddSender registers an address on one of the team's domains and mails it
// a confirmation code.
func (s *DomainService) AddSender(ctx context.Context, teamID string, in SenderInput) (*models.SenderEmail, error) {
	email := NormalizeEmail(in.Email)
	if !ValidEmail(email) {
		return nil, fmt.Errorf("%w: invalid email address", ErrValidation)
	}

	var d models.Domain
	err := s.db.WithContext(ctx).Where("team_id = ? AND name = ?", teamID, models.EmailDomain(email)).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: add the domain %s first", ErrValidation, models.EmailDomain(email))
	}
	if err != nil {
		return nil, err
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.SenderEmail{}).Where("team_id = ? AND email = ?", teamID, email).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: sender already exists", ErrValidation)
	}

	sender := &models.SenderEmail{
		Email:       email,
		DisplayName: strings.TrimSpace(in.DisplayName),
		ReplyTo:     NormalizeEmail(in.ReplyTo),
		TeamID:      teamID,
		DomainID:    d.ID,
	}
	if err := s.db.WithContext(ctx).Create(sender).Error; err != nil {
		return nil, err
	}
	if err := s.sendCode(ctx, sender); err != nil {
		s.log.Warn("failed to send confirmation code", zap.String("sender", email), zap.Error(err))
	}
	sender.Domain = &d
	return sender, nil
}

func (s *DomainService) sendCode(ctx context.Context, sender *models.SenderEmail) error {
	code, err := confirmationCode()
	if err != nil {
		return err
	}
	expires := s.now().Add(senderCodeTTL)
	err = s.db.WithContext(ctx).Model(&models.SenderEmail{}).Where("id = ?", sender.ID).Updates(map[string]interface{}{
		"confirmation_code_hash":  crypto.HashToken(code),
		"confirmation_expires_at": expires,
	}).Error
	if err != nil {
		return err
	}
	return s.codes.SendSenderCode(ctx, sender.Email, code)
}

func (s *DomainService) getSender(ctx context.Context, teamID, id string) (*models.SenderEmail, error) {
	var sender models.SenderEmail
	err := s.db.WithContext(ctx).Preload("Domain").Where("id = ? AND team_id = ?", id, teamID).First(&sender).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sender, nil
}

// ConfirmSender checks the emailed code and marks the sender confirmed.
func (s *DomainService) ConfirmSender(ctx context.Context, teamID, id, code string) (*models.SenderEmail, error) {
	sender, err := s.getSender(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	if sender.ConfirmedAt != nil {
		return sender, nil
	}
	if sender.ConfirmationCodeHash == "" || sender.ConfirmationExpiresAt == nil || s.now().After(*sender.ConfirmationExpiresAt) {
		return nil, fmt.Errorf("%w: confirmation code expired, request a new one", ErrValidation)
	}
	if crypto.HashToken(strings.TrimSpace(code)) != sender.ConfirmationCodeHash {
		return nil, fmt.Errorf("%w: wrong confirmation code", ErrValidation)
	}

	now := s.now()
	err = s.db.WithContext(ctx).Model(&models.SenderEmail{}).Where("id = ?", sender.ID).Updates(map[string]interface{}{
		"confirmed_at":            now,
		"confirmation_code_hash":  "",
		"confirmation_expires_at": nil,
	}).Error
	if err != nil {
		return nil, err
	}
	return s.getSender(ctx, teamID, id)
}

// ResendCode issues a fresh code for an unconfirmed sender.
func (s *DomainService) ResendCode(ctx context.Context, teamID, id string) error {
	sender, err := s.getSender(ctx, teamID, id)
	if err != nil {
		return err
	}
	if sender.ConfirmedAt != nil {
		return fmt.Errorf("%w: sender already confirmed", ErrInvalidState)
	}
	return s.sendCode(ctx, sender)
}

func (s *DomainService) ListSenders(ctx context.Context, teamID string) ([]models.SenderEmail, error) {
	var out []models.SenderEmail
	err := s.db.WithContext(ctx).Preload("Domain").Where("team_id = ?", teamID).Order("email").Find(&out).Error
	return out, err
}

func (s *DomainService) DeleteSender(ctx context.Context, teamID, id string) error {
	sender, err := s.getSender(ctx, teamID, id)
	if err != nil {
		return err
	}
	var busy int64
	err = s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("sender_email_id = ? AND status IN ?", sender.ID, activeCampaignStatuses).
		Count(&busy).Error
	if err != nil {
		return err
	}
	if busy > 0 {
		return fmt.Errorf("%w: sender is used by an active campaign", ErrInvalidState)
	}
	return s.db.WithContext(ctx).Delete(sender).Error
}
