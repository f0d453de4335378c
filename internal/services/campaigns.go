package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vashsender/internal/billing"
	"vashsender/internal/config"
	"vashsender/internal/events"
	"vashsender/internal/mailer"
	"vashsender/internal/models"
	"vashsender/internal/tasks"
)

// Enqueuer is the part of the task client the campaign pipeline uses.
type Enqueuer interface {
	EnqueueCampaignProcess(ctx context.Context, campaignID, cursor string, delay time.Duration) error
	EnqueueRecipientSend(ctx context.Context, campaignID, recipientID string) error
	// ReleaseDeadTasks frees task ids still held by archived tasks.
	ReleaseDeadTasks(ctx context.Context, taskIDs []string) (int, error)
}

// SendRateLimiter caps sends per SMTP relay across all workers.
type SendRateLimiter interface {
	ReserveLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// DomainPacer spaces out deliveries to the same recipient domain.
type DomainPacer interface {
	Wait(ctx context.Context, domain string) error
}

type CampaignDeps struct {
	Queue    Enqueuer
	Sender   mailer.Sender
	Limiter  SendRateLimiter
	Pacer    DomainPacer
	Renderer *Renderer
	Billing  *billing.Service
}

type CampaignService struct {
	db       *gorm.DB
	queue    Enqueuer
	sender   mailer.Sender
	limiter  SendRateLimiter
	pacer    DomainPacer
	renderer *Renderer
	billing  *billing.Service
	cfg      config.CampaignConfig
	mail     config.MailConfig
	log      *zap.Logger
	now      func() time.Time

	// throttled sends are not counted by the queue, so they get their own cap
	maxThrottled int
}

var outstandingStatuses = []models.RecipientStatus{models.RecipientStatusPending, models.RecipientStatusQueued}

const requeueBatch = 500

func NewCampaignService(db *gorm.DB, deps CampaignDeps, cfg config.CampaignConfig, mail config.MailConfig) *CampaignService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = 15 * time.Minute
	}
	return &CampaignService{
		db:           db,
		queue:        deps.Queue,
		sender:       deps.Sender,
		limiter:      deps.Limiter,
		pacer:        deps.Pacer,
		renderer:     deps.Renderer,
		billing:      deps.Billing,
		cfg:          cfg,
		mail:         mail,
		log:          log.Zap().Named("campaigns"),
		now:          time.Now,
		maxThrottled: 20,
	}
}

// CampaignStats is the summary shown on the campaign report.
type CampaignStats struct {
	CampaignID      string                `json:"campaignId"`
	Status          models.CampaignStatus `json:"status"`
	TotalRecipients int                   `json:"totalRecipients"`
	Outstanding     int64                 `json:"outstanding"`
	Sent            int                   `json:"sent"`
	Failed          int                   `json:"failed"`
	Bounced         int                   `json:"bounced"`
	Skipped         int                   `json:"skipped"`
	Opened          int                   `json:"opened"`
	Clicked         int                   `json:"clicked"`
	Unsubscribed    int                   `json:"unsubscribed"`
	OpenRate        float64               `json:"openRate"`
	ClickRate       float64               `json:"clickRate"`
	BounceRate      float64               `json:"bounceRate"`
	UnsubscribeRate float64               `json:"unsubscribeRate"`
}

func rate(n, of int) float64 {
	if of <= 0 {
		return 0
	}
	return float64(n) / float64(of)
}

func (s *CampaignService) load(ctx context.Context, teamID, id string, withContent bool) (*models.Campaign, error) {
	q := s.db.WithContext(ctx)
	if withContent {
		q = q.Preload("Template").Preload("SenderEmail.Domain")
	}
	if teamID != "" {
		q = q.Where("team_id = ?", teamID)
	}
	var c models.Campaign
	if err := q.First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *CampaignService) Get(ctx context.Context, teamID, id string) (*models.Campaign, error) {
	return s.load(ctx, teamID, id, false)
}

func (s *CampaignService) List(ctx context.Context, teamID string, status string, page, limit int) ([]models.Campaign, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Campaign{}).Where("team_id = ?", teamID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page > 0 && limit > 0 {
		q = q.Offset((page - 1) * limit).Limit(limit)
	}
	var campaigns []models.Campaign
	if err := q.Order("created_at DESC").Find(&campaigns).Error; err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// validateRefs checks every referenced row belongs to the team.
func (s *CampaignService) validateRefs(ctx context.Context, teamID string, c *models.Campaign) error {
	gdb := s.db.WithContext(ctx)
	exists := func(model interface{}, id string) (bool, error) {
		var n int64
		err := gdb.Model(model).Where("id = ? AND team_id = ?", id, teamID).Count(&n).Error
		return n > 0, err
	}

	if ok, err := exists(&models.Template{}, c.TemplateID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: unknown template", ErrValidation)
	}
	if ok, err := exists(&models.SenderEmail{}, c.SenderEmailID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: unknown sender", ErrValidation)
	}

	ids := uniqueStrings(c.ListIDs)
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one contact list is required", ErrValidation)
	}
	var lists int64
	if err := gdb.Model(&models.ContactList{}).Where("id IN ? AND team_id = ?", ids, teamID).Count(&lists).Error; err != nil {
		return err
	}
	if int(lists) != len(ids) {
		return fmt.Errorf("%w: unknown contact list", ErrValidation)
	}
	c.ListIDs = ids

	if c.SMTPConfigID != nil && *c.SMTPConfigID != "" {
		if ok, err := exists(&models.SMTPConfig{}, *c.SMTPConfigID); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: unknown smtp config", ErrValidation)
		}
		if err := s.billing.EnsureFeature(ctx, teamID, models.FeatureCustomSMTP); err != nil {
			return err
		}
	} else {
		c.SMTPConfigID = nil
	}

	if c.CronExpression != "" {
		if _, err := cron.ParseStandard(c.CronExpression); err != nil {
			return fmt.Errorf("%w: invalid cron expression: %v", ErrValidation, err)
		}
		if err := s.billing.EnsureFeature(ctx, teamID, models.FeatureRecurringCampaign); err != nil {
			return err
		}
	}
	return nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Create stores a new DRAFT campaign.
func (s *CampaignService) Create(ctx context.Context, teamID string, c *models.Campaign) error {
	if err := s.validateRefs(ctx, teamID, c); err != nil {
		return err
	}

	*c = models.Campaign{
		Name:           c.Name,
		TeamID:         teamID,
		TemplateID:     c.TemplateID,
		SenderEmailID:  c.SenderEmailID,
		SMTPConfigID:   c.SMTPConfigID,
		Subject:        c.Subject,
		ListIDs:        c.ListIDs,
		CronExpression: c.CronExpression,
		BatchSize:      c.BatchSize,
		Status:         models.CampaignStatusDraft,
	}
	return s.db.WithContext(ctx).Create(c).Error
}

// Update changes content and targeting while the campaign has not started.
func (s *CampaignService) Update(ctx context.Context, teamID, id string, in *models.Campaign) (*models.Campaign, error) {
	c, err := s.load(ctx, teamID, id, false)
	if err != nil {
		return nil, err
	}
	if !c.Editable() {
		return nil, fmt.Errorf("%w: campaign is %s", ErrInvalidState, c.Status)
	}
	if err := s.validateRefs(ctx, teamID, in); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"name":            in.Name,
		"template_id":     in.TemplateID,
		"sender_email_id": in.SenderEmailID,
		"smtp_config_id":  in.SMTPConfigID,
		"subject":         in.Subject,
		"list_ids":        in.ListIDs,
		"cron_expression": in.CronExpression,
		"batch_size":      in.BatchSize,
	}
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", c.ID, []models.CampaignStatus{models.CampaignStatusDraft, models.CampaignStatusScheduled}).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: campaign is no longer editable", ErrInvalidState)
	}
	return s.load(ctx, teamID, id, false)
}

// Delete removes a campaign that is not currently sending.
func (s *CampaignService) Delete(ctx context.Context, teamID, id string) error {
	c, err := s.load(ctx, teamID, id, false)
	if err != nil {
		return err
	}
	if c.Status == models.CampaignStatusSending || c.Status == models.CampaignStatusPaused {
		return fmt.Errorf("%w: cancel the campaign first", ErrInvalidState)
	}
	return s.db.WithContext(ctx).Delete(c).Error
}

// Schedule marks the campaign to start at `at`. Recurring campaigns run at
// `at` (or their next cron time when at is zero) and then follow the cron.
func (s *CampaignService) Schedule(ctx context.Context, teamID, id string, at time.Time) (*models.Campaign, error) {
	c, err := s.load(ctx, teamID, id, false)
	if err != nil {
		return nil, err
	}
	if !c.Editable() {
		return nil, fmt.Errorf("%w: campaign is %s", ErrInvalidState, c.Status)
	}

	now := s.now()
	updates := map[string]interface{}{"status": models.CampaignStatusScheduled}
	if c.Recurring() {
		sched, err := cron.ParseStandard(c.CronExpression)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid cron expression: %v", ErrValidation, err)
		}
		next := sched.Next(now)
		if !at.IsZero() {
			if !at.After(now) {
				return nil, fmt.Errorf("%w: schedule time must be in the future", ErrValidation)
			}
			next = at
		}
		updates["next_run_at"] = next
	} else {
		if !at.After(now) {
			return nil, fmt.Errorf("%w: schedule time must be in the future", ErrValidation)
		}
		updates["scheduled_for"] = at
	}

	if err := s.db.WithContext(ctx).Model(c).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.load(ctx, teamID, id, false)
}

// Start begins sending a DRAFT or SCHEDULED campaign.
func (s *CampaignService) Start(ctx context.Context, teamID, id string) (*models.Campaign, error) {
	c, err := s.load(ctx, teamID, id, true)
	if err != nil {
		return nil, err
	}
	if c.Recurring() {
		return nil, fmt.Errorf("%w: recurring campaigns start on their schedule", ErrInvalidState)
	}
	if err := s.start(ctx, c); err != nil {
		return nil, err
	}
	return s.load(ctx, teamID, id, false)
}

func (s *CampaignService) audience(ctx context.Context, c *models.Campaign) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Contact{}).
		Where("team_id = ? AND list_id IN ? AND status = ?", c.TeamID, []string(c.ListIDs), models.SubscriberStatusActive).
		Distinct("email").
		Count(&n).Error
	return n, err
}

func (s *CampaignService) start(ctx context.Context, c *models.Campaign) error {
	if !c.Editable() {
		return fmt.Errorf("%w: campaign is %s", ErrInvalidState, c.Status)
	}
	if c.Template == nil {
		return fmt.Errorf("%w: template not found", ErrValidation)
	}
	if c.SenderEmail == nil || !c.SenderEmail.Usable() {
		return ErrSenderNotVerified
	}
	if len(c.ListIDs) == 0 {
		return fmt.Errorf("%w: at least one contact list is required", ErrValidation)
	}

	size, err := s.audience(ctx, c)
	if err != nil {
		return err
	}
	if size == 0 {
		return fmt.Errorf("%w: the selected lists have no active contacts", ErrValidation)
	}
	if err := s.billing.EnsureEmailCapacity(ctx, c.TeamID, size); err != nil {
		return err
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", c.ID, []models.CampaignStatus{models.CampaignStatusDraft, models.CampaignStatusScheduled}).
		Updates(map[string]interface{}{
			"status":           models.CampaignStatusSending,
			"started_at":       now,
			"last_progress_at": now,
			"expansion_cursor": "",
			"expansion_done":   false,
			"error":            "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: campaign already started", ErrInvalidState)
	}
	c.Status = models.CampaignStatusSending

	s.log.Info("campaign started", zap.String("campaign_id", c.ID), zap.Int64("audience", size))
	if err := s.queue.EnqueueCampaignProcess(ctx, c.ID, "", 0); err != nil {
		// the reconciler picks up campaigns whose expansion never began
		s.log.Warn("failed to enqueue campaign expansion", zap.String("campaign_id", c.ID), zap.Error(err))
	}

	events.Emit(events.CampaignStarted, c)
	return nil
}

func (s *CampaignService) batchSize(c *models.Campaign) int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return s.cfg.BatchSize
}

// ProcessBatch expands the next slice of the audience into recipients and
// queues their sends.
func (s *CampaignService) ProcessBatch(ctx context.Context, id, cursor string) error {
	c, err := s.load(ctx, "", id, false)
	if errors.Is(err, ErrNotFound) {
		s.log.Warn("campaign vanished before processing", zap.String("campaign_id", id))
		return nil
	}
	if err != nil {
		return err
	}
	if c.Status != models.CampaignStatusSending {
		s.log.Info("skipping batch, campaign not sending", zap.String("campaign_id", id), zap.String("status", string(c.Status)))
		return nil
	}
	if c.ExpansionDone {
		if err := s.queuePending(ctx, c.ID); err != nil {
			return err
		}
		_, err := s.Finalize(ctx, c.ID)
		return err
	}
	if cursor != c.ExpansionCursor {
		// a retried task from an earlier batch; make sure the current one is queued
		return s.queue.EnqueueCampaignProcess(ctx, c.ID, c.ExpansionCursor, 0)
	}

	batch := s.batchSize(c)
	var contacts []models.Contact
	q := s.db.WithContext(ctx).
		Where("team_id = ? AND list_id IN ? AND status = ?", c.TeamID, []string(c.ListIDs), models.SubscriberStatusActive)
	if cursor != "" {
		q = q.Where("id > ?", cursor)
	}
	if err := q.Order("id").Limit(batch).Find(&contacts).Error; err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}

	if len(contacts) > 0 {
		recipients := make([]models.CampaignRecipient, 0, len(contacts))
		for _, ct := range contacts {
			recipients = append(recipients, models.CampaignRecipient{
				CampaignID: c.ID,
				ContactID:  ct.ID,
				Email:      strings.ToLower(strings.TrimSpace(ct.Email)),
				Status:     models.RecipientStatusPending,
			})
		}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "email"}},
				DoNothing: true,
			}).
			CreateInBatches(&recipients, 200).Error
		if err != nil {
			return fmt.Errorf("insert recipients: %w", err)
		}
	}

	if err := s.queuePending(ctx, c.ID); err != nil {
		return err
	}

	now := s.now()
	if len(contacts) == batch {
		next := contacts[len(contacts)-1].ID
		err := s.db.WithContext(ctx).Model(&models.Campaign{}).
			Where("id = ? AND status = ?", c.ID, models.CampaignStatusSending).
			Updates(map[string]interface{}{"expansion_cursor": next, "last_progress_at": now}).Error
		if err != nil {
			return err
		}
		return s.queue.EnqueueCampaignProcess(ctx, c.ID, next, s.cfg.BatchDelay)
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).Where("campaign_id = ?", c.ID).Count(&total).Error; err != nil {
		return err
	}
	updates := map[string]interface{}{
		"expansion_done":   true,
		"total_recipients": total,
		"last_progress_at": now,
	}
	if len(contacts) > 0 {
		updates["expansion_cursor"] = contacts[len(contacts)-1].ID
	}
	err = s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", c.ID, models.CampaignStatusSending).
		Updates(updates).Error
	if err != nil {
		return err
	}

	s.log.Info("campaign expansion done", zap.String("campaign_id", c.ID), zap.Int64("recipients", total))
	_, err = s.Finalize(ctx, c.ID)
	return err
}

// queuePending enqueues a send for every PENDING recipient and marks them QUEUED.
func (s *CampaignService) queuePending(ctx context.Context, campaignID string) error {
	return s.requeue(ctx, campaignID, []models.RecipientStatus{models.RecipientStatusPending}, nil)
}

// requeue enqueues sends for recipients in statuses, optionally only those
// untouched since olderThan. Stale recipients may have exhausted their task,
// so their archived send tasks are released first. Returns after walking all
// of them by id.
func (s *CampaignService) requeue(ctx context.Context, campaignID string, statuses []models.RecipientStatus, olderThan *time.Time) error {
	_, err := s.requeueCount(ctx, campaignID, statuses, olderThan)
	return err
}

func (s *CampaignService) requeueCount(ctx context.Context, campaignID string, statuses []models.RecipientStatus, olderThan *time.Time) (int, error) {
	after := ""
	total := 0
	for {
		q := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
			Where("campaign_id = ? AND status IN ?", campaignID, statuses)
		if olderThan != nil {
			q = q.Where("updated_at < ?", *olderThan)
		}
		if after != "" {
			q = q.Where("id > ?", after)
		}
		var ids []string
		if err := q.Order("id").Limit(requeueBatch).Pluck("id", &ids).Error; err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}

		if olderThan != nil {
			taskIDs := make([]string, len(ids))
			for i, rid := range ids {
				taskIDs[i] = tasks.SendTaskID(rid)
			}
			if _, err := s.queue.ReleaseDeadTasks(ctx, taskIDs); err != nil {
				return total, err
			}
		}
		for _, rid := range ids {
			if err := s.queue.EnqueueRecipientSend(ctx, campaignID, rid); err != nil {
				return total, err
			}
		}
		err := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
			Where("id IN ? AND status IN ?", ids, outstandingStatuses).
			Updates(map[string]interface{}{
				"status":    models.RecipientStatusQueued,
				"queued_at": s.now(),
			}).Error
		if err != nil {
			return total, err
		}

		total += len(ids)
		after = ids[len(ids)-1]
		if len(ids) < requeueBatch {
			return total, nil
		}
	}
}

// resolveServer picks the relay for c: its own SMTP config, the team's
// default, or the platform relay. It returns the rate limiter key and the
// per-second budget of that relay.
func (s *CampaignService) resolveServer(ctx context.Context, c *models.Campaign) (mailer.Server, string, int, error) {
	cfg, err := models.GetSMTPConfig(s.db.WithContext(ctx), c.TeamID, c.SMTPConfigID)
	if errors.Is(err, models.ErrNoSMTPConfig) {
		return mailer.ServerFromConfig(s.mail), "platform", s.mail.MaxSendRate, nil
	}
	if err != nil {
		return mailer.Server{}, "", 0, fmt.Errorf("load smtp config: %w", err)
	}
	return mailer.ServerFromModel(cfg, s.mail.HeloName), "smtp:" + cfg.ID, cfg.MaxSendRate, nil
}

func throttleBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 30 * time.Second
	for i := 1; i < attempt && d < 30*time.Minute; i++ {
		d *= 2
	}
	if d > 30*time.Minute {
		d = 30 * time.Minute
	}
	return d
}

// SendRecipient delivers the campaign email to one recipient. It is safe to
// run more than once for the same recipient.
func (s *CampaignService) SendRecipient(ctx context.Context, recipientID string, finalAttempt bool) error {
	var r models.CampaignRecipient
	err := s.db.WithContext(ctx).Preload("Contact").First(&r, "id = ?", recipientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return nil
	}

	c, err := models.GetCampaignForSend(s.db.WithContext(ctx), r.CampaignID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch c.Status {
	case models.CampaignStatusSending:
	case models.CampaignStatusPaused:
		// left QUEUED; Resume queues it again
		return nil
	default:
		_, err := s.markTerminal(ctx, c, &r, models.RecipientStatusSkipped, "campaign "+strings.ToLower(string(c.Status)), "")
		return err
	}

	if r.Contact == nil || r.Contact.Status != models.SubscriberStatusActive {
		if _, err := s.markTerminal(ctx, c, &r, models.RecipientStatusSkipped, "contact is not active", ""); err != nil {
			return err
		}
		return s.finalizeQuietly(ctx, c.ID)
	}

	if c.SenderEmail == nil || !c.SenderEmail.Usable() {
		s.log.Warn("pausing campaign, sender no longer verified", zap.String("campaign_id", c.ID))
		return s.db.WithContext(ctx).Model(&models.Campaign{}).
			Where("id = ? AND status = ?", c.ID, models.CampaignStatusSending).
			Updates(map[string]interface{}{
				"status": models.CampaignStatusPaused,
				"error":  ErrSenderNotVerified.Error(),
			}).Error
	}

	srv, key, limit, err := s.resolveServer(ctx, c)
	if err != nil {
		return s.retryOrFail(ctx, c, &r, err, finalAttempt)
	}
	ok, wait, err := s.limiter.ReserveLimit(ctx, key, limit, time.Second)
	if err != nil {
		return s.retryOrFail(ctx, c, &r, err, finalAttempt)
	}
	if !ok {
		return &tasks.RateLimitError{RetryIn: wait, Reason: "smtp send rate"}
	}

	msg, err := s.renderer.Render(c, &r)
	if err != nil {
		// retrying cannot fix the content
		s.log.Warn("cannot render campaign email", zap.String("campaign_id", c.ID), zap.String("recipient_id", r.ID), zap.Error(err))
		return s.retryOrFail(ctx, c, &r, fmt.Errorf("render: %w", err), true)
	}
	if err := s.pacer.Wait(ctx, models.EmailDomain(r.Email)); err != nil {
		return s.retryOrFail(ctx, c, &r, err, finalAttempt)
	}

	attempt := r.Attempts + 1
	if err := s.db.WithContext(ctx).Model(&r).Update("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
		return s.retryOrFail(ctx, c, &r, err, finalAttempt)
	}

	messageID, sendErr := s.sender.Send(ctx, srv, msg)
	fields := []zap.Field{
		zap.String("campaign_id", c.ID),
		zap.String("recipient_id", r.ID),
		zap.Int("attempt", attempt),
	}

	switch mailer.Classify(sendErr) {
	case mailer.OutcomeOK:
		sent, err := s.markTerminal(ctx, c, &r, models.RecipientStatusSent, "", messageID)
		if err != nil {
			return err
		}
		if sent {
			if err := s.billing.RecordEmails(ctx, c.TeamID, 1); err != nil {
				s.log.Error("failed to record usage", append(fields, zap.Error(err))...)
			}
		}

	case mailer.OutcomePermanent:
		status := models.RecipientStatusFailed
		if mailer.IsHardBounce(sendErr) {
			status = models.RecipientStatusBounced
		}
		s.log.Info("permanent delivery failure", append(fields, zap.String("status", string(status)), zap.Error(sendErr))...)
		if _, err := s.markTerminal(ctx, c, &r, status, sendErr.Error(), ""); err != nil {
			return err
		}

	case mailer.OutcomeThrottled:
		if attempt >= s.maxThrottled {
			if _, err := s.markTerminal(ctx, c, &r, models.RecipientStatusFailed, sendErr.Error(), ""); err != nil {
				return err
			}
			break
		}
		s.recordError(ctx, &r, sendErr)
		return &tasks.RateLimitError{RetryIn: throttleBackoff(attempt), Reason: "provider throttled"}

	default:
		return s.retryOrFail(ctx, c, &r, sendErr, finalAttempt)
	}

	return s.finalizeQuietly(ctx, c.ID)
}

// retryOrFail hands err back to the queue for another attempt, or, when no
// attempt is left, marks the recipient FAILED so the campaign can finish.
func (s *CampaignService) retryOrFail(ctx context.Context, c *models.Campaign, r *models.CampaignRecipient, err error, finalAttempt bool) error {
	if !finalAttempt {
		s.recordError(ctx, r, err)
		return err
	}
	if _, mErr := s.markTerminal(ctx, c, r, models.RecipientStatusFailed, err.Error(), ""); mErr != nil {
		return mErr
	}
	return s.finalizeQuietly(ctx, c.ID)
}

func (s *CampaignService) recordError(ctx context.Context, r *models.CampaignRecipient, err error) {
	if dbErr := s.db.WithContext(ctx).Model(r).Update("last_error", truncate(err.Error(), 500)).Error; dbErr != nil {
		s.log.Warn("failed to record send error", zap.String("recipient_id", r.ID), zap.Error(dbErr))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var counterColumn = map[models.RecipientStatus]string{
	models.RecipientStatusSent:    "sent_count",
	models.RecipientStatusFailed:  "failed_count",
	models.RecipientStatusBounced: "bounced_count",
	models.RecipientStatusSkipped: "skipped_count",
}

// markTerminal moves an outstanding recipient to status and bumps the
// matching campaign counter. It reports false if another worker got there
// first.
func (s *CampaignService) markTerminal(ctx context.Context, c *models.Campaign, r *models.CampaignRecipient, status models.RecipientStatus, reason, messageID string) (bool, error) {
	now := s.now()
	changed := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": status}
		if reason != "" {
			updates["last_error"] = truncate(reason, 500)
		}
		if status == models.RecipientStatusSent {
			updates["sent_at"] = now
			updates["message_id"] = messageID
			updates["last_error"] = ""
		}
		res := tx.Model(&models.CampaignRecipient{}).
			Where("id = ? AND status IN ?", r.ID, outstandingStatuses).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true

		err := tx.Model(&models.Campaign{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
			counterColumn[status]: gorm.Expr(counterColumn[status] + " + 1"),
			"last_progress_at":    now,
		}).Error
		if err != nil {
			return err
		}

		if status == models.RecipientStatusBounced {
			err := tx.Model(&models.Contact{}).
				Where("id = ? AND status = ?", r.ContactID, models.SubscriberStatusActive).
				Update("status", models.SubscriberStatusBounced).Error
			if err != nil {
				return err
			}
			return tx.Create(&models.EmailTracking{
				CampaignID:  c.ID,
				RecipientID: r.ID,
				ContactID:   r.ContactID,
				Event:       models.EmailTrackingEventBounce,
				Timestamp:   now,
			}).Error
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark recipient %s %s: %w", r.ID, status, err)
	}
	if changed {
		r.Status = status
	}
	return changed, nil
}

func (s *CampaignService) finalizeQuietly(ctx context.Context, id string) error {
	if _, err := s.Finalize(ctx, id); err != nil {
		s.log.Warn("finalize failed", zap.String("campaign_id", id), zap.Error(err))
	}
	return nil
}

type statusCount struct {
	Status models.RecipientStatus
	Count  int
}

func (s *CampaignService) recipientCounts(ctx context.Context, id string) (map[models.RecipientStatus]int, error) {
	var rows []statusCount
	err := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
		Select("status, COUNT(*) AS count").
		Where("campaign_id = ?", id).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[models.RecipientStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Finalize completes a SENDING campaign once expansion is done and no
// recipient is outstanding. Only one caller wins the transition.
func (s *CampaignService) Finalize(ctx context.Context, id string) (bool, error) {
	c, err := s.load(ctx, "", id, false)
	if err != nil {
		return false, err
	}
	if c.Status != models.CampaignStatusSending || !c.ExpansionDone {
		return false, nil
	}

	counts, err := s.recipientCounts(ctx, id)
	if err != nil {
		return false, err
	}
	if counts[models.RecipientStatusPending]+counts[models.RecipientStatusQueued] > 0 {
		return false, nil
	}

	sent := counts[models.RecipientStatusSent]
	failed := counts[models.RecipientStatusFailed]
	bounced := counts[models.RecipientStatusBounced]
	final := models.CampaignStatusCompleted
	reason := ""
	if sent == 0 && failed+bounced > 0 {
		final = models.CampaignStatusFailed
		reason = "no message could be delivered"
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", id, models.CampaignStatusSending).
		Updates(map[string]interface{}{
			"status":           final,
			"completed_at":     now,
			"last_progress_at": now,
			"sent_count":       sent,
			"failed_count":     failed,
			"bounced_count":    bounced,
			"skipped_count":    counts[models.RecipientStatusSkipped],
			"error":            reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	c.Status = final
	c.CompletedAt = &now
	s.log.Info("campaign finished",
		zap.String("campaign_id", id),
		zap.String("status", string(final)),
		zap.Int("sent", sent),
		zap.Int("failed", failed),
		zap.Int("bounced", bounced),
	)
	events.Emit(events.CampaignCompleted, c)
	return true, nil
}

func (s *CampaignService) transition(ctx context.Context, teamID, id string, from []models.CampaignStatus, to models.CampaignStatus, extra map[string]interface{}) (*models.Campaign, error) {
	c, err := s.load(ctx, teamID, id, false)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", c.ID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: cannot move a %s campaign to %s", ErrInvalidState, c.Status, to)
	}
	return s.load(ctx, teamID, id, false)
}

// Pause stops deliveries. Queued sends finish as no-ops and stay QUEUED.
func (s *CampaignService) Pause(ctx context.Context, teamID, id string) (*models.Campaign, error) {
	return s.transition(ctx, teamID, id,
		[]models.CampaignStatus{models.CampaignStatusSending},
		models.CampaignStatusPaused, nil)
}

// Resume continues a paused campaign where it left off.
func (s *CampaignService) Resume(ctx context.Context, teamID, id string) (*models.Campaign, error) {
	c, err := s.load(ctx, teamID, id, true)
	if err != nil {
		return nil, err
	}
	if c.Status == models.CampaignStatusPaused && (c.SenderEmail == nil || !c.SenderEmail.Usable()) {
		return nil, ErrSenderNotVerified
	}

	c, err = s.transition(ctx, teamID, id,
		[]models.CampaignStatus{models.CampaignStatusPaused},
		models.CampaignStatusSending,
		map[string]interface{}{"last_progress_at": s.now(), "error": ""})
	if err != nil {
		return nil, err
	}

	if err := s.requeue(ctx, c.ID, outstandingStatuses, nil); err != nil {
		return nil, err
	}
	if !c.ExpansionDone {
		if err := s.queue.EnqueueCampaignProcess(ctx, c.ID, c.ExpansionCursor, 0); err != nil {
			return nil, err
		}
	} else if _, err := s.Finalize(ctx, c.ID); err != nil {
		return nil, err
	}
	return s.load(ctx, teamID, id, false)
}

// Cancel stops the campaign for good; outstanding recipients are SKIPPED.
func (s *CampaignService) Cancel(ctx context.Context, teamID, id string) (*models.Campaign, error) {
	now := s.now()
	c, err := s.transition(ctx, teamID, id,
		[]models.CampaignStatus{
			models.CampaignStatusDraft,
			models.CampaignStatusScheduled,
			models.CampaignStatusSending,
			models.CampaignStatusPaused,
		},
		models.CampaignStatusCancelled,
		map[string]interface{}{"completed_at": now})
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).
		Where("campaign_id = ? AND status IN ?", c.ID, outstandingStatuses).
		Updates(map[string]interface{}{
			"status":     models.RecipientStatusSkipped,
			"last_error": "campaign cancelled",
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		err := s.db.WithContext(ctx).Model(&models.Campaign{}).Where("id = ?", c.ID).
			Update("skipped_count", gorm.Expr("skipped_count + ?", res.RowsAffected)).Error
		if err != nil {
			return nil, err
		}
	}
	return s.load(ctx, teamID, id, false)
}

// Reconcile recovers SENDING campaigns that made no progress within the
// stuck threshold. It returns how many campaigns it acted on.
func (s *CampaignService) Reconcile(ctx context.Context, now time.Time) (int, error) {
	threshold := now.Add(-s.cfg.StuckThreshold)

	var stuck []models.Campaign
	err := s.db.WithContext(ctx).
		Where("status = ? AND (last_progress_at IS NULL OR last_progress_at < ?)", models.CampaignStatusSending, threshold).
		Find(&stuck).Error
	if err != nil {
		return 0, err
	}

	acted := 0
	for i := range stuck {
		c := &stuck[i]
		done, err := s.Finalize(ctx, c.ID)
		if err != nil {
			return acted, err
		}
		if done {
			acted++
			continue
		}

		n, err := s.requeueCount(ctx, c.ID, outstandingStatuses, &threshold)
		if err != nil {
			return acted, err
		}
		if !c.ExpansionDone {
			if _, err := s.queue.ReleaseDeadTasks(ctx, []string{tasks.ProcessTaskID(c.ID, c.ExpansionCursor)}); err != nil {
				return acted, err
			}
			if err := s.queue.EnqueueCampaignProcess(ctx, c.ID, c.ExpansionCursor, 0); err != nil {
				return acted, err
			}
		}
		if err := s.db.WithContext(ctx).Model(c).Update("last_progress_at", now).Error; err != nil {
			return acted, err
		}

		s.log.Warn("recovered stuck campaign",
			zap.String("campaign_id", c.ID),
			zap.Int("requeued", n),
			zap.Bool("expansion_done", c.ExpansionDone),
		)
		acted++
	}
	return acted, nil
}

// RunDueSchedules starts one-time campaigns whose time has come and spawns
// a run for every recurring campaign that is due.
func (s *CampaignService) RunDueSchedules(ctx context.Context, now time.Time) (int, error) {
	started := 0

	var due []models.Campaign
	err := s.db.WithContext(ctx).Preload("Template").Preload("SenderEmail.Domain").
		Where("status = ? AND cron_expression = '' AND scheduled_for <= ?", models.CampaignStatusScheduled, now).
		Find(&due).Error
	if err != nil {
		return 0, err
	}
	for i := range due {
		c := &due[i]
		if err := s.start(ctx, c); err != nil {
			s.failScheduled(ctx, c, err)
			continue
		}
		started++
	}

	var recurring []models.Campaign
	err = s.db.WithContext(ctx).Preload("Template").Preload("SenderEmail.Domain").
		Where("status = ? AND cron_expression <> '' AND parent_id IS NULL AND next_run_at <= ?", models.CampaignStatusScheduled, now).
		Find(&recurring).Error
	if err != nil {
		return started, err
	}
	for i := range recurring {
		ok, err := s.runRecurring(ctx, &recurring[i], now)
		if err != nil {
			return started, err
		}
		if ok {
			started++
		}
	}
	return started, nil
}

func (s *CampaignService) failScheduled(ctx context.Context, c *models.Campaign, cause error) {
	s.log.Warn("scheduled campaign could not start", zap.String("campaign_id", c.ID), zap.Error(cause))
	err := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", c.ID, []models.CampaignStatus{models.CampaignStatusScheduled, models.CampaignStatusDraft}).
		Updates(map[string]interface{}{
			"status":       models.CampaignStatusFailed,
			"error":        truncate(cause.Error(), 500),
			"completed_at": s.now(),
		}).Error
	if err != nil {
		s.log.Error("failed to mark campaign failed", zap.String("campaign_id", c.ID), zap.Error(err))
	}
}

func (s *CampaignService) runRecurring(ctx context.Context, parent *models.Campaign, now time.Time) (bool, error) {
	sched, err := cron.ParseStandard(parent.CronExpression)
	if err != nil {
		s.failScheduled(ctx, parent, err)
		return false, nil
	}

	// claim this run by moving next_run_at past now
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ? AND next_run_at <= ?", parent.ID, models.CampaignStatusScheduled, now).
		Update("next_run_at", sched.Next(now))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	parentID := parent.ID
	run := &models.Campaign{
		Name:          fmt.Sprintf("%s (%s)", parent.Name, now.UTC().Format("2006-01-02 15:04")),
		TeamID:        parent.TeamID,
		TemplateID:    parent.TemplateID,
		SenderEmailID: parent.SenderEmailID,
		SMTPConfigID:  parent.SMTPConfigID,
		Subject:       parent.Subject,
		ListIDs:       parent.ListIDs,
		BatchSize:     parent.BatchSize,
		ParentID:      &parentID,
		Status:        models.CampaignStatusDraft,
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return false, fmt.Errorf("create recurring run: %w", err)
	}
	run.Template = parent.Template
	run.SenderEmail = parent.SenderEmail

	if err := s.start(ctx, run); err != nil {
		s.failScheduled(ctx, run, err)
		return false, nil
	}
	return true, nil
}

func (s *CampaignService) Stats(ctx context.Context, teamID, id string) (*CampaignStats, error) {
	c, err := s.load(ctx, teamID, id, false)
	if err != nil {
		return nil, err
	}
	counts, err := s.recipientCounts(ctx, id)
	if err != nil {
		return nil, err
	}

	sent := counts[models.RecipientStatusSent]
	return &CampaignStats{
		CampaignID:      c.ID,
		Status:          c.Status,
		TotalRecipients: c.TotalRecipients,
		Outstanding:     int64(counts[models.RecipientStatusPending] + counts[models.RecipientStatusQueued]),
		Sent:            sent,
		Failed:          counts[models.RecipientStatusFailed],
		Bounced:         counts[models.RecipientStatusBounced],
		Skipped:         counts[models.RecipientStatusSkipped],
		Opened:          c.OpenedCount,
		Clicked:         c.ClickedCount,
		Unsubscribed:    c.Unsubscribed,
		OpenRate:        rate(c.OpenedCount, sent),
		ClickRate:       rate(c.ClickedCount, sent),
		BounceRate:      rate(counts[models.RecipientStatusBounced], sent+counts[models.RecipientStatusBounced]),
		UnsubscribeRate: rate(c.Unsubscribed, sent),
	}, nil
}

// SendTest renders the campaign for `to` and sends it once, without
// recipients, tracking or usage accounting.
func (s *CampaignService) SendTest(ctx context.Context, teamID, id, to string, vars map[string]string) (string, error) {
	c, err := s.load(ctx, teamID, id, true)
	if err != nil {
		return "", err
	}
	if c.SenderEmail == nil || !c.SenderEmail.Usable() {
		return "", ErrSenderNotVerified
	}
	srv, _, _, err := s.resolveServer(ctx, c)
	if err != nil {
		return "", err
	}
	msg, err := s.renderer.RenderTest(c, to, vars)
	if err != nil {
		return "", err
	}
	return s.sender.Send(ctx, srv, msg)
}

// Recipients lists the per-contact send records of a campaign.
func (s *CampaignService) Recipients(ctx context.Context, teamID, id, status string, page, limit int) ([]models.CampaignRecipient, int64, error) {
	if _, err := s.load(ctx, teamID, id, false); err != nil {
		return nil, 0, err
	}
	q := s.db.WithContext(ctx).Model(&models.CampaignRecipient{}).Where("campaign_id = ?", id)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page > 0 && limit > 0 {
		q = q.Offset((page - 1) * limit).Limit(limit)
	}
	var out []models.CampaignRecipient
	err := q.Order("email").Find(&out).Error
	return out, total, err
}
