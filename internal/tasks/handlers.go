package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// CampaignRunner is the campaign pipeline as seen by the workers.
type CampaignRunner interface {
	ProcessBatch(ctx context.Context, campaignID, cursor string) error
	// SendRecipient delivers one message; finalAttempt is true when the
	// queue will not retry again.
	SendRecipient(ctx context.Context, recipientID string, finalAttempt bool) error
	Reconcile(ctx context.Context, now time.Time) (int, error)
	RunDueSchedules(ctx context.Context, now time.Time) (int, error)
}

type ContactImporter interface {
	RunImport(ctx context.Context, importID string) error
}

type DomainVerifier interface {
	VerifyDomainByID(ctx context.Context, domainID string) error
	CheckPending(ctx context.Context, now time.Time) (int, error)
}

// TaskHandler handles task processing
type TaskHandler struct {
	campaigns CampaignRunner
	imports   ContactImporter
	domains   DomainVerifier
	logger    *zap.Logger
	now       func() time.Time
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(campaigns CampaignRunner, imports ContactImporter, domains DomainVerifier, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		campaigns: campaigns,
		imports:   imports,
		domains:   domains,
		logger:    logger,
		now:       time.Now,
	}
}

// Mux routes every task type to its handler.
func (h *TaskHandler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeCampaignProcess, h.HandleCampaignProcess)
	mux.HandleFunc(TaskTypeCampaignSend, h.HandleCampaignSend)
	mux.HandleFunc(TaskTypeCampaignReconcile, h.HandleCampaignReconcile)
	mux.HandleFunc(TaskTypeCampaignSchedule, h.HandleCampaignSchedule)
	mux.HandleFunc(TaskTypeContactImport, h.HandleContactImport)
	mux.HandleFunc(TaskTypeDomainVerification, h.HandleDomainVerification)
	mux.HandleFunc(TaskTypeDomainCheck, h.HandleDomainCheck)
	return mux
}

// HandleCampaignProcess expands one batch of campaign recipients
func (h *TaskHandler) HandleCampaignProcess(ctx context.Context, t *asynq.Task) error {
	var task CampaignProcessTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil || task.CampaignID == "" {
		return fmt.Errorf("failed to unmarshal campaign task: %w", asynq.SkipRetry)
	}

	h.logger.Info("processing campaign batch",
		zap.String("campaign_id", task.CampaignID),
		zap.String("cursor", task.Cursor),
	)

	return h.campaigns.ProcessBatch(ctx, task.CampaignID, task.Cursor)
}

// HandleCampaignSend delivers a campaign email to one recipient
func (h *TaskHandler) HandleCampaignSend(ctx context.Context, t *asynq.Task) error {
	var task CampaignSendTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil || task.RecipientID == "" {
		return fmt.Errorf("failed to unmarshal send task: %w", asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	final := !ok || retried >= maxRetry

	err := h.campaigns.SendRecipient(ctx, task.RecipientID, final)
	if err != nil && !IsRateLimitError(err) {
		h.logger.Warn("recipient send failed",
			zap.String("recipient_id", task.RecipientID),
			zap.String("campaign_id", task.CampaignID),
			zap.Int("retried", retried),
			zap.Error(err),
		)
	}
	return err
}

func (h *TaskHandler) HandleCampaignReconcile(ctx context.Context, _ *asynq.Task) error {
	n, err := h.campaigns.Reconcile(ctx, h.now())
	if err != nil {
		return fmt.Errorf("reconcile campaigns: %w", err)
	}
	if n > 0 {
		h.logger.Info("reconciled stuck campaigns", zap.Int("count", n))
	}
	return nil
}

func (h *TaskHandler) HandleCampaignSchedule(ctx context.Context, _ *asynq.Task) error {
	n, err := h.campaigns.RunDueSchedules(ctx, h.now())
	if err != nil {
		return fmt.Errorf("run due campaigns: %w", err)
	}
	if n > 0 {
		h.logger.Info("started scheduled campaigns", zap.Int("count", n))
	}
	return nil
}

// HandleContactImport processes a contact import task
func (h *TaskHandler) HandleContactImport(ctx context.Context, t *asynq.Task) error {
	var task ContactImportTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil || task.ImportID == "" {
		return fmt.Errorf("failed to unmarshal contact import task: %w", asynq.SkipRetry)
	}

	h.logger.Info("processing contact import task", zap.String("import_id", task.ImportID))
	return h.imports.RunImport(ctx, task.ImportID)
}

// HandleDomainVerification processes a domain verification task
func (h *TaskHandler) HandleDomainVerification(ctx context.Context, t *asynq.Task) error {
	var task DomainVerificationTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil || task.DomainID == "" {
		return fmt.Errorf("failed to unmarshal domain verification task: %w", asynq.SkipRetry)
	}

	h.logger.Info("processing domain verification task", zap.String("domain_id", task.DomainID))
	return h.domains.VerifyDomainByID(ctx, task.DomainID)
}

func (h *TaskHandler) HandleDomainCheck(ctx context.Context, _ *asynq.Task) error {
	n, err := h.domains.CheckPending(ctx, h.now())
	if err != nil {
		return fmt.Errorf("check domains: %w", err)
	}
	h.logger.Debug("re-checked domains", zap.Int("count", n))
	return nil
}
