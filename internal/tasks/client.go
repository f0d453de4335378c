package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"vashsender/internal/config"
	"vashsender/internal/utils/logger"
)

// TaskClient enqueues background work.
type TaskClient struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	logger    *logger.Logger
	// SendRetries is the retry budget of one recipient send.
	SendRetries int
}

func RedisClientOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewTaskClient creates a new TaskClient with the given Redis configuration
func NewTaskClient(cfg config.RedisConfig) *TaskClient {
	return &TaskClient{
		client:      asynq.NewClient(RedisClientOpt(cfg)),
		inspector:   asynq.NewInspector(RedisClientOpt(cfg)),
		logger:      logger.New("TASKS"),
		SendRetries: RetryMax,
	}
}

// Close closes the underlying asynq client
func (c *TaskClient) Close() error {
	if err := c.inspector.Close(); err != nil {
		c.logger.Warn("failed to close inspector: %v", err)
	}
	return c.client.Close()
}

func SendTaskID(recipientID string) string {
	return "send:" + recipientID
}

func ProcessTaskID(campaignID, cursor string) string {
	return fmt.Sprintf("process:%s:%s", campaignID, cursor)
}

// queueForTaskID returns the queue tasks with the given id are sent to.
func queueForTaskID(taskID string) string {
	if strings.HasPrefix(taskID, "send:") {
		return QueueCritical
	}
	return QueueDefault
}

// ReleaseDeadTasks deletes archived tasks holding the given ids so the same
// work can be enqueued again. Pending, scheduled, retrying and active tasks
// are left alone. Returns how many were released.
func (c *TaskClient) ReleaseDeadTasks(ctx context.Context, taskIDs []string) (int, error) {
	released := 0
	for _, id := range taskIDs {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		queue := queueForTaskID(id)
		info, err := c.inspector.GetTaskInfo(queue, id)
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			return released, fmt.Errorf("inspect task %s: %w", id, err)
		}
		if info.State != asynq.TaskStateArchived && info.State != asynq.TaskStateCompleted {
			continue
		}
		if err := c.inspector.DeleteTask(queue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return released, fmt.Errorf("delete task %s: %w", id, err)
		}
		released++
	}
	if released > 0 {
		c.logger.Info("released %d dead tasks", released)
	}
	return released, nil
}

// enqueue swallows task id conflicts: the work is already queued.
func (c *TaskClient) enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal %s task: %w", taskType, err)
	}

	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(taskType, body), opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			c.logger.Debug("%s task already queued", taskType)
			return false, nil
		}
		return false, fmt.Errorf("failed to enqueue %s task: %w", taskType, err)
	}

	c.logger.Debug("Enqueued %s task [%s] in queue %s", taskType, info.ID, info.Queue)
	return true, nil
}

// EnqueueCampaignProcess schedules expansion of the next recipient batch.
func (c *TaskClient) EnqueueCampaignProcess(ctx context.Context, campaignID, cursor string, delay time.Duration) error {
	opts := []asynq.Option{
		asynq.Queue(QueueDefault),
		asynq.TaskID(ProcessTaskID(campaignID, cursor)),
		asynq.Timeout(TimeoutMedium),
		asynq.MaxRetry(RetryMax),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	created, err := c.enqueue(ctx, TaskTypeCampaignProcess, CampaignProcessTask{
		CampaignID: campaignID,
		Cursor:     cursor,
	}, opts...)
	if err != nil {
		return err
	}
	if created {
		c.logger.Info("🚀 Enqueued campaign [%s] batch after cursor %q", campaignID, cursor)
	}
	return nil
}

// EnqueueRecipientSend queues one delivery. A recipient is never queued
// twice while its task is pending or running.
func (c *TaskClient) EnqueueRecipientSend(ctx context.Context, campaignID, recipientID string) error {
	_, err := c.enqueue(ctx, TaskTypeCampaignSend, CampaignSendTask{
		RecipientID: recipientID,
		CampaignID:  campaignID,
	},
		asynq.Queue(QueueCritical),
		asynq.TaskID(SendTaskID(recipientID)),
		asynq.Timeout(TimeoutShort),
		asynq.MaxRetry(c.SendRetries),
	)
	return err
}

func (c *TaskClient) EnqueueContactImport(ctx context.Context, importID string) error {
	_, err := c.enqueue(ctx, TaskTypeContactImport, ContactImportTask{ImportID: importID},
		asynq.Queue(QueueDefault),
		asynq.TaskID("import:"+importID),
		asynq.Timeout(TimeoutLong),
		asynq.MaxRetry(RetryDefault),
	)
	return err
}

func (c *TaskClient) EnqueueDomainVerification(ctx context.Context, domainID string) error {
	_, err := c.enqueue(ctx, TaskTypeDomainVerification, DomainVerificationTask{DomainID: domainID},
		asynq.Queue(QueueLow),
		asynq.MaxRetry(RetryMin),
		asynq.Timeout(TimeoutShort),
	)
	return err
}

// EnqueueReconcile triggers a reconciliation pass outside the schedule.
func (c *TaskClient) EnqueueReconcile(ctx context.Context) error {
	_, err := c.enqueue(ctx, TaskTypeCampaignReconcile, struct{}{},
		asynq.Queue(QueueLow),
		asynq.MaxRetry(RetryMin),
		asynq.Timeout(TimeoutMedium),
	)
	return err
}
