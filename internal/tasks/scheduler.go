package tasks

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"vashsender/internal/config"
	"vashsender/internal/utils/logger"
)

// Scheduler handles periodic task scheduling
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    *logger.Logger
}

type periodic struct {
	spec     string
	taskType string
	opts     []asynq.Option
}

var periodicTasks = []periodic{
	// due one-time and recurring campaigns (every minute)
	{"* * * * *", TaskTypeCampaignSchedule, []asynq.Option{
		asynq.Queue(QueueDefault), asynq.MaxRetry(RetryMin), asynq.Timeout(TimeoutShort), asynq.Unique(time.Minute),
	}},
	// stuck campaign recovery (every 5 minutes)
	{"*/5 * * * *", TaskTypeCampaignReconcile, []asynq.Option{
		asynq.Queue(QueueLow), asynq.MaxRetry(RetryMin), asynq.Timeout(TimeoutMedium), asynq.Unique(5 * time.Minute),
	}},
	// domain re-verification (hourly)
	{"0 * * * *", TaskTypeDomainCheck, []asynq.Option{
		asynq.Queue(QueueLow), asynq.MaxRetry(RetryMin), asynq.Timeout(TimeoutLong), asynq.Unique(time.Hour),
	}},
}

// NewScheduler creates a new task scheduler
func NewScheduler(redis config.RedisConfig, log *logger.Logger) *Scheduler {
	scheduler := asynq.NewScheduler(
		RedisClientOpt(redis),
		&asynq.SchedulerOpts{
			Logger:   log.Sugar(),
			Location: time.UTC,
		},
	)

	return &Scheduler{
		scheduler: scheduler,
		logger:    log,
	}
}

// Start registers the periodic tasks and starts the scheduler in the background.
func (s *Scheduler) Start() error {
	if err := s.registerTasks(); err != nil {
		return fmt.Errorf("failed to register tasks: %w", err)
	}

	s.logger.Info("starting task scheduler")
	return s.scheduler.Start()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.scheduler.Shutdown()
	s.logger.Info("task scheduler stopped")
}

func (s *Scheduler) registerTasks() error {
	for _, p := range periodicTasks {
		entryID, err := s.scheduler.Register(p.spec, asynq.NewTask(p.taskType, nil, p.opts...))
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", p.taskType, err)
		}
		s.logger.Debug("registered %s (%s) as %s", p.taskType, p.spec, entryID)
	}

	s.logger.Info("registered all periodic tasks")
	return nil
}
