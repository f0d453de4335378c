package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"vashsender/internal/config"
	"vashsender/internal/utils/logger"
)

// Server handles task processing
type Server struct {
	server  *asynq.Server
	handler *TaskHandler
	logger  *logger.Logger
}

// IsFailure keeps throttling out of the retry budget.
func IsFailure(err error) bool {
	return !IsRateLimitError(err)
}

// RetryDelay honours the delay a RateLimitError asks for.
func RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryIn > 0 {
		return rl.RetryIn
	}
	return asynq.DefaultRetryDelayFunc(n, err, t)
}

// NewServer creates a new task processing server
func NewServer(redis config.RedisConfig, worker config.WorkerConfig, handler *TaskHandler, log *logger.Logger) *Server {
	concurrency := worker.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	server := asynq.NewServer(
		RedisClientOpt(redis),
		asynq.Config{
			Concurrency:     concurrency,
			Queues:          Queues,
			StrictPriority:  true,
			IsFailure:       IsFailure,
			RetryDelayFunc:  RetryDelay,
			ShutdownTimeout: worker.ShutdownTimeout,
			Logger:          log.Sugar(),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				if IsRateLimitError(err) {
					return
				}
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.Zap().Error("task failed",
					zap.String("type", task.Type()),
					zap.Int("retried", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err),
				)
			}),
		},
	)

	return &Server{
		server:  server,
		handler: handler,
		logger:  log,
	}
}

// Start starts the task processing server
func (s *Server) Start() error {
	s.logger.Info("starting task processing server with queues %v", Queues)

	if err := s.server.Start(s.handler.Mux()); err != nil {
		return fmt.Errorf("failed to start task server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the task processing server
func (s *Server) Shutdown() {
	s.logger.Info("shutting down task processing server")
	s.server.Shutdown()
}
