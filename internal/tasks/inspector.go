package tasks

import (
	"fmt"

	"github.com/hibiken/asynq"

	"vashsender/internal/config"
)

// QueueStats is a trimmed view of asynq.QueueInfo for the ops CLI.
type QueueStats struct {
	Queue     string
	Size      int
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
	Completed int
	Paused    bool
}

type Inspector struct {
	inspector *asynq.Inspector
}

func NewInspector(cfg config.RedisConfig) *Inspector {
	return &Inspector{inspector: asynq.NewInspector(RedisClientOpt(cfg))}
}

func (i *Inspector) Close() error {
	return i.inspector.Close()
}

func (i *Inspector) Stats() ([]QueueStats, error) {
	queues, err := i.inspector.Queues()
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}

	stats := make([]QueueStats, 0, len(queues))
	for _, q := range queues {
		info, err := i.inspector.GetQueueInfo(q)
		if err != nil {
			return nil, fmt.Errorf("queue %s: %w", q, err)
		}
		stats = append(stats, QueueStats{
			Queue:     info.Queue,
			Size:      info.Size,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Completed: info.Completed,
			Paused:    info.Paused,
		})
	}
	return stats, nil
}

// Purge deletes pending, scheduled and retry tasks of a queue, and
// archived ones as well when asked. Returns the number deleted.
func (i *Inspector) Purge(queue string, archived bool) (int, error) {
	total := 0
	for _, del := range []func(string) (int, error){
		i.inspector.DeleteAllPendingTasks,
		i.inspector.DeleteAllScheduledTasks,
		i.inspector.DeleteAllRetryTasks,
	} {
		n, err := del(queue)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", queue, err)
		}
		total += n
	}
	if archived {
		n, err := i.inspector.DeleteAllArchivedTasks(queue)
		if err != nil {
			return total, fmt.Errorf("purge archived %s: %w", queue, err)
		}
		total += n
	}
	return total, nil
}
