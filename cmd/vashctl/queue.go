package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"vashsender/internal/tasks"
)

var purgeArchived bool

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the task queues",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show task counts per queue",
	Args:  cobra.NoArgs,
	RunE:  runQueueStats,
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge <queue>",
	Short: "Delete pending, scheduled and retry tasks from a queue",
	Long: `Deletes every pending, scheduled and retry task of the queue. Active tasks
are left alone. Pass --archived to also drop dead tasks.`,
	Args: cobra.ExactArgs(1),
	RunE: runQueuePurge,
}

func init() {
	queuePurgeCmd.Flags().BoolVar(&purgeArchived, "archived", false, "also delete archived tasks")
	queueCmd.AddCommand(queueStatsCmd, queuePurgeCmd)
}

func openInspector() (*tasks.Inspector, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return tasks.NewInspector(cfg.Redis), nil
}

func runQueueStats(cmd *cobra.Command, _ []string) error {
	insp, err := openInspector()
	if err != nil {
		return err
	}
	defer insp.Close()

	stats, err := insp.Stats()
	if err != nil {
		return err
	}
	writeQueueStats(cmd, stats)
	return nil
}

func writeQueueStats(cmd *cobra.Command, stats []tasks.QueueStats) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tSIZE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED\tCOMPLETED\tPAUSED")
	for _, q := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%t\n",
			q.Queue, q.Size, q.Pending, q.Active, q.Scheduled, q.Retry, q.Archived, q.Completed, q.Paused)
	}
	w.Flush()
}

func runQueuePurge(cmd *cobra.Command, args []string) error {
	insp, err := openInspector()
	if err != nil {
		return err
	}
	defer insp.Close()

	n, err := insp.Purge(args[0], purgeArchived)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d tasks from %s\n", n, args[0])
	return nil
}
