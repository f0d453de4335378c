package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vashsender/internal/billing"
	"vashsender/internal/db"
	"vashsender/internal/services"
	"vashsender/internal/tasks"
)

var (
	runSchedules bool
	enqueueOnly  bool
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Campaign maintenance",
}

var campaignsReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Requeue or finish campaigns stuck in SENDING",
	Long: `Runs one reconciliation pass, the same one the scheduler runs periodically.
Campaigns with no progress past the stuck threshold are either completed, when
nothing is left to send, or have their batches enqueued again.

With --schedules, due one-off schedules are started as well. With --enqueue
the pass is handed to the workers instead of running in this process.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	campaignsReconcileCmd.Flags().BoolVar(&runSchedules, "schedules", false, "also start due scheduled campaigns")
	campaignsReconcileCmd.Flags().BoolVar(&enqueueOnly, "enqueue", false, "queue a reconcile task for the workers and exit")
	campaignsCmd.AddCommand(campaignsReconcileCmd)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	queue := tasks.NewTaskClient(cfg.Redis)
	defer queue.Close()

	if enqueueOnly {
		if err := queue.EnqueueReconcile(cmd.Context()); err != nil {
			return fmt.Errorf("enqueue reconcile: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "reconcile task queued")
		return nil
	}

	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	svc := services.NewCampaignService(gdb, services.CampaignDeps{
		Queue:   queue,
		Billing: billing.NewService(gdb, billing.NewProvider(cfg.Billing)),
	}, cfg.Campaign, cfg.Mail)
	now := time.Now()
	out := cmd.OutOrStdout()

	n, err := svc.Reconcile(cmd.Context(), now)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	fmt.Fprintf(out, "reconciled %d campaigns\n", n)

	if runSchedules {
		started, err := svc.RunDueSchedules(cmd.Context(), now)
		if err != nil {
			return fmt.Errorf("run schedules: %w", err)
		}
		fmt.Fprintf(out, "started %d scheduled campaigns\n", started)
	}
	return nil
}
