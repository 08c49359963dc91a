package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/orchard-run/orchard/internal/config"
	"github.com/orchard-run/orchard/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the orchestration queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth by state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("queue stats: %w", err)
		}
		printHeader("📬 Queue Stats")
		fmt.Printf("Waiting:   %d\n", stats.Waiting)
		fmt.Printf("Active:    %d\n", stats.Active)
		fmt.Printf("Completed: %d\n", stats.Completed)
		fmt.Printf("Failed:    %d\n", stats.Failed)
		return nil
	},
}

var queueRetryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Requeue all permanently failed jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.RetryAllFailed(context.Background(), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("retry failed jobs: %w", err)
		}
		fmt.Printf("Requeued %d failed jobs\n", n)
		return nil
	},
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.New(cfg.Paths.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func init() {
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueRetryFailedCmd)
}
