package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/orchard-run/orchard/internal/api"
	"github.com/orchard-run/orchard/internal/config"
)

var serveHost string
var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration API server and worker pool",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	printHeader("🌱 Orchard Server")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeps, err := startSweeps(ctx, rt)
	if err != nil {
		return err
	}
	defer sweeps.Stop()

	go func() {
		if err := rt.queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("queue stopped", "error", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		Store:        rt.store,
		Saver:        rt.saver,
		Threads:      rt.threads,
		Orchestrator: rt.orch,
		Workflow:     rt.workflow,
		Queue:        rt.queue,
		Approvals:    rt.approvals,
		Memories:     rt.memories,
		Token:        cfg.Server.AuthToken,
	})
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "addr", addr, "workers", cfg.Queue.Workers)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}
	return nil
}

// startSweeps schedules the background maintenance jobs: approval expiry,
// inactive thread archiving, and the stale job reaper.
func startSweeps(ctx context.Context, rt *runtime) (*cron.Cron, error) {
	sweep := func() {
		if n, err := rt.approvals.SweepExpired(ctx, rt.cfg.Policy.ApprovalTimeout); err != nil {
			slog.Warn("approval sweep failed", "error", err)
		} else if n > 0 {
			slog.Info("expired approvals", "count", n)
		}
		if n, err := rt.threads.ArchiveInactive(ctx, rt.cfg.Maintenance.ArchiveAfter); err != nil {
			slog.Warn("archive sweep failed", "error", err)
		} else if n > 0 {
			slog.Info("archived inactive threads", "count", n)
		}
		if n, err := rt.queue.ReapStale(ctx); err != nil {
			slog.Warn("stale job reap failed", "error", err)
		} else if n > 0 {
			slog.Info("reaped stale jobs", "count", n)
		}
	}
	c := cron.New()
	if _, err := c.AddFunc(rt.cfg.Maintenance.SweepSchedule, sweep); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", rt.cfg.Maintenance.SweepSchedule, err)
	}
	// Catch up on anything that expired while the process was down.
	sweep()
	c.Start()
	return c, nil
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queue workers without the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("⚙️ Orchard Worker")

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		rt, err := buildRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sweeps, err := startSweeps(ctx, rt)
		if err != nil {
			return err
		}
		defer sweeps.Stop()

		fmt.Printf("Workers: %d\n", cfg.Queue.Workers)
		if err := rt.queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Fprintln(os.Stdout, "Worker stopped.")
		return nil
	},
}
