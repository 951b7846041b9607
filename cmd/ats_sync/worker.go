package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/events"
	"github.com/jonathan/ats-sync/internal/jobs"
	"github.com/jonathan/ats-sync/internal/logging"
	"github.com/jonathan/ats-sync/internal/server"
	"github.com/jonathan/ats-sync/internal/supervisor"
)

var workerMigrate bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the scheduled sync worker with its admin listener",
	Long: `Run poll, answer backfill and desync checks on their configured intervals,
publish application events, and serve /healthz, /metrics, /sync-states and
POST /sync/{job} on the admin address.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerMigrate, "migrate", false, "Apply pending migrations before starting")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if workerMigrate {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		if err := db.MigrateUp(cfg.Database.URL); err != nil {
			return err
		}
	}

	bus := events.NewBus(0)
	defer func() { _ = bus.Close() }()

	a, err := newApp(ctx, cfg, false, bus)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler := jobs.NewScheduler(a.runner, jobs.DefaultSchedules(cfg.Sync), cfg.Sync.Jitter)
	admin := server.New(server.Config{
		Addr:              cfg.Metrics.Addr,
		AdminToken:        cfg.Metrics.AdminToken,
		TriggersPerMinute: cfg.Metrics.TriggersPerMinute,
	}, a.store, scheduler, a.pg)

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddSyncService(scheduler)
	tree.AddSyncService(supervisor.Func{
		Name: "event-log-sink",
		Run:  func(ctx context.Context) error { return events.LogSink(ctx, bus) },
	})
	tree.AddAdminService(admin)

	logging.Info().
		Str("admin_addr", cfg.Metrics.Addr).
		Dur("interval", cfg.Sync.Interval).
		Dur("answers_interval", cfg.Sync.AnswersInterval).
		Dur("desync_interval", cfg.Sync.DesyncInterval).
		Msg("worker starting")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop in time")
		}
	}
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("worker stopped")
		return nil
	}
	return err
}
