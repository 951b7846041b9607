package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/ats-sync/internal/config"
	"github.com/jonathan/ats-sync/internal/jobs"
	"github.com/jonathan/ats-sync/internal/observability"
	"github.com/jonathan/ats-sync/internal/synclock"
	"github.com/jonathan/ats-sync/internal/syncer"
)

var (
	syncFull   bool
	syncDryRun bool
)

var syncCmd = &cobra.Command{
	Use:   "sync <resource>",
	Short: "Sync one resource",
	Long: fmt.Sprintf(`Run a single sync pass for one resource. Resources: %s.

Incremental by default: the pass stops once it reaches records older than the
stored watermark. --full walks every page. --dry-run writes to an in-memory
store and prints the row counts it would have written.`, strings.Join(config.Resources, ", ")),
	Args:      cobra.ExactArgs(1),
	ValidArgs: config.Resources,
	RunE:      runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Ignore the watermark and walk every page")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Write to an in-memory store instead of the database")
	rootCmd.AddCommand(syncCmd)
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runSync(cmd *cobra.Command, args []string) error {
	resource := args[0]
	if !slices.Contains(config.Resources, resource) {
		return fmt.Errorf("unknown resource %q (want one of %s)", resource, strings.Join(config.Resources, ", "))
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, syncDryRun, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	printer := observability.NewPrinter(cmd.OutOrStdout())
	opts := syncer.Options{Full: syncFull}

	var res *syncer.Result
	if syncDryRun {
		res, err = a.svc.Sync(ctx, resource, opts)
	} else {
		// Share the poll lock so a manual sync never overlaps the worker.
		var ran bool
		ran, err = synclock.WithLock(ctx, a.store, jobs.KeySync, "ats-sync-cli", cfg.Sync.LockTTL, func(ctx context.Context, lock *synclock.Lock) error {
			opts.Heartbeat = lock.Heartbeat
			var syncErr error
			res, syncErr = a.svc.Sync(ctx, resource, opts)
			return syncErr
		})
		if err == nil && !ran {
			cmd.Println("sync lock held by another worker, try again later")
			return nil
		}
	}
	printer.PrintResult(res)
	if syncDryRun && a.mem != nil {
		printer.PrintCounts(a.mem.Counts())
	}
	return err
}
