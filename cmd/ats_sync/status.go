package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jobs"
	"github.com/jonathan/ats-sync/internal/observability"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print resource watermarks and lock holders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		store, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer store.Close()

		states, err := store.ListSyncStates(ctx)
		if err != nil {
			return err
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintSyncStates(states)

		for _, key := range []string{jobs.KeySync, jobs.KeyBackfill, jobs.KeyDesyncCheck, jobs.KeyBackfillAnswers} {
			lock, err := store.GetSyncLock(ctx, key)
			if err != nil {
				return err
			}
			switch {
			case lock == nil || lock.LockedBy == nil:
				cmd.Printf("%-28s free\n", key)
			default:
				cmd.Printf("%-28s held by %s since %s\n", key, *lock.LockedBy, formatLockTime(lock))
			}
		}
		return nil
	},
}

func formatLockTime(l *db.SyncLock) string {
	if l.LockedAt == nil {
		return "unknown"
	}
	return l.LockedAt.UTC().Format("2006-01-02T15:04:05Z")
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
