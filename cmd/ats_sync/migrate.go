package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/logging"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		if err := db.MigrateUp(cfg.Database.URL); err != nil {
			return err
		}
		logging.Info().Msg("schema is up to date")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		if migrateSteps < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}
		if err := db.MigrateDown(cfg.Database.URL, migrateSteps); err != nil {
			return err
		}
		logging.Info().Int("steps", migrateSteps).Msg("migrations rolled back")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		m, err := db.NewMigrator(cfg.Database.URL)
		if err != nil {
			return err
		}
		defer func() { _, _ = m.Close() }()

		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			cmd.Println("no migrations applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		cmd.Printf("version %d (dirty: %t)\n", version, dirty)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "Number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}
