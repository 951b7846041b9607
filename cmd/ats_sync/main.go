// Package main provides the entry point for the ATS sync worker and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/ats-sync/internal/config"
	"github.com/jonathan/ats-sync/internal/logging"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded once before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ats_sync",
	Short: "One-way sync from the Teamtailor ATS into PostgreSQL",
	Long: `ats_sync mirrors job postings, candidates, applications, answers, stage
movements and messages from Teamtailor into the local database.

Run "worker" for the scheduled service, or a single job or resource sync
from the command line.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (defaults to CONFIG_PATH or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (trace, debug, info, warn, error)")
}

func loadConfig(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	logging.Init(logging.Config{
		Level:  loaded.Log.Level,
		Format: loaded.Log.Format,
		Caller: loaded.Log.Caller,
		Output: os.Stderr,
	})
	cfg = loaded
	return nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
