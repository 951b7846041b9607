package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/ats-sync/internal/jobs"
	"github.com/jonathan/ats-sync/internal/observability"
)

var jobDescriptions = map[string]string{
	jobs.JobPoll:            "Incremental pass over applications, jobs, candidates and messages",
	jobs.JobBackfill:        "Full pass over every resource, ignoring watermarks",
	jobs.JobDesyncCheck:     "Reapply answers for applications with unanswered job questions",
	jobs.JobBackfillAnswers: "Resolve answers for applications that are not fully synced",
}

var jobDryRun bool

func init() {
	for _, job := range jobs.Jobs {
		cmd := &cobra.Command{
			Use:   job,
			Short: jobDescriptions[job],
			Long: jobDescriptions[job] + `.

The job runs under its sync lock and exits quietly when another worker holds
it. Transient provider failures are retried with exponential backoff.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runJob(cmd, job)
			},
		}
		cmd.Flags().BoolVar(&jobDryRun, "dry-run", false, "Write to an in-memory store instead of the database")
		rootCmd.AddCommand(cmd)
	}
}

func runJob(cmd *cobra.Command, job string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, jobDryRun, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	printer := observability.NewPrinter(cmd.OutOrStdout())
	rep, err := a.runner.Run(ctx, job)
	printer.PrintReport(rep)
	if jobDryRun && a.mem != nil {
		printer.PrintCounts(a.mem.Counts())
	}
	return err
}
