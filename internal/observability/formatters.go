// Package observability provides formatted output for the CLI.
package observability

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/jonathan/ats-sync/internal/db"
	"github.com/jonathan/ats-sync/internal/jobs"
	"github.com/jonathan/ats-sync/internal/syncer"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 8
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintResult outputs a summary of one resource pass.
func (p *Printer) PrintResult(res *syncer.Result) {
	if res == nil {
		return
	}
	p.printBox("SYNC "+strings.ToUpper(res.Resource), strings.TrimSuffix(resultBody(res), "\n"))
}

func resultBody(res *syncer.Result) string {
	var sb strings.Builder
	mode := "incremental"
	if res.Full {
		mode = "full"
	}
	fmt.Fprintf(&sb, "Mode:       %s\n", mode)
	if res.Unavailable {
		sb.WriteString("Endpoint:   unavailable (every path returned 404)\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "Endpoint:   %s\n", res.Path)
	fmt.Fprintf(&sb, "Pages:      %d\n", res.Pages)
	fmt.Fprintf(&sb, "Processed:  %d\n", res.Processed)
	fmt.Fprintf(&sb, "Skipped:    %d\n", res.Skipped)
	fmt.Fprintf(&sb, "Failed:     %d\n", res.Failed)
	if res.Pruned > 0 {
		fmt.Fprintf(&sb, "Pruned:     %d\n", res.Pruned)
	}
	if res.Stopped {
		sb.WriteString("Stopped at watermark\n")
	}
	fmt.Fprintf(&sb, "Watermark:  %s\n", formatTime(res.Watermark))
	fmt.Fprintf(&sb, "Duration:   %s\n", res.Duration.Round(time.Millisecond))
	return sb.String()
}

// PrintBatch outputs a summary of an answer enrichment pass.
func (p *Printer) PrintBatch(title string, res *syncer.BatchResult) {
	if res == nil {
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Checked:       %d\n", res.Checked)
	fmt.Fprintf(&sb, "Fully synced:  %d\n", res.FullySynced)
	fmt.Fprintf(&sb, "Answers saved: %d\n", res.Answers)
	fmt.Fprintf(&sb, "Skipped:       %d\n", res.Skipped)
	fmt.Fprintf(&sb, "Failed:        %d", res.Failed)
	p.printBox(strings.ToUpper(title), sb.String())
}

// PrintReport outputs a job report followed by its pass summaries.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintReport(rep *jobs.Report) {
	if rep == nil {
		return
	}
	if !rep.Ran {
		fmt.Fprintf(p.out, "%s: lock held by another worker, nothing to do\n", rep.Job)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Run ID:    %s\n", rep.RunID)
	fmt.Fprintf(&sb, "Attempts:  %d\n", rep.Attempts)
	fmt.Fprintf(&sb, "Duration:  %s\n", rep.Duration.Round(time.Millisecond))
	if len(rep.Results) > 0 {
		sb.WriteString("\n")
		for _, res := range rep.Results {
			fmt.Fprintf(&sb, "%-13s %4d ok %3d skip %3d fail", res.Resource, res.Processed, res.Skipped, res.Failed)
			switch {
			case res.Unavailable:
				sb.WriteString("  n/a")
			case res.Stopped:
				sb.WriteString("  stop")
			}
			sb.WriteString("\n")
		}
	}
	p.printBox("JOB "+strings.ToUpper(rep.Job), strings.TrimSuffix(sb.String(), "\n"))
	if rep.Batch != nil {
		p.PrintBatch(rep.Job, rep.Batch)
	}
}

// PrintSyncStates outputs every resource watermark.
func (p *Printer) PrintSyncStates(states []db.SyncState) {
	if len(states) == 0 {
		p.printBox("SYNC STATES", "No resource has been synced yet")
		return
	}
	var sb strings.Builder
	for _, st := range states {
		fmt.Fprintf(&sb, "%-13s %s\n", st.Resource, formatTime(st.LastSyncedAt))
	}
	p.printBox("SYNC STATES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintCounts outputs table row counts, largest first. Used after dry runs.
func (p *Printer) PrintCounts(counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	tables := slices.Sorted(maps.Keys(counts))
	slices.SortStableFunc(tables, func(a, b string) int { return counts[b] - counts[a] })

	var sb strings.Builder
	shown := min(len(tables), maxItemsToShow)
	for _, table := range tables[:shown] {
		fmt.Fprintf(&sb, "%-32s %6d\n", table, counts[table])
	}
	if len(tables) > shown {
		fmt.Fprintf(&sb, "... and %d more\n", len(tables)-shown)
	}
	p.printBox("ROWS WRITTEN (DRY RUN)", strings.TrimSuffix(sb.String(), "\n"))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
