package cli

// This file contains the history command for displaying previous test runs.

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/perfgo/semitest/history"
	"github.com/perfgo/semitest/model"
)

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func (a *App) history(ctx *cli.Context) error {
	filterPath := ctx.String("path")
	limit := ctx.Int("limit")

	// Get semitest root directory
	root, err := history.GetSemitestRoot()
	if err != nil {
		return err
	}

	// Load all history entries, newest first
	historyEntries, err := history.LoadEntries(a.logger, root)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	// Apply path filter if specified
	var filteredEntries []history.Entry
	for _, entry := range historyEntries {
		if filterPath == "" || strings.Contains(entry.History.WorkDir, filterPath) {
			filteredEntries = append(filteredEntries, entry)
		}
	}

	if len(filteredEntries) == 0 {
		if filterPath != "" {
			fmt.Printf("No history entries found matching path: %s\n", filterPath)
		} else {
			fmt.Println("No history entries found")
		}
		return nil
	}

	// Apply limit
	displayRuns := filteredEntries
	if limit > 0 && limit < len(displayRuns) {
		displayRuns = displayRuns[:limit]
	}

	fmt.Printf("\n=== History (%d total) ===\n\n", len(filteredEntries))
	for _, entry := range displayRuns {
		writeHistoryEntry(os.Stdout, entry)
	}

	fmt.Printf("\nView a run: %s view <ID>\n", AppName)
	fmt.Printf("View its timing profile: %s view <ID> -top\n", AppName)

	return nil
}

// writeHistoryEntry prints the summary block of one run.
func writeHistoryEntry(w io.Writer, entry history.Entry) {
	tr := entry.History
	timestamp := tr.Timestamp.Format("2006-01-02 15:04:05")

	// Format duration
	duration := tr.Duration.Round(time.Millisecond)

	// Determine status indicator
	status := "✓"
	if tr.ExitCode != 0 {
		status = "✗"
	}

	fmt.Fprintf(w, "%s  %s  [%s]  %s  exit=%d  id=%s\n", status, timestamp, duration, tr.Type, tr.ExitCode, shortID(tr.ID))

	// Format args (skip the program name)
	if len(tr.Args) > 1 {
		fmt.Fprintf(w, "   Args: %s\n", strings.Join(tr.Args[1:], " "))
	}
	if tr.WorkDir != "" {
		fmt.Fprintf(w, "   Path: %s\n", tr.WorkDir)
	}
	if t := tr.Target; t != nil {
		fmt.Fprintf(w, "   Target: %s (%s) %s", t.Probe, t.Arch, t.Image)
		if t.RemoteHost != "" {
			fmt.Fprintf(w, " via %s", t.RemoteHost)
		}
		fmt.Fprintln(w)
	}
	if tr.Git != nil && tr.Git.Commit != "" {
		fmt.Fprintf(w, "   Commit: %s", shortID(tr.Git.Commit))
		if tr.Git.Branch != "" {
			fmt.Fprintf(w, " (%s)", tr.Git.Branch)
		}
		fmt.Fprintln(w)
	}
	if tr.Test != nil && tr.Type == model.HistoryTypeTest {
		passed, failed, ignored := tr.Test.Counts()
		fmt.Fprintf(w, "   Tests: %d passed; %d failed; %d ignored; %d filtered out\n", passed, failed, ignored, tr.Test.Filtered)
	}
	if tr.Error != "" {
		fmt.Fprintf(w, "   Error: %s\n", tr.Error)
	}
	for _, artifact := range tr.Artifacts {
		fmt.Fprintf(w, "   %s: %s (%s)\n", artifact.Type, artifact.File, formatSize(artifact.Size))
	}
	fmt.Fprintf(w, "   %s\n\n", entry.FullPath)
}
