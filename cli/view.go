package cli

// This file contains the view command for displaying test results from history.

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/semitest/history"
	"github.com/perfgo/semitest/model"
)

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

func parseViewArgs(in []string) (idArg string, pprofArgs []string) {
	if len(in) == 0 {
		return "0", nil
	}

	// If first arg is "--", use default "0" and rest are pprof args
	if in[0] == "--" {
		return "0", in[1:]
	}

	// Check if first arg looks like a pprof flag instead of an ID
	// A negative index is: "-" followed by only digits (e.g., "-1", "-2")
	// A pprof flag is: "-" followed by non-digit or equals (e.g., "-http=:8080", "-top")
	if len(in[0]) > 1 && in[0][0] == '-' {
		// Check if it's a valid negative integer
		if _, err := strconv.ParseInt(in[0], 10, 64); err != nil {
			// Not a valid negative integer, so it's a pprof flag
			return "0", in
		}
	}

	// First arg is the ID/index, rest are pprof args (with optional "--" removed)
	return in[0], removeFirstDashDash(in[1:])
}

func (a *App) view(ctx *cli.Context) error {
	// Parse arguments to extract ID/index and pprof args
	arg, pprofArgs := parseViewArgs(ctx.Args().Slice())

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

	if len(historyEntries) == 0 {
		return fmt.Errorf("no history entries found")
	}

	targetEntry, err := history.Find(historyEntries, arg)
	if err != nil {
		return err
	}

	// Display the entry
	return a.displayHistoryEntry(targetEntry, pprofArgs)
}

func findArtifact(h *model.History, t model.ArtifactType) *model.Artifact {
	for i := range h.Artifacts {
		if h.Artifacts[i].Type == t {
			return &h.Artifacts[i]
		}
	}
	return nil
}

func (a *App) displayHistoryEntry(entry *history.Entry, pprofArgs []string) error {
	h := entry.History

	// pprof arguments ask for the timing profile
	if len(pprofArgs) > 0 {
		profileArtifact := findArtifact(&h, model.ArtifactTypeTimingProfile)
		if profileArtifact == nil {
			return fmt.Errorf("run %s has no timing profile", shortID(h.ID))
		}
		return a.displayProfile(entry.FullPath, profileArtifact, pprofArgs)
	}

	writeRunHeader(os.Stdout, &h)

	if reportArtifact := findArtifact(&h, model.ArtifactTypeReport); reportArtifact != nil {
		return a.displayReport(entry.FullPath, reportArtifact)
	}

	if h.Test != nil {
		writeTestResults(os.Stdout, entry.FullPath, h.Test)
		return nil
	}

	// No displayable artifacts found
	fmt.Println("No displayable artifacts found")
	fmt.Printf("History directory: %s\n", entry.FullPath)
	return nil
}

func writeRunHeader(w io.Writer, h *model.History) {
	fmt.Fprintf(w, "=== Test Run: %s ===\n", shortID(h.ID))
	fmt.Fprintf(w, "Time: %s\n", h.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n", h.Duration)
	fmt.Fprintf(w, "Exit Code: %d\n", h.ExitCode)
	if h.WorkDir != "" {
		fmt.Fprintf(w, "Working Dir: %s\n", h.WorkDir)
	}
	if h.Git != nil && h.Git.Commit != "" {
		fmt.Fprintf(w, "Git Commit: %s", shortID(h.Git.Commit))
		if h.Git.Branch != "" {
			fmt.Fprintf(w, " (%s)", h.Git.Branch)
		}
		fmt.Fprintln(w)
	}
	if t := h.Target; t != nil {
		fmt.Fprintf(w, "Image: %s\n", t.Image)
		fmt.Fprintf(w, "Probe: %s (%s)", t.Probe, t.Arch)
		if t.ProbeAddr != "" {
			fmt.Fprintf(w, " at %s", t.ProbeAddr)
		}
		if t.RemoteHost != "" {
			fmt.Fprintf(w, " via %s", t.RemoteHost)
		}
		fmt.Fprintln(w)
		if t.ProbeVersion != "" {
			fmt.Fprintf(w, "Probe Server: %s\n", t.ProbeVersion)
		}
	}
	if h.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", h.Error)
	}
	fmt.Fprintln(w)
}

// writeTestResults prints one line per recorded test.
func writeTestResults(w io.Writer, runDir string, t *model.TestRun) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range t.Results {
		result := r.Result
		if result == "" {
			result = "listed"
		}
		line := fmt.Sprintf("%s\t%s\t%s", r.Name, result, r.Duration.Round(time.Millisecond))
		if r.Message != "" {
			line += "\t" + r.Message
		}
		if r.LogFile != "" {
			line += "\t" + filepath.Join(runDir, r.LogFile)
		}
		fmt.Fprintln(tw, line)
	}
	_ = tw.Flush()
}

func (a *App) displayProfile(runDir string, artifact *model.Artifact, pprofArgs []string) error {
	profilePath := filepath.Join(runDir, artifact.File)
	fmt.Printf("Profile: %s (%s)\n", profilePath, formatSize(artifact.Size))

	// Build pprof command with any additional args
	args := []string{"tool", "pprof"}
	args = append(args, pprofArgs...)
	args = append(args, profilePath)

	cmd := exec.Command("go", args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = runDir

	a.logger.Debug().Str("command", shellescape.QuoteCommand(cmd.Args)).Msg("Running pprof")
	return cmd.Run()
}

func (a *App) displayReport(runDir string, artifact *model.Artifact) error {
	reportPath := filepath.Join(runDir, artifact.File)
	fmt.Printf("Report: %s\n", reportPath)
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
