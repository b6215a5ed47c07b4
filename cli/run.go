package cli

// This file contains a single test run: load, attach, flash, list, run and
// record.

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/perfgo/semitest/image"
	"github.com/perfgo/semitest/model"
	"github.com/perfgo/semitest/orchestrator"
	"github.com/perfgo/semitest/session"
)

// invocation is one parsed test command line.
type invocation struct {
	settings  settings
	imagePath string
	testArgs  testArgs
	// rawArgs are the arguments after the image, as given.
	rawArgs []string
	argv    []string
}

// prefix is the command line up to and including the image.
func (inv invocation) prefix() []string {
	return inv.argv[:len(inv.argv)-len(inv.rawArgs)]
}

// runOnce runs the invocation and returns the exit code for test outcomes.
// A non-nil error is fatal.
func (a *App) runOnce(ctx context.Context, inv invocation) (exitCode int, err error) {
	startTime := time.Now()

	runID, err := newRunID()
	if err != nil {
		return exitFatal, err
	}

	historyType := model.HistoryTypeTest
	if inv.testArgs.List {
		historyType = model.HistoryTypeList
	}

	// Prepare history recording
	h := &model.History{
		ID:        runID,
		Type:      historyType,
		Timestamp: startTime,
		Args:      inv.argv,
	}

	// Capture working directory
	if cwd, err := os.Getwd(); err == nil {
		h.WorkDir = cwd
	}

	// Capture git info (non-fatal if it fails)
	if g, err := a.gitInfo(); err == nil {
		h.Git = g
	} else {
		a.logger.Debug().Err(err).Msg("No git information")
	}

	// Create history directory early so artifacts can be written directly to it
	var runDir string
	if !inv.settings.NoHistory {
		dir, perr := a.prepareHistoryDir(h)
		if perr != nil {
			a.logger.Warn().Err(perr).Msg("Failed to prepare history directory, not recording this run")
		}
		runDir = dir
	}

	defer func() {
		h.Duration = time.Since(startTime)
		h.ExitCode = exitCode
		if err != nil {
			h.ExitCode = exitFatal
			h.Error = err.Error()
		}
		if runDir == "" {
			return
		}
		// Record the history (non-fatal if it fails)
		if err := a.recordHistory(h, runDir); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to record history")
		}
	}()

	img, err := image.Load(a.logger, inv.imagePath)
	if err != nil {
		return exitFatal, err
	}
	arch, err := resolveArch(inv.settings, img)
	if err != nil {
		return exitFatal, err
	}

	pt, err := a.openProbe(inv.settings, img, arch)
	if err != nil {
		return exitFatal, err
	}
	defer pt.close()
	h.Target = pt.info

	if runDir != "" {
		a.saveImage(runDir, h, img)
	}

	sess, err := session.Attach(ctx, a.logger, pt.dial, arch, session.WithPollInterval(inv.settings.PollInterval))
	if err != nil {
		return exitFatal, err
	}
	defer func() {
		// The run context may be canceled already
		if cerr := sess.Close(context.Background()); cerr != nil {
			a.logger.Warn().Err(cerr).Msg("Failed to close probe session")
		}
	}()

	a.logger.Debug().Str("probe", pt.info.Probe).Str("arch", arch.Name).Msg("Session attached")
	if err := sess.Flash(ctx, pt.image); err != nil {
		return exitFatal, err
	}

	orch := orchestrator.New(a.logger, sess,
		orchestrator.WithDefaultTimeout(inv.settings.Timeout),
		orchestrator.WithBootTimeout(inv.settings.BootTimeout),
	)

	list, err := orch.List(ctx)
	if err != nil {
		return exitFatal, err
	}

	if inv.testArgs.List {
		planned, filtered := orchestrator.Select(list, inv.testArgs.Selection)
		orchestrator.WriteList(os.Stdout, planned)
		h.Test = &model.TestRun{TestArgs: inv.rawArgs, Listed: len(list.Tests), Filtered: filtered}
		for _, p := range planned {
			h.Test.Results = append(h.Test.Results, model.TestResult{Name: p.Entry.Name})
		}
		return 0, nil
	}

	var out bytes.Buffer
	report, runErr := orch.Run(ctx, list, inv.testArgs.Selection, io.MultiWriter(os.Stdout, &out))

	h.Test = &model.TestRun{
		TestArgs: inv.rawArgs,
		Listed:   len(list.Tests),
		Filtered: report.Filtered,
		Results:  testResults(report.Results),
	}
	if runDir != "" {
		a.saveRunArtifacts(runDir, h, report, out.Bytes())
	}

	if runErr != nil {
		return exitFatal, runErr
	}

	a.printRerunHints(inv, report)
	return report.ExitCode(), nil
}

// testResults converts orchestrator results into their history form.
func testResults(results []orchestrator.Result) []model.TestResult {
	out := make([]model.TestResult, 0, len(results))
	for _, r := range results {
		out = append(out, model.TestResult{
			Name:     r.Name,
			Result:   r.Kind.String(),
			Duration: r.Duration,
			ExitCode: r.ExitCode,
			Message:  r.Message,
		})
	}
	return out
}

func (a *App) printRerunHints(inv invocation, report *orchestrator.Report) {
	failures := report.Failures()
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "To rerun a failed test:")
	for _, f := range failures {
		fmt.Fprintf(os.Stderr, "  %s\n", rerunCommand(inv.prefix(), f.Name))
	}
}
