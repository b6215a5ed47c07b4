package cli

// This file contains run recording functionality for saving run metadata
// to the history directory.

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/perfgo/semitest/history"
	"github.com/perfgo/semitest/model"
)

// prepareHistoryDir creates the run directory for h below the repository
// root and makes h.WorkDir relative to that root.
func (a *App) prepareHistoryDir(h *model.History) (string, error) {
	repoRoot, err := history.RepoRoot()
	if err != nil {
		return "", err
	}

	// Get relative path from repo root
	relPath := "."
	if h.WorkDir != "" {
		if rel, err := filepath.Rel(repoRoot, h.WorkDir); err == nil {
			relPath = rel
		}
	}
	h.WorkDir = relPath

	runDir := history.RunDir(filepath.Join(repoRoot, history.DirName), h)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return runDir, nil
}

func (a *App) recordHistory(h *model.History, runDir string) error {
	if err := history.Write(runDir, h); err != nil {
		return err
	}
	a.logger.Debug().Str("dir", runDir).Str("id", h.ID).Msg("Recorded run")
	return nil
}
