package cli

// This file contains Git integration utilities for retrieving
// repository information.

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/perfgo/semitest/model"
)

func gitOutput(args ...string) (string, error) {
	output, err := exec.Command("git", args...).Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(output)), nil
}

// gitInfo describes the checkout the image was presumably built from.
func (a *App) gitInfo() (*model.Git, error) {
	commit, err := gitOutput("rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	branch, err := gitOutput("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}
	g := &model.Git{Commit: commit, Branch: branch}
	if root, err := gitOutput("rev-parse", "--show-toplevel"); err == nil {
		g.Repo = filepath.Base(root)
	}
	return g, nil
}
