package history

// This file contains shared history utilities for locating, writing,
// loading and resolving recorded runs.

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/perfgo/semitest/model"
	"github.com/rs/zerolog"
)

// DirName is the directory below the repository root that holds history.
const DirName = ".semitest"

// FileName is the metadata file in every run directory.
const FileName = "history.json"

type Entry struct {
	History  model.History
	FullPath string
}

// RepoRoot returns the root of the git repository containing the working
// directory.
func RepoRoot() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not in a git repository: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// GetSemitestRoot returns the .semitest directory path from the git
// repository root.
func GetSemitestRoot() (string, error) {
	repoRoot, err := RepoRoot()
	if err != nil {
		return "", err
	}
	root := filepath.Join(repoRoot, DirName)

	// Check if .semitest directory exists
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return "", fmt.Errorf("no test runs found in %s", root)
	}

	return root, nil
}

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// RunDir returns the directory a run is recorded in:
// <root>/history/<timestamp>-<commit>-<id>.
func RunDir(root string, h *model.History) string {
	commit := "nocommit"
	if h.Git != nil && h.Git.Commit != "" {
		commit = short(h.Git.Commit)
	}
	name := fmt.Sprintf("%s-%s-%s", h.Timestamp.Format("20060102-150405"), commit, short(h.ID))
	return filepath.Join(root, "history", name)
}

// Write stores h as the metadata of the run in dir.
func Write(dir string, h *model.History) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), data, 0644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// LoadEntries loads all history entries below root, newest first.
func LoadEntries(logger zerolog.Logger, root string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			historyPath := filepath.Join(path, FileName)
			if _, err := os.Stat(historyPath); err == nil {
				history, err := parseHistoryJSON(historyPath)
				if err != nil {
					logger.Warn().Err(err).Str("path", historyPath).Msg("Failed to parse history.json")
					return nil
				}

				entries = append(entries, Entry{
					History:  history,
					FullPath: path,
				})
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk %s directory: %w", DirName, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].History.Timestamp.After(entries[j].History.Timestamp)
	})
	return entries, nil
}

// Find resolves a view argument against entries sorted newest first: 0 is
// the last run, -1 the one before, anything else a hex ID prefix.
func Find(entries []Entry, arg string) (*Entry, error) {
	if parsed, err := strconv.ParseInt(arg, 10, 64); err == nil {
		if parsed > 0 {
			return nil, fmt.Errorf("invalid index: %s (use 0 for last, -1 for second-to-last, -2 for third-to-last, etc.)", arg)
		}
		index := int(-parsed)
		if index >= len(entries) {
			return nil, fmt.Errorf("index %s out of range (only %d history entries)", arg, len(entries))
		}
		return &entries[index], nil
	}

	hexID := strings.ToLower(arg)
	for i := range entries {
		if strings.HasPrefix(strings.ToLower(entries[i].History.ID), hexID) {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("no history entry found matching ID: %s", arg)
}

// parseHistoryJSON parses a history.json file.
func parseHistoryJSON(historyPath string) (model.History, error) {
	data, err := os.ReadFile(historyPath)
	if err != nil {
		return model.History{}, err
	}

	var history model.History
	if err := json.Unmarshal(data, &history); err != nil {
		return model.History{}, err
	}

	return history, nil
}
