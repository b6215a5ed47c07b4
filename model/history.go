package model

import "time"

// HistoryType represents the type of history entry
type HistoryType string

const (
	HistoryTypeTest HistoryType = "test"
	HistoryTypeList HistoryType = "list"
)

// History represents a single semitest invocation against one image.
// It contains common fields shared by all execution types.
type History struct {
	// Unique ID for this execution (16 random bytes, hex encoded)
	ID string `json:"id"`
	// Type of execution (test or list)
	Type HistoryType `json:"type"`
	// Timestamp when the execution started
	Timestamp time.Time `json:"timestamp"`
	// Command-line arguments (including command name)
	Args []string `json:"args"`
	// Working directory where command was run (relative to repo root)
	WorkDir string `json:"workdir"`
	// Exit code of the execution
	ExitCode int `json:"exit_code"`
	// Error that ended the execution early, if any
	Error string `json:"error,omitempty"`
	// Duration of execution
	Duration time.Duration `json:"duration"`
	// Git information
	Git *Git `json:"git,omitempty"`
	// Target the image ran on
	Target *Target `json:"target,omitempty"`
	// Artifacts generated during this run
	Artifacts []Artifact `json:"artifacts,omitempty"`

	// Test results (set for test runs that got past listing)
	Test *TestRun `json:"test,omitempty"`
}

// Git contains git repository information
type Git struct {
	// Git commit hash at time of execution
	Commit string `json:"commit,omitempty"`
	// Git branch at time of execution
	Branch string `json:"branch,omitempty"`
	// Repository name
	Repo string `json:"repo,omitempty"`
}

// Target describes the probe and core the image was run on
type Target struct {
	// Lab host the probe server runs on (e.g., "user@host")
	RemoteHost string `json:"remote_host,omitempty"`
	// Probe driver (sim or openocd)
	Probe string `json:"probe"`
	// Probe server address
	ProbeAddr string `json:"probe_addr,omitempty"`
	// Probe server version banner
	ProbeVersion string `json:"probe_version,omitempty"`
	// Core architecture
	Arch string `json:"arch"`
	// Image path as given on the command line
	Image string `json:"image"`
}

// ArtifactType identifies the type of artifact
type ArtifactType uint8

const (
	ArtifactTypeTimingProfile ArtifactType = iota
	ArtifactTypeImage
	ArtifactTypeReport
	ArtifactTypeTargetLog
)

func (t ArtifactType) String() string {
	switch t {
	case ArtifactTypeTimingProfile:
		return "profile"
	case ArtifactTypeImage:
		return "image"
	case ArtifactTypeReport:
		return "report"
	case ArtifactTypeTargetLog:
		return "log"
	}
	return "unknown"
}

// Artifact represents a file generated during execution
type Artifact struct {
	Type ArtifactType `json:"type"`
	Size uint64       `json:"size"`
	File string       `json:"file"` // relative to run dir
}
