package model

import "time"

// TestRun contains the test-specific fields of a history entry
type TestRun struct {
	// Filters, skips and mode flags passed after the image
	TestArgs []string `json:"test_args,omitempty"`
	// Number of tests the image listed
	Listed int `json:"listed"`
	// Number of tests removed by filters
	Filtered int `json:"filtered"`
	// One entry per selected test, in run order
	Results []TestResult `json:"results,omitempty"`
}

// TestResult is the outcome of one test
type TestResult struct {
	// Test name as listed by the image
	Name string `json:"name"`
	// Result kind: ok, FAILED, timeout, protocol error or ignored
	Result string `json:"result"`
	// Wall time from reset to the final request
	Duration time.Duration `json:"duration"`
	// Exit code reported by the target for failed tests
	ExitCode uint32 `json:"exit_code,omitempty"`
	// Why a test timed out or broke the protocol
	Message string `json:"message,omitempty"`
	// Captured target log (relative to run dir)
	LogFile string `json:"log_file,omitempty"`
}

// Counts returns how many results passed, failed and were ignored.
func (t *TestRun) Counts() (passed, failed, ignored int) {
	for _, r := range t.Results {
		switch r.Result {
		case "ok":
			passed++
		case "ignored":
			ignored++
		default:
			failed++
		}
	}
	return passed, failed, ignored
}
