package orchestrator

// This file contains the test results and the libtest-shaped report.

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Kind classifies a test result.
type Kind int

const (
	Passed Kind = iota
	Failed
	TimedOut
	ProtocolError
	Ignored
)

func (k Kind) String() string {
	switch k {
	case Passed:
		return "ok"
	case Failed:
		return "FAILED"
	case TimedOut:
		return "timeout"
	case ProtocolError:
		return "protocol error"
	case Ignored:
		return "ignored"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Failure reports whether the kind counts as a failed test.
func (k Kind) Failure() bool {
	return k == Failed || k == TimedOut || k == ProtocolError
}

// Result is the outcome of one planned test.
type Result struct {
	Name     string
	Kind     Kind
	Duration time.Duration
	// ExitCode is the target's exit code for failed tests.
	ExitCode uint32
	// Message explains timeouts, protocol errors and init failures.
	Message string
	// Log is what the target logged during the attempt.
	Log string
}

// Report aggregates the results of one run.
type Report struct {
	Results  []Result
	Filtered int
	Duration time.Duration
}

func (r *Report) count(match func(Kind) bool) int {
	n := 0
	for _, res := range r.Results {
		if match(res.Kind) {
			n++
		}
	}
	return n
}

// Passed returns the number of passed tests.
func (r *Report) Passed() int { return r.count(func(k Kind) bool { return k == Passed }) }

// Failed returns the number of failed, timed out and aborted tests.
func (r *Report) Failed() int { return r.count(Kind.Failure) }

// Ignored returns the number of tests that were not run.
func (r *Report) Ignored() int { return r.count(func(k Kind) bool { return k == Ignored }) }

// Failures returns the results that count as failures.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Kind.Failure() {
			out = append(out, res)
		}
	}
	return out
}

// OK reports whether no test failed.
func (r *Report) OK() bool {
	return r.Failed() == 0
}

// ExitCode is the process exit code libtest uses for this report.
func (r *Report) ExitCode() int {
	if r.OK() {
		return 0
	}
	return 101
}

func writeHeader(w io.Writer, n int) {
	noun := "tests"
	if n == 1 {
		noun = "test"
	}
	fmt.Fprintf(w, "\nrunning %d %s\n", n, noun)
}

func writeStart(w io.Writer, name string) {
	fmt.Fprintf(w, "test %s ... ", name)
}

func writeResult(w io.Writer, res Result) {
	fmt.Fprintln(w, res.Kind)
}

// WriteSummary prints the failures section and the result line.
func (r *Report) WriteSummary(w io.Writer) {
	failures := r.Failures()
	if len(failures) > 0 {
		fmt.Fprintf(w, "\nfailures:\n")
		for _, f := range failures {
			fmt.Fprintf(w, "\n---- %s stdout ----\n", f.Name)
			switch f.Kind {
			case Failed:
				fmt.Fprintf(w, "target exited with code %d\n", f.ExitCode)
			default:
				fmt.Fprintf(w, "%s: %s\n", f.Kind, f.Message)
			}
			if f.Log != "" {
				fmt.Fprint(w, strings.TrimRight(f.Log, "\n")+"\n")
			}
		}
		fmt.Fprintf(w, "\nfailures:\n")
		for _, f := range failures {
			fmt.Fprintf(w, "    %s\n", f.Name)
		}
	}

	status := "ok"
	if !r.OK() {
		status = "FAILED"
	}
	fmt.Fprintf(w, "\ntest result: %s. %d passed; %d failed; %d ignored; 0 measured; %d filtered out; finished in %.2fs\n\n",
		status, r.Passed(), r.Failed(), r.Ignored(), r.Filtered, r.Duration.Seconds())
}

// WriteList prints planned tests the way libtest's --list does.
func WriteList(w io.Writer, planned []Planned) {
	for _, p := range planned {
		fmt.Fprintf(w, "%s: test\n", p.Entry.Name)
	}
	fmt.Fprintf(w, "\n%d tests, 0 benchmarks\n", len(planned))
}
