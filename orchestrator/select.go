package orchestrator

import (
	"strings"

	"github.com/perfgo/semitest/registry"
)

// Selection holds the libtest-style filter arguments.
type Selection struct {
	// Filters keep tests whose name contains any of them, or equals one of
	// them with Exact. No filters keep everything.
	Filters []string
	Exact   bool
	// Skip drops tests whose name contains any of them (equals with Exact).
	Skip []string
	// Ignored runs only ignored tests.
	Ignored bool
	// IncludeIgnored runs ignored tests along with the rest.
	IncludeIgnored bool
}

// Planned is a selected test and whether it will be executed.
type Planned struct {
	Entry registry.Entry
	Run   bool
}

func (s Selection) matches(pattern, name string) bool {
	if s.Exact {
		return name == pattern
	}
	return strings.Contains(name, pattern)
}

func (s Selection) named(name string) bool {
	if len(s.Filters) == 0 {
		return true
	}
	for _, f := range s.Filters {
		if s.matches(f, name) {
			return true
		}
	}
	return false
}

func (s Selection) skipped(name string) bool {
	for _, p := range s.Skip {
		if s.matches(p, name) {
			return true
		}
	}
	return false
}

// Select applies sel to the listed tests, keeping list order. It returns the
// planned tests and how many were filtered out.
func Select(l registry.List, sel Selection) ([]Planned, int) {
	var planned []Planned
	filtered := 0
	for _, e := range l.Tests {
		if !sel.named(e.Name) || sel.skipped(e.Name) || (sel.Ignored && !e.Ignored) {
			filtered++
			continue
		}
		run := !e.Ignored || sel.Ignored || sel.IncludeIgnored
		if !run && sel.Exact && len(sel.Filters) > 0 {
			// Naming an ignored test exactly asks for it to run.
			run = true
		}
		planned = append(planned, Planned{Entry: e, Run: run})
	}
	return planned, filtered
}
