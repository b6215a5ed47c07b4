// Package registry holds the compiled-in table of tests that a target image
// exposes, and the JSON list format used to hand it to the host.
package registry

import (
	"strings"

	"github.com/perfgo/semitest/executor"
)

// ProtocolVersion is the version of the list format and command protocol
// spoken by this package. Hosts refuse lists carrying any other version.
const ProtocolVersion uint32 = 1

// Func is a synchronous test body. state is the value returned by the
// registry's init hook, or nil.
type Func func(state any) error

// AsyncFunc is a test body that runs on the per-test cooperative executor.
type AsyncFunc func(t *executor.Task, state any) error

// Descriptor is the static metadata of one test.
type Descriptor struct {
	// Name is fully qualified, e.g. "mycrate::tests::it_works".
	Name string
	// Exactly one of Func and AsyncFunc is set.
	Func      Func
	AsyncFunc AsyncFunc
	// ShouldFail inverts the pass/fail decision.
	ShouldFail bool
	// Ignored tests are skipped unless requested explicitly.
	Ignored bool
	// Timeout in seconds; nil leaves the choice to the host.
	Timeout *uint32
}

// ShortName returns the name with its leading crate segment removed.
func (d *Descriptor) ShortName() string {
	s, _ := ShortName(d.Name)
	return s
}

// Async reports whether the descriptor runs on the executor.
func (d *Descriptor) Async() bool {
	return d.AsyncFunc != nil
}

// ShortName strips the leading segment of a fully qualified test name. ok is
// false if name has no "::" separator.
func ShortName(name string) (short string, ok bool) {
	i := strings.Index(name, "::")
	if i < 0 {
		return "", false
	}
	return name[i+2:], true
}

// Seconds is a helper for filling Descriptor.Timeout.
func Seconds(n uint32) *uint32 {
	return &n
}
