package registry

import "fmt"

// Outcome is the result of one test body: either success or a failure with a
// description.
type Outcome struct {
	failed      bool
	description string
}

// Success returns the successful outcome.
func Success() Outcome {
	return Outcome{}
}

// Failure returns a failed outcome carrying desc.
func Failure(desc string) Outcome {
	return Outcome{failed: true, description: desc}
}

// FromError converts the return value of a test body. A nil error is a
// success.
func FromError(err error) Outcome {
	if err == nil {
		return Success()
	}
	return Failure(err.Error())
}

// FromPanic converts a value recovered from a panicking test body.
func FromPanic(v any) Outcome {
	return Failure(fmt.Sprintf("panic: %v", v))
}

// IsSuccess reports whether the body completed without error or panic.
func (o Outcome) IsSuccess() bool {
	return !o.failed
}

// Description returns the failure description, or "" for a success.
func (o Outcome) Description() string {
	return o.description
}

func (o Outcome) String() string {
	if o.failed {
		return "failure: " + o.description
	}
	return "success"
}

// Passed decides whether a test passed: the body outcome must differ from the
// test's should-fail expectation.
func Passed(o Outcome, shouldFail bool) bool {
	return o.IsSuccess() != shouldFail
}
