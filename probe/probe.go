// Package probe defines the capability set the host needs from a debug
// probe. Drivers are obtained already attached; closing one detaches.
package probe

import (
	"context"
	"fmt"
)

// CoreState is the coarse run state of the core.
type CoreState int

const (
	StateUnknown CoreState = iota
	StateRunning
	StateHalted
	StateSleeping
	StateLockedUp
)

func (s CoreState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateSleeping:
		return "sleeping"
	case StateLockedUp:
		return "locked-up"
	}
	return "unknown"
}

// HaltReason tells why a halted core stopped, as far as the probe knows.
type HaltReason int

const (
	ReasonUnknown HaltReason = iota
	// ReasonBreakpoint covers software breakpoints, including semihosting
	// traps.
	ReasonBreakpoint
	// ReasonRequest is a halt requested by the debugger, including
	// reset-and-halt.
	ReasonRequest
	ReasonException
	ReasonStep
)

func (r HaltReason) String() string {
	switch r {
	case ReasonBreakpoint:
		return "breakpoint"
	case ReasonRequest:
		return "request"
	case ReasonException:
		return "exception"
	case ReasonStep:
		return "step"
	}
	return "unknown"
}

// Status is a snapshot of the core.
type Status struct {
	State  CoreState
	Reason HaltReason
}

func (s Status) String() string {
	if s.State == StateHalted {
		return fmt.Sprintf("%s (%s)", s.State, s.Reason)
	}
	return s.State.String()
}

// Image is what gets flashed.
type Image struct {
	// Path is a file path, or "sim:<name>" for simulated images.
	Path string
	// Data is the raw file content, if the driver needs it.
	Data []byte
}

// Driver is an attached probe with one target core.
type Driver interface {
	// Flash programs the image and leaves the core halted.
	Flash(ctx context.Context, img Image) error
	// ResetHalt resets the core and halts it before the first instruction.
	ResetHalt(ctx context.Context) error
	// Run resumes the core from its current PC.
	Run(ctx context.Context) error
	// Halt stops a running core.
	Halt(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error)
	WriteMemory(ctx context.Context, addr uint32, data []byte) error
	ReadRegister(ctx context.Context, name string) (uint32, error)
	WriteRegister(ctx context.Context, name string, value uint32) error
	Close() error
}

// LogReader is implemented by drivers that capture target log output over a
// side channel.
type LogReader interface {
	// DrainLog returns and discards the log text captured so far.
	DrainLog() string
}
