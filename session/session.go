// Package session controls one attached target through a probe driver:
// flashing, reset, and running the core from one semihosting trap to the
// next.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"github.com/perfgo/semitest/probe"
	"github.com/perfgo/semitest/semihosting"
)

// DefaultPollInterval bounds how long a halt can go unnoticed.
const DefaultPollInterval = 100 * time.Millisecond

// State is the lifecycle state of a session.
type State int

const (
	StateAttached State = iota
	StateFlashed
	StateHalted
	StateRunning
	StateTrapped
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAttached:
		return "attached"
	case StateFlashed:
		return "flashed"
	case StateHalted:
		return "halted"
	case StateRunning:
		return "running"
	case StateTrapped:
		return "trapped"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FatalError ends the whole invocation: no test can run on this session.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// ErrTimeout is returned by RunUntilTrap when the core did not trap in time.
// The core has been halted.
var ErrTimeout = errors.New("timed out waiting for a semihosting request")

// HaltError is a halt that is not a semihosting trap.
type HaltError struct {
	PC     uint32
	Status probe.Status
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("core %s at pc %#x without a semihosting request", e.Status, e.PC)
}

// Trap is a pending semihosting request.
type Trap struct {
	PC      uint32
	Command semihosting.Command
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock used for polling and timeouts.
func WithClock(clk clock.Clock) Option {
	return func(s *Session) { s.clock = clk }
}

// WithPollInterval sets the sleep between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.poll = d
		}
	}
}

// Session owns an attached probe driver. It is not safe for concurrent use.
type Session struct {
	logger zerolog.Logger
	driver probe.Driver
	arch   *semihosting.Arch
	clock  clock.Clock
	poll   time.Duration

	state     State
	trap      *Trap
	completed bool
}

// New takes ownership of an attached driver.
func New(logger zerolog.Logger, driver probe.Driver, arch *semihosting.Arch, opts ...Option) *Session {
	s := &Session{
		logger: logger.With().Str("arch", arch.Name).Logger(),
		driver: driver,
		arch:   arch,
		clock:  clock.NewClock(),
		poll:   DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dialer opens a probe connection.
type Dialer func(ctx context.Context) (probe.Driver, error)

// Attach opens a driver with dial and wraps it in a session.
func Attach(ctx context.Context, logger zerolog.Logger, dial Dialer, arch *semihosting.Arch, opts ...Option) (*Session, error) {
	driver, err := dial(ctx)
	if err != nil {
		return nil, &FatalError{Op: "attach", Err: err}
	}
	return New(logger, driver, arch, opts...), nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Driver returns the underlying probe driver.
func (s *Session) Driver() probe.Driver {
	return s.driver
}

// Arch returns the architecture the session decodes traps for.
func (s *Session) Arch() *semihosting.Arch {
	return s.arch
}

// Flash programs the image. It may be called once per session.
func (s *Session) Flash(ctx context.Context, img probe.Image) error {
	if s.state != StateAttached {
		return fmt.Errorf("cannot flash a session that is %s", s.state)
	}
	s.logger.Info().Str("image", img.Path).Msg("Flashing image")
	start := s.clock.Now()
	if err := s.driver.Flash(ctx, img); err != nil {
		return &FatalError{Op: "flash", Err: err}
	}
	s.logger.Debug().Dur("took", s.clock.Since(start)).Msg("Image flashed")
	s.state = StateFlashed
	return nil
}

// ResetAndHalt resets the core and halts it at the reset vector, dropping
// any pending request.
func (s *Session) ResetAndHalt(ctx context.Context) error {
	switch s.state {
	case StateAttached:
		return errors.New("cannot reset before the image is flashed")
	case StateClosed:
		return errors.New("session closed")
	}
	if err := s.driver.ResetHalt(ctx); err != nil {
		return fmt.Errorf("failed to reset target: %w", err)
	}
	s.state = StateHalted
	s.trap = nil
	s.completed = false
	return nil
}

// RunUntilTrap resumes the core and waits up to timeout for the next
// semihosting request. A pending request must have been completed first.
// On ErrTimeout the core is left halted. Requests that do not decode are
// returned together with the trap so the caller can reject them.
func (s *Session) RunUntilTrap(ctx context.Context, timeout time.Duration) (Trap, error) {
	if err := ctx.Err(); err != nil {
		return Trap{}, err
	}
	switch s.state {
	case StateFlashed, StateHalted:
	case StateTrapped:
		if !s.completed {
			return Trap{}, errors.New("pending semihosting request was not completed")
		}
	default:
		return Trap{}, fmt.Errorf("cannot run a session that is %s", s.state)
	}

	if err := s.driver.Run(ctx); err != nil {
		return Trap{}, fmt.Errorf("failed to resume core: %w", err)
	}
	s.state = StateRunning
	s.trap = nil
	s.completed = false

	deadline := s.clock.Now().Add(timeout)
	var st probe.Status
	for {
		var err error
		st, err = s.driver.Status(ctx)
		if err != nil {
			return Trap{}, fmt.Errorf("failed to query core status: %w", err)
		}
		if st.State == probe.StateHalted {
			break
		}
		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			if err := s.Halt(ctx); err != nil {
				return Trap{}, err
			}
			return Trap{}, ErrTimeout
		}
		if err := s.sleep(ctx, min(s.poll, remaining)); err != nil {
			return Trap{}, err
		}
	}
	s.state = StateHalted

	pc, err := s.driver.ReadRegister(ctx, s.arch.PCRegister)
	if err != nil {
		return Trap{}, fmt.Errorf("failed to read pc: %w", err)
	}
	ok, err := s.arch.IsTrap(ctx, s.driver, pc)
	if err != nil {
		return Trap{}, err
	}
	if !ok {
		return Trap{}, &HaltError{PC: pc, Status: st}
	}

	op, err := s.driver.ReadRegister(ctx, s.arch.OpRegister)
	if err != nil {
		return Trap{}, fmt.Errorf("failed to read operation register: %w", err)
	}
	param, err := s.driver.ReadRegister(ctx, s.arch.ParamRegister)
	if err != nil {
		return Trap{}, fmt.Errorf("failed to read parameter register: %w", err)
	}
	cmd, err := semihosting.Decode(ctx, s.driver, semihosting.Operation(op), param)
	trap := Trap{PC: pc, Command: cmd}
	s.state = StateTrapped
	s.trap = &trap
	s.logger.Debug().
		Str("op", semihosting.Operation(op).String()).
		Str("kind", cmd.Kind.String()).
		Uint32("pc", pc).
		Msg("Semihosting request")
	return trap, err
}

func (s *Session) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

func (s *Session) pending(kind semihosting.Kind) (*Trap, error) {
	if s.state != StateTrapped || s.trap == nil || s.completed {
		return nil, errors.New("no pending semihosting request")
	}
	if s.trap.Command.Kind != kind {
		return nil, fmt.Errorf("pending request is %s, not %s", s.trap.Command.Kind, kind)
	}
	return s.trap, nil
}

// ReplyCmdline writes cmd into the buffer of a pending GetCmdline request
// and completes it.
func (s *Session) ReplyCmdline(ctx context.Context, cmd string) error {
	trap, err := s.pending(semihosting.KindGetCmdline)
	if err != nil {
		return err
	}
	c := trap.Command
	if err := semihosting.WriteCmdline(ctx, s.driver, c.BlockAddr, c.Block, cmd); err != nil {
		return err
	}
	return s.Complete(ctx, semihosting.StatusOK)
}

// ReadPayload returns the buffer of a pending ListTests request. The request
// still has to be completed.
func (s *Session) ReadPayload(ctx context.Context) ([]byte, error) {
	trap, err := s.pending(semihosting.KindListTests)
	if err != nil {
		return nil, err
	}
	return trap.Command.Block.Read(ctx, s.driver)
}

// Complete writes status into the return register and steps the PC over the
// trap so the next RunUntilTrap continues after it.
func (s *Session) Complete(ctx context.Context, status uint32) error {
	if s.state != StateTrapped || s.trap == nil || s.completed {
		return errors.New("no pending semihosting request")
	}
	if err := s.driver.WriteRegister(ctx, s.arch.OpRegister, status); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	if err := s.driver.WriteRegister(ctx, s.arch.PCRegister, s.trap.PC+s.arch.TrapLen); err != nil {
		return fmt.Errorf("failed to step over trap: %w", err)
	}
	s.completed = true
	return nil
}

// Halt stops the core.
func (s *Session) Halt(ctx context.Context) error {
	if err := s.driver.Halt(ctx); err != nil {
		return fmt.Errorf("failed to halt core: %w", err)
	}
	if s.state == StateRunning {
		s.state = StateHalted
	}
	return nil
}

// Close halts the core if it is running and detaches.
func (s *Session) Close(ctx context.Context) error {
	if s.state == StateClosed {
		return nil
	}
	var haltErr error
	if s.state == StateRunning {
		haltErr = s.Halt(ctx)
	}
	s.state = StateClosed
	return errors.Join(haltErr, s.driver.Close())
}
