// Package orchestrator turns a flashed session into a test run: it lists the
// tests of the image, runs each selected test in its own boot and classifies
// how the boot ended.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"github.com/perfgo/semitest/probe"
	"github.com/perfgo/semitest/registry"
	"github.com/perfgo/semitest/semihosting"
	"github.com/perfgo/semitest/session"
	"github.com/perfgo/semitest/target"
)

const (
	// DefaultTimeout bounds a test that does not declare its own timeout.
	DefaultTimeout = 60 * time.Second
	// DefaultBootTimeout bounds the time from reset to the command line
	// request, and the whole listing boot.
	DefaultBootTimeout = 10 * time.Second
)

// ListingError means the test list could not be obtained. No test can be
// run.
type ListingError struct {
	Err error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("failed to list tests: %v", e.Err)
}

func (e *ListingError) Unwrap() error { return e.Err }

// protocolError is an attempt that broke the request/response protocol.
type protocolError struct {
	msg string
}

func (e *protocolError) Error() string { return e.msg }

func protocolErrorf(format string, args ...any) error {
	return &protocolError{msg: fmt.Sprintf(format, args...)}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDefaultTimeout sets the timeout for tests without their own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// WithBootTimeout sets how long a boot may take to ask for its command line.
func WithBootTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.bootTimeout = d
		}
	}
}

// WithClock sets the clock used to time tests.
func WithClock(clk clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = clk }
}

// Orchestrator runs tests over one session.
type Orchestrator struct {
	logger         zerolog.Logger
	session        *session.Session
	clock          clock.Clock
	defaultTimeout time.Duration
	bootTimeout    time.Duration
}

// New returns an orchestrator driving a flashed session.
func New(logger zerolog.Logger, s *session.Session, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:         logger,
		session:        s,
		clock:          clock.NewClock(),
		defaultTimeout: DefaultTimeout,
		bootTimeout:    DefaultBootTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) drainLog() string {
	if lr, ok := o.session.Driver().(probe.LogReader); ok {
		return lr.DrainLog()
	}
	return ""
}

// boot resets the target and answers its command line request with cmd.
func (o *Orchestrator) boot(ctx context.Context, cmd target.Command) error {
	if err := o.session.ResetAndHalt(ctx); err != nil {
		return err
	}
	o.drainLog()
	trap, err := o.session.RunUntilTrap(ctx, o.bootTimeout)
	if errors.Is(err, session.ErrTimeout) {
		return protocolErrorf("target did not request a command line within %s", o.bootTimeout)
	}
	if err := classifyTrapError(err); err != nil {
		return err
	}
	if trap.Command.Kind != semihosting.KindGetCmdline {
		return protocolErrorf("expected a command line request, got %s", describe(trap.Command))
	}
	if err := o.session.ReplyCmdline(ctx, cmd.String()); err != nil {
		return protocolErrorf("failed to send command %q: %v", cmd, err)
	}
	return nil
}

// classifyTrapError turns attempt-local failures into protocol errors and
// passes everything else through.
func classifyTrapError(err error) error {
	if err == nil {
		return nil
	}
	var haltErr *session.HaltError
	switch {
	case errors.Is(err, semihosting.ErrUnknownOperation),
		errors.Is(err, semihosting.ErrBadBlock),
		errors.Is(err, semihosting.ErrUnreadable),
		errors.As(err, &haltErr):
		return protocolErrorf("%v", err)
	}
	return err
}

func describe(c semihosting.Command) string {
	switch c.Kind {
	case semihosting.KindAbort:
		return fmt.Sprintf("abort (%s)", c.Reason)
	case semihosting.KindExitError:
		return fmt.Sprintf("exit with code %d", c.Code)
	}
	return c.Kind.String()
}

// List boots the target with "list" and returns the decoded test list.
func (o *Orchestrator) List(ctx context.Context) (registry.List, error) {
	l, err := o.list(ctx)
	if err != nil {
		return registry.List{}, &ListingError{Err: err}
	}
	o.logger.Debug().Int("tests", len(l.Tests)).Msg("Listed tests")
	return l, nil
}

func (o *Orchestrator) list(ctx context.Context) (registry.List, error) {
	if err := o.boot(ctx, target.ListCommand()); err != nil {
		return registry.List{}, err
	}
	trap, err := o.session.RunUntilTrap(ctx, o.bootTimeout)
	if err := classifyTrapError(err); err != nil {
		return registry.List{}, err
	}
	if trap.Command.Kind != semihosting.KindListTests {
		return registry.List{}, fmt.Errorf("expected the test list, got %s", describe(trap.Command))
	}

	payload, err := o.session.ReadPayload(ctx)
	var l registry.List
	if err == nil {
		l, err = registry.DecodeList(payload)
	}
	status := semihosting.StatusOK
	if err != nil {
		status = semihosting.StatusError
	}
	if cerr := o.session.Complete(ctx, status); cerr != nil {
		return registry.List{}, cerr
	}
	if err != nil {
		return registry.List{}, err
	}
	if l.Version != registry.ProtocolVersion {
		return registry.List{}, fmt.Errorf("target speaks protocol version %d, runner speaks %d", l.Version, registry.ProtocolVersion)
	}

	trap, err = o.session.RunUntilTrap(ctx, o.bootTimeout)
	if err := classifyTrapError(err); err != nil {
		return registry.List{}, err
	}
	if trap.Command.Kind != semihosting.KindExitSuccess {
		return registry.List{}, fmt.Errorf("expected a clean exit after listing, got %s", describe(trap.Command))
	}
	return l, nil
}

// Timeout returns the time e may run before it is declared hung.
func (o *Orchestrator) Timeout(e registry.Entry) time.Duration {
	if e.Timeout != nil {
		return time.Duration(*e.Timeout) * time.Second
	}
	return o.defaultTimeout
}

// RunTest runs one test in a fresh boot. Failures of the test are reported
// in the result; the error is set only when the session itself broke or ctx
// ended.
func (o *Orchestrator) RunTest(ctx context.Context, e registry.Entry) (Result, error) {
	start := o.clock.Now()
	res, err := o.runTest(ctx, e)
	res.Name = e.Name
	res.Duration = o.clock.Since(start)
	res.Log = o.drainLog()

	var perr *protocolError
	if errors.As(err, &perr) {
		res.Kind, res.Message = ProtocolError, perr.msg
		err = nil
	}
	if err != nil {
		return res, err
	}
	if res.Kind != Passed {
		o.logger.Debug().Str("test", e.Name).Str("result", res.Kind.String()).Str("message", res.Message).Msg("Test did not pass")
	}
	return res, nil
}

func (o *Orchestrator) runTest(ctx context.Context, e registry.Entry) (Result, error) {
	if err := o.boot(ctx, target.RunCommand(e.Name)); err != nil {
		return Result{}, err
	}
	timeout := o.Timeout(e)
	trap, err := o.session.RunUntilTrap(ctx, timeout)
	if errors.Is(err, session.ErrTimeout) {
		return Result{Kind: TimedOut, Message: fmt.Sprintf("no result within %s", timeout)}, nil
	}
	if err := classifyTrapError(err); err != nil {
		return Result{}, err
	}

	c := trap.Command
	switch c.Kind {
	case semihosting.KindExitSuccess:
		return Result{Kind: Passed}, nil
	case semihosting.KindExitError:
		res := Result{Kind: Failed, ExitCode: c.Code}
		if c.Code == target.ExitCodeInit {
			res.Message = "init hook failed"
		}
		return res, nil
	case semihosting.KindAbort:
		return Result{}, protocolErrorf("target aborted (%s)", c.Reason)
	}
	return Result{}, protocolErrorf("unexpected %s request while running a test", c.Kind)
}

// Run executes the selected tests one boot at a time and writes a libtest
// report to w as it goes.
func (o *Orchestrator) Run(ctx context.Context, l registry.List, sel Selection, w io.Writer) (*Report, error) {
	start := o.clock.Now()
	planned, filtered := Select(l, sel)
	report := &Report{Filtered: filtered}

	writeHeader(w, len(planned))
	for _, p := range planned {
		writeStart(w, p.Entry.Name)
		res := Result{Name: p.Entry.Name, Kind: Ignored}
		if p.Run {
			var err error
			res, err = o.RunTest(ctx, p.Entry)
			if err != nil {
				fmt.Fprintln(w, "error")
				return report, fmt.Errorf("failed to run %s: %w", p.Entry.Name, err)
			}
		}
		writeResult(w, res)
		report.Results = append(report.Results, res)
	}
	report.Duration = o.clock.Since(start)
	report.WriteSummary(w)
	return report, nil
}
