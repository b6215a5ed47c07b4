// Package openocd drives a hardware probe through OpenOCD's TCL RPC server.
//
// Every request is a Tcl command terminated by 0x1a; the reply is the
// command's result terminated the same way. Commands are wrapped in catch so
// failures can be told apart from results.
package openocd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/perfgo/semitest/probe"
)

// DefaultAddr is OpenOCD's default TCL RPC endpoint.
const DefaultAddr = "localhost:6666"

const terminator = 0x1a

// Client is an attached OpenOCD session. It implements probe.Driver.
type Client struct {
	logger zerolog.Logger

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

var _ probe.Driver = (*Client)(nil)

// Dial connects to the TCL RPC server at addr.
func Dial(ctx context.Context, logger zerolog.Logger, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to OpenOCD at %s: %w", addr, err)
	}
	logger.Debug().Str("addr", addr).Msg("Connected to OpenOCD")
	return New(logger, conn), nil
}

// New wraps an established connection.
func New(logger zerolog.Logger, conn net.Conn) *Client {
	return &Client{logger: logger, conn: conn, r: bufio.NewReader(conn)}
}

// Error is a command OpenOCD rejected.
type Error struct {
	Command string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("openocd: %s: %s", e.Command, e.Message)
}

// Exec runs one Tcl command and returns its result.
func (c *Client) Exec(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	wrapped := fmt.Sprintf("concat [catch {%s} _semitest_result] $_semitest_result", command)
	if _, err := c.conn.Write(append([]byte(wrapped), terminator)); err != nil {
		return "", fmt.Errorf("failed to send %q: %w", command, err)
	}
	reply, err := c.r.ReadString(terminator)
	if err != nil {
		return "", fmt.Errorf("failed to read reply to %q: %w", command, err)
	}
	reply = strings.TrimSuffix(reply, string(rune(terminator)))
	c.logger.Trace().Str("command", command).Str("reply", reply).Msg("OpenOCD exchange")

	code, result, _ := strings.Cut(reply, " ")
	switch code {
	case "0", "2":
		return strings.TrimSpace(result), nil
	case "":
		return "", fmt.Errorf("empty reply to %q", command)
	}
	return "", &Error{Command: command, Message: strings.TrimSpace(result)}
}

// Flash programs the image file and leaves the core halted. The path must
// be readable by the OpenOCD process.
func (c *Client) Flash(ctx context.Context, img probe.Image) error {
	if _, err := c.Exec(ctx, fmt.Sprintf("program {%s} verify", img.Path)); err != nil {
		return err
	}
	return c.ResetHalt(ctx)
}

// ResetHalt resets the target and halts it at the reset vector.
func (c *Client) ResetHalt(ctx context.Context) error {
	_, err := c.Exec(ctx, "reset halt")
	return err
}

// Run resumes from the current PC.
func (c *Client) Run(ctx context.Context) error {
	_, err := c.Exec(ctx, "resume")
	return err
}

// Halt stops the core.
func (c *Client) Halt(ctx context.Context) error {
	_, err := c.Exec(ctx, "halt")
	return err
}

// Status queries the current target's state and, when halted, why.
func (c *Client) Status(ctx context.Context) (probe.Status, error) {
	state, err := c.Exec(ctx, "[target current] curstate")
	if err != nil {
		return probe.Status{}, err
	}
	switch state {
	case "running", "debug-running":
		return probe.Status{State: probe.StateRunning}, nil
	case "reset":
		return probe.Status{State: probe.StateUnknown}, nil
	case "halted":
	default:
		return probe.Status{}, fmt.Errorf("unexpected target state %q", state)
	}

	st := probe.Status{State: probe.StateHalted}
	// Older OpenOCD releases lack debug_reason; the reason stays unknown.
	reason, err := c.Exec(ctx, "[target current] debug_reason")
	if err == nil {
		switch reason {
		case "breakpoint":
			st.Reason = probe.ReasonBreakpoint
		case "debug-request":
			st.Reason = probe.ReasonRequest
		case "single-step":
			st.Reason = probe.ReasonStep
		case "exception-catch":
			st.Reason = probe.ReasonException
		}
	}
	return st, nil
}

// ReadMemory reads n bytes starting at addr.
func (c *Client) ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	out, err := c.Exec(ctx, fmt.Sprintf("read_memory %#x 8 %d", addr, n))
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(out)
	if len(fields) != n {
		return nil, fmt.Errorf("read_memory %#x: got %d bytes, want %d", addr, len(fields), n)
	}
	data := make([]byte, n)
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("read_memory %#x: %w", addr, err)
		}
		data[i] = byte(v)
	}
	return data, nil
}

// WriteMemory writes data starting at addr.
func (c *Client) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "0x%02x", b)
	}
	_, err := c.Exec(ctx, fmt.Sprintf("write_memory %#x 8 {%s}", addr, sb.String()))
	return err
}

var regValue = regexp.MustCompile(`0x[0-9a-fA-F]+`)

// ReadRegister reads a core register by its OpenOCD name.
func (c *Client) ReadRegister(ctx context.Context, name string) (uint32, error) {
	out, err := c.Exec(ctx, fmt.Sprintf("reg %s", name))
	if err != nil {
		return 0, err
	}
	// "a0 (/32): 0x00000015"
	_, value, ok := strings.Cut(out, ":")
	if !ok {
		value = out
	}
	m := regValue.FindString(value)
	if m == "" {
		return 0, fmt.Errorf("unexpected reply to reg %s: %q", name, out)
	}
	v, err := strconv.ParseUint(m, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("reg %s: %w", name, err)
	}
	return uint32(v), nil
}

// WriteRegister writes a core register by its OpenOCD name.
func (c *Client) WriteRegister(ctx context.Context, name string, value uint32) error {
	_, err := c.Exec(ctx, fmt.Sprintf("reg %s 0x%08x", name, value))
	return err
}

// Close drops the connection. OpenOCD keeps running.
func (c *Client) Close() error {
	return c.conn.Close()
}
