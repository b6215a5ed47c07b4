package semihosting

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind classifies a decoded request.
type Kind int

const (
	KindGetCmdline Kind = iota
	KindListTests
	KindExitSuccess
	KindExitError
	KindAbort
)

func (k Kind) String() string {
	switch k {
	case KindGetCmdline:
		return "get_cmdline"
	case KindListTests:
		return "list_tests"
	case KindExitSuccess:
		return "exit_success"
	case KindExitError:
		return "exit_error"
	case KindAbort:
		return "abort"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Terminal reports whether the target does not continue after this request.
func (k Kind) Terminal() bool {
	return k == KindExitSuccess || k == KindExitError || k == KindAbort
}

// Command is a decoded request.
type Command struct {
	Kind Kind
	Op   Operation
	// BlockAddr and Block are set for GetCmdline and ListTests.
	BlockAddr uint32
	Block     Block
	// Reason and Code are set for exits.
	Reason ExitReason
	Code   uint32
}

// ErrUnknownOperation marks an operation outside the protocol.
var ErrUnknownOperation = errors.New("unknown semihosting operation")

// Decode interprets the operation and parameter registers of a trap.
func Decode(ctx context.Context, mem Memory, op Operation, param uint32) (Command, error) {
	switch op {
	case SysGetCmdline, SysUserListTests:
		b, err := ReadBlock(ctx, mem, param)
		if err != nil {
			return Command{}, err
		}
		kind := KindGetCmdline
		if op == SysUserListTests {
			kind = KindListTests
		}
		return Command{Kind: kind, Op: op, BlockAddr: param, Block: b}, nil
	case SysExit:
		return exitCommand(op, ExitReason(param), 0), nil
	case SysExitExtended:
		buf, err := mem.ReadMemory(ctx, param, 8)
		if err != nil {
			return Command{}, fmt.Errorf("%w: exit block at %#x: %w", ErrUnreadable, param, err)
		}
		reason := ExitReason(binary.LittleEndian.Uint32(buf[0:]))
		code := binary.LittleEndian.Uint32(buf[4:])
		return exitCommand(op, reason, code), nil
	}
	return Command{Op: op}, fmt.Errorf("%w: %v (parameter %#x)", ErrUnknownOperation, op, param)
}

func exitCommand(op Operation, reason ExitReason, code uint32) Command {
	c := Command{Op: op, Reason: reason, Code: code}
	switch {
	case reason == ReasonApplicationExit && code == 0:
		c.Kind = KindExitSuccess
	case reason == ReasonApplicationExit:
		c.Kind = KindExitError
	default:
		c.Kind = KindAbort
	}
	return c
}

// EncodeExitExtended returns the parameter block of SYS_EXIT_EXTENDED.
func EncodeExitExtended(reason ExitReason, code uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], uint32(reason))
	binary.LittleEndian.PutUint32(buf[4:], code)
	return buf
}
