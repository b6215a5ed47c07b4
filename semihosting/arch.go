package semihosting

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// Arch describes how semihosting traps look on one architecture.
type Arch struct {
	Name string
	// OpRegister holds the operation on entry and the status on return.
	OpRegister    string
	ParamRegister string
	PCRegister    string
	// TrapLen is how far the PC advances to step over the trap.
	TrapLen uint32

	isTrap func(ctx context.Context, mem Memory, pc uint32) (bool, error)
}

// IsTrap reports whether the core halted at pc on a semihosting trap.
func (a *Arch) IsTrap(ctx context.Context, mem Memory, pc uint32) (bool, error) {
	return a.isTrap(ctx, mem, pc)
}

// RISC-V semihosting sequence: slli x0,x0,0x1f; ebreak; srai x0,x0,7. The
// core halts on the ebreak.
const (
	RISCVSlli   uint32 = 0x01f01013
	RISCVEbreak uint32 = 0x00100073
	RISCVSrai   uint32 = 0x40705013
)

// ARMThumbBkptAB is the Thumb encoding of BKPT 0xAB.
const ARMThumbBkptAB uint16 = 0xbeab

// RISCV32 is RV32 with the standard semihosting sequence.
var RISCV32 = &Arch{
	Name:          "riscv32",
	OpRegister:    "a0",
	ParamRegister: "a1",
	PCRegister:    "pc",
	TrapLen:       4,
	isTrap: func(ctx context.Context, mem Memory, pc uint32) (bool, error) {
		if pc < 4 {
			return false, nil
		}
		buf, err := mem.ReadMemory(ctx, pc-4, 12)
		if err != nil {
			return false, fmt.Errorf("%w: instructions at %#x: %w", ErrUnreadable, pc, err)
		}
		return binary.LittleEndian.Uint32(buf[0:]) == RISCVSlli &&
			binary.LittleEndian.Uint32(buf[4:]) == RISCVEbreak &&
			binary.LittleEndian.Uint32(buf[8:]) == RISCVSrai, nil
	},
}

// ARMv7M is a Cortex-M core using BKPT 0xAB.
var ARMv7M = &Arch{
	Name:          "armv7m",
	OpRegister:    "r0",
	ParamRegister: "r1",
	PCRegister:    "pc",
	TrapLen:       2,
	isTrap: func(ctx context.Context, mem Memory, pc uint32) (bool, error) {
		buf, err := mem.ReadMemory(ctx, pc, 2)
		if err != nil {
			return false, fmt.Errorf("%w: instruction at %#x: %w", ErrUnreadable, pc, err)
		}
		return binary.LittleEndian.Uint16(buf) == ARMThumbBkptAB, nil
	},
}

var arches = map[string]*Arch{
	RISCV32.Name: RISCV32,
	ARMv7M.Name:  ARMv7M,
	"armv6m":     ARMv7M,
	"armv8m":     ARMv7M,
}

// ArchByName looks up an architecture by name.
func ArchByName(name string) (*Arch, error) {
	if a, ok := arches[strings.ToLower(name)]; ok {
		return a, nil
	}
	names := make([]string, 0, len(arches))
	for n := range arches {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unknown architecture %q (known: %s)", name, strings.Join(names, ", "))
}

// TrapCode returns the instruction bytes of a RISC-V semihosting sequence.
// The core halts at offset 4.
func TrapCode() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], RISCVSlli)
	binary.LittleEndian.PutUint32(buf[4:], RISCVEbreak)
	binary.LittleEndian.PutUint32(buf[8:], RISCVSrai)
	return buf
}
