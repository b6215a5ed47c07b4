// Package semihosting implements the host side of the trap-based remote call
// channel, plus the encoders a simulated target needs for the other side.
//
// A request is a trap with an operation number in the first argument
// register and a parameter (usually the address of a two-word block) in the
// second. The host reads or writes the memory the block names, writes a
// status into the return register and resumes the core past the trap.
package semihosting

import "fmt"

// Operation is a semihosting operation number.
type Operation uint32

const (
	SysGetCmdline   Operation = 0x15
	SysExit         Operation = 0x18
	SysExitExtended Operation = 0x20
	// SysUserListTests is the vendor-defined operation carrying the JSON test
	// list from target to host.
	SysUserListTests Operation = 0x100
)

func (op Operation) String() string {
	switch op {
	case SysGetCmdline:
		return "SYS_GET_CMDLINE"
	case SysExit:
		return "SYS_EXIT"
	case SysExitExtended:
		return "SYS_EXIT_EXTENDED"
	case SysUserListTests:
		return "USER_LIST_TESTS"
	}
	return fmt.Sprintf("operation(%#x)", uint32(op))
}

// ExitReason is the reason code passed to SYS_EXIT.
type ExitReason uint32

const (
	ReasonRunTimeErrorUnknown ExitReason = 0x20023
	ReasonApplicationExit     ExitReason = 0x20026
)

func (r ExitReason) String() string {
	switch r {
	case ReasonRunTimeErrorUnknown:
		return "ADP_Stopped_RunTimeErrorUnknown"
	case ReasonApplicationExit:
		return "ADP_Stopped_ApplicationExit"
	}
	return fmt.Sprintf("reason(%#x)", uint32(r))
}

// Status values written to the return register.
const (
	StatusOK    uint32 = 0
	StatusError uint32 = 0xffffffff
)
