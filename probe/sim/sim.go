// Package sim is an in-process probe driver attached to a simulated core.
//
// The core has a small code region holding a RISC-V semihosting trap
// sequence and a RAM region. After reset it runs a Program on its own
// goroutine; every semihosting request halts the core at the trap with the
// operation in a0 and the parameter in a1, exactly as a hardware target
// would, so the host side is exercised unchanged.
package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/perfgo/semitest/probe"
	"github.com/perfgo/semitest/registry"
	"github.com/perfgo/semitest/semihosting"
	"github.com/perfgo/semitest/target"
)

// Memory map of the simulated core.
const (
	CodeBase uint32 = 0x00000000
	CodeSize        = 0x200
	// TrapAddr is where the trap sequence starts; the core halts on the
	// ebreak at TrapAddr+4.
	TrapAddr uint32 = 0x100
	EntryPC  uint32 = 0x0
	RAMBase  uint32 = 0x20000000
	RAMSize         = 64 << 10
)

// ImagePrefix marks image paths served by the simulator.
const ImagePrefix = "sim:"

// Program is what the simulated core executes after reset.
type Program func(h *Host)

// RegistryProgram runs the test dispatcher over reg.
func RegistryProgram(reg *registry.Registry, opts ...target.Option) Program {
	return func(h *Host) {
		all := append([]target.Option{target.WithLogger(h.Logger())}, opts...)
		target.Main(h, reg, all...)
	}
}

var (
	catalogMu sync.Mutex
	catalog   = map[string]Program{}
)

// Register makes a program available as image "sim:<name>" to all
// simulated targets.
func Register(name string, p Program) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog[name] = p
}

// Images lists the registered image paths.
func Images() []string {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	var names []string
	for n := range catalog {
		names = append(names, ImagePrefix+n)
	}
	sort.Strings(names)
	return names
}

// Option configures a Target.
type Option func(*Target)

// WithProgram adds an image visible only to this target.
func WithProgram(name string, p Program) Option {
	return func(t *Target) { t.programs[name] = p }
}

var registers = []string{"pc", "a0", "a1"}

// Target is a simulated core behind a probe. It implements probe.Driver and
// probe.LogReader.
type Target struct {
	logger   zerolog.Logger
	programs map[string]Program

	mu      sync.Mutex
	cond    *sync.Cond
	code    []byte
	ram     []byte
	regs    map[string]uint32
	state   probe.CoreState
	reason  probe.HaltReason
	program Program
	gen     uint64
	booted  bool
	brk     uint32
	log     bytes.Buffer
	closed  bool
}

var _ probe.Driver = (*Target)(nil)
var _ probe.LogReader = (*Target)(nil)

// New attaches to a fresh simulated core.
func New(logger zerolog.Logger, opts ...Option) *Target {
	t := &Target{
		logger:   logger,
		programs: map[string]Program{},
		code:     make([]byte, CodeSize),
		ram:      make([]byte, RAMSize),
		regs:     map[string]uint32{},
		state:    probe.StateRunning,
	}
	t.cond = sync.NewCond(&t.mu)
	copy(t.code[TrapAddr:], semihosting.TrapCode())
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Target) lookup(path string) (Program, error) {
	if !strings.HasPrefix(path, ImagePrefix) {
		return nil, fmt.Errorf("simulator cannot flash %q: image paths must start with %q", path, ImagePrefix)
	}
	name := strings.TrimPrefix(path, ImagePrefix)
	if p, ok := t.programs[name]; ok {
		return p, nil
	}
	catalogMu.Lock()
	defer catalogMu.Unlock()
	if p, ok := catalog[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no simulated image %q", name)
}

var errClosed = errors.New("simulated probe closed")

// Flash loads the program and leaves the core halted at its entry point.
func (t *Target) Flash(_ context.Context, img probe.Image) error {
	p, err := t.lookup(img.Path)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errClosed
	}
	t.program = p
	t.resetLocked()
	t.logger.Debug().Str("image", img.Path).Msg("Simulated image flashed")
	return nil
}

// ResetHalt abandons whatever the core was doing and halts at the entry point.
func (t *Target) ResetHalt(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errClosed
	}
	if t.program == nil {
		return errors.New("no image flashed")
	}
	t.resetLocked()
	return nil
}

func (t *Target) resetLocked() {
	t.gen++
	t.booted = false
	for i := range t.ram {
		t.ram[i] = 0
	}
	for _, r := range registers {
		t.regs[r] = 0
	}
	t.regs["pc"] = EntryPC
	t.state, t.reason = probe.StateHalted, probe.ReasonRequest
	t.brk = RAMBase
	t.log.Reset()
	t.cond.Broadcast()
}

// Run resumes the core. The first Run after a reset boots the program.
func (t *Target) Run(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errClosed
	}
	if t.program == nil {
		return errors.New("no image flashed")
	}
	t.state, t.reason = probe.StateRunning, probe.ReasonUnknown
	if !t.booted {
		t.booted = true
		go t.boot(t.gen, t.program)
	}
	t.cond.Broadcast()
	return nil
}

// Halt stops the core. Program code keeps running until its next trap,
// where it waits for the core to be resumed.
func (t *Target) Halt(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errClosed
	}
	if t.state == probe.StateRunning {
		t.state, t.reason = probe.StateHalted, probe.ReasonRequest
	}
	return nil
}

// Status returns the run state of the core.
func (t *Target) Status(context.Context) (probe.Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return probe.Status{}, errClosed
	}
	return probe.Status{State: t.state, Reason: t.reason}, nil
}

func (t *Target) span(addr uint32, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative length %d", n)
	}
	for _, region := range []struct {
		base uint32
		mem  []byte
	}{{CodeBase, t.code}, {RAMBase, t.ram}} {
		if addr >= region.base && uint64(addr-region.base)+uint64(n) <= uint64(len(region.mem)) {
			off := addr - region.base
			return region.mem[off : off+uint32(n)], nil
		}
	}
	return nil, fmt.Errorf("memory access %#x+%d outside mapped regions", addr, n)
}

// ReadMemory copies n bytes from target memory.
func (t *Target) ReadMemory(_ context.Context, addr uint32, n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.span(addr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), s...), nil
}

// WriteMemory copies data into RAM. The code region is read-only.
func (t *Target) WriteMemory(_ context.Context, addr uint32, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if addr < RAMBase {
		return fmt.Errorf("memory write at %#x: code region is read-only", addr)
	}
	s, err := t.span(addr, len(data))
	if err != nil {
		return err
	}
	copy(s, data)
	return nil
}

// ReadRegister reads pc, a0 or a1.
func (t *Target) ReadRegister(_ context.Context, name string) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.regs[name]
	if !ok {
		return 0, fmt.Errorf("unknown register %q", name)
	}
	return v, nil
}

// WriteRegister writes pc, a0 or a1.
func (t *Target) WriteRegister(_ context.Context, name string, value uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.regs[name]; !ok {
		return fmt.Errorf("unknown register %q", name)
	}
	t.regs[name] = value
	return nil
}

// DrainLog returns what the target logged since the last reset or drain.
func (t *Target) DrainLog() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.log.String()
	t.log.Reset()
	return s
}

// Close detaches. Program goroutines stop at their next trap.
func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.gen++
	t.cond.Broadcast()
	return nil
}

func (t *Target) boot(gen uint64, p Program) {
	h := &Host{t: t, gen: gen}
	p(h)
	// Returning from the program leaves the core spinning.
	h.spin()
}

// Host is the target side of the simulated semihosting channel. It
// implements target.Host.
type Host struct {
	t   *Target
	gen uint64
}

var _ target.Host = (*Host)(nil)

// abandonedLocked ends the calling goroutine if the core was reset since it
// booted. t.mu must be held; deferred unlocks still run.
func (h *Host) abandonedLocked() {
	if h.gen != h.t.gen {
		runtime.Goexit()
	}
}

// Syscall issues a raw semihosting request and returns the status the host
// left in a0.
func (h *Host) Syscall(op semihosting.Operation, param uint32) uint32 {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.state != probe.StateRunning {
		h.abandonedLocked()
		t.cond.Wait()
	}
	h.abandonedLocked()

	haltPC := TrapAddr + 4
	t.regs["a0"] = uint32(op)
	t.regs["a1"] = param
	t.regs["pc"] = haltPC
	for {
		t.state, t.reason = probe.StateHalted, probe.ReasonBreakpoint
		for t.state != probe.StateRunning {
			h.abandonedLocked()
			t.cond.Wait()
		}
		h.abandonedLocked()
		// A host that resumes without stepping over the ebreak traps again.
		if t.regs["pc"] != haltPC {
			break
		}
	}
	return t.regs["a0"]
}

func (h *Host) alloc(n int) (uint32, error) {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	h.abandonedLocked()
	size := uint32((n + 3) &^ 3)
	if uint64(t.brk-RAMBase)+uint64(size) > RAMSize {
		return 0, fmt.Errorf("out of simulated RAM allocating %d bytes", n)
	}
	addr := t.brk
	t.brk += size
	return addr, nil
}

func (h *Host) poke(addr uint32, data []byte) {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	h.abandonedLocked()
	s, err := t.span(addr, len(data))
	if err != nil {
		panic(err)
	}
	copy(s, data)
}

func (h *Host) peek(addr uint32, n int) []byte {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	h.abandonedLocked()
	s, err := t.span(addr, n)
	if err != nil {
		panic(err)
	}
	return append([]byte(nil), s...)
}

// GetCmdline asks the host for the command line.
func (h *Host) GetCmdline(buf []byte) (int, error) {
	bufAddr, err := h.alloc(len(buf))
	if err != nil {
		return 0, err
	}
	blockAddr, err := h.alloc(semihosting.BlockSize)
	if err != nil {
		return 0, err
	}
	h.poke(blockAddr, semihosting.EncodeBlock(semihosting.Block{Address: bufAddr, Length: uint32(len(buf))}))
	if status := h.Syscall(semihosting.SysGetCmdline, blockAddr); status != semihosting.StatusOK {
		return 0, fmt.Errorf("SYS_GET_CMDLINE failed with status %#x", status)
	}
	b, err := semihosting.DecodeBlock(h.peek(blockAddr, semihosting.BlockSize))
	if err != nil {
		return 0, err
	}
	if int(b.Length) > len(buf) {
		return 0, fmt.Errorf("host reported %d byte command line for a %d byte buffer", b.Length, len(buf))
	}
	return copy(buf, h.peek(bufAddr, int(b.Length))), nil
}

// ReportTests hands the encoded list to the host.
func (h *Host) ReportTests(payload []byte) error {
	bufAddr, err := h.alloc(len(payload))
	if err != nil {
		return err
	}
	blockAddr, err := h.alloc(semihosting.BlockSize)
	if err != nil {
		return err
	}
	h.poke(bufAddr, payload)
	h.poke(blockAddr, semihosting.EncodeBlock(semihosting.Block{Address: bufAddr, Length: uint32(len(payload))}))
	if status := h.Syscall(semihosting.SysUserListTests, blockAddr); status != semihosting.StatusOK {
		return fmt.Errorf("list operation failed with status %#x", status)
	}
	return nil
}

// Exit ends the boot successfully.
func (h *Host) Exit() {
	for {
		h.Syscall(semihosting.SysExit, uint32(semihosting.ReasonApplicationExit))
	}
}

// ExitError ends the boot with a non-zero exit code.
func (h *Host) ExitError(code uint32) {
	addr, err := h.alloc(8)
	if err != nil {
		h.Abort()
	}
	h.poke(addr, semihosting.EncodeExitExtended(semihosting.ReasonApplicationExit, code))
	for {
		h.Syscall(semihosting.SysExitExtended, addr)
	}
}

// Abort ends the boot with the protocol-abort signal.
func (h *Host) Abort() {
	for {
		h.Syscall(semihosting.SysExit, uint32(semihosting.ReasonRunTimeErrorUnknown))
	}
}

// Logger returns a logger writing to the probe's log side channel.
func (h *Host) Logger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{
		Out:          logSink{h},
		NoColor:      true,
		PartsExclude: []string{zerolog.TimestampFieldName},
	})
}

// spin blocks until the core is reset, like a core stuck in a loop.
func (h *Host) spin() {
	t := h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		h.abandonedLocked()
		t.cond.Wait()
	}
}

type logSink struct {
	h *Host
}

func (s logSink) Write(p []byte) (int, error) {
	t := s.h.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.h.gen == t.gen {
		t.log.Write(p)
	}
	return len(p), nil
}
