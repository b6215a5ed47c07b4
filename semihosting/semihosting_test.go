package semihosting

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatMemory is a byte slice mapped at base.
type flatMemory struct {
	base   uint32
	data   []byte
	writes int
}

func newFlatMemory(base uint32, size int) *flatMemory {
	return &flatMemory{base: base, data: make([]byte, size)}
}

func (m *flatMemory) span(addr uint32, n int) ([]byte, error) {
	if addr < m.base || uint64(addr-m.base)+uint64(n) > uint64(len(m.data)) {
		return nil, fmt.Errorf("address %#x+%d out of range", addr, n)
	}
	off := addr - m.base
	return m.data[off : off+uint32(n)], nil
}

func (m *flatMemory) ReadMemory(_ context.Context, addr uint32, n int) ([]byte, error) {
	s, err := m.span(addr, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), s...), nil
}

func (m *flatMemory) WriteMemory(_ context.Context, addr uint32, data []byte) error {
	s, err := m.span(addr, len(data))
	if err != nil {
		return err
	}
	m.writes++
	copy(s, data)
	return nil
}

func TestBlockRoundTrip(t *testing.T) {
	b := Block{Address: 0x20000100, Length: 1024}
	got, err := DecodeBlock(EncodeBlock(b))
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = DecodeBlock([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBadBlock)
}

func TestWriteCmdline(t *testing.T) {
	ctx := context.Background()
	mem := newFlatMemory(0x1000, 0x100)
	blockAddr := uint32(0x1000)
	buf := Block{Address: 0x1010, Length: 16}
	require.NoError(t, mem.WriteMemory(ctx, blockAddr, EncodeBlock(buf)))

	b, err := ReadBlock(ctx, mem, blockAddr)
	require.NoError(t, err)
	require.NoError(t, WriteCmdline(ctx, mem, blockAddr, b, "list"))

	got, err := ReadBlock(ctx, mem, blockAddr)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), got.Length, "length excludes the NUL")
	data, err := mem.ReadMemory(ctx, 0x1010, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("list\x00"), data)
}

func TestWriteCmdlineTooLong(t *testing.T) {
	ctx := context.Background()
	mem := newFlatMemory(0x1000, 0x100)
	before := mem.writes
	err := WriteCmdline(ctx, mem, 0x1000, Block{Address: 0x1010, Length: 4}, "list")
	assert.ErrorIs(t, err, ErrBadBlock)
	assert.Equal(t, before, mem.writes, "nothing written on failure")
}

func TestBlockReadLimits(t *testing.T) {
	ctx := context.Background()
	mem := newFlatMemory(0x1000, 0x100)
	_, err := Block{Address: 0x1000, Length: MaxPayload + 1}.Read(ctx, mem)
	assert.ErrorIs(t, err, ErrBadBlock)

	_, err = Block{Address: 0x1000, Length: 0x200}.Read(ctx, mem)
	assert.ErrorIs(t, err, ErrUnreadable)

	data, err := Block{Address: 0x1000, Length: 0}.Read(ctx, mem)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestDecode(t *testing.T) {
	ctx := context.Background()
	mem := newFlatMemory(0x1000, 0x100)
	require.NoError(t, mem.WriteMemory(ctx, 0x1000, EncodeBlock(Block{Address: 0x1040, Length: 32})))
	require.NoError(t, mem.WriteMemory(ctx, 0x1020, EncodeExitExtended(ReasonApplicationExit, 1)))
	require.NoError(t, mem.WriteMemory(ctx, 0x1030, EncodeExitExtended(ReasonApplicationExit, 0)))

	for _, tc := range []struct {
		name     string
		op       Operation
		param    uint32
		wantKind Kind
		wantCode uint32
	}{
		{"cmdline", SysGetCmdline, 0x1000, KindGetCmdline, 0},
		{"list", SysUserListTests, 0x1000, KindListTests, 0},
		{"exit success", SysExit, uint32(ReasonApplicationExit), KindExitSuccess, 0},
		{"abort", SysExit, uint32(ReasonRunTimeErrorUnknown), KindAbort, 0},
		{"exit extended error", SysExitExtended, 0x1020, KindExitError, 1},
		{"exit extended success", SysExitExtended, 0x1030, KindExitSuccess, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := Decode(ctx, mem, tc.op, tc.param)
			require.NoError(t, err)
			assert.Equal(t, tc.wantKind, cmd.Kind)
			assert.Equal(t, tc.wantCode, cmd.Code)
			if tc.wantKind == KindGetCmdline || tc.wantKind == KindListTests {
				assert.Equal(t, Block{Address: 0x1040, Length: 32}, cmd.Block)
				assert.Equal(t, tc.param, cmd.BlockAddr)
			}
		})
	}

	_, err := Decode(ctx, mem, Operation(0x05), 0x1000)
	assert.ErrorIs(t, err, ErrUnknownOperation)
	_, err = Decode(ctx, mem, SysGetCmdline, 0x9000)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestUnreadableMemory(t *testing.T) {
	ctx := context.Background()
	mem := newFlatMemory(0x1000, 0x100)

	for _, tc := range []struct {
		name string
		call func() error
	}{
		{"parameter block", func() error {
			_, err := ReadBlock(ctx, mem, 0xdeadbeef)
			return err
		}},
		{"list block", func() error {
			_, err := Decode(ctx, mem, SysUserListTests, 0x10fc)
			return err
		}},
		{"exit block", func() error {
			_, err := Decode(ctx, mem, SysExitExtended, 0xdeadbeef)
			return err
		}},
		{"riscv trap pc", func() error {
			_, err := RISCV32.IsTrap(ctx, mem, 0x40000000)
			return err
		}},
		{"thumb trap pc", func() error {
			_, err := ARMv7M.IsTrap(ctx, mem, 0x40000000)
			return err
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			assert.ErrorIs(t, err, ErrUnreadable)
			assert.Contains(t, err.Error(), "out of range")
		})
	}
}

func TestIsTrap(t *testing.T) {
	ctx := context.Background()
	mem := newFlatMemory(0x0, 0x40)
	require.NoError(t, mem.WriteMemory(ctx, 0x10, TrapCode()))

	got, err := RISCV32.IsTrap(ctx, mem, 0x14)
	require.NoError(t, err)
	assert.True(t, got)
	got, err = RISCV32.IsTrap(ctx, mem, 0x10)
	require.NoError(t, err)
	assert.False(t, got)
	got, err = RISCV32.IsTrap(ctx, mem, 0)
	require.NoError(t, err)
	assert.False(t, got)

	bkpt := make([]byte, 2)
	binary.LittleEndian.PutUint16(bkpt, ARMThumbBkptAB)
	require.NoError(t, mem.WriteMemory(ctx, 0x30, bkpt))
	got, err = ARMv7M.IsTrap(ctx, mem, 0x30)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestArchByName(t *testing.T) {
	a, err := ArchByName("RISCV32")
	require.NoError(t, err)
	assert.Same(t, RISCV32, a)
	_, err = ArchByName("z80")
	assert.Error(t, err)
}
