package semihosting

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// Memory is the part of a probe needed to service requests.
type Memory interface {
	ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error)
	WriteMemory(ctx context.Context, addr uint32, data []byte) error
}

// MaxPayload bounds the buffer length a target may declare.
const MaxPayload = 1 << 20

// BlockSize is the size of an encoded parameter block.
const BlockSize = 8

// Block is the two-word parameter block {address, length}.
type Block struct {
	Address uint32
	Length  uint32
}

// ErrBadBlock is returned for blocks whose length cannot be honoured.
var ErrBadBlock = errors.New("invalid parameter block")

// ErrUnreadable marks target memory a request points at that the probe
// could not read.
var ErrUnreadable = errors.New("target memory unreadable")

// EncodeBlock returns the little-endian encoding of b.
func EncodeBlock(b Block) []byte {
	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:], b.Address)
	binary.LittleEndian.PutUint32(buf[4:], b.Length)
	return buf
}

// DecodeBlock parses an encoded parameter block.
func DecodeBlock(buf []byte) (Block, error) {
	if len(buf) < BlockSize {
		return Block{}, fmt.Errorf("%w: %d bytes", ErrBadBlock, len(buf))
	}
	return Block{
		Address: binary.LittleEndian.Uint32(buf[0:]),
		Length:  binary.LittleEndian.Uint32(buf[4:]),
	}, nil
}

// ReadBlock reads the parameter block at addr.
func ReadBlock(ctx context.Context, mem Memory, addr uint32) (Block, error) {
	buf, err := mem.ReadMemory(ctx, addr, BlockSize)
	if err != nil {
		return Block{}, fmt.Errorf("%w: parameter block at %#x: %w", ErrUnreadable, addr, err)
	}
	return DecodeBlock(buf)
}

// Read returns the bytes the block describes.
func (b Block) Read(ctx context.Context, mem Memory) ([]byte, error) {
	if b.Length > MaxPayload {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrBadBlock, b.Length, MaxPayload)
	}
	if b.Length == 0 {
		return nil, nil
	}
	data, err := mem.ReadMemory(ctx, b.Address, int(b.Length))
	if err != nil {
		return nil, fmt.Errorf("%w: buffer at %#x: %w", ErrUnreadable, b.Address, err)
	}
	return data, nil
}

// WriteCmdline answers a SYS_GET_CMDLINE request: cmd is written
// NUL-terminated into the block's buffer and the block's length is rewritten
// to exclude the NUL.
func WriteCmdline(ctx context.Context, mem Memory, blockAddr uint32, b Block, cmd string) error {
	data := append([]byte(cmd), 0)
	if uint64(len(data)) > uint64(b.Length) {
		return fmt.Errorf("%w: command line needs %d bytes, buffer has %d", ErrBadBlock, len(data), b.Length)
	}
	if err := mem.WriteMemory(ctx, b.Address, data); err != nil {
		return fmt.Errorf("write command line: %w", err)
	}
	b.Length = uint32(len(cmd))
	if err := mem.WriteMemory(ctx, blockAddr, EncodeBlock(b)); err != nil {
		return fmt.Errorf("write parameter block: %w", err)
	}
	return nil
}
