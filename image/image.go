// Package image inspects a test image before it is flashed: it detects the
// target architecture and checks that the image speaks the protocol version
// this runner implements.
package image

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/perfgo/semitest/probe"
	"github.com/perfgo/semitest/probe/sim"
	"github.com/perfgo/semitest/registry"
	"github.com/perfgo/semitest/semihosting"
)

// VersionSymbol names the uint32 the test harness links into every image.
const VersionSymbol = "SEMITEST_VERSION"

// Image is a loaded test image.
type Image struct {
	Path string
	Data []byte
	// Arch is detected from the ELF header, nil if unknown.
	Arch *semihosting.Arch
	// Version is the protocol version recorded in the image, 0 if not
	// checked.
	Version uint32
}

// Probe returns what the probe driver flashes.
func (img *Image) Probe() probe.Image {
	return probe.Image{Path: img.Path, Data: img.Data}
}

// Simulated reports whether the image is served by the simulator.
func (img *Image) Simulated() bool {
	return strings.HasPrefix(img.Path, sim.ImagePrefix)
}

// VersionError means the image cannot be driven by this runner.
type VersionError struct {
	Path string
	// Found is zero when the symbol is missing.
	Found uint32
	Want  uint32
}

func (e *VersionError) Error() string {
	if e.Found == 0 {
		return fmt.Sprintf("%s: symbol %s not found; the image was not built with the semitest harness", e.Path, VersionSymbol)
	}
	return fmt.Sprintf("%s: image speaks protocol version %d, runner speaks %d", e.Path, e.Found, e.Want)
}

// Load reads and checks the image at path. Simulated images ("sim:<name>")
// are not read from disk.
func Load(logger zerolog.Logger, path string) (*Image, error) {
	if strings.HasPrefix(path, sim.ImagePrefix) {
		return &Image{Path: path, Arch: semihosting.RISCV32, Version: registry.ProtocolVersion}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img := &Image{Path: path, Data: data}

	if !bytes.HasPrefix(data, []byte(elf.ELFMAG)) {
		logger.Warn().Str("image", path).Msg("Image is not an ELF file, skipping protocol version check")
		return img, nil
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("%s: only 32-bit targets are supported, got %v", path, f.Class)
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%s: only little-endian targets are supported", path)
	}
	switch f.Machine {
	case elf.EM_RISCV:
		img.Arch = semihosting.RISCV32
	case elf.EM_ARM:
		img.Arch = semihosting.ARMv7M
	default:
		logger.Warn().Str("machine", f.Machine.String()).Msg("Unknown ELF machine, architecture must be given explicitly")
	}

	version, err := readVersion(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if version != registry.ProtocolVersion {
		return nil, &VersionError{Path: path, Found: version, Want: registry.ProtocolVersion}
	}
	img.Version = version
	return img, nil
}

// readVersion returns the value of VersionSymbol, or 0 if it is absent.
func readVersion(f *elf.File) (uint32, error) {
	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return 0, fmt.Errorf("failed to read symbols: %w", err)
	}
	for _, sym := range syms {
		if sym.Name != VersionSymbol {
			continue
		}
		if int(sym.Section) >= len(f.Sections) {
			return 0, fmt.Errorf("symbol %s is not defined in a section", VersionSymbol)
		}
		sec := f.Sections[sym.Section]
		if sec.Type == elf.SHT_NOBITS {
			return 0, fmt.Errorf("symbol %s has no initialised data", VersionSymbol)
		}
		data, err := sec.Data()
		if err != nil {
			return 0, fmt.Errorf("failed to read section %s: %w", sec.Name, err)
		}
		off := sym.Value - sec.Addr
		if sym.Value < sec.Addr || off+4 > uint64(len(data)) {
			return 0, fmt.Errorf("symbol %s lies outside section %s", VersionSymbol, sec.Name)
		}
		return f.ByteOrder.Uint32(data[off:]), nil
	}
	return 0, nil
}
