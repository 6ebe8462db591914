package persist

import (
	"fmt"
	"io"
	"math/bits"
	"os"

	"github.com/lumenvm/lumen/vm"
)

// ---------------------------------------------------------------------------
// Container header
// ---------------------------------------------------------------------------

// Magic is the first byte of every .lpc container.
const Magic = 'L'

// Version is the current container format version.
const Version = 2

// NativeFlags is the feature-flags byte marking a native-code container.
// The high bit distinguishes it from any bytecode flags combination.
const NativeFlags = 0x80

// Instruction-set identifiers for native containers, following the ELF
// machine numbering.
const (
	ISAx8664  = 0x3E
	ISAARM    = 0x28
	ISAXtensa = 0x5E
)

// SmallIntBits is the number of bits in this runtime's small integer
// representation (one machine word minus the tag bit). Bytecode produced by
// a runtime with wider small ints cannot be loaded.
const SmallIntBits = bits.UintSize - 1

// Features are the compile-time options that change the generated
// bytecode's binary shape. The flags byte computed from them must match
// exactly between producer and consumer; mismatched flags are a hard
// reject, not advisory.
type Features struct {
	// InlineCaches adds a cache byte to symbol-referencing instructions.
	InlineCaches bool
	// UnicodeStrings selects unicode-aware string indexing opcode shapes.
	UnicodeStrings bool
}

// FlagsByte renders the features as the container's flags byte.
func (f Features) FlagsByte() byte {
	var b byte
	if f.InlineCaches {
		b |= 1 << 0
	}
	if f.UnicodeStrings {
		b |= 1 << 1
	}
	return b
}

// NativeLoader loads the native-code body that follows a native container
// header. Implemented by the native package; injected here so the codec
// stays free of architecture back-ends.
type NativeLoader interface {
	Load(r Reader) (*vm.RawCode, error)
	ISA() byte
}

// Config carries everything a load or save needs: the intern table the
// qstr codec resolves against, the build's feature flags, and optionally a
// native loader for this runtime's architecture.
type Config struct {
	Symbols  *vm.SymbolTable
	Features Features
	Native   NativeLoader
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// Load reads one container from r and reconstructs its code-unit tree (or
// loads and relocates its native image). The header is validated and
// discarded; any mismatch is a format-incompatibility error and no further
// bytes are interpreted.
func Load(r Reader, cfg Config) (*vm.RawCode, error) {
	var header [4]byte
	if err := readBytes(r, header[:]); err != nil {
		return nil, err
	}
	if header[0] != Magic || header[1] != Version {
		return nil, fmt.Errorf("%w: bad magic/version %02x %02x", ErrIncompatible, header[0], header[1])
	}

	switch {
	case header[2] == cfg.Features.FlagsByte():
		if int(header[3]) > SmallIntBits {
			return nil, fmt.Errorf("%w: container needs %d-bit small ints, runtime has %d",
				ErrIncompatible, header[3], SmallIntBits)
		}
		return loadRawCode(r, cfg.Symbols, cfg.Features.InlineCaches)

	case header[2] == NativeFlags:
		if cfg.Native == nil {
			return nil, fmt.Errorf("%w: native container but no native loader configured", ErrIncompatible)
		}
		if header[3] != cfg.Native.ISA() {
			return nil, fmt.Errorf("%w: container ISA 0x%02x, runtime ISA 0x%02x",
				ErrIncompatible, header[3], cfg.Native.ISA())
		}
		return cfg.Native.Load(r)
	}
	return nil, fmt.Errorf("%w: feature flags 0x%02x do not match build flags 0x%02x",
		ErrIncompatible, header[2], cfg.Features.FlagsByte())
}

// LoadBytes loads a container from an in-memory image.
func LoadBytes(data []byte, cfg Config) (*vm.RawCode, error) {
	return Load(NewMemReader(data), cfg)
}

// LoadFile loads a container from the named file.
func LoadFile(name string, cfg Config) (*vm.RawCode, error) {
	fr, err := OpenFile(name)
	if err != nil {
		return nil, err
	}
	defer fr.Close()
	return Load(fr, cfg)
}

// ---------------------------------------------------------------------------
// Save
// ---------------------------------------------------------------------------

// Save writes rc as a container to w. Only bytecode trees have a save
// direction; native images are produced by the ahead-of-time compiler, not
// by this runtime.
func Save(w io.Writer, rc *vm.RawCode, cfg Config) error {
	header := [4]byte{Magic, Version, cfg.Features.FlagsByte(), byte(SmallIntBits)}
	if err := writeBytes(w, header[:]); err != nil {
		return err
	}
	return saveRawCode(w, cfg.Symbols, rc, cfg.Features.InlineCaches)
}

// SaveFile writes rc as a container to the named file.
func SaveFile(name string, rc *vm.RawCode, cfg Config) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResource, err)
	}
	defer f.Close()
	return Save(f, rc, cfg)
}
