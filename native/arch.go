package native

import "fmt"

// ---------------------------------------------------------------------------
// Architecture strategy
// ---------------------------------------------------------------------------

// Arch is the per-instruction-set relocation strategy: how a packed
// offset/type word decodes, how a fixup is applied, and how much trampoline
// space one relocation can consume in the worst case. One implementation
// exists per supported target; the loader is configured with exactly one at
// start-up rather than branching on the platform inline.
type Arch interface {
	Name() string

	// ISA returns the container header identifier this strategy serves.
	ISA() byte

	// DecodeOffset splits a packed relocation word into the byte offset of
	// the fixup site and the architecture's type tag (3 low bits on the
	// wider architectures, 1 on Xtensa).
	DecodeOffset(packed uint) (off int, rtype uint)

	// TrampolineBytes is the worst-case reserve needed per relocation
	// entry. Zero on architectures whose fixups are always in range.
	TrampolineBytes() int

	// Apply performs one fixup: write the resolved address (or a
	// displacement derived from it) at the fixup site, emitting a
	// trampoline first when the target is unreachable directly.
	Apply(a *Arena, rtype uint, off int, addr uintptr) error
}

// ForISA returns the strategy for a container ISA identifier.
func ForISA(isa byte) (Arch, error) {
	switch isa {
	case 0x3E:
		return AMD64{}, nil
	case 0x28:
		return ARM{}, nil
	case 0x5E:
		return NewXtensa(), nil
	}
	return nil, fmt.Errorf("unsupported instruction set 0x%02x", isa)
}
