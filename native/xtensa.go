package native

// ---------------------------------------------------------------------------
// Xtensa relocations
// ---------------------------------------------------------------------------
//
// Packed word: 1 low bit selecting code or data region, byte offset above.
// Every fixup is a 32-bit absolute write; nothing needs a trampoline.

import "github.com/lumenvm/lumen/persist"

// Xtensa is the relocation strategy for Xtensa targets.
type Xtensa struct {
	// readAddend controls whether the 32 bits already at the fixup site
	// are added to the resolved address. The format defines the addend
	// explicitly rather than leaving it to whatever the field layout
	// happens to contain.
	readAddend bool
}

// NewXtensa returns the Xtensa strategy with addend handling enabled,
// matching what the ahead-of-time compiler emits.
func NewXtensa() Xtensa {
	return Xtensa{readAddend: true}
}

func (Xtensa) Name() string { return "xtensa" }

func (Xtensa) ISA() byte { return persist.ISAXtensa }

func (Xtensa) TrampolineBytes() int { return 0 }

func (Xtensa) DecodeOffset(packed uint) (int, uint) {
	return int(packed >> 1), uint(packed & 0b1)
}

func (x Xtensa) Apply(a *Arena, rtype uint, off int, addr uintptr) error {
	dest := a.dest(rtype == 0b1)
	v := uint32(addr)
	if x.readAddend {
		raw, err := dest.u32(off)
		if err != nil {
			return err
		}
		v += raw
	}
	return dest.putU32(off, v)
}
