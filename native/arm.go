package native

import (
	"encoding/binary"
	"fmt"

	"github.com/lumenvm/lumen/persist"
)

// ---------------------------------------------------------------------------
// ARM (A32) relocations
// ---------------------------------------------------------------------------
//
// Packed word: 3 low bits of type tag, byte offset above. The B/BL
// instruction's branch field is a signed 26-bit word displacement, far too
// short to reach a runtime function on systems with more than 32 MiB of
// address space, so branch fixups always route through an 8-byte veneer:
// LDR pc, [pc, #-4] followed by the literal target address.

// ARM is the relocation strategy for 32-bit ARM targets.
type ARM struct{}

const (
	armVeneerSize = 8          // LDR pc, [pc, #-4] + 32-bit literal
	armLDRPCm4    = 0xE51FF004 // loads pc from the word that follows
)

func (ARM) Name() string { return "arm" }

func (ARM) ISA() byte { return persist.ISAARM }

func (ARM) TrampolineBytes() int { return armVeneerSize }

func (ARM) DecodeOffset(packed uint) (int, uint) {
	return int(packed >> 3), uint(packed & 0b111)
}

func (ARM) Apply(a *Arena, rtype uint, off int, addr uintptr) error {
	if rtype == 0b001 {
		// 26-bit branch, rewritten to target a veneer.
		veneer, err := a.trampoline(armVeneerSize)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(veneer.Mem[0:], armLDRPCm4)
		binary.LittleEndian.PutUint32(veneer.Mem[4:], uint32(addr))

		// The pc reads 8 bytes (two instructions) ahead of the branch.
		// B/BL carries a signed 24-bit word immediate, so the veneer must
		// sit within ±32 MiB of the branch site.
		rel := int64(veneer.Base) - int64(a.Code.Addr(off)) - 8
		if rel < -(1<<25) || rel >= 1<<25 {
			return fmt.Errorf("%w: veneer at %#x beyond branch range of site %#x",
				persist.ErrInternal, veneer.Base, a.Code.Addr(off))
		}
		if !a.Code.contains(off, 4) {
			_, err := a.Code.u32(off)
			return err
		}
		// Low 2 bits of the displacement are implied; the condition and
		// link bits in the fourth byte stay untouched.
		a.Code.Mem[off+0] = byte(uint32(rel) >> 2)
		a.Code.Mem[off+1] = byte(uint32(rel) >> 10)
		a.Code.Mem[off+2] = byte(uint32(rel) >> 18)
		return nil
	}

	// Plain 32-bit fixup: tag bit 1 selects the data region, tag bit 2
	// selects site-relative instead of absolute.
	dest := a.dest(rtype&0b010 != 0)
	v := int64(addr)
	if rtype&0b100 != 0 {
		v -= int64(dest.Addr(off))
	}
	raw, err := dest.u32(off)
	if err != nil {
		return err
	}
	return dest.putU32(off, uint32(v)+raw)
}
