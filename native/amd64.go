package native

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/lumenvm/lumen/persist"
)

// ---------------------------------------------------------------------------
// x86-64 relocations
// ---------------------------------------------------------------------------
//
// Packed word: 3 low bits of type tag, byte offset above. Call fixups are
// rel32, so a target beyond ±2 GiB of the call site goes through a
// PLT-style stub: jmp QWORD PTR [rip+0] followed by the literal 64-bit
// target address, 14 bytes per entry.

// AMD64 is the relocation strategy for 64-bit Intel targets.
type AMD64 struct{}

const amd64PLTEntrySize = 14 // 2 (jmp opcode) + 4 (rip disp) + 8 (literal)

func (AMD64) Name() string { return "x86-64" }

func (AMD64) ISA() byte { return persist.ISAx8664 }

func (AMD64) TrampolineBytes() int { return amd64PLTEntrySize }

func (AMD64) DecodeOffset(packed uint) (int, uint) {
	return int(packed >> 3), uint(packed & 0b111)
}

func (AMD64) Apply(a *Arena, rtype uint, off int, addr uintptr) error {
	if rtype&0b001 != 0 {
		switch rtype {
		case 0b001: // rel32 call/jump, PLT stub when out of range
			raw, err := a.Code.u32(off)
			if err != nil {
				return err
			}
			addend := int64(int32(raw))
			// The program counter sits at the end of the rel32 field,
			// 4 bytes past the fixup site.
			rel := int64(addr) + addend - int64(a.Code.Addr(off)) - 4
			if rel < math.MinInt32 || rel > math.MaxInt32 {
				plt, err := a.trampoline(amd64PLTEntrySize)
				if err != nil {
					return err
				}
				plt.Mem[0] = 0xFF // jmp QWORD PTR [rip+0]
				plt.Mem[1] = 0x25
				binary.LittleEndian.PutUint32(plt.Mem[2:], 0)
				binary.LittleEndian.PutUint64(plt.Mem[6:], uint64(int64(addr)+addend))
				rel = int64(plt.Base) - int64(a.Code.Addr(off)) - 4
				if rel < math.MinInt32 || rel > math.MaxInt32 {
					return fmt.Errorf("%w: PLT stub itself out of rel32 range", persist.ErrInternal)
				}
			}
			return a.Code.putU32(off, uint32(int32(rel)))

		case 0b011: // 64-bit absolute, code region
			raw, err := a.Code.u32(off)
			if err != nil {
				return err
			}
			return a.Code.putU64(off, uint64(int64(addr)+int64(int32(raw))))

		case 0b111: // 64-bit absolute, data region
			raw, err := a.Data.u32(off)
			if err != nil {
				return err
			}
			return a.Data.putU64(off, uint64(int64(addr)+int64(int32(raw))))
		}
		return fmt.Errorf("%w: unknown x86-64 relocation type %#b", persist.ErrCorrupt, rtype)
	}

	// 32-bit site-relative fixup; tag bit 2 selects the data region.
	dest := a.dest(rtype&0b100 != 0)
	raw, err := dest.u32(off)
	if err != nil {
		return err
	}
	v := int64(addr) - int64(dest.Addr(off)) + int64(int32(raw))
	return dest.putU32(off, uint32(int32(v)))
}
