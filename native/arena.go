// Package native loads ahead-of-time compiled machine code from .lpc
// containers: it places the code and data payloads in memory and patches
// them with runtime addresses, synthesizing trampolines where a direct
// branch cannot reach its target.
package native

import (
	"encoding/binary"
	"fmt"

	"github.com/lumenvm/lumen/persist"
)

// ---------------------------------------------------------------------------
// Regions and the load arena
// ---------------------------------------------------------------------------

// Region is one contiguous memory range of a loaded image. Base is the
// address relocation math runs against; for a staged-then-committed code
// region it is the final execution address, not the staging address.
type Region struct {
	Mem  []byte
	Base uintptr
}

// Addr returns the absolute address of the byte at off.
func (rg Region) Addr(off int) uintptr {
	return rg.Base + uintptr(off)
}

// contains reports whether [off, off+n) lies inside the region.
func (rg Region) contains(off, n int) bool {
	return off >= 0 && n >= 0 && off+n <= len(rg.Mem)
}

func (rg Region) u32(off int) (uint32, error) {
	if !rg.contains(off, 4) {
		return 0, fmt.Errorf("%w: relocation offset %d outside region", persist.ErrCorrupt, off)
	}
	return binary.LittleEndian.Uint32(rg.Mem[off:]), nil
}

func (rg Region) putU32(off int, v uint32) error {
	if !rg.contains(off, 4) {
		return fmt.Errorf("%w: relocation offset %d outside region", persist.ErrCorrupt, off)
	}
	binary.LittleEndian.PutUint32(rg.Mem[off:], v)
	return nil
}

func (rg Region) putU64(off int, v uint64) error {
	if !rg.contains(off, 8) {
		return fmt.Errorf("%w: relocation offset %d outside region", persist.ErrCorrupt, off)
	}
	binary.LittleEndian.PutUint64(rg.Mem[off:], v)
	return nil
}

// Arena is the three mutually exclusive address ranges of one load: the
// code region, the trampoline reserve carved out immediately after it in
// the same allocation, and the separate data region. Ranges are computed
// once at allocation time and never resized.
type Arena struct {
	Code  Region
	Tramp Region
	Data  Region

	trampUsed int
}

// dest selects the code or data region for a fixup site.
func (a *Arena) dest(data bool) *Region {
	if data {
		return &a.Data
	}
	return &a.Code
}

// trampoline bump-allocates n bytes from the reserve. The reserve is sized
// for the worst case of one entry per relocation, so running out means the
// sizing and the emission disagree.
func (a *Arena) trampoline(n int) (Region, error) {
	if a.trampUsed+n > len(a.Tramp.Mem) {
		return Region{}, fmt.Errorf("%w: trampoline reserve exhausted (%d of %d bytes used)",
			persist.ErrInternal, a.trampUsed, len(a.Tramp.Mem))
	}
	sub := Region{
		Mem:  a.Tramp.Mem[a.trampUsed : a.trampUsed+n],
		Base: a.Tramp.Base + uintptr(a.trampUsed),
	}
	a.trampUsed += n
	return sub, nil
}

// TrampolineBytesUsed reports how much of the reserve the load consumed.
func (a *Arena) TrampolineBytesUsed() int {
	return a.trampUsed
}
