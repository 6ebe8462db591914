//go:build unix

package native

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/lumenvm/lumen/persist"
)

// MmapAllocator allocates with anonymous mappings: executable+writable for
// code, plain read-write for data. Placement is best-effort: when a Hint is
// set, up to Attempts mappings are tried and the first one within reach of
// the hint wins; running out of attempts is a resource error reported to
// the caller, never an internal retry loop.
type MmapAllocator struct {
	// Hint, when nonzero, is the address region code should land near so
	// rel32 references to the runtime stay in range. Out-of-range targets
	// still work through trampolines, so the hint is an optimization.
	Hint uintptr

	// MaxDistance bounds how far from Hint a mapping may land before it is
	// rejected. Zero means 1 GiB.
	MaxDistance uintptr

	// Attempts bounds the placement tries. Zero means 8.
	Attempts int
}

// Exec implements Allocator with PROT_READ|PROT_WRITE|PROT_EXEC mappings.
func (a *MmapAllocator) Exec(size int) (*Mapping, error) {
	return a.mmap(size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
}

// Data implements Allocator with PROT_READ|PROT_WRITE mappings.
func (a *MmapAllocator) Data(size int) (*Mapping, error) {
	return a.mmap(size, unix.PROT_READ|unix.PROT_WRITE)
}

func (a *MmapAllocator) mmap(size, prot int) (*Mapping, error) {
	if size == 0 {
		return &Mapping{free: func() error { return nil }}, nil
	}
	attempts := a.Attempts
	if attempts == 0 {
		attempts = 8
	}
	maxDist := a.MaxDistance
	if maxDist == 0 {
		maxDist = 1 << 30
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		mem, err := unix.Mmap(-1, 0, size, prot, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			lastErr = err
			continue
		}
		base := uintptr(unsafe.Pointer(&mem[0]))
		if a.Hint != 0 && prot&unix.PROT_EXEC != 0 && distance(base, a.Hint) > maxDist {
			unix.Munmap(mem)
			lastErr = fmt.Errorf("mapping at %#x too far from hint %#x", base, a.Hint)
			continue
		}
		m := mem
		return &Mapping{Mem: mem, Base: base, free: func() error { return unix.Munmap(m) }}, nil
	}
	return nil, fmt.Errorf("%w: no usable mapping after %d attempts: %v", persist.ErrResource, attempts, lastErr)
}

func distance(a, b uintptr) uintptr {
	if a > b {
		return a - b
	}
	return b - a
}
