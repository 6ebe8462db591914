package native

import (
	"fmt"

	"github.com/lumenvm/lumen/persist"
)

// ---------------------------------------------------------------------------
// Memory allocation
// ---------------------------------------------------------------------------

// Mapping is one allocated memory range. Base is the address the range is
// (or will be) visible at; for staged code on Harvard-style platforms the
// commit hook reports the final address separately.
type Mapping struct {
	Mem  []byte
	Base uintptr

	free func() error
}

// Release frees the mapping. Safe to call more than once.
func (m *Mapping) Release() error {
	if m == nil || m.free == nil {
		return nil
	}
	f := m.free
	m.free = nil
	m.Mem = nil
	return f()
}

// Allocator provides the two flavors of memory a native load needs. Every
// call returns a result rather than retrying internally; callers choose
// whether to try again with different placement.
type Allocator interface {
	// Exec allocates an executable and writable range.
	Exec(size int) (*Mapping, error)

	// Data allocates a plain read-write range.
	Data(size int) (*Mapping, error)
}

// HeapAllocator serves loads that stage code in ordinary memory: tests,
// dry-run inspection, and Harvard-style platforms where a commit hook moves
// the staged bytes to their execution address afterwards. Bases for the
// fake address space are configurable so displacement scenarios can be
// constructed deliberately.
type HeapAllocator struct {
	// NextCodeBase and NextDataBase seed the synthetic addresses handed
	// out. Zero values pick harmless defaults.
	NextCodeBase uintptr
	NextDataBase uintptr
}

const (
	defaultCodeBase = 0x10_0000
	defaultDataBase = 0x8000_0000
	heapBaseStride  = 0x100_0000
)

// Exec implements Allocator with a heap buffer and a synthetic base.
func (h *HeapAllocator) Exec(size int) (*Mapping, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative allocation", persist.ErrCorrupt)
	}
	if h.NextCodeBase == 0 {
		h.NextCodeBase = defaultCodeBase
	}
	base := h.NextCodeBase
	h.NextCodeBase += heapBaseStride
	return &Mapping{Mem: make([]byte, size), Base: base, free: func() error { return nil }}, nil
}

// Data implements Allocator with a heap buffer and a synthetic base.
func (h *HeapAllocator) Data(size int) (*Mapping, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative allocation", persist.ErrCorrupt)
	}
	if h.NextDataBase == 0 {
		h.NextDataBase = defaultDataBase
	}
	base := h.NextDataBase
	h.NextDataBase += heapBaseStride
	return &Mapping{Mem: make([]byte, size), Base: base, free: func() error { return nil }}, nil
}
