package native

import (
	"fmt"

	"github.com/lumenvm/lumen/persist"
	"github.com/lumenvm/lumen/vm"
)

// ---------------------------------------------------------------------------
// Native-code loader
// ---------------------------------------------------------------------------
//
// A load walks a linear state machine: header read, memory allocated,
// code/data loaded, relocations applied, committed. Failure in any state
// aborts the whole load and releases everything allocated so far; a partial
// native module is never left runnable.

// The two reserved relocation-target sentinels.
const (
	targetDataBase = 126
	targetCodeBase = 127
)

// Bounds on the header's declared sizes, applied before any allocation. A
// corrupt varint otherwise turns into a multi-gigabyte mapping request (or,
// for the relocation count, an overflowing trampoline-reserve computation).
const (
	maxCodeLen = 32 << 20
	maxDataLen = 32 << 20
	maxRelocs  = 1 << 20
)

// CommitFunc finalizes a staged code region on platforms where code is
// written in one place and executed from another, returning the final
// execution address. Called once with length zero before relocations (to
// learn the address they must target) and once with the real length after.
type CommitFunc func(staged *Mapping, codeLen int) (uintptr, error)

// Config assembles a loader for one target: the relocation strategy, the
// memory allocator, the runtime's exposed-address table, and the optional
// commit hook.
type Config struct {
	Arch   Arch
	Alloc  Allocator
	Funs   vm.FunTable
	Commit CommitFunc
}

// Loader loads native-code container bodies. It satisfies the codec's
// NativeLoader dispatch interface.
type Loader struct {
	cfg Config
}

// NewLoader returns a loader for the given configuration.
func NewLoader(cfg Config) *Loader {
	return &Loader{cfg: cfg}
}

// ISA reports the instruction-set identifier this loader accepts.
func (l *Loader) ISA() byte {
	return l.cfg.Arch.ISA()
}

// Load reads a native-code body from r, places it in memory, applies its
// relocation table and returns the committed image as a callable code
// unit. The entry's calling convention is variable-arity: native modules
// expose a single argc/argv entry point.
func (l *Loader) Load(r persist.Reader) (*vm.RawCode, error) {
	// Header: four varints.
	codeLen, err := persist.ReadUint(r)
	if err != nil {
		return nil, err
	}
	dataLen, err := persist.ReadUint(r)
	if err != nil {
		return nil, err
	}
	nRelocs, err := persist.ReadUint(r)
	if err != nil {
		return nil, err
	}
	startIndex, err := persist.ReadUint(r)
	if err != nil {
		return nil, err
	}
	if codeLen > maxCodeLen {
		return nil, fmt.Errorf("%w: code segment of %d bytes", persist.ErrCorrupt, codeLen)
	}
	if dataLen > maxDataLen {
		return nil, fmt.Errorf("%w: data segment of %d bytes", persist.ErrCorrupt, dataLen)
	}
	if nRelocs > maxRelocs {
		return nil, fmt.Errorf("%w: relocation table of %d entries", persist.ErrCorrupt, nRelocs)
	}
	if startIndex != 0 && startIndex >= codeLen {
		return nil, fmt.Errorf("%w: entry index %d outside code segment", persist.ErrCorrupt, startIndex)
	}

	// Trampoline reserve: worst case is one entry per relocation. The data
	// region starts 8-aligned after it for architectures that place both in
	// one mapping.
	reserve := l.cfg.Arch.TrampolineBytes() * int(nRelocs)
	if rem := (int(codeLen) + reserve) % 8; rem != 0 {
		reserve += 8 - rem
	}

	codeMap, err := l.cfg.Alloc.Exec(int(codeLen) + reserve)
	if err != nil {
		return nil, fmt.Errorf("%w: code region: %v", persist.ErrResource, err)
	}
	dataMap, err := l.cfg.Alloc.Data(int(dataLen))
	if err != nil {
		codeMap.Release()
		return nil, fmt.Errorf("%w: data region: %v", persist.ErrResource, err)
	}

	committed := false
	defer func() {
		if !committed {
			codeMap.Release()
			dataMap.Release()
		}
	}()

	// On staged platforms every code-relative relocation must target the
	// final execution address, so learn it before applying any.
	finalBase := codeMap.Base
	if l.cfg.Commit != nil {
		finalBase, err = l.cfg.Commit(codeMap, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: commit preview: %v", persist.ErrResource, err)
		}
	}

	arena := Arena{
		Code:  Region{Mem: codeMap.Mem[:codeLen], Base: finalBase},
		Tramp: Region{Mem: codeMap.Mem[codeLen:], Base: finalBase + uintptr(codeLen)},
		Data:  Region{Mem: dataMap.Mem, Base: dataMap.Base},
	}

	if err := persist.ReadFull(r, arena.Code.Mem); err != nil {
		return nil, err
	}
	if err := persist.ReadFull(r, arena.Data.Mem); err != nil {
		return nil, err
	}

	for i := uint(0); i < nRelocs; i++ {
		target, err := persist.ReadUint(r)
		if err != nil {
			return nil, err
		}
		packed, err := persist.ReadUint(r)
		if err != nil {
			return nil, err
		}

		addr, err := l.resolve(target, &arena)
		if err != nil {
			return nil, fmt.Errorf("relocation %d: %w", i, err)
		}
		off, rtype := l.cfg.Arch.DecodeOffset(packed)
		if err := l.cfg.Arch.Apply(&arena, rtype, off, addr); err != nil {
			return nil, fmt.Errorf("relocation %d (target %d): %w", i, target, err)
		}
	}

	// Final placement. A commit that lands anywhere other than the address
	// the relocations were computed against invalidates all of them; there
	// is no re-relocation pass, only the abort.
	if l.cfg.Commit != nil {
		newBase, err := l.cfg.Commit(codeMap, int(codeLen))
		if err != nil {
			return nil, fmt.Errorf("%w: commit: %v", persist.ErrResource, err)
		}
		if newBase != finalBase {
			return nil, fmt.Errorf("%w: code committed to %#x, relocated for %#x",
				persist.ErrInternal, newBase, finalBase)
		}
	}
	committed = true

	nc := &vm.NativeCode{
		CodeBase:   finalBase,
		CodeLen:    int(codeLen),
		DataBase:   arena.Data.Base,
		DataLen:    int(dataLen),
		EntryIndex: int(startIndex),
		Arity:      vm.ArityVar,
		Release: func() {
			codeMap.Release()
			dataMap.Release()
		},
	}
	return vm.NewNative(nc), nil
}

// resolve maps a relocation target id to an absolute address: the two
// region sentinels, then the runtime's fixed function table.
func (l *Loader) resolve(target uint, a *Arena) (uintptr, error) {
	switch target {
	case targetDataBase:
		return a.Data.Base, nil
	case targetCodeBase:
		return a.Code.Base, nil
	}
	addr, ok := l.cfg.Funs.Resolve(target)
	if !ok {
		return 0, fmt.Errorf("%w: id %d", persist.ErrUnknownSymbol, target)
	}
	return addr, nil
}
