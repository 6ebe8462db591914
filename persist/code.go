package persist

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lumenvm/lumen/vm"
)

// ---------------------------------------------------------------------------
// Code-unit codec
// ---------------------------------------------------------------------------
//
// A code unit travels as: instruction bytes (with 2-byte placeholder slots
// for every intern handle), the two identifying names, one string per
// symbol-referencing instruction, and the three constant-pool regions. The
// prelude boundary is never transmitted; both directions recover it by
// scanning the raw instruction bytes, and those two scans must agree bit for
// bit with each other and with the interpreter's opcode decoder.

// LoadUnit reads one bare code unit (a container body without its header)
// from r. Inspection tooling uses it; normal loads go through Load, which
// validates the header first.
func LoadUnit(r Reader, tbl *vm.SymbolTable, cacheSlots bool) (*vm.RawCode, error) {
	return loadRawCode(r, tbl, cacheSlots)
}

// loadRawCode reads one code unit, recursing for nested units.
func loadRawCode(r Reader, tbl *vm.SymbolTable, cacheSlots bool) (*vm.RawCode, error) {
	bcLen, err := ReadUint(r)
	if err != nil {
		return nil, err
	}
	bc, err := readBlob(r, bcLen)
	if err != nil {
		return nil, err
	}

	prelude, opcodeOff, nameOff, err := vm.ExtractPrelude(bc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	// The two identifying names live in the first four bytes of the
	// debug-info block; patch the freshly assigned handles in.
	unitName, err := loadQstr(r, tbl)
	if err != nil {
		return nil, err
	}
	sourceFile, err := loadQstr(r, tbl)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint16(bc[nameOff:], uint16(unitName))
	binary.LittleEndian.PutUint16(bc[nameOff+2:], uint16(sourceFile))

	if err := loadBytecodeQstrs(r, tbl, bc, opcodeOff, cacheSlots); err != nil {
		return nil, err
	}

	nObj, err := ReadUint(r)
	if err != nil {
		return nil, err
	}
	nChild, err := ReadUint(r)
	if err != nil {
		return nil, err
	}

	// Constant pool, fixed region order: parameter names, scalar literals,
	// nested units. The three counts bound the loops exactly; nothing
	// delimits the region ends.
	nArgs := prelude.NPosArgs + prelude.NKwonlyArgs
	argNames := make([]vm.Sym, 0, nArgs)
	for i := uint(0); i < nArgs; i++ {
		s, err := loadQstr(r, tbl)
		if err != nil {
			return nil, err
		}
		argNames = append(argNames, s)
	}
	objs := make([]vm.Obj, 0, min(nObj, 4096))
	for i := uint(0); i < nObj; i++ {
		o, err := loadObj(r)
		if err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
	children := make([]*vm.RawCode, 0, min(nChild, 4096))
	for i := uint(0); i < nChild; i++ {
		c, err := loadRawCode(r, tbl, cacheSlots)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}

	return vm.NewBytecode(bc, prelude.ScopeFlags, argNames, objs, children), nil
}

// loadBytecodeQstrs walks the opcode stream patching every symbol-reference
// operand with a freshly read handle.
func loadBytecodeQstrs(r Reader, tbl *vm.SymbolTable, bc []byte, opcodeOff int, cacheSlots bool) error {
	for ip := opcodeOff; ip < len(bc); {
		f, size, err := vm.OpcodeFormat(bc[ip:], cacheSlots)
		if err != nil {
			return fmt.Errorf("%w: %v at offset %d", ErrCorrupt, err, ip)
		}
		if ip+size > len(bc) {
			return fmt.Errorf("%w: instruction at offset %d runs past end", ErrCorrupt, ip)
		}
		if f == vm.FmtQstr {
			s, err := loadQstr(r, tbl)
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint16(bc[ip+1:], uint16(s))
		}
		ip += size
	}
	return nil
}

// saveRawCode writes one code unit, recursing for nested units.
func saveRawCode(w io.Writer, tbl *vm.SymbolTable, rc *vm.RawCode, cacheSlots bool) error {
	if rc.Kind != vm.CodeBytecode {
		return fmt.Errorf("%w: can only save bytecode units", ErrIncompatible)
	}

	// Instruction bytes verbatim, current handle values acting as the
	// placeholder slots the next load will overwrite.
	if err := WriteUint(w, uint(len(rc.Bytecode))); err != nil {
		return err
	}
	if err := writeBytes(w, rc.Bytecode); err != nil {
		return err
	}

	// Recompute the prelude boundary from the just-emitted bytes. The
	// boundary is deliberately not cached on RawCode: the scan is the same
	// one load replays, and recomputing keeps the two in lockstep.
	_, opcodeOff, nameOff, err := vm.ExtractPrelude(rc.Bytecode)
	if err != nil {
		return fmt.Errorf("%w: prelude scan on save: %v", ErrInternal, err)
	}

	unitName := vm.Sym(binary.LittleEndian.Uint16(rc.Bytecode[nameOff:]))
	sourceFile := vm.Sym(binary.LittleEndian.Uint16(rc.Bytecode[nameOff+2:]))
	if err := saveQstr(w, tbl, unitName); err != nil {
		return err
	}
	if err := saveQstr(w, tbl, sourceFile); err != nil {
		return err
	}

	if err := saveBytecodeQstrs(w, tbl, rc.Bytecode, opcodeOff, cacheSlots); err != nil {
		return err
	}

	if err := WriteUint(w, uint(len(rc.Objs))); err != nil {
		return err
	}
	if err := WriteUint(w, uint(len(rc.Children))); err != nil {
		return err
	}
	for _, s := range rc.ArgNames {
		if err := saveQstr(w, tbl, s); err != nil {
			return err
		}
	}
	for _, o := range rc.Objs {
		if err := saveObj(w, o); err != nil {
			return err
		}
	}
	for _, c := range rc.Children {
		if err := saveRawCode(w, tbl, c, cacheSlots); err != nil {
			return err
		}
	}
	return nil
}

// saveBytecodeQstrs walks the opcode stream emitting the string behind
// every symbol-reference operand's current handle.
func saveBytecodeQstrs(w io.Writer, tbl *vm.SymbolTable, bc []byte, opcodeOff int, cacheSlots bool) error {
	for ip := opcodeOff; ip < len(bc); {
		f, size, err := vm.OpcodeFormat(bc[ip:], cacheSlots)
		if err != nil {
			return fmt.Errorf("%w: opcode scan on save: %v at offset %d", ErrInternal, err, ip)
		}
		if ip+size > len(bc) {
			return fmt.Errorf("%w: instruction at offset %d runs past end", ErrInternal, ip)
		}
		if f == vm.FmtQstr {
			s := vm.Sym(binary.LittleEndian.Uint16(bc[ip+1:]))
			if err := saveQstr(w, tbl, s); err != nil {
				return err
			}
		}
		ip += size
	}
	return nil
}
