package vm

import (
	"errors"
	"fmt"
	"math/bits"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack and arithmetic operations (no operand)
const (
	OpNop       Opcode = 0x00 // no operation
	OpPop       Opcode = 0x01 // discard top of stack
	OpDup       Opcode = 0x02 // duplicate top of stack
	OpRot       Opcode = 0x03 // rotate top two entries
	OpBinaryAdd Opcode = 0x04
	OpBinarySub Opcode = 0x05
	OpBinaryMul Opcode = 0x06
	OpBinaryDiv Opcode = 0x07
	OpCompareEq Opcode = 0x08
	OpCompareLt Opcode = 0x09
	OpReturn    Opcode = 0x0A // return top of stack
	OpRaise     Opcode = 0x0B // raise top of stack
)

// Symbol-referencing operations (2-byte little-endian intern handle; an
// extra inline-cache byte follows when the cache feature is compiled in)
const (
	OpLoadName    Opcode = 0x10
	OpLoadGlobal  Opcode = 0x11
	OpLoadAttr    Opcode = 0x12
	OpLoadMethod  Opcode = 0x13
	OpStoreName   Opcode = 0x14
	OpStoreGlobal Opcode = 0x15
	OpStoreAttr   Opcode = 0x16
	OpImportName  Opcode = 0x17
)

// Variable-length-operand operations (varint operand)
const (
	OpLoadConstSmallInt Opcode = 0x20 // push small integer
	OpLoadConstObj      Opcode = 0x21 // push constant-pool literal by index
	OpLoadFast          Opcode = 0x22 // push state slot
	OpStoreFast         Opcode = 0x23 // store into state slot
	OpMakeFunction      Opcode = 0x24 // close over nested code unit by index
	OpCall              Opcode = 0x25 // call with n positional args
)

// Branch operations (2-byte little-endian offset)
const (
	OpJump           Opcode = 0x30
	OpPopJumpIfTrue  Opcode = 0x31
	OpPopJumpIfFalse Opcode = 0x32
	OpSetupExcept    Opcode = 0x33
)

// ---------------------------------------------------------------------------
// Operand format classification
// ---------------------------------------------------------------------------

// Format is the operand-encoding class of an opcode. The persistence codec
// uses the classifier to find the symbol-reference patch slots inside an
// instruction stream; it must agree byte for byte with the interpreter's
// decoder or every subsequent field of a container read is corrupt.
type Format int

const (
	FmtNone   Format = iota // no operand
	FmtQstr                 // 2-byte LE intern handle (+1 cache byte if enabled)
	FmtVarUint              // varint operand
	FmtOffset               // 2-byte LE branch offset
)

var ErrBadOpcode = errors.New("undefined opcode")

// OpcodeFormat classifies the instruction beginning at ip[0] and returns its
// operand class and total encoded size. cacheSlots selects the build flavor
// whose symbol-referencing instructions carry a trailing inline-cache byte;
// it must match the feature-flags byte of the container being processed.
func OpcodeFormat(ip []byte, cacheSlots bool) (Format, int, error) {
	if len(ip) == 0 {
		return FmtNone, 0, fmt.Errorf("%w: empty stream", ErrBadOpcode)
	}
	op := Opcode(ip[0])
	switch {
	case op <= OpRaise:
		return FmtNone, 1, nil
	case op >= OpLoadName && op <= OpImportName:
		size := 3
		if cacheSlots {
			size = 4
		}
		return FmtQstr, size, nil
	case op >= OpLoadConstSmallInt && op <= OpCall:
		size := 2
		for i := 1; i < len(ip) && ip[i]&0x80 != 0; i++ {
			size++
		}
		return FmtVarUint, size, nil
	case op >= OpJump && op <= OpSetupExcept:
		return FmtOffset, 3, nil
	}
	return FmtNone, 0, fmt.Errorf("%w: 0x%02x", ErrBadOpcode, ip[0])
}

// ---------------------------------------------------------------------------
// Bytecode prelude
// ---------------------------------------------------------------------------

// Prelude is the sizing header at the front of every code unit's
// instruction bytes.
type Prelude struct {
	NState      uint // state slots (locals + working stack)
	NExcStack   uint // exception-frame depth
	ScopeFlags  byte
	NPosArgs    uint
	NKwonlyArgs uint
	NDefPosArgs uint
	DebugSize   uint // byte length of the embedded debug-info block
}

// ExtractPrelude decodes the prelude at the front of bc and returns it
// together with the offset of the first opcode and the offset of the two
// 2-byte identifying-name slots (unit name, then source file) at the start
// of the debug-info block. The scan depends only on the raw bytes, so save
// and load replay it identically.
//
// Layout: varint n_state, varint n_exc_stack, scope_flags, n_pos_args,
// n_kwonly_args, n_def_pos_args, varint debug_size, debug bytes (the first
// four of which are the name slots), cell indices terminated by 0xFF.
func ExtractPrelude(bc []byte) (p Prelude, opcodeOff int, nameOff int, err error) {
	pos := 0
	next := func() (byte, error) {
		if pos >= len(bc) {
			return 0, errors.New("prelude runs past end of bytecode")
		}
		b := bc[pos]
		pos++
		return b, nil
	}
	// One byte more than the host width can hold means the count is
	// garbage; without the bound a long continuation run would wrap the
	// accumulator and misparse everything after it.
	const maxCountBytes = (bits.UintSize + 6) / 7
	decodeUint := func() (uint, error) {
		var n uint
		for i := 0; ; i++ {
			if i == maxCountBytes {
				return 0, errors.New("oversized count in prelude")
			}
			b, err := next()
			if err != nil {
				return 0, err
			}
			n = n<<7 | uint(b&0x7f)
			if b&0x80 == 0 {
				return n, nil
			}
		}
	}

	if p.NState, err = decodeUint(); err != nil {
		return p, 0, 0, err
	}
	if p.NExcStack, err = decodeUint(); err != nil {
		return p, 0, 0, err
	}
	var b byte
	if b, err = next(); err != nil {
		return p, 0, 0, err
	}
	p.ScopeFlags = b
	if b, err = next(); err != nil {
		return p, 0, 0, err
	}
	p.NPosArgs = uint(b)
	if b, err = next(); err != nil {
		return p, 0, 0, err
	}
	p.NKwonlyArgs = uint(b)
	if b, err = next(); err != nil {
		return p, 0, 0, err
	}
	p.NDefPosArgs = uint(b)

	if p.DebugSize, err = decodeUint(); err != nil {
		return p, 0, 0, err
	}
	nameOff = pos
	if p.DebugSize < 4 {
		return p, 0, 0, errors.New("debug-info block too small for name slots")
	}
	if uint(len(bc)-pos) < p.DebugSize {
		return p, 0, 0, errors.New("debug-info block runs past end of bytecode")
	}
	pos += int(p.DebugSize)

	// Cell-index list, 0xFF terminated.
	for {
		if b, err = next(); err != nil {
			return p, 0, 0, err
		}
		if b == 0xFF {
			break
		}
	}
	return p, pos, nameOff, nil
}
