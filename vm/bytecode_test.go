package vm

import (
	"bytes"
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Test helpers: building instruction streams
// ---------------------------------------------------------------------------

// testBytecodeBuilder constructs raw instruction bytes, prelude included,
// the way the compiler would emit them.
type testBytecodeBuilder struct {
	buf bytes.Buffer
}

func newTestBytecodeBuilder() *testBytecodeBuilder {
	return &testBytecodeBuilder{}
}

// writeVaruint writes the 7-bits-per-byte big-endian-groups encoding.
func (b *testBytecodeBuilder) writeVaruint(n uint) {
	var stack []byte
	stack = append(stack, byte(n&0x7f))
	for n >>= 7; n != 0; n >>= 7 {
		stack = append(stack, 0x80|byte(n&0x7f))
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.buf.WriteByte(stack[i])
	}
}

func (b *testBytecodeBuilder) writeBytes(data ...byte) {
	b.buf.Write(data)
}

// writePrelude writes a full prelude with a debug block of the given size
// (minimum 4, for the two name slots) and no cell indices.
func (b *testBytecodeBuilder) writePrelude(nState, nExcStack uint, scopeFlags byte, nPos, nKwonly, nDefPos byte, debugSize uint) {
	b.writeVaruint(nState)
	b.writeVaruint(nExcStack)
	b.writeBytes(scopeFlags, nPos, nKwonly, nDefPos)
	b.writeVaruint(debugSize)
	for i := uint(0); i < debugSize; i++ {
		b.buf.WriteByte(0)
	}
	b.buf.WriteByte(0xFF) // end of cell-index list
}

func (b *testBytecodeBuilder) bytes() []byte {
	return b.buf.Bytes()
}

// ---------------------------------------------------------------------------
// Prelude extraction
// ---------------------------------------------------------------------------

func TestExtractPreludeBasic(t *testing.T) {
	b := newTestBytecodeBuilder()
	b.writePrelude(5, 1, 0x04, 2, 1, 0, 6)
	preludeEnd := b.buf.Len()
	b.writeBytes(byte(OpNop), byte(OpReturn))

	p, opcodeOff, nameOff, err := ExtractPrelude(b.bytes())
	if err != nil {
		t.Fatalf("ExtractPrelude failed: %v", err)
	}
	if p.NState != 5 {
		t.Errorf("NState = %d, want 5", p.NState)
	}
	if p.NExcStack != 1 {
		t.Errorf("NExcStack = %d, want 1", p.NExcStack)
	}
	if p.ScopeFlags != 0x04 {
		t.Errorf("ScopeFlags = 0x%02x, want 0x04", p.ScopeFlags)
	}
	if p.NPosArgs != 2 || p.NKwonlyArgs != 1 || p.NDefPosArgs != 0 {
		t.Errorf("args = %d/%d/%d, want 2/1/0", p.NPosArgs, p.NKwonlyArgs, p.NDefPosArgs)
	}
	if p.DebugSize != 6 {
		t.Errorf("DebugSize = %d, want 6", p.DebugSize)
	}
	if opcodeOff != preludeEnd {
		t.Errorf("opcodeOff = %d, want %d", opcodeOff, preludeEnd)
	}
	// Name slots are the first four bytes of the debug block; the debug
	// block starts right after the varint debug-size field.
	wantNameOff := preludeEnd - 1 - 6 // back over the 0xFF and the debug bytes
	if nameOff != wantNameOff {
		t.Errorf("nameOff = %d, want %d", nameOff, wantNameOff)
	}
}

func TestExtractPreludeMultiByteCounts(t *testing.T) {
	b := newTestBytecodeBuilder()
	b.writePrelude(300, 200, 0, 0, 0, 0, 4)
	b.writeBytes(byte(OpReturn))

	p, _, _, err := ExtractPrelude(b.bytes())
	if err != nil {
		t.Fatalf("ExtractPrelude failed: %v", err)
	}
	if p.NState != 300 {
		t.Errorf("NState = %d, want 300", p.NState)
	}
	if p.NExcStack != 200 {
		t.Errorf("NExcStack = %d, want 200", p.NExcStack)
	}
}

func TestExtractPreludeCellIndices(t *testing.T) {
	b := newTestBytecodeBuilder()
	b.writeVaruint(1)
	b.writeVaruint(0)
	b.writeBytes(0, 0, 0, 0)
	b.writeVaruint(4)
	b.writeBytes(0, 0, 0, 0) // debug block
	b.writeBytes(2, 5, 0xFF) // two cell indices, then terminator
	opcodeStart := b.buf.Len()
	b.writeBytes(byte(OpReturn))

	_, opcodeOff, _, err := ExtractPrelude(b.bytes())
	if err != nil {
		t.Fatalf("ExtractPrelude failed: %v", err)
	}
	if opcodeOff != opcodeStart {
		t.Errorf("opcodeOff = %d, want %d", opcodeOff, opcodeStart)
	}
}

func TestExtractPreludeTruncated(t *testing.T) {
	b := newTestBytecodeBuilder()
	b.writePrelude(1, 0, 0, 0, 0, 0, 4)
	b.writeBytes(byte(OpReturn))
	full := b.bytes()

	// Every proper prefix of a valid prelude-plus-opcode must fail rather
	// than mis-scan. The prelude occupies everything before the opcode.
	for n := 0; n < len(full)-1; n++ {
		if _, _, _, err := ExtractPrelude(full[:n]); err == nil {
			t.Errorf("ExtractPrelude accepted %d-byte prefix", n)
		}
	}
}

func TestExtractPreludeOversizedCount(t *testing.T) {
	// A continuation run longer than the host word must be rejected, not
	// left to wrap the accumulator and misparse the rest of the prelude.
	b := newTestBytecodeBuilder()
	b.writeBytes(bytes.Repeat([]byte{0x81}, 16)...) // 16 continuation bytes
	b.writeBytes(0x01)                              // then the n_state terminator
	b.writePrelude(0, 0, 0, 0, 0, 0, 4)             // rest of a plausible prelude

	if _, _, _, err := ExtractPrelude(b.bytes()); err == nil {
		t.Error("ExtractPrelude accepted a 17-byte count")
	}
}

func TestExtractPreludeDebugBlockTooSmall(t *testing.T) {
	b := newTestBytecodeBuilder()
	b.writeVaruint(0)
	b.writeVaruint(0)
	b.writeBytes(0, 0, 0, 0)
	b.writeVaruint(2)   // too small to hold the two name slots
	b.writeBytes(0, 0)
	b.writeBytes(0xFF)

	if _, _, _, err := ExtractPrelude(b.bytes()); err == nil {
		t.Error("ExtractPrelude accepted a 2-byte debug block")
	}
}

func TestExtractPreludeDebugBlockOverrun(t *testing.T) {
	b := newTestBytecodeBuilder()
	b.writeVaruint(0)
	b.writeVaruint(0)
	b.writeBytes(0, 0, 0, 0)
	b.writeVaruint(1000) // declared size beyond the actual bytes
	b.writeBytes(0, 0, 0, 0)

	if _, _, _, err := ExtractPrelude(b.bytes()); err == nil {
		t.Error("ExtractPrelude accepted an overrunning debug block")
	}
}

// ---------------------------------------------------------------------------
// Opcode classification
// ---------------------------------------------------------------------------

func TestOpcodeFormatClasses(t *testing.T) {
	tests := []struct {
		name  string
		ip    []byte
		cache bool
		fmt   Format
		size  int
	}{
		{"nop", []byte{byte(OpNop)}, false, FmtNone, 1},
		{"raise", []byte{byte(OpRaise)}, false, FmtNone, 1},
		{"load_name", []byte{byte(OpLoadName), 0, 0}, false, FmtQstr, 3},
		{"load_name_cached", []byte{byte(OpLoadName), 0, 0, 0}, true, FmtQstr, 4},
		{"import_name", []byte{byte(OpImportName), 0, 0}, false, FmtQstr, 3},
		{"small_int_1byte", []byte{byte(OpLoadConstSmallInt), 0x05}, false, FmtVarUint, 2},
		{"small_int_2byte", []byte{byte(OpLoadConstSmallInt), 0x82, 0x05}, false, FmtVarUint, 3},
		{"call_long_operand", []byte{byte(OpCall), 0x81, 0x80, 0x00}, false, FmtVarUint, 4},
		{"jump", []byte{byte(OpJump), 0, 0}, false, FmtOffset, 3},
		{"setup_except", []byte{byte(OpSetupExcept), 0, 0}, false, FmtOffset, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, size, err := OpcodeFormat(tt.ip, tt.cache)
			if err != nil {
				t.Fatalf("OpcodeFormat failed: %v", err)
			}
			if f != tt.fmt {
				t.Errorf("format = %d, want %d", f, tt.fmt)
			}
			if size != tt.size {
				t.Errorf("size = %d, want %d", size, tt.size)
			}
		})
	}
}

func TestOpcodeFormatUndefined(t *testing.T) {
	for _, op := range []byte{0x0C, 0x18, 0x26, 0x34, 0xFF} {
		if _, _, err := OpcodeFormat([]byte{op}, false); !errors.Is(err, ErrBadOpcode) {
			t.Errorf("opcode 0x%02x: err = %v, want ErrBadOpcode", op, err)
		}
	}
}

func TestOpcodeFormatEmptyStream(t *testing.T) {
	if _, _, err := OpcodeFormat(nil, false); !errors.Is(err, ErrBadOpcode) {
		t.Errorf("err = %v, want ErrBadOpcode", err)
	}
}
