package vm

// ---------------------------------------------------------------------------
// RawCode: one compiled code unit
// ---------------------------------------------------------------------------

// CodeKind distinguishes how a RawCode's payload executes.
type CodeKind int

const (
	CodeBytecode CodeKind = iota
	CodeNative
)

// Arity classifies a native callable's calling convention. It is fixed at
// load time; bytecode units derive arity from their prelude instead.
type Arity int

const (
	ArityFixed Arity = iota // fixed small arity
	ArityVar                // variable arity
)

// RawCode is one compiled function or module body. Bytecode units own their
// instruction bytes and constant pool outright; pool entries that are
// themselves code units are owned by the parent, so the structure is a
// strict tree (a unit can only reference units defined lexically inside it).
type RawCode struct {
	Kind CodeKind

	// Bytecode payload. The instruction bytes include the prelude and the
	// patched-in identifying name slots; ScopeFlags is duplicated out of the
	// prelude for cheap access.
	Bytecode   []byte
	ScopeFlags byte

	// Constant pool, in its three fixed-order regions.
	ArgNames []Sym      // one per declared parameter, positional then kw-only
	Objs     []Obj      // scalar literals
	Children []*RawCode // nested code units

	// Native payload: the committed image and its entry point.
	Native *NativeCode
}

// NativeCode is a loaded, relocated machine-code image wrapped as a
// runtime-visible callable. The code and data regions stay alive as long as
// the handle does.
type NativeCode struct {
	CodeBase   uintptr // final executable address of the code region
	CodeLen    int
	DataBase   uintptr
	DataLen    int
	EntryIndex int   // start offset into the code region
	Arity      Arity // calling convention, fixed at load time

	// Release frees the image's memory regions. Nil once called.
	Release func()
}

// Entry returns the absolute address of the image's entry point.
func (nc *NativeCode) Entry() uintptr {
	return nc.CodeBase + uintptr(nc.EntryIndex)
}

// NewBytecode wraps instruction bytes and a constant pool as a RawCode.
func NewBytecode(bc []byte, scopeFlags byte, argNames []Sym, objs []Obj, children []*RawCode) *RawCode {
	return &RawCode{
		Kind:       CodeBytecode,
		Bytecode:   bc,
		ScopeFlags: scopeFlags,
		ArgNames:   argNames,
		Objs:       objs,
		Children:   children,
	}
}

// NewNative wraps a committed native image as a RawCode.
func NewNative(nc *NativeCode) *RawCode {
	return &RawCode{Kind: CodeNative, Native: nc}
}
