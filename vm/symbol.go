package vm

import "sync"

// ---------------------------------------------------------------------------
// SymbolTable: Interned strings
// ---------------------------------------------------------------------------

// Sym is a process-local handle for an interned string. Handle values are
// assigned in intern order and are not stable across loads; only the string
// content they resolve to is. Handles must fit the 2-byte patch slots
// embedded in instruction streams.
type Sym uint16

// SymbolTable interns strings to unique Sym handles. The persistence codecs
// take a table explicitly so independent loads can use independent tables.
type SymbolTable struct {
	mu     sync.RWMutex
	byName map[string]Sym
	byID   []string
}

// NewSymbolTable creates a new empty symbol table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		byName: make(map[string]Sym),
		byID:   make([]string, 0, 256),
	}
}

// Intern returns the handle for the given bytes, creating a new entry if
// needed. The bytes are copied; callers may reuse the buffer immediately.
func (st *SymbolTable) Intern(b []byte) Sym {
	name := string(b)

	// Fast path: read-only lookup
	st.mu.RLock()
	if id, ok := st.byName[name]; ok {
		st.mu.RUnlock()
		return id
	}
	st.mu.RUnlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	// Double-check after acquiring write lock
	if id, ok := st.byName[name]; ok {
		return id
	}

	id := Sym(len(st.byID))
	st.byName[name] = id
	st.byID = append(st.byID, name)
	return id
}

// InternString is Intern for a string argument.
func (st *SymbolTable) InternString(name string) Sym {
	return st.Intern([]byte(name))
}

// Lookup returns the handle for a string, or 0 and false if not interned.
func (st *SymbolTable) Lookup(name string) (Sym, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	id, ok := st.byName[name]
	return id, ok
}

// Name returns the string for a handle, or "" if the handle is invalid.
func (st *SymbolTable) Name(id Sym) string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if int(id) >= len(st.byID) {
		return ""
	}
	return st.byID[id]
}

// Len returns the number of interned strings.
func (st *SymbolTable) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}

// All returns all interned strings in handle order.
func (st *SymbolTable) All() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]string, len(st.byID))
	copy(result, st.byID)
	return result
}
