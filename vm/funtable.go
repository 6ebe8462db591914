package vm

// ---------------------------------------------------------------------------
// FunTable: runtime addresses exposed to native modules
// ---------------------------------------------------------------------------

// FunTable maps the small fixed relocation-target ids a native module may
// reference to absolute addresses of runtime-provided functions and
// constants. The table is populated once at runtime start-up; index is
// identity, so entry 0 is target id 0.
//
// Ids 126 and 127 are reserved sentinels (data-region and code-region base)
// resolved by the native loader itself and never present here.
type FunTable []uintptr

// Resolve returns the address for a relocation target id. Unknown ids are
// a fatal load error for the caller; there is no fallback binding.
func (t FunTable) Resolve(id uint) (uintptr, bool) {
	if int(id) >= len(t) || t[id] == 0 {
		return 0, false
	}
	return t[id], true
}
