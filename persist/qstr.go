package persist

import (
	"io"

	"github.com/lumenvm/lumen/vm"
)

// ---------------------------------------------------------------------------
// String-table codec
// ---------------------------------------------------------------------------
//
// The wire always carries full string bytes, never the transient in-memory
// handle value: handles are reassigned per load and are not stable across
// round-trips.

// loadQstr reads a length-prefixed string and interns it against tbl. The
// scratch buffer is not retained past the intern step; Intern copies.
func loadQstr(r Reader, tbl *vm.SymbolTable) (vm.Sym, error) {
	n, err := ReadUint(r)
	if err != nil {
		return 0, err
	}
	buf, err := readBlob(r, n)
	if err != nil {
		return 0, err
	}
	return tbl.Intern(buf), nil
}

// saveQstr writes the string bytes behind a handle, length-prefixed.
func saveQstr(w io.Writer, tbl *vm.SymbolTable, s vm.Sym) error {
	name := tbl.Name(s)
	if err := WriteUint(w, uint(len(name))); err != nil {
		return err
	}
	return writeBytes(w, []byte(name))
}
