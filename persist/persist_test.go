package persist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lumenvm/lumen/vm"
)

// ---------------------------------------------------------------------------
// Header validation
// ---------------------------------------------------------------------------

func TestLoadBadMagic(t *testing.T) {
	data := buildContainer(minimalUnit(), Features{})
	data[0] = 'X'
	_, err := LoadBytes(data, Config{Symbols: vm.NewSymbolTable()})
	if !errors.Is(err, ErrIncompatible) {
		t.Errorf("err = %v, want ErrIncompatible", err)
	}
}

func TestLoadBadVersion(t *testing.T) {
	data := buildContainer(minimalUnit(), Features{})
	data[1] = Version + 1
	_, err := LoadBytes(data, Config{Symbols: vm.NewSymbolTable()})
	if !errors.Is(err, ErrIncompatible) {
		t.Errorf("err = %v, want ErrIncompatible", err)
	}
}

func TestLoadFeatureFlagsMismatch(t *testing.T) {
	// A container built with inline caches loaded by a build without them
	// (and the other way round) must be rejected outright: the flags
	// change instruction sizes, so a tolerant load would mis-scan.
	withCaches := buildContainer(minimalUnit(), Features{InlineCaches: true})
	if _, err := LoadBytes(withCaches, Config{Symbols: vm.NewSymbolTable()}); !errors.Is(err, ErrIncompatible) {
		t.Errorf("caches->plain: err = %v, want ErrIncompatible", err)
	}

	plain := buildContainer(minimalUnit(), Features{})
	cfg := Config{Symbols: vm.NewSymbolTable(), Features: Features{UnicodeStrings: true}}
	if _, err := LoadBytes(plain, cfg); !errors.Is(err, ErrIncompatible) {
		t.Errorf("plain->unicode: err = %v, want ErrIncompatible", err)
	}
}

func TestLoadWordSizeCheck(t *testing.T) {
	// Wider producer small ints cannot be represented; narrower ones can.
	data := buildContainer(minimalUnit(), Features{})
	data[3] = byte(SmallIntBits) + 1
	if _, err := LoadBytes(data, Config{Symbols: vm.NewSymbolTable()}); !errors.Is(err, ErrIncompatible) {
		t.Errorf("wider: err = %v, want ErrIncompatible", err)
	}

	data = buildContainer(minimalUnit(), Features{})
	data[3] = 31
	if _, err := LoadBytes(data, Config{Symbols: vm.NewSymbolTable()}); err != nil {
		t.Errorf("narrower: err = %v, want success", err)
	}
}

// ---------------------------------------------------------------------------
// Native dispatch
// ---------------------------------------------------------------------------

// stubNativeLoader records the dispatch and returns a canned unit.
type stubNativeLoader struct {
	isa    byte
	called bool
}

func (s *stubNativeLoader) ISA() byte { return s.isa }

func (s *stubNativeLoader) Load(r Reader) (*vm.RawCode, error) {
	s.called = true
	return vm.NewNative(&vm.NativeCode{}), nil
}

func nativeHeader(isa byte) []byte {
	return []byte{Magic, Version, NativeFlags, isa}
}

func TestLoadNativeDispatch(t *testing.T) {
	stub := &stubNativeLoader{isa: ISAx8664}
	cfg := Config{Symbols: vm.NewSymbolTable(), Native: stub}

	rc, err := LoadBytes(nativeHeader(ISAx8664), cfg)
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	if !stub.called {
		t.Error("native loader was not dispatched to")
	}
	if rc.Kind != vm.CodeNative {
		t.Errorf("Kind = %d, want CodeNative", rc.Kind)
	}
}

func TestLoadNativeWithoutLoader(t *testing.T) {
	_, err := LoadBytes(nativeHeader(ISAx8664), Config{Symbols: vm.NewSymbolTable()})
	if !errors.Is(err, ErrIncompatible) {
		t.Errorf("err = %v, want ErrIncompatible", err)
	}
}

func TestLoadNativeISAMismatch(t *testing.T) {
	stub := &stubNativeLoader{isa: ISAx8664}
	cfg := Config{Symbols: vm.NewSymbolTable(), Native: stub}

	_, err := LoadBytes(nativeHeader(ISAARM), cfg)
	if !errors.Is(err, ErrIncompatible) {
		t.Errorf("err = %v, want ErrIncompatible", err)
	}
	if stub.called {
		t.Error("mismatched ISA still reached the native loader")
	}
}

// ---------------------------------------------------------------------------
// File round trip
// ---------------------------------------------------------------------------

func TestSaveFileLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unit.lpc")

	t1 := vm.NewSymbolTable()
	rc1, err := LoadBytes(buildContainer(minimalUnit(), Features{}), Config{Symbols: t1})
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	if err := SaveFile(path, rc1, Config{Symbols: t1}); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	t2 := vm.NewSymbolTable()
	rc2, err := LoadFile(path, Config{Symbols: t2})
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	assertUnitsEqual(t, rc1, t1, rc2, t2, false)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.lpc"), Config{Symbols: vm.NewSymbolTable()})
	if !errors.Is(err, ErrResource) {
		t.Errorf("err = %v, want ErrResource", err)
	}
	if ClassOf(err) != ClassResource {
		t.Errorf("class = %d, want ClassResource", ClassOf(err))
	}
}

func TestSaveFileUnwritable(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("running as root; permission bits are not enforced")
	}
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	tbl := vm.NewSymbolTable()
	rc, err := LoadBytes(buildContainer(minimalUnit(), Features{}), Config{Symbols: tbl})
	if err != nil {
		t.Fatalf("LoadBytes failed: %v", err)
	}
	err = SaveFile(filepath.Join(dir, "unit.lpc"), rc, Config{Symbols: tbl})
	if !errors.Is(err, ErrResource) {
		t.Errorf("err = %v, want ErrResource", err)
	}
}

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

func TestClassOf(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{ErrIncompatible, ClassFormat},
		{ErrTruncated, ClassFormat},
		{ErrCorrupt, ClassFormat},
		{ErrResource, ClassResource},
		{ErrUnknownSymbol, ClassSymbol},
		{ErrInternal, ClassInternal},
		{errors.New("unrelated"), ClassUnknown},
		{nil, ClassUnknown},
	}
	for _, tt := range tests {
		if got := ClassOf(tt.err); got != tt.want {
			t.Errorf("ClassOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
