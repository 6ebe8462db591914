// Package persist reads and writes .lpc containers, the persisted form of
// compiled Lumen code units, and dispatches native-code containers to a
// configured native loader.
package persist

import "errors"

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

// Class partitions every error this package and the native loader can
// surface. A failed load leaves no partial state reachable; the only
// recovery available to a caller is to discard the attempt.
type Class int

const (
	ClassUnknown  Class = iota
	ClassFormat         // incompatible or corrupt container
	ClassResource       // memory or file acquisition failed
	ClassSymbol         // unresolved relocation target or import
	ClassInternal       // consistency defect; continuing would corrupt code
)

var (
	// ErrIncompatible reports a magic/version/feature-flag/architecture
	// mismatch. Flags are not advisory: a mismatch changes the bytecode's
	// binary shape in ways the interpreter cannot detect after the fact.
	ErrIncompatible = errors.New("incompatible container")

	// ErrTruncated reports end-of-data in the middle of a structure. There
	// is no partial-unit recovery; the format carries no checksum and a
	// half-read structure cannot be resumed.
	ErrTruncated = errors.New("unexpected end of container data")

	// ErrCorrupt reports a structurally invalid field, such as an
	// unparseable numeric literal payload or an oversized varint.
	ErrCorrupt = errors.New("corrupt container data")

	// ErrResource reports a failed memory or file acquisition.
	ErrResource = errors.New("resource unavailable")

	// ErrUnknownSymbol reports a relocation target id outside the runtime's
	// function table.
	ErrUnknownSymbol = errors.New("unknown relocation target")

	// ErrInternal reports a consistency defect (post-commit address
	// mismatch, prelude-scan disagreement). These abort with a diagnostic
	// rather than attempt recovery.
	ErrInternal = errors.New("internal consistency failure")
)

// ClassOf reports which taxonomy class err belongs to.
func ClassOf(err error) Class {
	switch {
	case errors.Is(err, ErrIncompatible), errors.Is(err, ErrTruncated), errors.Is(err, ErrCorrupt):
		return ClassFormat
	case errors.Is(err, ErrResource):
		return ClassResource
	case errors.Is(err, ErrUnknownSymbol):
		return ClassSymbol
	case errors.Is(err, ErrInternal):
		return ClassInternal
	}
	return ClassUnknown
}
