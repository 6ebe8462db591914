package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Scalar literal objects
// ---------------------------------------------------------------------------

// ObjKind identifies one of the literal object kinds a constant pool can
// carry. The values double as the wire tag bytes of the container format.
type ObjKind byte

const (
	KindStr      ObjKind = 's'
	KindBytes    ObjKind = 'b'
	KindInt      ObjKind = 'i'
	KindFloat    ObjKind = 'f'
	KindComplex  ObjKind = 'c'
	KindEllipsis ObjKind = 'e'
)

// Obj is a scalar literal value. Numeric kinds travel as text on the wire
// and are re-parsed on load, so the in-memory representation keeps the
// parsed value, not the text.
type Obj struct {
	Kind ObjKind

	Str     string     // KindStr
	Bytes   []byte     // KindBytes
	Int     int64      // KindInt
	Float   float64    // KindFloat
	Complex complex128 // KindComplex
}

// Ellipsis is the singleton ellipsis literal.
var Ellipsis = Obj{Kind: KindEllipsis}

// NewStr returns a string literal.
func NewStr(s string) Obj { return Obj{Kind: KindStr, Str: s} }

// NewBytes returns a byte-string literal. The slice is not copied.
func NewBytes(b []byte) Obj { return Obj{Kind: KindBytes, Bytes: b} }

// NewInt returns an integer literal.
func NewInt(n int64) Obj { return Obj{Kind: KindInt, Int: n} }

// NewFloat returns a float literal.
func NewFloat(f float64) Obj { return Obj{Kind: KindFloat, Float: f} }

// NewComplex returns a complex literal.
func NewComplex(c complex128) Obj { return Obj{Kind: KindComplex, Complex: c} }

// Payload renders the object's wire payload. Numeric kinds are rendered to
// a textual form the parser on the loading side accepts: decimal integers,
// decimal/exponent floats, and <real>+<imag>j complex values.
func (o Obj) Payload() []byte {
	switch o.Kind {
	case KindStr:
		return []byte(o.Str)
	case KindBytes:
		return o.Bytes
	case KindInt:
		return strconv.AppendInt(nil, o.Int, 10)
	case KindFloat:
		return strconv.AppendFloat(nil, o.Float, 'g', -1, 64)
	case KindComplex:
		re := strconv.FormatFloat(real(o.Complex), 'g', -1, 64)
		im := strconv.FormatFloat(imag(o.Complex), 'g', -1, 64)
		if imag(o.Complex) >= 0 {
			return []byte(re + "+" + im + "j")
		}
		return []byte(re + im + "j")
	case KindEllipsis:
		return nil
	}
	return nil
}

// ParseObj reconstructs a literal from its kind tag and wire payload. An
// unparseable numeric payload means the container is corrupt; it is a hard
// failure, never a default value.
func ParseObj(kind ObjKind, payload []byte) (Obj, error) {
	switch kind {
	case KindStr:
		return NewStr(string(payload)), nil
	case KindBytes:
		b := make([]byte, len(payload))
		copy(b, payload)
		return NewBytes(b), nil
	case KindInt:
		n, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return Obj{}, fmt.Errorf("bad integer literal %q: %w", payload, err)
		}
		return NewInt(n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(string(payload), 64)
		if err != nil {
			return Obj{}, fmt.Errorf("bad float literal %q: %w", payload, err)
		}
		return NewFloat(f), nil
	case KindComplex:
		c, err := parseComplex(string(payload))
		if err != nil {
			return Obj{}, fmt.Errorf("bad complex literal %q: %w", payload, err)
		}
		return NewComplex(c), nil
	case KindEllipsis:
		return Ellipsis, nil
	}
	return Obj{}, fmt.Errorf("unknown literal kind %q", byte(kind))
}

// parseComplex parses the j-suffixed complex convention used on the wire.
// strconv understands the i suffix, so the trailing j is rewritten.
func parseComplex(s string) (complex128, error) {
	if !strings.HasSuffix(s, "j") {
		return 0, fmt.Errorf("missing j suffix")
	}
	return strconv.ParseComplex(s[:len(s)-1]+"i", 128)
}

// Equal reports structural equality between two literals.
func (o Obj) Equal(other Obj) bool {
	if o.Kind != other.Kind {
		return false
	}
	switch o.Kind {
	case KindStr:
		return o.Str == other.Str
	case KindBytes:
		return string(o.Bytes) == string(other.Bytes)
	case KindInt:
		return o.Int == other.Int
	case KindFloat:
		return o.Float == other.Float
	case KindComplex:
		return o.Complex == other.Complex
	case KindEllipsis:
		return true
	}
	return false
}

// String renders the literal for diagnostics.
func (o Obj) String() string {
	switch o.Kind {
	case KindStr:
		return strconv.Quote(o.Str)
	case KindBytes:
		return fmt.Sprintf("b%s", strconv.Quote(string(o.Bytes)))
	case KindEllipsis:
		return "..."
	default:
		return string(o.Payload())
	}
}
