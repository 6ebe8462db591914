package persist

import (
	"fmt"
	"io"
	"math/bits"
)

// ---------------------------------------------------------------------------
// Variable-length unsigned integer codec
// ---------------------------------------------------------------------------
//
// The format's only multi-byte primitive: 7 payload bits per byte, most
// significant group first, high bit set on every byte except the last.

// maxUintBytes bounds a decode against the host integer width. Without the
// bound a long continuation run would silently overflow the accumulator.
const maxUintBytes = (bits.UintSize + 6) / 7

// ReadUint decodes one varint from r.
func ReadUint(r Reader) (uint, error) {
	var n uint
	for i := 0; ; i++ {
		if i == maxUintBytes {
			return 0, fmt.Errorf("%w: varint exceeds %d-bit range", ErrCorrupt, bits.UintSize)
		}
		b, err := readByte(r)
		if err != nil {
			return 0, err
		}
		n = n<<7 | uint(b&0x7f)
		if b&0x80 == 0 {
			return n, nil
		}
	}
}

// WriteUint encodes n as a minimal varint: no leading zero-payload
// continuation bytes are emitted.
func WriteUint(w io.Writer, n uint) error {
	var buf [maxUintBytes]byte
	p := len(buf)
	p--
	buf[p] = byte(n & 0x7f)
	for n >>= 7; n != 0; n >>= 7 {
		p--
		buf[p] = 0x80 | byte(n&0x7f)
	}
	return writeBytes(w, buf[p:])
}
