package persist

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Byte-sink helpers
// ---------------------------------------------------------------------------

// The save path writes to any io.Writer; file handling lives with the
// caller-facing SaveFile operation in persist.go.

func writeBytes(w io.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("%w: %v", ErrResource, err)
	}
	return nil
}

func writeByte(w io.Writer, b byte) error {
	return writeBytes(w, []byte{b})
}
