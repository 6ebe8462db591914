package persist

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ---------------------------------------------------------------------------
// Byte-source adapters
// ---------------------------------------------------------------------------

// Reader is the byte source every codec in this package consumes. Reads are
// blocking and sequential; each field's meaning depends on having fully
// consumed the preceding one, so there is nothing to parallelize.
type Reader interface {
	io.ByteReader
}

// readByte reads one byte, mapping end-of-data to the format taxonomy.
func readByte(r Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, ErrTruncated
		}
		return 0, fmt.Errorf("%w: %v", ErrResource, err)
	}
	return b, nil
}

// readBytes fills buf from r, failing at the truncation point rather than
// returning a short or zero-filled buffer.
func readBytes(r Reader, buf []byte) error {
	for i := range buf {
		b, err := readByte(r)
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

// ReadFull fills buf from r, failing at the truncation point. It is the
// byte-copy primitive shared with the native loader.
func ReadFull(r Reader, buf []byte) error {
	return readBytes(r, buf)
}

// readBlob reads n declared bytes, growing the buffer as bytes arrive so a
// corrupt length field fails at the truncation point instead of
// over-allocating up front.
func readBlob(r Reader, n uint) ([]byte, error) {
	const chunk = 64 * 1024
	buf := make([]byte, 0, min(n, chunk))
	for uint(len(buf)) < n {
		b, err := readByte(r)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
	}
	return buf, nil
}

// NewMemReader returns a Reader over an in-memory container image.
func NewMemReader(data []byte) Reader {
	return bytes.NewReader(data)
}

// FileReader is a Reader over an open container file. Close releases the
// underlying descriptor; this package closes readers it created itself and
// leaves caller-provided ones alone.
type FileReader struct {
	f  *os.File
	br *bufio.Reader
}

// OpenFile opens the named container file for reading.
func OpenFile(name string) (*FileReader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResource, err)
	}
	return &FileReader{f: f, br: bufio.NewReader(f)}, nil
}

// ReadByte implements Reader.
func (fr *FileReader) ReadByte() (byte, error) {
	return fr.br.ReadByte()
}

// Close releases the underlying file.
func (fr *FileReader) Close() error {
	return fr.f.Close()
}
