// source.go
//
// Random-access plumbing shared by every table decoder.
// Archives are read through io.ReaderAt so that side excursions (name
// strings, file-info rows, payloads) never disturb the sequential position of
// the table currently being walked; the only "cursor" is the explicit one a
// cursor value carries.

package ttarchive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Source is a seekable, fixed-length byte source. *mmap.ReaderAt satisfies it.
type Source interface {
	io.ReaderAt
	Len() int
}

// maxNameLen bounds a single NUL-terminated name read.
const maxNameLen = 4096

// cursor reads little-endian words sequentially from a Source.
//
// A cursor owns its position; excursions made through ReadAt on the same
// Source do not move it, which is what keeps name and file-info look-ups
// cursor-neutral for the walker.
type cursor struct {
	src Source
	off int64
	buf [4]byte
}

func newCursor(src Source, off int64) *cursor { return &cursor{src: src, off: off} }

func (c *cursor) read(n int) ([]byte, error) {
	if _, err := c.src.ReadAt(c.buf[:n], c.off); err != nil {
		return nil, fmt.Errorf("read %d bytes at 0x%X: %w", n, c.off, unexpectedEOF(err))
	}
	c.off += int64(n)
	return c.buf[:n], nil
}

func (c *cursor) uint32() (uint32, error) {
	b, err := c.read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) int32() (int32, error) {
	v, err := c.uint32()
	return int32(v), err
}

func (c *cursor) int16() (int16, error) {
	b, err := c.read(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

// readCString returns the NUL-terminated string stored at off.
// The read is performed with ReadAt and never touches any cursor.
func readCString(src Source, off int64) (string, error) {
	size := int64(src.Len())
	if off < 0 || off >= size {
		return "", formatErr("name offset", off, fmt.Sprintf("< 0x%X", size), off)
	}

	var chunk [64]byte
	var name []byte
	for pos := off; pos < size; {
		n, err := src.ReadAt(chunk[:min(int64(len(chunk)), size-pos)], pos)
		if n == 0 && err != nil {
			return "", fmt.Errorf("read name at 0x%X: %w", off, err)
		}
		if i := bytes.IndexByte(chunk[:n], 0); i >= 0 {
			return string(append(name, chunk[:i]...)), nil
		}
		name = append(name, chunk[:n]...)
		if len(name) > maxNameLen {
			return "", formatErr("name length", off, fmt.Sprintf("<= %d", maxNameLen), len(name))
		}
		pos += int64(n)
	}
	return "", formatErr("name terminator", off, "NUL", "end of file")
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
