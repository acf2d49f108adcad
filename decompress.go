package ttarchive

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Algorithm is a file-info algorithm tag.
type Algorithm uint32

const (
	// AlgNone marks a stored payload. It is never routed to a Decompressor.
	AlgNone Algorithm = 0
	// AlgLZ2K is the tag the producer uses for its LZ2K codec.
	AlgLZ2K Algorithm = 2
)

func (a Algorithm) String() string {
	switch a {
	case AlgNone:
		return "----"
	case AlgLZ2K:
		return "LZ2K"
	default:
		return "????"
	}
}

// ParseAlgorithm accepts the names and numbers the command line uses for
// algorithms: "none"/"0" and "lz2k"/"2".
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case "none", "0":
		return AlgNone, nil
	case "lz2k", "2":
		return AlgLZ2K, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
}

// Decompressor turns packed bytes into their original form.
//
// src yields exactly the packed bytes of one payload. Implementations must
// write unpacked bytes to dst and return an error when the stream is corrupt.
type Decompressor interface {
	Decompress(dst io.Writer, src io.Reader, packedSize, unpackedSize int64) error
}

// DecompressorFunc adapts a function to the Decompressor interface.
type DecompressorFunc func(dst io.Writer, src io.Reader, packedSize, unpackedSize int64) error

// Decompress calls f.
func (f DecompressorFunc) Decompress(dst io.Writer, src io.Reader, packedSize, unpackedSize int64) error {
	return f(dst, src, packedSize, unpackedSize)
}

// Registry maps algorithm tags to Decompressors. The zero value is empty and
// ready to use; a Registry is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	m  map[Algorithm]Decompressor
}

// Register installs d for tag, replacing any previous entry. Registering
// AlgNone is a no-op because stored payloads are always copied verbatim.
func (r *Registry) Register(tag Algorithm, d Decompressor) {
	if tag == AlgNone {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m == nil {
		r.m = make(map[Algorithm]Decompressor)
	}
	r.m[tag] = d
}

// Lookup returns the Decompressor for tag.
func (r *Registry) Lookup(tag Algorithm) (Decompressor, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.m[tag]
	return d, ok
}

// decompress writes the unpacked form of src to dst, or fails with
// ErrUnsupportedAlgorithm when tag has no registered codec.
func (r *Registry) decompress(dst io.Writer, src io.Reader, tag Algorithm, packed, unpacked int64) (int64, error) {
	d, ok := r.Lookup(tag)
	if !ok {
		return 0, fmt.Errorf("%w: tag %d (%s)", ErrUnsupportedAlgorithm, uint32(tag), tag)
	}
	n, err := decompressExact(d, dst, src, packed, unpacked)
	if err != nil {
		return n, fmt.Errorf("decompress %s: %w", tag, err)
	}
	return n, nil
}

// decompressExact runs d and checks that it produced exactly unpacked bytes.
// A negative unpacked skips the check.
func decompressExact(d Decompressor, dst io.Writer, src io.Reader, packed, unpacked int64) (int64, error) {
	cw := &countingWriter{w: dst}
	if err := d.Decompress(cw, src, packed, unpacked); err != nil {
		return cw.n, err
	}
	if unpacked >= 0 && cw.n != unpacked {
		return cw.n, formatErr("unpacked size", 0, unpacked, cw.n)
	}
	return cw.n, nil
}

// countingWriter counts the bytes that reach w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
