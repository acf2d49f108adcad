package ttarchive

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedContainer is returned for FPK containers, which share the
	// .DAT file family but use an unrelated layout that this package does not
	// decode.
	ErrUnsupportedContainer = errors.New("unsupported container: FPK archives are not handled")

	// ErrUnsupportedAlgorithm is returned when no Decompressor is registered for
	// an entry's algorithm tag. The Extractor downgrades it to a warning and a
	// verbatim copy.
	ErrUnsupportedAlgorithm = errors.New("unsupported compression algorithm")

	// ErrUnsafePath is returned when a reconstructed entry path would escape the
	// extraction root.
	ErrUnsafePath = errors.New("entry path escapes destination")

	// ErrEntryNotFound is returned by Archive.Stat and Archive.ReadFile when no
	// entry carries the requested path.
	ErrEntryNotFound = errors.New("entry not found")
)

// FormatError reports a header or table field that violates the archive
// layout. Expected and Got are kept as raw values so callers can print them
// in whatever radix they like.
type FormatError struct {
	Field    string
	Offset   int64
	Expected any
	Got      any
}

func (e *FormatError) Error() string {
	if e.Expected == nil {
		return fmt.Sprintf("archive format: %s at 0x%X: got %v", e.Field, e.Offset, e.Got)
	}
	return fmt.Sprintf("archive format: %s at 0x%X: expected %v, got %v",
		e.Field, e.Offset, e.Expected, e.Got)
}

// LookupError reports a path whose content hash has no row in the hash index.
type LookupError struct {
	Path string
	Hash uint32
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("hash 0x%08X of %q does not correspond to a file", e.Hash, e.Path)
}

// ExitCode maps an error returned by this package to a process exit status.
// Every fatal class maps to 1; nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

func formatErr(field string, off int64, expected, got any) error {
	return &FormatError{Field: field, Offset: off, Expected: expected, Got: got}
}
