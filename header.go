package ttarchive

import (
	"fmt"
	"slices"
)

const (
	fpkMagic = 0x12345678

	fileInfoHeaderSize = 8  // signature + file count
	fileInfoRowSize    = 16 // offset, packed, unpacked, tag/fine word
	nameRowSize        = 8  // type, path ref, name offset
)

// DefaultSignatures lists the file-info signatures accepted unless
// WithSignatures overrides them.
var DefaultSignatures = []int32{-1, -2, -3, -4}

// Layout selects how file-info rows are decoded. It is fixed once per archive
// from the header signature.
type Layout uint8

const (
	// LayoutA stores absolute offsets and never compresses (signature -1).
	LayoutA Layout = iota
	// LayoutB stores offsets in 256-byte units plus a fine byte and carries an
	// algorithm tag (every other signature).
	LayoutB
)

func (l Layout) String() string {
	if l == LayoutA {
		return "A"
	}
	return "B"
}

func layoutFor(signature int32) Layout {
	if signature == -1 {
		return LayoutA
	}
	return LayoutB
}

// Header is the decoded, immutable archive header together with the section
// offsets derived from it.
type Header struct {
	// FileInfoOffset is where the file-info block (signature, count, rows)
	// begins, after any alternate-encoding correction.
	FileInfoOffset uint32

	// FileInfoSize is the declared length of everything from FileInfoOffset
	// to the end of the archive.
	FileInfoSize uint32

	// Signature selects the file-info Layout.
	Signature int32

	// NumFiles is the row count of the file-info table.
	NumFiles uint32

	// NumNames is the row count of the name table.
	NumNames uint32

	// Corrected reports whether the first header word had to be decoded with
	// the alternate (negated, shifted) encoding.
	Corrected bool

	fileTable   int64 // first file-info row
	nameRows    int64 // first name-table row
	nameData    int64 // start of NUL-terminated name strings
	hashSection int64 // optional content-hash index
}

// Layout returns the file-info layout governed by the signature.
func (h Header) Layout() Layout { return layoutFor(h.Signature) }

// ReadHeader decodes the archive header using the default signature set.
func ReadHeader(src Source) (Header, error) {
	return readHeader(src, DefaultSignatures)
}

// readHeader parses the fixed-layout header, validates it against the source
// length, and derives every table offset that follows.
//
// The first word normally is the file-info offset. Some producers store it as
// a negated count of 256-byte units instead; a value past the end of the
// source is re-read that way before any validation happens.
func readHeader(src Source, signatures []int32) (Header, error) {
	size := int64(src.Len())
	c := newCursor(src, 0)

	first, err := c.uint32()
	if err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	if first == fpkMagic {
		return Header{}, ErrUnsupportedContainer
	}
	infoSize, err := c.uint32()
	if err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}

	h := Header{FileInfoOffset: first, FileInfoSize: infoSize}
	if int64(first) > size {
		h.FileInfoOffset = (^first + 1) << 8
		h.Corrected = true
	}

	if got := int64(h.FileInfoOffset) + int64(h.FileInfoSize); got != size {
		return Header{}, formatErr("archive size", 0, fmt.Sprintf("0x%X", got), fmt.Sprintf("0x%X", size))
	}

	c = newCursor(src, int64(h.FileInfoOffset))
	if h.Signature, err = c.int32(); err != nil {
		return Header{}, fmt.Errorf("read file-info signature: %w", err)
	}
	if !slices.Contains(signatures, h.Signature) {
		return Header{}, formatErr("file-info signature", int64(h.FileInfoOffset), signatures, h.Signature)
	}
	if h.NumFiles, err = c.uint32(); err != nil {
		return Header{}, fmt.Errorf("read file count: %w", err)
	}

	h.fileTable = int64(h.FileInfoOffset) + fileInfoHeaderSize
	nameCount := h.fileTable + int64(h.NumFiles)*fileInfoRowSize
	if nameCount+4 > size {
		return Header{}, formatErr("file-info table end", h.fileTable, fmt.Sprintf("<= 0x%X", size), nameCount+4)
	}
	c = newCursor(src, nameCount)
	if h.NumNames, err = c.uint32(); err != nil {
		return Header{}, fmt.Errorf("read name count: %w", err)
	}
	h.nameRows = c.off

	hashPtr := h.nameRows + int64(h.NumNames)*nameRowSize
	if hashPtr+4 > size {
		return Header{}, formatErr("name table end", h.nameRows, fmt.Sprintf("<= 0x%X", size), hashPtr+4)
	}
	c = newCursor(src, hashPtr)
	rel, err := c.uint32()
	if err != nil {
		return Header{}, fmt.Errorf("read hash section pointer: %w", err)
	}
	h.nameData = c.off
	h.hashSection = h.nameData + int64(rel)
	if h.hashSection > size {
		return Header{}, formatErr("hash section offset", hashPtr, fmt.Sprintf("<= 0x%X", size), h.hashSection)
	}
	return h, nil
}
