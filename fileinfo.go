package ttarchive

import (
	"encoding/binary"
	"fmt"
)

// Word3Layout selects how the fourth word of a file-info row splits into an
// algorithm tag and a fine offset.
//
// Both layouts take the fine offset from the top byte. They disagree on how
// wide the tag is, and archives observed so far cannot tell them apart
// because bits 8-23 are zero. The choice is left to the caller instead of
// being guessed per entry.
type Word3Layout uint8

const (
	// Word3TagLowByte reads the tag from bits 0-7 and ignores bits 8-23.
	Word3TagLowByte Word3Layout = iota
	// Word3TagLow24 reads the tag from bits 0-23.
	Word3TagLow24
)

func (w Word3Layout) split(word uint32) (tag Algorithm, fine uint32) {
	fine = word >> 24
	if w == Word3TagLow24 {
		return Algorithm(word & 0xFFFFFF), fine
	}
	return Algorithm(word & 0xFF), fine
}

// FileInfo is one decoded file-info row.
type FileInfo struct {
	// Index is the row's position in the file-info table.
	Index uint32

	// Offset is the absolute payload position inside the archive.
	Offset uint64

	// PackedSize is the number of payload bytes stored in the archive.
	PackedSize uint32

	// UnpackedSize is the payload size after decompression.
	UnpackedSize uint32

	// Algorithm is the declared compression tag. It only matters when
	// IsPacked reports true.
	Algorithm Algorithm
}

// IsPacked reports whether the payload needs decompressing. The sizes decide,
// not the tag: stored files are sometimes tagged with an algorithm.
func (fi FileInfo) IsPacked() bool { return fi.PackedSize != fi.UnpackedSize }

// resolveFileInfo decodes file-info row index of h.
//
// Rows are 16 bytes: word0 offset, word1 packed size, word2 unpacked size,
// word3 tag plus fine offset.
//
// LayoutA uses word0 as-is and only permits stored entries with a zero tag.
// LayoutB stores word0 in 256-byte units, which lets a 32-bit field address
// archives beyond 4 GiB; the fine byte restores the low bits.
func resolveFileInfo(src Source, h *Header, index uint32, w3 Word3Layout) (FileInfo, error) {
	if index >= h.NumFiles {
		return FileInfo{}, formatErr("file index", h.fileTable, fmt.Sprintf("< %d", h.NumFiles), index)
	}

	rowOff := h.fileTable + int64(index)*fileInfoRowSize
	var row [fileInfoRowSize]byte
	if _, err := src.ReadAt(row[:], rowOff); err != nil {
		return FileInfo{}, fmt.Errorf("read file-info row %d: %w", index, unexpectedEOF(err))
	}
	w0 := binary.LittleEndian.Uint32(row[0:4])
	fi := FileInfo{
		Index:        index,
		PackedSize:   binary.LittleEndian.Uint32(row[4:8]),
		UnpackedSize: binary.LittleEndian.Uint32(row[8:12]),
	}
	tag, fine := w3.split(binary.LittleEndian.Uint32(row[12:16]))
	fi.Algorithm = tag

	switch h.Layout() {
	case LayoutA:
		if fi.PackedSize != fi.UnpackedSize {
			return FileInfo{}, formatErr("unpacked size", rowOff+8, fi.PackedSize, fi.UnpackedSize)
		}
		if tag != AlgNone {
			return FileInfo{}, formatErr("algorithm tag", rowOff+12, AlgNone, tag)
		}
		fi.Offset = uint64(w0) + uint64(fine)
	default:
		fi.Offset = uint64(w0)<<8 + uint64(fine)
	}

	if end := fi.Offset + uint64(fi.PackedSize); end > uint64(src.Len()) {
		return FileInfo{}, formatErr("payload end", rowOff, fmt.Sprintf("<= 0x%X", src.Len()), fmt.Sprintf("0x%X", end))
	}
	return fi, nil
}
