// nametable.go
//
// Forward-only walker over the compact name table.
// The table encodes a directory tree with 8-byte rows: a folder/file marker,
// a back-reference to an earlier row's directory, and the offset of the row's
// NUL-terminated name. Directories are never stored as full strings, so every
// path is rebuilt from the rows that precede it.

package ttarchive

import (
	"fmt"
	"io"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// archiveSep is the path separator used inside archives and hashed by PathHash.
const archiveSep = '\\'

// nameCacheEntries bounds the per-walk name string cache.
const nameCacheEntries = 1 << 10

// Entry is one file produced by walking the name table.
type Entry struct {
	// Path is the reconstructed path, slash separated and relative.
	Path string

	// FileIndex is the file-info row that describes the payload.
	FileIndex uint32

	// Row is the name-table row that produced the entry.
	Row int
}

// pathTable records, per name-table row, the directory that row was placed
// in. It only grows; later rows reference earlier ones by position.
type pathTable struct {
	dirs []string
}

func (t *pathTable) append(dir string) { t.dirs = append(t.dirs, dir) }

// at returns the directory recorded by row ref. Only rows strictly before
// the one being processed are visible.
func (t *pathTable) at(ref int) (string, bool) {
	if ref < 0 || ref >= len(t.dirs) {
		return "", false
	}
	return t.dirs[ref], true
}

// NameIter walks the name table of an archive, yielding one Entry per file
// row in table order. Folder rows only update the walker's state.
//
// A NameIter is not restartable and must be confined to one goroutine.
type NameIter struct {
	src    Source
	hdr    *Header
	hashes *hashIndex
	rows   *cursor

	row        int
	currentDir string
	// lastFolder mirrors the last folder marker seen. Nothing consumes it;
	// the format reserves it for the folder's last child row.
	lastFolder int16
	paths      pathTable
	// names caches decoded strings by offset; nil when disabled.
	names      *lru.Cache[uint32, string]
}

// newNameIter returns a walker positioned on the first name row. A
// cacheSize below 1 disables the name cache.
func newNameIter(src Source, hdr *Header, hashes *hashIndex, cacheSize int) *NameIter {
	var names *lru.Cache[uint32, string]
	if cacheSize > 0 {
		// lru.New only fails for non-positive sizes.
		if c, err := lru.New[uint32, string](cacheSize); err == nil {
			names = c
		}
	}
	return &NameIter{
		src:    src,
		hdr:    hdr,
		hashes: hashes,
		rows:   newCursor(src, hdr.nameRows),
		paths:  pathTable{dirs: make([]string, 0, hdr.NumNames)},
		names:  names,
	}
}

// Next returns the next file entry.
//
// When ok is false the table has been exhausted and err is io.EOF, or err
// describes the malformed row that stopped the walk. After an error the
// iterator stays exhausted.
func (it *NameIter) Next() (e Entry, ok bool, err error) {
	for it.row < int(it.hdr.NumNames) {
		next, isFile, stepErr := it.step()
		if stepErr != nil {
			it.row = int(it.hdr.NumNames)
			return Entry{}, false, stepErr
		}
		if isFile {
			return next, true, nil
		}
	}
	return Entry{}, false, io.EOF
}

// step consumes exactly one row.
func (it *NameIter) step() (Entry, bool, error) {
	row := it.row
	rowOff := it.rows.off
	it.row++

	typeCode, err := it.rows.int16()
	if err != nil {
		return Entry{}, false, fmt.Errorf("name row %d: %w", row, err)
	}
	pathRef, err := it.rows.int16()
	if err != nil {
		return Entry{}, false, fmt.Errorf("name row %d: %w", row, err)
	}
	nameOff, err := it.rows.uint32()
	if err != nil {
		return Entry{}, false, fmt.Errorf("name row %d: %w", row, err)
	}

	isFolder := typeCode > 0
	var direct uint32
	if isFolder {
		it.lastFolder = typeCode
	} else {
		direct = uint32(-int32(typeCode))
	}

	base := it.currentDir
	if pathRef > 0 {
		dir, ok := it.paths.at(int(pathRef))
		if !ok {
			return Entry{}, false, formatErr("path reference", rowOff+2, fmt.Sprintf("< %d", row), pathRef)
		}
		base = dir
	}
	it.paths.append(base)

	name, err := it.name(nameOff)
	if err != nil {
		return Entry{}, false, fmt.Errorf("name row %d: %w", row, err)
	}
	full := base
	if name != "" {
		full += string(archiveSep) + name
	}

	if isFolder {
		if full != "" {
			it.currentDir = full
		}
		return Entry{}, false, nil
	}

	index := direct
	if it.hashes != nil {
		key := strings.TrimPrefix(full, string(archiveSep))
		h := PathHash(key)
		var ok bool
		if index, ok = it.hashes.lookup(h); !ok {
			return Entry{}, false, &LookupError{Path: key, Hash: h}
		}
	}
	if index >= it.hdr.NumFiles {
		return Entry{}, false, formatErr("file index", rowOff, fmt.Sprintf("< %d", it.hdr.NumFiles), index)
	}

	return Entry{Path: toSlash(full), FileIndex: index, Row: row}, true, nil
}

// name returns the string stored at the row-relative offset off.
func (it *NameIter) name(off uint32) (string, error) {
	if it.names != nil {
		if s, ok := it.names.Get(off); ok {
			return s, nil
		}
	}
	s, err := readCString(it.src, it.hdr.nameData+int64(off))
	if err != nil {
		return "", err
	}
	if it.names != nil {
		it.names.Add(off, s)
	}
	return s, nil
}

// toSlash converts an archive path to a relative, slash-separated path.
func toSlash(p string) string {
	return strings.ReplaceAll(strings.TrimLeft(p, string(archiveSep)), string(archiveSep), "/")
}
