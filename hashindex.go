// hashindex.go
//
// Content-hash index for archives that do not address files by name-table
// position. The section maps *case-folded path hash* → *file-info row* and,
// when present, is the last thing in the archive: NumFiles words, two zero
// terminator words, end of file.
//
// Hashes are read verbatim; PathHash reproduces the producer's function so
// that reconstructed paths can be looked up.

package ttarchive

import "fmt"

const (
	pathHashBasis = 2166136261
	// pathHashPrime is not the canonical FNV-1 prime (16777619). Archives are
	// produced with this value and hashes only match with it.
	pathHashPrime = 1677619
)

// PathHash returns the content hash the archive producer stores for path.
// path uses the archive's backslash separator and carries no leading
// separator; ASCII letters are folded to upper case before hashing.
func PathHash(path string) uint32 {
	h := uint32(pathHashBasis)
	for i := 0; i < len(path); i++ {
		b := path[i]
		if 'a' <= b && b <= 'z' {
			b -= 'a' - 'A'
		}
		h = (h ^ uint32(b)) * pathHashPrime
	}
	return h
}

// hashIndex maps a path hash to its file-info row. It is built once per
// archive and read-only afterwards.
type hashIndex struct {
	rows map[uint32]uint32

	// shadowed counts hashes that appeared more than once. The later row wins.
	shadowed int
}

// lookup returns the file-info row recorded for h.
func (ix *hashIndex) lookup(h uint32) (uint32, bool) {
	row, ok := ix.rows[h]
	return row, ok
}

func (ix *hashIndex) len() int { return len(ix.rows) }

// tryBuildHashIndex reads the optional hash section starting at pos.
//
// A nil index with a nil error means the section is absent (empty, or its
// first word is zero) and files are addressed by direct index instead.
// Once the first word is non-zero the section must hold exactly numFiles
// hashes followed by two words summing to zero and nothing else.
func tryBuildHashIndex(src Source, pos int64, numFiles uint32) (*hashIndex, error) {
	size := int64(src.Len())
	if pos >= size {
		return nil, nil
	}

	c := newCursor(src, pos)
	first, err := c.uint32()
	if err != nil {
		return nil, fmt.Errorf("read hash section: %w", err)
	}
	if first == 0 {
		return nil, nil
	}

	need := pos + int64(max(numFiles, 1))*4 + 8
	if need > size {
		return nil, formatErr("hash section length", pos, fmt.Sprintf("0x%X", need), fmt.Sprintf("0x%X", size))
	}

	ix := &hashIndex{rows: make(map[uint32]uint32, numFiles)}
	ix.rows[first] = 0
	for i := uint32(1); i < numFiles; i++ {
		h, err := c.uint32()
		if err != nil {
			return nil, fmt.Errorf("read hash %d: %w", i, err)
		}
		if _, dup := ix.rows[h]; dup {
			ix.shadowed++
		}
		ix.rows[h] = i
	}

	termAt := c.off
	t0, err := c.uint32()
	if err != nil {
		return nil, fmt.Errorf("read hash terminator: %w", err)
	}
	t1, err := c.uint32()
	if err != nil {
		return nil, fmt.Errorf("read hash terminator: %w", err)
	}
	if sum := uint64(t0) + uint64(t1); sum != 0 {
		return nil, formatErr("hash terminator", termAt, 0, sum)
	}
	if c.off != size {
		return nil, formatErr("hash trailer", c.off, fmt.Sprintf("end of file (0x%X)", size), fmt.Sprintf("0x%X", c.off))
	}
	return ix, nil
}
