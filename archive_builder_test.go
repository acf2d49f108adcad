package ttarchive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/mmap"
)

// tagZstd is a tag no real archive uses; tests bind it to zstd to exercise
// the packed path end to end.
const tagZstd Algorithm = 7

// testRow is one name-table row.
type testRow struct {
	typeCode int16
	pathRef  int16
	name     string
}

func folderRow(anchor, ref int16, name string) testRow {
	return testRow{typeCode: anchor, pathRef: ref, name: name}
}

func fileRow(index, ref int16, name string) testRow {
	return testRow{typeCode: -index, pathRef: ref, name: name}
}

// testFile is one file-info row and its payload.
type testFile struct {
	payload  []byte
	unpacked int64 // -1 means len(payload)
	tag      Algorithm
	word3    *uint32 // overrides the computed fourth word
}

func storedFile(payload string) testFile {
	return testFile{payload: []byte(payload), unpacked: -1}
}

// testArchive describes an archive for buildArchive.
type testArchive struct {
	signature int32
	rows      []testRow
	files     []testFile

	// hashes, when non-nil, is written as the content-hash section.
	hashes     []uint32
	terminator [2]uint32
	trailing   []byte

	// sizeDelta is added to the declared file-info size.
	sizeDelta int32
	// encodedOffset stores the first header word in the alternate
	// negated, 256-unit form.
	encodedOffset bool
}

// buildArchive lays out payloads first (256-byte aligned so LayoutB can
// address them), then the file-info block, name table, name data and the
// optional hash section.
func buildArchive(t testing.TB, a testArchive) []byte {
	t.Helper()
	if a.signature == 0 {
		a.signature = -3
	}

	var buf bytes.Buffer
	buf.Write(make([]byte, 8)) // header, patched below

	offsets := make([]int, len(a.files))
	for i, f := range a.files {
		pad(&buf, 256)
		offsets[i] = buf.Len()
		buf.Write(f.payload)
	}
	pad(&buf, 256)
	fio := buf.Len()

	le := binary.LittleEndian
	w32 := func(v uint32) { require.NoError(t, binary.Write(&buf, le, v)) }

	w32(uint32(a.signature))
	w32(uint32(len(a.files)))
	for i, f := range a.files {
		unpacked := uint32(len(f.payload))
		if f.unpacked >= 0 {
			unpacked = uint32(f.unpacked)
		}
		var w0, fine uint32
		if a.signature == -1 {
			w0 = uint32(offsets[i])
		} else {
			w0, fine = uint32(offsets[i])>>8, uint32(offsets[i])&0xFF
		}
		w3 := uint32(f.tag)&0xFF | fine<<24
		if f.word3 != nil {
			w3 = *f.word3
		}
		w32(w0)
		w32(uint32(len(f.payload)))
		w32(unpacked)
		w32(w3)
	}

	var names bytes.Buffer
	nameOff := map[string]uint32{}
	w32(uint32(len(a.rows)))
	for _, r := range a.rows {
		off, ok := nameOff[r.name]
		if !ok {
			off = uint32(names.Len())
			nameOff[r.name] = off
			names.WriteString(r.name)
			names.WriteByte(0)
		}
		require.NoError(t, binary.Write(&buf, le, r.typeCode))
		require.NoError(t, binary.Write(&buf, le, r.pathRef))
		w32(off)
	}
	w32(uint32(names.Len()))
	buf.Write(names.Bytes())

	if a.hashes != nil {
		for _, h := range a.hashes {
			w32(h)
		}
		w32(a.terminator[0])
		w32(a.terminator[1])
	}
	buf.Write(a.trailing)

	out := buf.Bytes()
	first := uint32(fio)
	if a.encodedOffset {
		first = ^uint32(fio>>8) + 1
	}
	le.PutUint32(out[0:4], first)
	le.PutUint32(out[4:8], uint32(int32(len(out)-fio)+a.sizeDelta))
	return out
}

func pad(buf *bytes.Buffer, align int) {
	if rem := buf.Len() % align; rem != 0 {
		buf.Write(make([]byte, align-rem))
	}
}

// writeArchive writes raw bytes to a temp file and returns its path.
func writeArchive(t testing.TB, raw []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "TEST.DAT")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

// mmapArchive maps raw bytes the same way Open does and returns the Source.
func mmapArchive(t testing.TB, raw []byte) Source {
	t.Helper()
	r, err := mmap.Open(writeArchive(t, raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// openTestArchive builds, writes and opens an archive.
func openTestArchive(t testing.TB, a testArchive, opts ...Option) *Archive {
	t.Helper()
	ar, err := Open(writeArchive(t, buildArchive(t, a)), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ar.Close() })
	return ar
}

func hashesFor(paths ...string) []uint32 {
	hs := make([]uint32, len(paths))
	for i, p := range paths {
		hs[i] = PathHash(p)
	}
	return hs
}

func zstdCompress(t testing.TB, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

var zstdDecompressor = DecompressorFunc(func(dst io.Writer, src io.Reader, _, unpacked int64) error {
	dec, err := zstd.NewReader(src)
	if err != nil {
		return err
	}
	defer dec.Close()
	n, err := io.Copy(dst, dec)
	if err != nil {
		return err
	}
	if n != unpacked {
		return fmt.Errorf("unpacked %d bytes, want %d", n, unpacked)
	}
	return nil
})

func u32(v uint32) *uint32 { return &v }
