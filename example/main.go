package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	ttarchive "github.com/ahrav/go-ttarchive"
)

// tagZstd is the algorithm tag this example binds to zstd. Real archives
// use LZ2K, whose codec is supplied by the caller.
const tagZstd ttarchive.Algorithm = 7

func main() {
	fmt.Println("=== TT Archive Example ===")
	fmt.Println()

	demonstratePathHash()
	fmt.Println()

	tempDir, err := os.MkdirTemp("", "ttarchive-example-")
	if err != nil {
		log.Fatal("Failed to create temp dir:", err)
	}
	defer os.RemoveAll(tempDir)

	files := createExampleFiles()
	archivePath := filepath.Join(tempDir, "GAME.DAT")
	if err := os.WriteFile(archivePath, createExampleArchive(files), 0o644); err != nil {
		log.Fatal("Failed to write archive:", err)
	}
	fmt.Printf("Created example archive: %s\n\n", archivePath)

	demonstrateArchive(archivePath, files)
	fmt.Println()
	demonstrateExtract(archivePath, filepath.Join(tempDir, "GAME"))
}

// demonstratePathHash shows the case-folded hash the archive stores per path.
func demonstratePathHash() {
	fmt.Println("--- PathHash Examples ---")
	for _, p := range []string{`CHARS\HERO.GHG`, `chars\hero.ghg`, `LEVELS\L1\MAP.BIN`} {
		fmt.Printf("  %-20s 0x%08X\n", p, ttarchive.PathHash(p))
	}
}

// ExampleFile is one file placed in the example archive.
type ExampleFile struct {
	Dir     string
	Name    string
	Content []byte
	Packed  bool
}

// Path returns the slash-separated path the archive reports for f.
func (f ExampleFile) Path() string { return f.Dir + "/" + f.Name }

func createExampleFiles() []ExampleFile {
	return []ExampleFile{
		{Dir: "CHARS", Name: "HERO.GHG", Content: []byte("hero model data")},
		{Dir: "CHARS", Name: "HERO.ANM", Content: bytes.Repeat([]byte("frame "), 256), Packed: true},
		{Dir: "LEVELS", Name: "L1.BIN", Content: []byte("level one")},
		{Dir: "LEVELS", Name: "README.TXT", Content: []byte("Levels are loaded in table order.\n"), Packed: true},
	}
}

// createExampleArchive lays out a signature -3 archive: payloads on 256-byte
// boundaries, the file-info block, one folder row per directory followed by
// its files, and the name strings.
func createExampleArchive(files []ExampleFile) []byte {
	le := binary.LittleEndian
	var buf bytes.Buffer
	buf.Write(make([]byte, 8))

	type row struct {
		offset, packed, unpacked uint32
		tag                      ttarchive.Algorithm
	}
	rows := make([]row, len(files))
	for i, f := range files {
		alignTo(&buf, 256)
		payload := f.Content
		if f.Packed {
			payload = zstdCompress(f.Content)
			rows[i].tag = tagZstd
		}
		rows[i].offset = uint32(buf.Len())
		rows[i].packed = uint32(len(payload))
		rows[i].unpacked = uint32(len(f.Content))
		buf.Write(payload)
	}
	alignTo(&buf, 256)
	fio := buf.Len()

	w := func(v any) { _ = binary.Write(&buf, le, v) }
	w(int32(-3))
	w(uint32(len(files)))
	for _, r := range rows {
		w(r.offset >> 8)
		w(r.packed)
		w(r.unpacked)
		w(uint32(r.tag)&0xFF | (r.offset&0xFF)<<24)
	}

	var names bytes.Buffer
	addName := func(s string) uint32 {
		off := uint32(names.Len())
		names.WriteString(s)
		names.WriteByte(0)
		return off
	}

	type nameRow struct {
		typeCode, pathRef int16
		nameOff           uint32
	}
	// Row 0 is the unnamed root. Row 1, the first folder, was placed at the
	// root, so later top-level folders reference it to leave the current one.
	table := []nameRow{{typeCode: 1, nameOff: addName("")}}
	lastDir := ""
	for i, f := range files {
		if f.Dir != lastDir {
			var ref int16
			if lastDir != "" {
				ref = 1
			}
			table = append(table, nameRow{typeCode: int16(len(table) + 1), pathRef: ref, nameOff: addName(f.Dir)})
			lastDir = f.Dir
		}
		table = append(table, nameRow{typeCode: -int16(i), pathRef: 0, nameOff: addName(f.Name)})
	}
	w(uint32(len(table)))
	for _, r := range table {
		w(r.typeCode)
		w(r.pathRef)
		w(r.nameOff)
	}
	w(uint32(names.Len()))
	buf.Write(names.Bytes())

	out := buf.Bytes()
	le.PutUint32(out[0:], uint32(fio))
	le.PutUint32(out[4:], uint32(len(out)-fio))
	return out
}

func alignTo(buf *bytes.Buffer, n int) {
	if rem := buf.Len() % n; rem != 0 {
		buf.Write(make([]byte, n-rem))
	}
}

func zstdCompress(data []byte) []byte {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		log.Fatal("Failed to create zstd encoder:", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

// zstdDecompressor adapts klauspost/compress to ttarchive.Decompressor.
var zstdDecompressor = ttarchive.DecompressorFunc(func(dst io.Writer, src io.Reader, _, unpacked int64) error {
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
		return fmt.Errorf("zstd produced %d bytes, want %d", n, unpacked)
	}
	return nil
})

func openExampleArchive(path string) (*ttarchive.Archive, error) {
	return ttarchive.Open(path, ttarchive.WithDecompressor(tagZstd, zstdDecompressor))
}

func demonstrateArchive(path string, files []ExampleFile) {
	fmt.Println("--- Archive Operations ---")

	a, err := openExampleArchive(path)
	if err != nil {
		log.Fatal("Failed to open archive:", err)
	}
	defer a.Close()

	h := a.Header()
	fmt.Printf("Signature %d, layout %s, %d files, %d names\n",
		h.Signature, h.Layout(), h.NumFiles, h.NumNames)

	fmt.Println("\nEntries in table order:")
	it := a.Entries()
	for {
		e, ok, err := it.Next()
		if !ok {
			if !errors.Is(err, io.EOF) {
				log.Fatal("Failed to walk name table:", err)
			}
			break
		}
		fi, err := a.FileInfo(e)
		if err != nil {
			log.Fatal("Failed to resolve entry:", err)
		}
		fmt.Printf("  %-20s offset=0x%06X packed=%-5d unpacked=%-5d alg=%s\n",
			e.Path, fi.Offset, fi.PackedSize, fi.UnpackedSize, fi.Algorithm)
	}

	fmt.Println("\nReading files by name:")
	for _, f := range files {
		// Look-ups ignore case, like the archive's own hash.
		data, err := a.ReadFile(strings.ToLower(f.Path()))
		switch {
		case err != nil:
			fmt.Printf("  ❌ %s: %v\n", f.Path(), err)
		case !bytes.Equal(data, f.Content):
			fmt.Printf("  ❌ %s: content mismatch\n", f.Path())
		default:
			fmt.Printf("  ✅ %s (%d bytes)\n", f.Path(), len(data))
		}
	}

	if _, err := a.ReadFile("CHARS/VILLAIN.GHG"); errors.Is(err, ttarchive.ErrEntryNotFound) {
		fmt.Printf("  ✅ Missing entry correctly reported: %v\n", err)
	}
}

func demonstrateExtract(path, dest string) {
	fmt.Println("--- Extraction ---")

	a, err := openExampleArchive(path)
	if err != nil {
		log.Fatal("Failed to open archive:", err)
	}
	defer a.Close()

	x := ttarchive.NewExtractor(a, dest,
		ttarchive.WithWorkers(2),
		ttarchive.WithReport(func(r ttarchive.Report) {
			mark := "stored"
			if r.Decompressed {
				mark = "decompressed"
			}
			fmt.Printf("  %s (%s)\n", r.Path, mark)
		}),
	)
	sum, err := x.Extract(context.Background())
	if err != nil {
		log.Fatal("Extraction failed:", err)
	}
	fmt.Printf("Extracted %d files, %d decompressed, %d bytes written to %s\n",
		sum.Files, sum.Decompressed, sum.BytesWritten, dest)
}
