package ttarchive

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveStat(t *testing.T) {
	ar := openTestArchive(t, treeArchive())

	for _, name := range []string{"CHARS/HERO.GHG", `chars\hero.ghg`, "/Chars/Hero.ghg"} {
		e, fi, err := ar.Stat(name)
		require.NoError(t, err, name)
		assert.Equal(t, "CHARS/HERO.GHG", e.Path)
		assert.Equal(t, uint32(0), e.FileIndex)
		assert.Equal(t, uint32(len("hero model")), fi.PackedSize)
	}

	_, _, err := ar.Stat("CHARS/MISSING.GHG")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestArchiveStatMalformedTable(t *testing.T) {
	a := simpleArchive()
	a.rows = append(a.rows, fileRow(0, 9, "BROKEN"))
	ar := openTestArchive(t, a)

	for range 2 {
		_, _, err := ar.Stat("a.txt")
		var fe *FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "path reference", fe.Field)
	}
}

func TestArchiveReadFile(t *testing.T) {
	plain := bytes.Repeat([]byte("abc"), 500)
	a := testArchive{
		rows: []testRow{
			folderRow(3, 0, "DATA"),
			fileRow(0, 0, "PLAIN.TXT"),
			fileRow(1, 0, "PACKED.BIN"),
		},
		files: []testFile{
			storedFile("plain text"),
			{payload: zstdCompress(t, plain), unpacked: int64(len(plain)), tag: tagZstd},
		},
	}

	t.Run("stored and packed", func(t *testing.T) {
		ar := openTestArchive(t, a, WithDecompressor(tagZstd, zstdDecompressor))

		b, err := ar.ReadFile("data/plain.txt")
		require.NoError(t, err)
		assert.Equal(t, "plain text", string(b))

		b, err = ar.ReadFile("DATA/PACKED.BIN")
		require.NoError(t, err)
		assert.Equal(t, plain, b)
	})

	t.Run("cached result is shared", func(t *testing.T) {
		ar := openTestArchive(t, a, WithDecompressor(tagZstd, zstdDecompressor))
		first, err := ar.ReadFile("DATA/PACKED.BIN")
		require.NoError(t, err)
		second, err := ar.ReadFile(`data\packed.bin`)
		require.NoError(t, err)
		assert.Same(t, &first[0], &second[0])
		assert.Equal(t, 1, ar.cache.Len())
	})

	t.Run("cache disabled", func(t *testing.T) {
		ar := openTestArchive(t, a, WithCacheEntries(0))
		assert.Nil(t, ar.cache)
		first, err := ar.ReadFile("DATA/PLAIN.TXT")
		require.NoError(t, err)
		second, err := ar.ReadFile("DATA/PLAIN.TXT")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.NotSame(t, &first[0], &second[0])
	})

	t.Run("short decompressor output is not cached", func(t *testing.T) {
		// Declared size near 4 GiB; the codec stops after 3 bytes.
		short := testArchive{
			rows:  []testRow{fileRow(0, 0, "HUGE.BIN")},
			files: []testFile{{payload: []byte("xx"), unpacked: 0xFFFFFFF0, tag: tagZstd}},
		}
		ar := openTestArchive(t, short, WithDecompressor(tagZstd, DecompressorFunc(
			func(dst io.Writer, _ io.Reader, _, _ int64) error {
				_, err := dst.Write([]byte("abc"))
				return err
			})))

		_, err := ar.ReadFile("HUGE.BIN")
		var fe *FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "unpacked size", fe.Field)
		assert.Equal(t, int64(3), fe.Got)
		assert.Zero(t, ar.cache.Len())
	})

	t.Run("no decompressor", func(t *testing.T) {
		ar := openTestArchive(t, a)
		_, err := ar.ReadFile("DATA/PACKED.BIN")
		assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	})

	t.Run("concurrent readers", func(t *testing.T) {
		ar := openTestArchive(t, a, WithDecompressor(tagZstd, zstdDecompressor))
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				name := "DATA/PLAIN.TXT"
				if i%2 == 1 {
					name = "DATA/PACKED.BIN"
				}
				_, err := ar.ReadFile(name)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	})
}

func TestArchiveOptions(t *testing.T) {
	t.Run("signatures", func(t *testing.T) {
		a := simpleArchive()
		a.signature = -7
		_, err := Open(writeArchive(t, buildArchive(t, a)))
		require.Error(t, err)

		ar := openTestArchive(t, a, WithSignatures(-7))
		assert.Equal(t, int32(-7), ar.Header().Signature)
	})

	t.Run("word3 layout", func(t *testing.T) {
		a := simpleArchive()
		a.files[0].word3 = u32(0x00010000)

		e, fi, err := openTestArchive(t, a).Stat("a.txt")
		require.NoError(t, err)
		assert.Equal(t, AlgNone, fi.Algorithm)

		wide := openTestArchive(t, a, WithWord3Layout(Word3TagLow24))
		wfi, err := wide.FileInfo(e)
		require.NoError(t, err)
		assert.Equal(t, Algorithm(0x10000), wfi.Algorithm)
	})

	t.Run("hash index reported", func(t *testing.T) {
		assert.False(t, openTestArchive(t, simpleArchive()).HasHashIndex())

		a := simpleArchive()
		a.hashes = hashesFor("a.txt", "b.txt")
		ar := openTestArchive(t, a)
		assert.True(t, ar.HasHashIndex())

		b, err := ar.ReadFile("b.txt")
		require.NoError(t, err)
		assert.Equal(t, "beta", string(b))
	})
}

func TestArchiveClose(t *testing.T) {
	ar, err := Open(writeArchive(t, buildArchive(t, simpleArchive())))
	require.NoError(t, err)
	require.NoError(t, ar.Close())
	assert.NoError(t, ar.Close())

	src := mmapArchive(t, buildArchive(t, simpleArchive()))
	ar, err = OpenSource(src)
	require.NoError(t, err)
	require.NoError(t, ar.Close())

	// The caller still owns src.
	buf := make([]byte, 4)
	_, err = src.ReadAt(buf, 0)
	assert.NoError(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(t.TempDir() + "/NOPE.DAT")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
}
