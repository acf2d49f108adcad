package ttarchive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestUnpackFile(t *testing.T) {
	plain := bytes.Repeat([]byte("unpack me "), 300)
	packed := zstdCompress(t, plain)
	registry := &Registry{}
	registry.Register(tagZstd, zstdDecompressor)

	t.Run("decompresses", func(t *testing.T) {
		src := writeTemp(t, "FILE.BIN", packed)
		dst := src + ".dec"
		n, err := UnpackFile(src, dst, UnpackConfig{
			Algorithm:    tagZstd,
			PackedSize:   -1,
			UnpackedSize: int64(len(plain)),
			Registry:     registry,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(len(plain)), n)
		got, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	})

	t.Run("packed size limits the input", func(t *testing.T) {
		src := writeTemp(t, "FILE.BIN", append(bytes.Clone(packed), "trailing junk"...))
		dst := src + ".dec"
		_, err := UnpackFile(src, dst, UnpackConfig{
			Algorithm:    tagZstd,
			PackedSize:   int64(len(packed)),
			UnpackedSize: int64(len(plain)),
			Registry:     registry,
		})
		require.NoError(t, err)
	})

	t.Run("stored copy", func(t *testing.T) {
		src := writeTemp(t, "FILE.BIN", []byte("as is"))
		dst := src + ".dec"
		n, err := UnpackFile(src, dst, UnpackConfig{Algorithm: AlgNone, PackedSize: -1, UnpackedSize: -1})
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	t.Run("size mismatch", func(t *testing.T) {
		src := writeTemp(t, "FILE.BIN", []byte("as is"))
		_, err := UnpackFile(src, src+".dec", UnpackConfig{Algorithm: AlgNone, PackedSize: -1, UnpackedSize: 9})
		var fe *FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "unpacked size", fe.Field)
	})

	t.Run("packed size beyond input", func(t *testing.T) {
		src := writeTemp(t, "FILE.BIN", []byte("short"))
		_, err := UnpackFile(src, src+".dec", UnpackConfig{Algorithm: AlgNone, PackedSize: 100, UnpackedSize: -1})
		var fe *FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "packed size", fe.Field)
	})

	t.Run("missing codec is fatal", func(t *testing.T) {
		src := writeTemp(t, "FILE.BIN", packed)
		_, err := UnpackFile(src, src+".dec", UnpackConfig{
			Algorithm:    AlgLZ2K,
			PackedSize:   -1,
			UnpackedSize: -1,
			Registry:     &Registry{},
		})
		assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
		assert.Equal(t, 1, ExitCode(err))
	})

	t.Run("missing input", func(t *testing.T) {
		_, err := UnpackFile(filepath.Join(t.TempDir(), "NOPE"), filepath.Join(t.TempDir(), "out"), UnpackConfig{})
		assert.Error(t, err)
	})
}
