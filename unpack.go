package ttarchive

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"
)

// UnpackConfig describes a single compressed file that lives outside an
// archive.
type UnpackConfig struct {
	// Algorithm selects the codec. AlgNone copies the input unchanged.
	Algorithm Algorithm

	// PackedSize limits how many input bytes are consumed. Negative means
	// the whole file.
	PackedSize int64

	// UnpackedSize is the expected output size. Negative skips the check.
	UnpackedSize int64

	// Registry provides the Decompressor for Algorithm.
	Registry *Registry
}

// UnpackFile decompresses the file at srcPath into dstPath and returns the
// number of bytes written.
//
// Unlike archive extraction, a missing Decompressor is fatal here: there is
// no archive table that could make a verbatim copy meaningful.
func UnpackFile(srcPath, dstPath string, cfg UnpackConfig) (int64, error) {
	r, err := mmap.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer r.Close()

	packed := int64(r.Len())
	if cfg.PackedSize >= 0 {
		if cfg.PackedSize > packed {
			return 0, formatErr("packed size", 0, fmt.Sprintf("<= %d", packed), cfg.PackedSize)
		}
		packed = cfg.PackedSize
	}
	unpacked := cfg.UnpackedSize
	if cfg.Algorithm == AlgNone && unpacked < 0 {
		unpacked = packed
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return 0, fmt.Errorf("open destination %s: %w", dstPath, err)
	}
	cw := &countingWriter{w: out}
	src := io.NewSectionReader(r, 0, packed)
	if cfg.Algorithm == AlgNone {
		_, err = io.Copy(cw, src)
	} else {
		_, err = cfg.Registry.decompress(cw, src, cfg.Algorithm, packed, unpacked)
	}
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", dstPath, cerr)
	}
	if err != nil {
		return cw.n, err
	}
	if cfg.UnpackedSize >= 0 && cw.n != cfg.UnpackedSize {
		return cw.n, formatErr("unpacked size", 0, cfg.UnpackedSize, cw.n)
	}
	return cw.n, nil
}
