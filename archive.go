// Package ttarchive reads TT ".DAT" archives: a header, a file-info table, a
// compact hierarchical name table, an optional content-hash index, and the
// payload bytes they point at.
//
// The archive is memory-mapped once. Opening it decodes and validates the
// header and the hash index; the name table is walked lazily through a
// NameIter, and each file's location is decoded from the file-info table only
// when it is needed. Payloads are copied verbatim or handed to a Decompressor
// registered for their algorithm tag.
//
// Typical usage:
//
//	a, err := ttarchive.Open("GAME.DAT")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer a.Close()
//
//	x := ttarchive.NewExtractor(a, "GAME")
//	summary, err := x.Extract(ctx)
//
// An Archive is safe for concurrent use by multiple goroutines; each NameIter
// it hands out is not.
package ttarchive

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	farm "github.com/dgryski/go-farm"
	"github.com/hashicorp/golang-lru/arc/v2"
	"golang.org/x/exp/mmap"
)

const (
	defaultCacheEntries = 256

	// maxReadFileGrow bounds the buffer ReadFile reserves up front for a
	// packed entry.
	maxReadFileGrow = 16 << 20
)

// Option configures Open and OpenSource.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	signatures   []int32
	word3        Word3Layout
	registry     *Registry
	cacheEntries int
}

// WithLogger sets the logger used while decoding. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSignatures replaces the accepted file-info signatures.
func WithSignatures(sigs ...int32) Option {
	return func(o *options) { o.signatures = sigs }
}

// WithWord3Layout selects how file-info rows split the algorithm tag from
// the fine offset. The default is Word3TagLowByte.
func WithWord3Layout(w Word3Layout) Option {
	return func(o *options) { o.word3 = w }
}

// WithDecompressor registers d for tag on the archive's registry.
func WithDecompressor(tag Algorithm, d Decompressor) Option {
	return func(o *options) { o.registry.Register(tag, d) }
}

// WithCacheEntries bounds the number of payloads ReadFile keeps in memory.
// Zero disables the cache.
func WithCacheEntries(n int) Option {
	return func(o *options) { o.cacheEntries = n }
}

// Archive is an opened .DAT archive.
type Archive struct {
	src    Source
	closer io.Closer
	hdr    Header
	hashes *hashIndex
	opts   options

	// cache holds materialized payloads keyed by the fingerprint of the
	// case-folded entry path. nil when caching is disabled.
	cache *arc.ARCCache[uint64, []byte]

	indexOnce sync.Once
	byPath    map[uint64]Entry
	indexErr  error
}

// Open memory-maps the archive at path and decodes its header and hash index.
func Open(path string, opts ...Option) (*Archive, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmap archive: %w", err)
	}
	a, err := OpenSource(r, opts...)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	a.closer = r
	return a, nil
}

// OpenSource decodes an archive from an already opened Source. Closing the
// returned Archive does not close src.
func OpenSource(src Source, opts ...Option) (*Archive, error) {
	o := options{
		logger:       slog.New(slog.DiscardHandler),
		signatures:   DefaultSignatures,
		registry:     &Registry{},
		cacheEntries: defaultCacheEntries,
	}
	for _, opt := range opts {
		opt(&o)
	}

	hdr, err := readHeader(src, o.signatures)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	o.logger.Debug("archive header",
		slog.Int("signature", int(hdr.Signature)),
		slog.String("layout", hdr.Layout().String()),
		slog.Uint64("file_info_offset", uint64(hdr.FileInfoOffset)),
		slog.Uint64("file_info_size", uint64(hdr.FileInfoSize)),
		slog.Uint64("files", uint64(hdr.NumFiles)),
		slog.Uint64("names", uint64(hdr.NumNames)),
		slog.Bool("corrected", hdr.Corrected))

	hashes, err := tryBuildHashIndex(src, hdr.hashSection, hdr.NumFiles)
	if err != nil {
		return nil, fmt.Errorf("read hash index: %w", err)
	}
	if hashes != nil {
		o.logger.Debug("hash index", slog.Int("hashes", hashes.len()))
		if hashes.shadowed > 0 {
			o.logger.Warn("duplicate path hashes in index; later rows win",
				slog.Int("shadowed", hashes.shadowed))
		}
	}

	a := &Archive{src: src, hdr: hdr, hashes: hashes, opts: o}
	if o.cacheEntries > 0 {
		a.cache, err = arc.NewARC[uint64, []byte](o.cacheEntries)
		if err != nil {
			return nil, fmt.Errorf("create ARC cache: %w", err)
		}
	}
	return a, nil
}

// Header returns the decoded header.
func (a *Archive) Header() Header { return a.hdr }

// HasHashIndex reports whether files are resolved through the content-hash
// index rather than by direct row number.
func (a *Archive) HasHashIndex() bool { return a.hashes != nil }

// Registry returns the archive's decompressor registry.
func (a *Archive) Registry() *Registry { return a.opts.registry }

// Entries returns a fresh iterator over the archive's file entries.
func (a *Archive) Entries() *NameIter {
	return newNameIter(a.src, &a.hdr, a.hashes, nameCacheEntries)
}

// FileInfo decodes the file-info row that describes e.
func (a *Archive) FileInfo(e Entry) (FileInfo, error) {
	fi, err := resolveFileInfo(a.src, &a.hdr, e.FileIndex, a.opts.word3)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: %w", e.Path, err)
	}
	return fi, nil
}

// Payload returns a reader over the packed bytes of fi.
func (a *Archive) Payload(fi FileInfo) *io.SectionReader {
	return io.NewSectionReader(a.src, int64(fi.Offset), int64(fi.PackedSize))
}

// Stat looks up the entry stored under name. Matching ignores ASCII case, as
// the archive's own hash does.
func (a *Archive) Stat(name string) (Entry, FileInfo, error) {
	a.indexOnce.Do(a.buildPathIndex)
	if a.indexErr != nil {
		return Entry{}, FileInfo{}, a.indexErr
	}
	e, ok := a.byPath[pathKey(name)]
	if !ok {
		return Entry{}, FileInfo{}, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	fi, err := a.FileInfo(e)
	return e, fi, err
}

// ReadFile returns the unpacked contents of the entry stored under name.
//
// Packed payloads are decompressed with the registered Decompressor;
// ErrUnsupportedAlgorithm is returned when none is registered. Results are
// cached, and the returned slice must not be modified.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	key := pathKey(name)
	if a.cache != nil {
		if b, ok := a.cache.Get(key); ok {
			return b, nil
		}
	}

	e, fi, err := a.Stat(name)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if fi.IsPacked() {
		// UnpackedSize is unchecked until the codec has run.
		buf.Grow(int(min(fi.UnpackedSize, maxReadFileGrow)))
		_, err = a.opts.registry.decompress(&buf, a.Payload(fi), fi.Algorithm,
			int64(fi.PackedSize), int64(fi.UnpackedSize))
	} else {
		buf.Grow(int(fi.PackedSize))
		_, err = io.Copy(&buf, a.Payload(fi))
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.Path, err)
	}

	if a.cache != nil {
		a.cache.Add(key, buf.Bytes())
	}
	return buf.Bytes(), nil
}

// Close unmaps the archive if Open mapped it. Calling Close more than once
// is safe.
func (a *Archive) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// buildPathIndex walks the whole name table once to serve Stat.
func (a *Archive) buildPathIndex() {
	a.byPath = make(map[uint64]Entry, a.hdr.NumFiles)
	it := a.Entries()
	for {
		e, ok, err := it.Next()
		if !ok {
			if err != io.EOF {
				a.indexErr = err
			}
			return
		}
		a.byPath[pathKey(e.Path)] = e
	}
}

// pathKey folds name to the archive's case-insensitive form and
// fingerprints it.
func pathKey(name string) uint64 {
	name = strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	return farm.Fingerprint64([]byte(strings.ToUpper(name)))
}
