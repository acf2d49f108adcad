package ttarchive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the copy buffer size used for stored payloads.
const DefaultChunkSize = 1 << 20

// Report describes one extracted entry.
type Report struct {
	Entry
	FileInfo

	// Dest is the file the entry was written to.
	Dest string

	// Decompressed is true when the payload went through a Decompressor.
	Decompressed bool

	// Unsupported is true when the payload was packed with an algorithm that
	// has no registered Decompressor and was copied verbatim instead.
	Unsupported bool
}

// Summary totals an extraction run.
type Summary struct {
	Files        int
	Decompressed int
	Unsupported  int
	BytesWritten int64
}

// ExtractOption configures an Extractor.
type ExtractOption func(*Extractor)

// WithRaw copies every payload verbatim, packed or not.
func WithRaw(raw bool) ExtractOption {
	return func(x *Extractor) { x.raw = raw }
}

// WithWorkers sets how many entries are written concurrently. Values below
// 2 extract strictly in name-table order. Table decoding is always
// sequential; with more workers the full entry list is resolved before the
// first file is written.
func WithWorkers(n int) ExtractOption {
	return func(x *Extractor) { x.workers = n }
}

// WithChunkSize sets the copy buffer size for stored payloads.
func WithChunkSize(n int) ExtractOption {
	return func(x *Extractor) {
		if n > 0 {
			x.chunkSize = n
		}
	}
}

// WithReport registers fn to be called after every extracted entry. Calls
// are serialized even when several workers are running.
func WithReport(fn func(Report)) ExtractOption {
	return func(x *Extractor) { x.report = fn }
}

// WithExtractLogger sets the extractor's logger. It defaults to the
// archive's logger.
func WithExtractLogger(l *slog.Logger) ExtractOption {
	return func(x *Extractor) {
		if l != nil {
			x.logger = l
		}
	}
}

// Extractor writes every file entry of an Archive below a destination
// directory, recreating the archive's directory tree.
type Extractor struct {
	a         *Archive
	dest      string
	raw       bool
	workers   int
	chunkSize int
	report    func(Report)
	logger    *slog.Logger

	// bufs holds copy buffers of chunkSize bytes. It is scoped to this
	// Extractor so concurrent runs never share one.
	bufs sync.Pool

	mu      sync.Mutex
	summary Summary
}

// NewExtractor returns an Extractor that writes a's files below dest.
func NewExtractor(a *Archive, dest string, opts ...ExtractOption) *Extractor {
	x := &Extractor{
		a:         a,
		dest:      dest,
		chunkSize: DefaultChunkSize,
		logger:    a.opts.logger,
	}
	for _, opt := range opts {
		opt(x)
	}
	x.bufs.New = func() any {
		b := make([]byte, x.chunkSize)
		return &b
	}
	return x
}

// job pairs a resolved entry with its decoded file-info row.
type job struct {
	e  Entry
	fi FileInfo
}

// Extract walks the name table and writes every file entry.
//
// The run stops at the first fatal error: a malformed table, an unresolved
// hash, or an I/O failure. Packed entries whose algorithm has no registered
// Decompressor are copied verbatim and logged as warnings.
func (x *Extractor) Extract(ctx context.Context) (Summary, error) {
	x.summary = Summary{}
	if x.workers > 1 {
		return x.extractParallel(ctx)
	}

	it := x.a.Entries()
	for {
		if err := ctx.Err(); err != nil {
			return x.summary, err
		}
		e, ok, err := it.Next()
		if !ok {
			if errors.Is(err, io.EOF) {
				return x.summary, nil
			}
			return x.summary, err
		}
		fi, err := x.a.FileInfo(e)
		if err != nil {
			return x.summary, err
		}
		if err := x.extractOne(job{e: e, fi: fi}); err != nil {
			return x.summary, err
		}
	}
}

// extractParallel resolves the complete plan first, then writes entries
// with a bounded errgroup.
func (x *Extractor) extractParallel(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return x.summary, err
	}
	var plan []job
	it := x.a.Entries()
	for {
		e, ok, err := it.Next()
		if !ok {
			if !errors.Is(err, io.EOF) {
				return x.summary, err
			}
			break
		}
		fi, err := x.a.FileInfo(e)
		if err != nil {
			return x.summary, err
		}
		plan = append(plan, job{e: e, fi: fi})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.workers)
	launched := 0
	for _, j := range plan {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return x.extractOne(j)
		})
		launched++
	}
	if err := g.Wait(); err != nil {
		return x.summary, err
	}
	// Jobs never launched because ctx was canceled report no error of their own.
	if launched < len(plan) {
		return x.summary, ctx.Err()
	}
	return x.summary, nil
}

// extractOne writes a single entry below x.dest.
func (x *Extractor) extractOne(j job) error {
	rel := filepath.FromSlash(j.e.Path)
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: %q", ErrUnsafePath, j.e.Path)
	}
	dst := filepath.Join(x.dest, rel)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", j.e.Path, err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("open destination %s: %w", dst, err)
	}

	rep := Report{Entry: j.e, FileInfo: j.fi, Dest: dst}
	n, err := x.writePayload(f, &rep)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", dst, cerr)
	}
	if err != nil {
		return err
	}

	x.logger.Debug("extracted",
		slog.String("path", j.e.Path),
		slog.Uint64("offset", j.fi.Offset),
		slog.Uint64("packed", uint64(j.fi.PackedSize)),
		slog.Uint64("unpacked", uint64(j.fi.UnpackedSize)),
		slog.String("alg", j.fi.Algorithm.String()))

	x.mu.Lock()
	defer x.mu.Unlock()
	x.summary.Files++
	x.summary.BytesWritten += n
	if rep.Decompressed {
		x.summary.Decompressed++
	}
	if rep.Unsupported {
		x.summary.Unsupported++
	}
	if x.report != nil {
		x.report(rep)
	}
	return nil
}

// writePayload copies or decompresses the payload of rep into w and returns
// the number of bytes written.
func (x *Extractor) writePayload(w io.Writer, rep *Report) (int64, error) {
	src := x.a.Payload(rep.FileInfo)

	if rep.IsPacked() && !x.raw {
		d, ok := x.a.opts.registry.Lookup(rep.Algorithm)
		if ok {
			n, err := decompressExact(d, w, src, int64(rep.PackedSize), int64(rep.UnpackedSize))
			if err != nil {
				return n, fmt.Errorf("decompress %s (%s): %w", rep.Path, rep.Algorithm, err)
			}
			rep.Decompressed = true
			return n, nil
		}
		rep.Unsupported = true
		x.logger.Warn("unknown packed type, copying raw payload",
			slog.String("path", rep.Path),
			slog.Uint64("tag", uint64(rep.Algorithm)))
	}

	bp := x.bufs.Get().(*[]byte)
	defer x.bufs.Put(bp)
	// Hide ReaderFrom/WriterTo so the bounded buffer is actually used.
	n, err := io.CopyBuffer(struct{ io.Writer }{w}, struct{ io.Reader }{src}, *bp)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", rep.Path, err)
	}
	return n, nil
}
