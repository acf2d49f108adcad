// Command ttextract extracts TT .DAT archives and unpacks single compressed
// files.
//
//	ttextract GAME.DAT              extract into ./GAME
//	ttextract GAME.DAT -r -d out    extract without decompressing
//	ttextract FILE.BIN -u -a lz2k   unpack one compressed file to FILE.BIN.dec
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"

	ttarchive "github.com/ahrav/go-ttarchive"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	args, err := parseArgs(argv, stdout)
	if errors.Is(err, errHelp) {
		return 0
	}
	if err != nil {
		logError(stderr, err)
		return 1
	}
	for _, w := range args.warnings {
		fmt.Fprintf(stdout, "[WARNING] %s\n", w)
	}

	level := slog.LevelWarn
	if args.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	prof := &profiler{addr: args.pprofAddr, tracePath: args.tracePath, logger: logger}
	if err := prof.start(); err != nil {
		logger.Warn("profiling disabled", slog.Any("err", err))
	}
	defer prof.stop()

	if args.isUnpack {
		err = unpack(args)
	} else {
		err = extract(ctx, args, logger, stdout)
	}
	if err != nil {
		logError(stderr, err)
		code := ttarchive.ExitCode(err)
		fmt.Fprintf(stderr, "Program exited with code %d\n", code)
		return code
	}
	return 0
}

func unpack(args cmdlineArgs) error {
	_, err := ttarchive.UnpackFile(args.fileName, args.outName, ttarchive.UnpackConfig{
		Algorithm:    args.alg,
		PackedSize:   args.packedSize,
		UnpackedSize: args.size,
		Registry:     &ttarchive.Registry{},
	})
	return err
}

func extract(ctx context.Context, args cmdlineArgs, logger *slog.Logger, stdout io.Writer) error {
	a, err := ttarchive.Open(args.fileName, ttarchive.WithLogger(logger))
	if err != nil {
		return err
	}
	defer a.Close()

	h := a.Header()
	fmt.Fprintf(stdout, "DAT file with signature: %d\n", h.Signature)
	fmt.Fprintf(stdout, "File info offset: 0x%-8X\n", h.FileInfoOffset)
	fmt.Fprintf(stdout, "File info size: 0x%-8X\n", h.FileInfoSize)
	fmt.Fprintf(stdout, "Number of files: %d\n", h.NumFiles)
	fmt.Fprintf(stdout, "Number of names: %d\n", h.NumNames)
	fmt.Fprintf(stdout, "Hash index: %t\n\n", a.HasHashIndex())
	fmt.Fprintf(stdout, "Offset  \tPacked  \tUnpacked\tAlg?\tFile\n")
	fmt.Fprintln(stdout, strings.Repeat("-", 100))

	x := ttarchive.NewExtractor(a, args.outDir,
		ttarchive.WithRaw(args.isRaw),
		ttarchive.WithWorkers(args.jobs),
		ttarchive.WithReport(func(r ttarchive.Report) {
			fmt.Fprintf(stdout, "%08X\t%-8X\t%-8X\t%s\t%s\n",
				r.Offset, r.PackedSize, r.UnpackedSize, r.Algorithm, r.Dest)
		}),
	)
	sum, err := x.Extract(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "\nExtracted %d files (%s)", sum.Files, humanize.IBytes(uint64(sum.BytesWritten)))
	if sum.Decompressed > 0 {
		fmt.Fprintf(stdout, ", %d decompressed", sum.Decompressed)
	}
	if sum.Unsupported > 0 {
		fmt.Fprintf(stdout, ", %d left packed", sum.Unsupported)
	}
	fmt.Fprintln(stdout)
	return nil
}

func logError(w io.Writer, err error) {
	fmt.Fprintf(w, "[ERROR] %v\n", err)
}
