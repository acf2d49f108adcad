package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	ttarchive "github.com/ahrav/go-ttarchive"
)

// errHelp signals that usage was printed and the process should exit 0.
var errHelp = errors.New("help requested")

type cmdlineArgs struct {
	fileName   string
	isUnpack   bool
	isRaw      bool
	size       int64
	packedSize int64
	alg        ttarchive.Algorithm
	outDir     string
	outName    string
	jobs       int
	verbose    bool
	pprofAddr  string
	tracePath  string
	warnings   []string
}

const usageText = `usage: ttextract <filename> [options]
  <filename>         Absolute or relative path to file.

Archive options (.DAT files):
  -d, --directory    Directory name for output files. Defaults to file name without extension.
  -r, --raw          Extract raw files, do not unpack compressed files in archive.
  -j, --jobs         Number of files written concurrently. Defaults to 1.

Single file options:
  -u, --unpack       (REQUIRED) Indicates the file is a compressed file rather than an archive.
  -s, --size         Size of extracted file. If not specified, program will not check output size.
  -p, --packed       Size of source file. If not specified, program will read until end of file.
  -a, --alg          Compression algorithm of source file. Defaults to none.
  Algorithm options:
      0, none        No compression algorithm (outputs as-is)
      2, lz2k        LZ2K compression algorithm
  -o, --out          Output file name. Defaults to file name with ".dec" appended.

  -v, --verbose      Log per-entry details to stderr.
      --pprof ADDR   Serve pprof endpoints on ADDR while running.
      --trace FILE   Write a runtime execution trace to FILE.
`

// parseArgs parses the command line. The file name comes first, as in
// "ttextract GAME.DAT -r", but a leading option list is accepted too.
func parseArgs(args []string, stdout io.Writer) (cmdlineArgs, error) {
	if len(args) == 0 {
		fmt.Fprint(stdout, usageText)
		return cmdlineArgs{}, errHelp
	}

	var (
		res  cmdlineArgs
		help bool

		sizeVal   = onceValue{what: "size"}
		packedVal = onceValue{what: "packed size"}
		algVal    = onceValue{what: "algorithm"}
	)
	fs := flag.NewFlagSet("ttextract", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	for _, name := range []string{"h", "help"} {
		fs.BoolVar(&help, name, false, "")
	}
	for _, name := range []string{"u", "unpack"} {
		fs.BoolVar(&res.isUnpack, name, false, "")
	}
	for _, name := range []string{"r", "raw"} {
		fs.BoolVar(&res.isRaw, name, false, "")
	}
	for _, name := range []string{"v", "verbose"} {
		fs.BoolVar(&res.verbose, name, false, "")
	}
	for _, name := range []string{"s", "size"} {
		fs.Var(&sizeVal, name, "")
	}
	for _, name := range []string{"p", "packed"} {
		fs.Var(&packedVal, name, "")
	}
	for _, name := range []string{"a", "alg"} {
		fs.Var(&algVal, name, "")
	}
	for _, name := range []string{"d", "directory"} {
		fs.StringVar(&res.outDir, name, "", "")
	}
	for _, name := range []string{"o", "out"} {
		fs.StringVar(&res.outName, name, "", "")
	}
	for _, name := range []string{"j", "jobs"} {
		fs.IntVar(&res.jobs, name, 1, "")
	}
	fs.StringVar(&res.pprofAddr, "pprof", "", "")
	fs.StringVar(&res.tracePath, "trace", "", "")

	rest := args
	if !strings.HasPrefix(args[0], "-") {
		res.fileName = args[0]
		rest = args[1:]
	}
	if err := fs.Parse(rest); err != nil {
		return cmdlineArgs{}, err
	}
	if help {
		fmt.Fprint(stdout, usageText)
		return cmdlineArgs{}, errHelp
	}
	if res.fileName == "" {
		if fs.NArg() == 0 {
			return cmdlineArgs{}, errors.New("missing file name")
		}
		res.fileName = fs.Arg(0)
	} else if fs.NArg() > 0 {
		return cmdlineArgs{}, fmt.Errorf("unrecognized option %q", fs.Arg(0))
	}

	set := map[string]string{}
	fs.Visit(func(f *flag.Flag) { set[canonical(f.Name)] = f.Name })
	for _, name := range []string{"size", "packed", "alg", "out"} {
		if flagName, ok := set[name]; ok && !res.isUnpack {
			return cmdlineArgs{}, fmt.Errorf("option %q requires -u or --unpack", dashed(flagName))
		}
	}
	for _, name := range []string{"raw", "directory"} {
		if flagName, ok := set[name]; ok && res.isUnpack {
			return cmdlineArgs{}, fmt.Errorf("option %q incompatible with -u or --unpack", dashed(flagName))
		}
	}

	res.size = parseSize(sizeVal.val, "size", &res.warnings)
	res.packedSize = parseSize(packedVal.val, "packed size", &res.warnings)
	if algVal.set {
		alg, err := ttarchive.ParseAlgorithm(algVal.val)
		if err != nil {
			return cmdlineArgs{}, fmt.Errorf("unrecognized algorithm %q", algVal.val)
		}
		res.alg = alg
	}

	if res.isUnpack {
		if res.outName == "" {
			res.outName = res.fileName + ".dec"
		}
	} else if res.outDir == "" {
		res.outDir = stripExt(res.fileName)
	}
	return res, nil
}

// onceValue is a string flag that may be given at most once, counting every
// alias it is registered under.
type onceValue struct {
	val  string
	set  bool
	what string
}

func (v *onceValue) String() string {
	if v == nil {
		return ""
	}
	return v.val
}

func (v *onceValue) Set(s string) error {
	if v.set {
		return fmt.Errorf("only one %s can be specified", v.what)
	}
	v.val, v.set = s, true
	return nil
}

// parseSize accepts decimal, 0x-prefixed hex, and 0-prefixed octal. Invalid
// or negative values are ignored with a warning.
func parseSize(s, what string, warnings *[]string) int64 {
	if s == "" {
		return -1
	}
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil || n < 0 {
		*warnings = append(*warnings, fmt.Sprintf("Ignoring %s - invalid argument", what))
		return -1
	}
	return n
}

func stripExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func canonical(name string) string {
	switch name {
	case "s":
		return "size"
	case "p":
		return "packed"
	case "a":
		return "alg"
	case "o":
		return "out"
	case "r":
		return "raw"
	case "d":
		return "directory"
	}
	return name
}

func dashed(name string) string {
	if len(name) == 1 {
		return "-" + name
	}
	return "--" + name
}
