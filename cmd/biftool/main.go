// Command biftool lists, inspects, extracts and packs game resources through
// a catalog file.
//
// Usage:
//
//	biftool list    -key chitin.key [-overlay dlc.key]...
//	biftool info    -key chitin.key NAME.EXT...
//	biftool extract -key chitin.key -out dir NAME.EXT...
//	biftool pack    -key chitin.key -archive data\\patch.bif [-format block] [-dir override] FILE...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/meigma/bif"
)

// multiFlag collects repeated string flags.
type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

type config struct {
	key         string
	overlays    multiFlag
	roots       multiFlag
	verbose     bool
	cpuProfile  string
	materialize bool

	// extract
	out       string
	workers   int
	overwrite bool

	// pack
	archive     string
	format      string
	blockSize   int
	level       int
	concurrency int
	repack      bool
	dirs        multiFlag
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage(os.Stdout)
		return
	}

	cfg, args, err := parseFlags(cmd, os.Args[2:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(cmd, cfg, args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "biftool %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: biftool <list|info|extract|pack> -key FILE [flags] [args]")
}

func parseFlags(cmd string, argv []string) (config, []string, error) {
	var cfg config
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.StringVar(&cfg.key, "key", "chitin.key", "primary catalog file")
	fs.Var(&cfg.overlays, "overlay", "overlay catalog file (repeatable, later wins)")
	fs.Var(&cfg.roots, "root", "extra archive search root (repeatable)")
	fs.BoolVar(&cfg.verbose, "v", false, "debug logging to stderr")
	fs.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	fs.BoolVar(&cfg.materialize, "materialize", false, "decode whole-file archives once and keep them in memory")

	switch cmd {
	case "list", "info":
	case "extract":
		fs.StringVar(&cfg.out, "out", ".", "destination directory")
		fs.IntVar(&cfg.workers, "workers", 0, "extract workers (0 = GOMAXPROCS)")
		fs.BoolVar(&cfg.overwrite, "overwrite", true, "replace existing files")
	case "pack":
		fs.StringVar(&cfg.archive, "archive", "", "archive name as recorded in the catalog (e.g. data\\patch.bif)")
		fs.StringVar(&cfg.format, "format", "none", "archive format: none, wholefile, block")
		fs.IntVar(&cfg.blockSize, "block-size", bif.DefaultBlockSize, "decoded chunk size for block archives")
		fs.IntVar(&cfg.level, "level", -1, "zlib compression level (-1 = default)")
		fs.IntVar(&cfg.concurrency, "concurrency", 1, "chunks compressed in parallel")
		fs.BoolVar(&cfg.repack, "repack", true, "keep resources already stored in the archive")
		fs.Var(&cfg.dirs, "dir", "pack every resource file in this folder (repeatable)")
	default:
		return cfg, nil, fmt.Errorf("unknown command %q", cmd)
	}
	if err := fs.Parse(argv); err != nil {
		return cfg, nil, err
	}
	return cfg, fs.Args(), nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func run(cmd string, cfg config, args []string, out io.Writer) error {
	logger := newLogger(cfg.verbose)

	if cfg.cpuProfile != "" {
		f, err := os.Create(cfg.cpuProfile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	cat, err := bif.Load(cfg.key, cfg.overlays,
		bif.WithSearchRoots(cfg.roots...),
		bif.WithLogger(logger),
		bif.WithReaderOptions(bif.WithReaderLogger(logger), bif.WithMaterialize(cfg.materialize)),
	)
	if err != nil {
		return err
	}
	defer cat.Close()

	switch cmd {
	case "list":
		return runList(cat, out)
	case "info":
		return runInfo(cat, args, out)
	case "extract":
		return runExtract(cat, cfg, args, out)
	case "pack":
		return runPack(cat, cfg, args, logger, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newLogger(verbose bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func runList(cat *bif.Catalog, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range cat.Entries() {
		name := "?"
		if desc, err := cat.ArchiveFor(e); err == nil {
			name = desc.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Key(), e.Locator, name)
	}
	return tw.Flush()
}

func runInfo(cat *bif.Catalog, names []string, out io.Writer) error {
	if len(names) == 0 {
		return errors.New("no resource names given")
	}
	for _, name := range names {
		e, ok := cat.LookupEntry(name)
		if !ok {
			return fmt.Errorf("resource %s: %w", name, bif.ErrNotFound)
		}
		desc, err := cat.ArchiveFor(e)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\n  locator:  %s\n  archive:  %s (index %d, source %d)\n  path:     %s\n",
			e.Key(), e.Locator, desc.Name, desc.Index, e.Source, desc.Path)

		entry, err := cat.ResourceInfo(name)
		if err != nil {
			fmt.Fprintf(out, "  entry:    unavailable: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "  kind:     %s\n  offset:   %d\n  size:     %d\n", entry.Kind, entry.Offset, entry.DataSize())
		if entry.Kind == bif.KindTile {
			fmt.Fprintf(out, "  tiles:    %d x %d bytes\n", entry.TileCount, entry.TileSize)
		}
		if bif.IsLargeRead(entry) {
			fmt.Fprintln(out, "  note:     large read")
		}
	}
	return nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func runExtract(cat *bif.Catalog, cfg config, names []string, out io.Writer) error {
	if len(names) == 0 {
		for _, e := range cat.Entries() {
			names = append(names, e.Key())
		}
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	stats, err := cat.Extract(ctx, names, cfg.out,
		bif.WithExtractWorkers(cfg.workers),
		bif.WithOverwrite(cfg.overwrite),
	)
	for _, m := range stats.Missing {
		fmt.Fprintf(out, "missing: %s\n", m)
	}
	fmt.Fprintf(out, "written=%d skipped=%d missing=%d bytes=%d elapsed=%s\n",
		stats.Written, stats.Skipped, len(stats.Missing), stats.Bytes, time.Since(start).Round(time.Millisecond))
	return err
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func runPack(cat *bif.Catalog, cfg config, files []string, logger *slog.Logger, out io.Writer) error {
	if cfg.archive == "" {
		return errors.New("-archive is required")
	}
	format, err := bif.ParseFormat(cfg.format)
	if err != nil {
		return err
	}

	w := bif.NewWriter(cat, cfg.archive,
		bif.WithFormat(format),
		bif.WithBlockSize(cfg.blockSize),
		bif.WithCompressionLevel(cfg.level),
		bif.WithEncodeConcurrency(cfg.concurrency),
		bif.WithWriterLogger(logger),
	)
	for _, dir := range cfg.dirs {
		res, skipped, err := bif.DirResources(dir)
		if err != nil {
			return err
		}
		for _, name := range skipped {
			logger.Info("skipping non-resource file", "dir", dir, "name", name)
		}
		w.AddResources(res)
	}
	for _, path := range files {
		res, err := bif.PendingFile(path)
		if err != nil {
			return err
		}
		w.AddResources([]bif.PendingResource{res})
	}
	if w.Len() == 0 && !cfg.repack {
		return errors.New("nothing to pack")
	}
	if cfg.repack {
		if err := w.AddArchiveContents(); err != nil && !errors.Is(err, bif.ErrNotFound) {
			return err
		}
	}

	result, err := w.Write()
	if err != nil {
		return err
	}
	if err := cat.Save(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d resources, %d bytes, format %s\n",
		result.Archive.Path, len(result.Resources), result.Archive.Size, result.Format)
	for _, r := range result.Resources {
		fmt.Fprintf(out, "  %s\t%s\t%s\n", r.Key(), r.Locator, r.Digest)
	}
	return nil
}
