// Command profiler builds a synthetic game folder and runs a read, lookup,
// extract or pack workload against it under the Go profilers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/felixge/fgprof"

	"github.com/meigma/bif"
	"github.com/meigma/bif/internal/format"
)

const archiveName = `data\PROFILE.BIF`

type config struct {
	mode        string
	resources   int
	size        int
	tilesets    int
	format      string
	blockSize   int
	pattern     string
	materialize bool
	workers     int
	fgProfile   string
	duration    time.Duration
	iterations  int
	pprofAddr   string
	cpuProfile  string
	memProfile  string
	traceFile   string
	readRandom  bool
	tempDir     string
	keepTemp    bool
	randomSeed  int64
}

//nolint:unused // sink variables prevent compiler optimizations in profiling
var (
	sinkBytes []byte
	sinkEntry bif.Entry
	sinkLoc   bif.Locator
)

//nolint:gocognit,gocyclo // main function complexity is acceptable for CLI tool
func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	dir, cleanup, err := setupTempDir(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cleanup != nil {
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
	}

	names, err := buildGame(dir, cfg)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
	}

	cat, err := bif.Load(filepath.Join(dir, "chitin.key"), nil,
		bif.WithReaderOptions(bif.WithMaterialize(cfg.materialize)))
	if err != nil {
		log.Fatal(err)
	}
	defer cat.Close()

	var stopFG func() error
	if cfg.fgProfile != "" {
		fgFile, fgErr := os.Create(cfg.fgProfile)
		if fgErr != nil {
			log.Fatal(fgErr)
		}
		stopFG = fgprof.Start(fgFile, fgprof.FormatPprof)
		defer func() {
			if err := stopFG(); err != nil {
				log.Printf("fgprof stop error: %v", err)
			}
			_ = fgFile.Close()
		}()
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(cfg, cat, names, dir)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s format=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s opens=%d\n",
		cfg.mode,
		cfg.format,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
		cat.Cache().Opens(),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

//nolint:gocognit,gocyclo,gocritic // complexity is inherent to multi-mode profiler dispatch; hugeParam acceptable for profiler
func runProfile(cfg config, cat *bif.Catalog, names []string, rootDir string) (profileStats, error) {
	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks

	switch cfg.mode {
	case "read":
		for shouldContinue() {
			name := pickName(names, ops, rng, cfg.readRandom)
			content, err := cat.ReadResource(name)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
			byteCount += int64(len(content))
			ops++
		}

	case "stream":
		buf := make([]byte, 32<<10)
		for shouldContinue() {
			name := pickName(names, ops, rng, cfg.readRandom)
			rc, err := cat.OpenResource(name)
			if err != nil {
				return profileStats{}, err
			}
			n, err := io.CopyBuffer(io.Discard, rc, buf)
			_ = rc.Close()
			if err != nil {
				return profileStats{}, err
			}
			byteCount += n
			ops++
		}

	case "lookup":
		for shouldContinue() {
			name := pickName(names, ops, rng, cfg.readRandom)
			loc, ok := cat.Lookup(name)
			if !ok {
				return profileStats{}, fmt.Errorf("missing entry for %q", name)
			}
			sinkLoc = loc
			ops++
		}

	case "info":
		for shouldContinue() {
			name := pickName(names, ops, rng, cfg.readRandom)
			e, err := cat.ResourceInfo(name)
			if err != nil {
				return profileStats{}, err
			}
			sinkEntry = e
			ops++
		}

	case "extract":
		for shouldContinue() {
			destDir := filepath.Join(rootDir, "extract", fmt.Sprintf("iter-%d", ops))
			stats, err := cat.Extract(context.Background(), names, destDir, bif.WithExtractWorkers(cfg.workers))
			if err != nil {
				return profileStats{}, err
			}
			if len(stats.Missing) > 0 {
				return profileStats{}, fmt.Errorf("extract: %d resources missing", len(stats.Missing))
			}
			if err := os.RemoveAll(destDir); err != nil {
				return profileStats{}, err
			}
			byteCount += stats.Bytes
			ops++
		}

	case "pack":
		f, err := bif.ParseFormat(cfg.format)
		if err != nil {
			return profileStats{}, err
		}
		for shouldContinue() {
			w := bif.NewWriter(cat, archiveName,
				bif.WithFormat(f),
				bif.WithBlockSize(cfg.blockSize),
				bif.WithEncodeConcurrency(cfg.workers),
			)
			if err := w.AddArchiveContents(); err != nil {
				return profileStats{}, err
			}
			res, err := w.Write()
			if err != nil {
				return profileStats{}, err
			}
			byteCount += int64(res.Archive.Size)
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.mode, "mode", "read", "mode: read, stream, lookup, info, extract, pack")
	flag.IntVar(&cfg.resources, "resources", 512, "number of flat resources")
	flag.IntVar(&cfg.size, "size", 16<<10, "flat resource size in bytes")
	flag.IntVar(&cfg.tilesets, "tilesets", 8, "number of tilesets (at most 63)")
	flag.StringVar(&cfg.format, "format", "block", "archive format: none, wholefile, block")
	flag.IntVar(&cfg.blockSize, "block-size", bif.DefaultBlockSize, "decoded chunk size for block archives")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.BoolVar(&cfg.materialize, "materialize", false, "keep decoded whole-file archives in memory")
	flag.IntVar(&cfg.workers, "workers", 0, "extract workers or pack encode concurrency (0 = default)")
	flag.StringVar(&cfg.fgProfile, "fgprofile", "", "write fgprof (wall clock) profile to file")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.BoolVar(&cfg.readRandom, "read-random", true, "randomize resource selection")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory to use for the game folder")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep temp dir after run")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	return cfg
}

func pickName(names []string, idx int, rng *rand.Rand, random bool) string {
	if random {
		return names[rng.Intn(len(names))]
	}
	return names[idx%len(names)]
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func setupTempDir(cfg config) (string, func() error, error) {
	if cfg.tempDir != "" {
		return cfg.tempDir, nil, os.MkdirAll(cfg.tempDir, 0o755) //nolint:gosec // 0o755 is intentional for profiler temp dirs
	}
	dir, err := os.MkdirTemp("", "bif-profiler-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() error {
		if cfg.keepTemp {
			return nil
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

// buildGame writes an empty catalog to dir, packs the synthetic resources
// into one archive and saves the catalog. It returns the resource keys.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func buildGame(dir string, cfg config) ([]string, error) {
	if cfg.tilesets > bif.MaxTileIndex {
		return nil, fmt.Errorf("tilesets: at most %d", bif.MaxTileIndex)
	}
	f, err := bif.ParseFormat(cfg.format)
	if err != nil {
		return nil, err
	}
	empty := format.AppendCatalogHeader(nil, format.CatalogHeader{
		ArchiveOffset:  format.CatalogHeaderSize,
		ResourceOffset: format.CatalogHeaderSize,
	})
	keyPath := filepath.Join(dir, "chitin.key")
	if err := os.WriteFile(keyPath, empty, 0o644); err != nil { //nolint:gosec // 0o644 is intentional for profiler game files
		return nil, err
	}
	cat, err := bif.Load(keyPath, nil)
	if err != nil {
		return nil, err
	}
	defer cat.Close()

	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional use for reproducible benchmarks
	w := bif.NewWriter(cat, archiveName, bif.WithFormat(f), bif.WithBlockSize(cfg.blockSize))
	names := make([]string, 0, cfg.resources+cfg.tilesets)
	for i := range cfg.resources {
		content, err := makeContent(rng, cfg.size, i, cfg.pattern)
		if err != nil {
			return nil, err
		}
		res := bif.PendingResource{Name: fmt.Sprintf("R%05d", i), Type: bif.TypeITM, Source: bif.BytesSource(content)}
		w.AddFlat(res)
		names = append(names, res.Key())
	}
	const tileSize = 64 * 64
	for i := range cfg.tilesets {
		tiles, err := makeContent(rng, 4*tileSize, i, cfg.pattern)
		if err != nil {
			return nil, err
		}
		sheet := format.AppendTileSheetHeader(nil, 4, tileSize)
		res := bif.PendingResource{Name: fmt.Sprintf("TS%03d", i), Type: bif.TypeTIS, Source: bif.BytesSource(append(sheet, tiles...))}
		w.AddTileset(res)
		names = append(names, res.Key())
	}
	if _, err := w.Write(); err != nil {
		return nil, err
	}
	if err := cat.Save(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.New("no resources to profile")
	}
	return names, nil
}

func makeContent(rng *rand.Rand, size, i int, pattern string) ([]byte, error) {
	content := make([]byte, size)
	switch pattern {
	case "random":
		if _, err := rng.Read(content); err != nil {
			return nil, err
		}
	default:
		fillByte := byte('a' + (i % 26))
		for j := range content {
			content[j] = fillByte
		}
		if len(content) > 0 {
			content[0] = byte(i)
		}
	}
	return content, nil
}
