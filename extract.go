package bif

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/meigma/bif/internal/batch"
)

// ExtractStats reports the outcome of Catalog.Extract.
type ExtractStats struct {
	// Written is the number of files written.
	Written int

	// Skipped is the number of existing files left alone.
	Skipped int

	// Bytes is the total size of the files written.
	Bytes int64

	// Missing lists the keys of requested resources absent from the catalog
	// or whose archive could not be found, sorted.
	Missing []string
}

// ExtractOption configures Catalog.Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	workers   int
	overwrite bool
}

// WithExtractWorkers sets how many resources are extracted concurrently.
// Values < 1 use runtime.GOMAXPROCS(0).
func WithExtractWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// WithOverwrite controls whether existing files in the destination are
// replaced (default true).
func WithOverwrite(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = enabled
	}
}

// Extract writes the named resources ("NAME.EXT") into destDir, one file per
// resource named by its lookup key. Names that cannot be found are recorded
// in ExtractStats.Missing and do not fail the batch; any other error stops it.
func (c *Catalog) Extract(ctx context.Context, names []string, destDir string, opts ...ExtractOption) (ExtractStats, error) {
	cfg := extractConfig{overwrite: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	sink, err := batch.NewFileSink(destDir, batch.WithOverwrite(cfg.overwrite))
	if err != nil {
		return ExtractStats{}, fmt.Errorf("extract: %w", err)
	}
	defer sink.Close()

	var stats ExtractStats
	entries := make([]batch.Entry, 0, len(names))
	for _, name := range dedupeNames(names) {
		e, ok := c.LookupEntry(name)
		if !ok {
			stats.Missing = append(stats.Missing, strings.ToUpper(name))
			continue
		}
		entries = append(entries, batch.Entry{Name: e.Key(), Open: c.entrySource(e)})
	}

	proc := batch.NewProcessor(
		batch.WithWorkers(max(cfg.workers, 0)),
		batch.WithTolerate(func(err error) bool { return errors.Is(err, ErrNotFound) }),
		batch.WithLogger(c.log()),
	)
	res, err := proc.Process(ctx, entries, sink)
	stats.Written = res.Written
	stats.Skipped = res.Skipped
	stats.Bytes = res.Bytes
	for _, f := range res.Failures {
		stats.Missing = append(stats.Missing, f.Name)
	}
	slices.Sort(stats.Missing)
	c.log().Debug("extract finished", "dest", destDir, "written", stats.Written, "skipped", stats.Skipped, "missing", len(stats.Missing))
	if err != nil {
		return stats, fmt.Errorf("extract: %w", err)
	}
	return stats, nil
}

// entrySource opens e through its archive when called.
func (c *Catalog) entrySource(e CatalogEntry) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		desc, err := c.ArchiveFor(e)
		if err != nil {
			return nil, err
		}
		r, err := c.OpenArchive(desc)
		if err != nil {
			return nil, err
		}
		return r.OpenEntry(e.Locator)
	}
}

// dedupeNames drops case-insensitive duplicates, keeping first occurrences.
func dedupeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		key := strings.ToUpper(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}
