// Package batch copies many resources into a Sink on a bounded pool of
// workers.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/bif/internal/write"
)

// Entry is one resource to copy.
type Entry struct {
	// Name is the name the sink stores the resource under.
	Name string

	// Open returns the resource's content. It is only called for entries
	// the sink wants.
	Open func() (io.ReadCloser, error)
}

// Sink receives entry content.
type Sink interface {
	// ShouldProcess reports whether the entry should be written.
	ShouldProcess(name string) bool

	// Writer returns a Committer for the entry.
	Writer(name string) (Committer, error)
}

// Committer receives the content of one entry. Exactly one of Commit or
// Discard is called.
type Committer interface {
	io.Writer
	Commit() error
	Discard() error
}

// Failure records an entry whose error was tolerated.
type Failure struct {
	Name string
	Err  error
}

// Stats reports the outcome of Process.
type Stats struct {
	Written  int
	Skipped  int
	Bytes    int64
	Failures []Failure
}

// Processor copies entries into a sink.
type Processor struct {
	workers  int // 0 = GOMAXPROCS, <0 = serial
	tolerate func(error) bool
	logger   *slog.Logger
	bufs     sync.Pool
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithWorkers sets the number of entries processed concurrently.
// Values < 0 force serial processing. Zero uses runtime.GOMAXPROCS(0).
func WithWorkers(n int) ProcessorOption {
	return func(p *Processor) {
		p.workers = n
	}
}

// WithTolerate makes errors for which fn returns true be recorded in
// Stats.Failures instead of stopping the batch.
func WithTolerate(fn func(error) bool) ProcessorOption {
	return func(p *Processor) {
		p.tolerate = fn
	}
}

// WithLogger sets the logger for batch events.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a new batch processor.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{}
	for _, opt := range opts {
		opt(p)
	}
	p.bufs.New = func() any {
		buf := make([]byte, write.BufferSize)
		return &buf
	}
	return p
}

func (p *Processor) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Workers returns the effective worker count.
func (p *Processor) Workers() int {
	switch {
	case p.workers < 0:
		return 1
	case p.workers == 0:
		return runtime.GOMAXPROCS(0)
	default:
		return p.workers
	}
}

// Process copies every entry into sink. The first error that is not
// tolerated cancels the remaining entries and is returned; Stats reflects
// the entries finished by then.
func (p *Processor) Process(ctx context.Context, entries []Entry, sink Sink) (Stats, error) {
	var (
		mu    sync.Mutex
		stats Stats
	)
	record := func(e Entry, n int64, written bool, err error) error {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil && p.tolerate != nil && p.tolerate(err):
			stats.Failures = append(stats.Failures, Failure{Name: e.Name, Err: err})
			p.log().Debug("batch entry failed", "entry", e.Name, "error", err)
			return nil
		case err != nil:
			return fmt.Errorf("%s: %w", e.Name, err)
		case written:
			stats.Written++
			stats.Bytes += n
		default:
			stats.Skipped++
		}
		return nil
	}

	sem := semaphore.NewWeighted(int64(p.Workers()))
	eg, egCtx := errgroup.WithContext(ctx)
	for _, e := range entries {
		if err := sem.Acquire(egCtx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)
			n, written, err := p.processEntry(egCtx, e, sink)
			return record(e, n, written, err)
		})
	}
	if err := eg.Wait(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (p *Processor) processEntry(ctx context.Context, e Entry, sink Sink) (int64, bool, error) {
	if !sink.ShouldProcess(e.Name) {
		return 0, false, nil
	}
	rc, err := e.Open()
	if err != nil {
		return 0, false, err
	}
	defer rc.Close()

	w, err := sink.Writer(e.Name)
	if err != nil {
		return 0, false, err
	}
	bufp := p.bufs.Get().(*[]byte) //nolint:errcheck // pool only holds *[]byte
	defer p.bufs.Put(bufp)

	n, err := write.CopyWithContext(ctx, w, rc, *bufp)
	if err != nil {
		_ = w.Discard() //nolint:errcheck // copy error takes precedence
		return 0, false, err
	}
	if err := w.Commit(); err != nil {
		return 0, false, err
	}
	return int64(n), true, nil //nolint:gosec // bounded by file size
}
