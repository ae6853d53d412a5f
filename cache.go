package bif

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// ReaderCache keeps open archive readers keyed by absolute path.
//
// Readers are opened lazily on the first Get; concurrent misses for the same
// path collapse into a single Open. There is no eviction: callers remove a
// reader with Invalidate, which must happen before the file it reads is
// replaced or deleted. An open still in flight when Invalidate runs is
// discarded and retried, so it never caches a reader of the old file. The
// cache is safe for concurrent use.
type ReaderCache struct {
	mu      sync.Mutex
	readers map[string]Reader
	gens    map[string]uint64  // bumped by Invalidate
	group   singleflight.Group // zero value is valid
	opens   atomic.Int64
	ropts   []ReaderOption
	logger  *slog.Logger
	open    func(string, ...ReaderOption) (Reader, error)
}

// CacheOption configures a ReaderCache.
type CacheOption func(*ReaderCache)

// WithCacheReaderOptions sets the options passed to Open on every miss.
func WithCacheReaderOptions(opts ...ReaderOption) CacheOption {
	return func(c *ReaderCache) {
		c.ropts = append(c.ropts, opts...)
	}
}

// WithCacheLogger sets the logger for cache events.
// If not set, logging is disabled.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *ReaderCache) {
		c.logger = logger
	}
}

// NewReaderCache creates an empty cache.
func NewReaderCache(opts ...CacheOption) *ReaderCache {
	c := &ReaderCache{
		readers: make(map[string]Reader),
		gens:    make(map[string]uint64),
		open:    Open,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// log returns the logger, falling back to a discard logger if nil.
func (c *ReaderCache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Get returns the cached reader for path, opening it on a miss.
func (c *ReaderCache) Get(path string) (Reader, error) {
	key, err := cacheKey(path)
	if err != nil {
		return nil, err
	}
	if r, ok := c.lookup(key); ok {
		c.log().Debug("reader cache hit", "path", key)
		return r, nil
	}

	c.log().Debug("reader cache miss", "path", key)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.openFlight(key)
	})
	if err != nil {
		return nil, err
	}
	r, ok := v.(Reader)
	if !ok {
		return nil, fmt.Errorf("reader cache: unexpected value %T", v)
	}
	return r, nil
}

// openFlight opens key and stores the reader. It runs inside the flight for
// key. A reader opened across an Invalidate is closed and opened again.
func (c *ReaderCache) openFlight(key string) (Reader, error) {
	for {
		c.mu.Lock()
		// Double-check after winning the flight.
		if r, ok := c.readers[key]; ok {
			c.mu.Unlock()
			return r, nil
		}
		gen := c.gens[key]
		c.mu.Unlock()

		r, err := c.open(key, c.ropts...)
		if err != nil {
			return nil, err
		}
		c.opens.Add(1)

		c.mu.Lock()
		if c.gens[key] == gen {
			c.readers[key] = r
			c.mu.Unlock()
			return r, nil
		}
		c.mu.Unlock()
		c.log().Debug("reader invalidated during open", "path", key)
		if err := r.Close(); err != nil {
			return nil, err
		}
	}
}

// Invalidate removes the reader for path and closes it. Missing entries are
// a no-op.
func (c *ReaderCache) Invalidate(path string) error {
	key, err := cacheKey(path)
	if err != nil {
		return err
	}
	c.group.Forget(key)
	c.mu.Lock()
	c.gens[key]++
	r, ok := c.readers[key]
	delete(c.readers, key)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.log().Debug("reader invalidated", "path", key)
	return r.Close()
}

// Len returns the number of cached readers.
func (c *ReaderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.readers)
}

// Opens returns how many archives the cache has opened so far.
func (c *ReaderCache) Opens() int64 {
	return c.opens.Load()
}

// Close closes and removes every cached reader.
func (c *ReaderCache) Close() error {
	c.mu.Lock()
	readers := c.readers
	c.readers = make(map[string]Reader)
	c.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *ReaderCache) lookup(key string) (Reader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.readers[key]
	return r, ok
}

func cacheKey(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("reader cache: %w: empty path", ErrNotFound)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("reader cache: %w", err)
	}
	return abs, nil
}
