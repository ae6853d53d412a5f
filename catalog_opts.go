package bif

import "log/slog"

// DefaultMaxCatalogSize is the default limit on catalog file size (64MB).
const DefaultMaxCatalogSize = 64 << 20

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithSearchRoots appends folders searched for archives after the catalog's
// own folder and its standard subfolders, in the given order.
func WithSearchRoots(roots ...string) CatalogOption {
	return func(c *Catalog) {
		c.searchRoots = append(c.searchRoots, roots...)
	}
}

// WithReaderCache makes the catalog open archives through cache.
//
// The cache is shared, not owned: Catalog.Close leaves it open. Without this
// option the catalog creates and owns a private cache.
func WithReaderCache(cache *ReaderCache) CatalogOption {
	return func(c *Catalog) {
		c.cache = cache
	}
}

// WithReaderOptions sets the options used when the catalog's own cache opens
// archives. It has no effect together with WithReaderCache.
func WithReaderOptions(opts ...ReaderOption) CatalogOption {
	return func(c *Catalog) {
		c.readerOpts = append(c.readerOpts, opts...)
	}
}

// WithMaxCatalogSize limits the size of each catalog file read by Load.
func WithMaxCatalogSize(limit uint64) CatalogOption {
	return func(c *Catalog) {
		c.maxSize = limit
	}
}

// WithLogger sets the logger for catalog operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) CatalogOption {
	return func(c *Catalog) {
		c.logger = logger
	}
}
