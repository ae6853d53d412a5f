package bif

import "github.com/meigma/bif/internal/biftype"

// Sentinel errors re-exported from internal/biftype.
//
// Every error returned by this package wraps at most one of these; I/O errors
// from the operating system are wrapped and passed through unchanged.
var (
	// ErrFormat is returned when a catalog or archive has a bad signature,
	// version, or table layout. It aborts only the failing Load or Open.
	ErrFormat = biftype.ErrFormat

	// ErrNotFound is returned when a resource or locator is absent, or an
	// archive file cannot be found. Missing files also match fs.ErrNotExist.
	ErrNotFound = biftype.ErrNotFound

	// ErrIntegrity is returned when decompression produces a different number
	// of bytes than declared. Partial data is never returned with it.
	ErrIntegrity = biftype.ErrIntegrity

	// ErrRange is returned when a locator field or entry count does not fit its
	// persisted width.
	ErrRange = biftype.ErrRange
)
