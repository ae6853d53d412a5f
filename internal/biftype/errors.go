// Package biftype defines sentinel errors shared by the bif package and its
// internal packages. This avoids circular imports between bif and
// internal/format.
package biftype

import "errors"

// Sentinel errors for archive and catalog operations.
var (
	// ErrFormat is returned when a catalog or archive has a bad signature,
	// version, or table layout.
	ErrFormat = errors.New("bif: invalid format")

	// ErrNotFound is returned when a resource, locator, or archive file is absent.
	ErrNotFound = errors.New("bif: not found")

	// ErrIntegrity is returned when decompressed data does not match its
	// declared size.
	ErrIntegrity = errors.New("bif: integrity check failed")

	// ErrRange is returned when a value does not fit its persisted bit width.
	ErrRange = errors.New("bif: value out of range")
)
