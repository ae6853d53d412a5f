package bif

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/meigma/bif/internal/platform"
)

// ResourceSource supplies the current bytes of a resource to a Writer.
//
// Tileset sources return the bytes as readers return them, including the
// 24-byte tile-sheet header.
type ResourceSource interface {
	Open() (io.ReadCloser, error)
}

// SourceFunc adapts a function to ResourceSource.
type SourceFunc func() (io.ReadCloser, error)

// Open implements ResourceSource.
func (f SourceFunc) Open() (io.ReadCloser, error) {
	return f()
}

// PendingResource is a resource queued for packing.
type PendingResource struct {
	// Name is the resource name without extension.
	Name string

	// Type is the resource type code.
	Type Type

	// Source supplies the bytes to pack.
	Source ResourceSource
}

// Key returns the case-insensitive lookup key "NAME.EXT".
func (p PendingResource) Key() string {
	return ResourceKey(p.Name, p.Type)
}

// FileSource reads a resource from a file on disk, typically an override.
func FileSource(path string) ResourceSource {
	return SourceFunc(func() (io.ReadCloser, error) {
		f, err := os.Open(path) //nolint:gosec // path is chosen by the caller
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("open %s: %w: %w", path, ErrNotFound, err)
			}
			return nil, err
		}
		return f, nil
	})
}

// BytesSource serves a resource from memory.
func BytesSource(data []byte) ResourceSource {
	return SourceFunc(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// CatalogSource reads the named resource through cat at the time the writer
// streams it.
func CatalogSource(cat *Catalog, name string) ResourceSource {
	return SourceFunc(func() (io.ReadCloser, error) {
		return cat.OpenResource(name)
	})
}

// PendingFile builds a PendingResource from a file named "NAME.EXT".
func PendingFile(path string) (PendingResource, error) {
	name, t, err := SplitResourceName(filepath.Base(path))
	if err != nil {
		return PendingResource{}, fmt.Errorf("pending file %s: %w", path, err)
	}
	return PendingResource{Name: name, Type: t, Source: FileSource(path)}, nil
}

// DirResources lists the regular files of dir named "NAME.EXT" with a known
// extension, sorted by key. Other entries, including symbolic links and
// subfolders, are returned by name in skipped. Sources open their file
// without following symbolic links.
func DirResources(dir string) (res []PendingResource, skipped []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("read resource folder %s: %w: %w", dir, ErrNotFound, err)
		}
		return nil, nil, fmt.Errorf("read resource folder %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			skipped = append(skipped, e.Name())
			continue
		}
		name, t, err := SplitResourceName(e.Name())
		if err != nil {
			skipped = append(skipped, e.Name())
			continue
		}
		res = append(res, PendingResource{Name: name, Type: t, Source: rootSource(dir, e.Name())})
	}
	slices.SortFunc(res, func(a, b PendingResource) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return res, skipped, nil
}

// rootSource opens name inside dir, refusing symbolic links.
func rootSource(dir, name string) ResourceSource {
	return SourceFunc(func() (io.ReadCloser, error) {
		root, err := os.OpenRoot(dir)
		if err != nil {
			return nil, err
		}
		defer root.Close()
		f, err := platform.OpenFileNoFollow(root, name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("open %s: %w: %w", name, ErrNotFound, err)
			}
			return nil, err
		}
		return f, nil
	})
}
