// Package fileops provides the temp-file and atomic-replace helpers used when
// catalogs and archives are rewritten on disk.
package fileops

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/meigma/bif/internal/platform"
)

// DefaultMode is the permission given to files that replace nothing.
const DefaultMode fs.FileMode = 0o644

// WriteFileAtomic writes data to a temp file then renames to target,
// ensuring atomic replacement of the target file.
func WriteFileAtomic(target string, data []byte) error {
	return StreamFileAtomic(target, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// StreamFileAtomic lets fill write to a temp file next to target, then
// renames it over target. The temp file is removed on every failure.
func StreamFileAtomic(target string, fill func(io.Writer) error) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".bif-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := MatchTarget(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// TempSet tracks temporary files so they can be removed together, whatever
// path the caller exits through. It is safe for concurrent use.
type TempSet struct {
	mu    sync.Mutex
	dir   string
	paths []string
}

// NewTempSet returns a set creating its files in dir.
func NewTempSet(dir string) *TempSet {
	return &TempSet{dir: dir}
}

// Create creates a new temp file and records it for cleanup.
func (s *TempSet) Create(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.paths = append(s.paths, f.Name())
	s.mu.Unlock()
	return f, nil
}

// Release stops tracking path, typically after it was renamed into place.
func (s *TempSet) Release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.paths {
		if p == path {
			s.paths = append(s.paths[:i], s.paths[i+1:]...)
			return
		}
	}
}

// Cleanup removes every tracked file. Files that no longer exist are ignored.
func (s *TempSet) Cleanup() error {
	s.mu.Lock()
	paths := s.paths
	s.paths = nil
	s.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove temp file %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Replace moves src over target, creating target's directory if needed.
// src takes target's permissions and owner as MatchTarget describes.
func Replace(src, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	if err := MatchTarget(src, target); err != nil {
		return err
	}
	return os.Rename(src, target)
}

// MatchTarget gives src the permission bits of target, or DefaultMode when
// target does not exist. Ownership is copied when the process may change it;
// a refused chown is ignored.
func MatchTarget(src, target string) error {
	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return os.Chmod(src, DefaultMode)
	}
	if err != nil {
		return err
	}
	if err := os.Chmod(src, info.Mode().Perm()); err != nil {
		return err
	}
	cur, err := os.Stat(src)
	if err != nil {
		return err
	}
	uid, gid := platform.FileOwner(info)
	if cu, cg := platform.FileOwner(cur); cu != uid || cg != gid {
		_ = os.Chown(src, int(uid), int(gid)) //nolint:errcheck // unprivileged processes keep their own ownership
	}
	return nil
}
