package batch

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// FileSink writes entries as files directly inside a destination folder.
//
// Files are written to a temporary file in the same folder and renamed to
// the final name on Commit, so a partially written file is never visible.
// All access goes through an os.Root, so entry names cannot escape the
// folder.
type FileSink struct {
	root      *os.Root
	overwrite bool
	mode      fs.FileMode
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows replacing existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithMode sets the permission bits of written files (default 0o644).
func WithMode(mode fs.FileMode) FileSinkOption {
	return func(s *FileSink) {
		s.mode = mode.Perm()
	}
}

// NewFileSink creates destDir if needed and returns a sink writing into it.
// The caller must Close the sink.
func NewFileSink(destDir string, opts ...FileSinkOption) (*FileSink, error) {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("create destination %s: %w", destDir, err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", destDir, err)
	}
	s := &FileSink{root: root, mode: 0o644}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the destination folder.
func (s *FileSink) Close() error {
	return s.root.Close()
}

// ShouldProcess returns false if the file already exists and overwrite is
// disabled. Invalid names are accepted here and rejected by Writer.
func (s *FileSink) ShouldProcess(name string) bool {
	if s.overwrite || !validName(name) {
		return true
	}
	_, err := s.root.Lstat(name)
	return errors.Is(err, fs.ErrNotExist)
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(name string) (Committer, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "extract", Path: name, Err: fs.ErrInvalid}
	}
	f, tempName, err := createTempFile(s.root, ".bif-")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{
		sink:     s,
		name:     name,
		tempFile: f,
		tempName: tempName,
	}, nil
}

// validName reports whether name is a single, non-special path element.
func validName(name string) bool {
	return fs.ValidPath(name) && name != "." && !strings.ContainsAny(name, `/\`)
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	sink     *FileSink
	name     string
	tempFile *os.File
	tempName string
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file, applies the mode and renames it into place.
func (c *fileCommitter) Commit() error {
	root := c.sink.root
	if err := c.tempFile.Close(); err != nil {
		_ = root.Remove(c.tempName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := root.Chmod(c.tempName, c.sink.mode); err != nil {
		_ = root.Remove(c.tempName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("chmod: %w", err)
	}
	if err := root.Rename(c.tempName, c.name); err != nil {
		_ = root.Remove(c.tempName) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.name, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	return c.sink.root.Remove(c.tempName)
}

func createTempFile(root *os.Root, prefix string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		suffix, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		name := prefix + suffix
		f, err := root.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
