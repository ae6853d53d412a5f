package bif

import (
	"fmt"
	"io"
	"os"

	"github.com/meigma/bif/internal/format"
)

// plainReader reads uncompressed archives by direct offset.
type plainReader struct {
	*archive
	f *os.File
}

func openPlain(path string, f *os.File, size int64, cfg *readerConfig) (*plainReader, error) {
	_, table, _, err := format.ReadEntryTable(io.NewSectionReader(f, 0, size), size)
	if err != nil {
		return nil, err
	}
	r := &plainReader{f: f}
	r.archive = newArchive(path, FormatPlain, table, r, cfg.logger)
	return r, nil
}

func (r *plainReader) section(off, n int64) (io.ReadCloser, error) {
	return exactSection(io.NewSectionReader(r.f, off, n), n, nil), nil
}

// Close implements Reader.
func (r *plainReader) Close() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("close archive %s: %w", r.path, err)
	}
	return nil
}
