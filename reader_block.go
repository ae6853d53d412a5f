package bif

import (
	"fmt"
	"io"
	"os"

	"github.com/meigma/bif/internal/format"
	"github.com/meigma/bif/internal/stream"
)

// blockHeaderSize is the signature plus the total decoded size.
const blockHeaderSize = format.SignatureSize + 4

// blockReader reads archives stored as independently compressed chunks.
// Every read walks a fresh cursor from the first chunk, skipping chunks that
// end before the entry without inflating them.
type blockReader struct {
	*archive
	f        *os.File
	size     int64
	total    int64
	decoders *stream.DecoderPool
}

func openBlock(path string, f *os.File, size int64, cfg *readerConfig) (*blockReader, error) {
	hdr := make([]byte, blockHeaderSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrFormat, err)
	}
	total, err := format.ParseBlockArchiveHeader(hdr)
	if err != nil {
		return nil, err
	}
	r := &blockReader{
		f:        f,
		size:     size,
		total:    int64(total),
		decoders: cfg.decoders,
	}
	c := r.cursor()
	defer c.Close()
	_, table, _, err := format.ReadEntryTable(c, r.total)
	if err != nil {
		return nil, err
	}
	r.archive = newArchive(path, FormatBlock, table, r, cfg.logger)
	return r, nil
}

func (r *blockReader) cursor() *stream.BlockCursor {
	return stream.NewBlockCursor(r.f, blockHeaderSize, r.size, r.total, r.decoders)
}

func (r *blockReader) section(off, n int64) (io.ReadCloser, error) {
	c := r.cursor()
	if err := c.Skip(off); err != nil {
		c.Close()
		return nil, err
	}
	return exactSection(c, n, c.Close), nil
}

// Close implements Reader.
func (r *blockReader) Close() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("close archive %s: %w", r.path, err)
	}
	return nil
}
