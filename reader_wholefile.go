package bif

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/meigma/bif/internal/format"
	"github.com/meigma/bif/internal/sizing"
	"github.com/meigma/bif/internal/stream"
)

// wholeFileReader reads archives stored as a single zlib stream.
//
// The stream has no random access: reading an entry inflates from the start
// and discards everything before the entry's offset. With WithMaterialize the
// first read inflates the whole archive and later reads slice the result.
type wholeFileReader struct {
	*archive
	f        *os.File
	hdr      format.WholeFileHeader
	dataOff  int64
	decoders *stream.DecoderPool

	materialize bool
	once        sync.Once
	decoded     []byte
	decodeErr   error
}

func openWholeFile(path string, f *os.File, size int64, cfg *readerConfig) (*wholeFileReader, error) {
	hdr, err := format.ReadWholeFileHeader(io.NewSectionReader(f, 0, size))
	if err != nil {
		return nil, err
	}
	dataOff := hdr.Len()
	if dataOff+int64(hdr.CompressedSize) > size {
		return nil, fmt.Errorf("%w: compressed size %d exceeds file", ErrFormat, hdr.CompressedSize)
	}
	r := &wholeFileReader{
		f:           f,
		hdr:         hdr,
		dataOff:     dataOff,
		decoders:    cfg.decoders,
		materialize: cfg.materialize,
	}
	s, release, err := r.stream()
	if err != nil {
		return nil, err
	}
	defer release()
	_, table, _, err := format.ReadEntryTable(s, int64(hdr.UncompressedSize))
	if err != nil {
		return nil, err
	}
	r.archive = newArchive(path, FormatWholeFile, table, r, cfg.logger)
	return r, nil
}

// EmbeddedName returns the original filename recorded in the header.
func (r *wholeFileReader) EmbeddedName() string {
	return format.DecodeString(r.hdr.Name)
}

// stream opens the decoded archive from its first byte. Reading its last
// byte fails with ErrIntegrity if the stream decodes to more than the
// declared size.
func (r *wholeFileReader) stream() (*stream.ExactReader, func(), error) {
	compressed := io.NewSectionReader(r.f, r.dataOff, int64(r.hdr.CompressedSize))
	dec, release, err := r.decoders.Get(compressed)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open stream: %v", ErrIntegrity, err)
	}
	return &stream.ExactReader{R: dec, N: int64(r.hdr.UncompressedSize), Strict: true}, release, nil
}

func (r *wholeFileReader) section(off, n int64) (io.ReadCloser, error) {
	if r.materialize {
		data, err := r.decodeAll()
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(data[off : off+n])), nil
	}

	s, release, err := r.stream()
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, s, off); err != nil {
		release()
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: stream ended before offset %d", ErrIntegrity, off)
		}
		return nil, err
	}
	// A section ending at the end of the archive drains the stream, so the
	// trailing-output check runs when it is read to the end.
	end := off+n == int64(r.hdr.UncompressedSize)
	return &entryStream{
		Reader: &stream.ExactReader{R: s, N: n, Strict: end},
		close: func() error {
			release()
			return nil
		},
	}, nil
}

// decodeAll inflates the whole archive once.
func (r *wholeFileReader) decodeAll() ([]byte, error) {
	r.once.Do(func() {
		r.log().Debug("materializing archive", "path", r.path, "bytes", r.hdr.UncompressedSize)
		s, release, err := r.stream()
		if err != nil {
			r.decodeErr = err
			return
		}
		defer release()
		size, err := sizing.ToInt(uint64(r.hdr.UncompressedSize), ErrRange)
		if err != nil {
			r.decodeErr = err
			return
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(s, buf); err != nil {
			r.decodeErr = err
			return
		}
		if err := stream.ExpectEOF(s); err != nil {
			r.decodeErr = err
			return
		}
		r.decoded = buf
	})
	return r.decoded, r.decodeErr
}

// Close implements Reader.
func (r *wholeFileReader) Close() error {
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("close archive %s: %w", r.path, err)
	}
	return nil
}
