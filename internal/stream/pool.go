// Package stream provides the decompression primitives shared by the archive
// readers: a pooled zlib decoder, an exact-length reader and the block cursor
// used by block-compressed archives.
package stream

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

// DecoderPool manages reusable zlib decoders to reduce allocation overhead.
// The zero value is ready to use.
type DecoderPool struct {
	pool sync.Pool
}

// NewDecoderPool creates an empty decoder pool.
func NewDecoderPool() *DecoderPool {
	return &DecoderPool{}
}

// Get returns a decoder reading the zlib stream from r.
// The caller must call the returned release function when done.
// If an error is returned, no release function needs to be called.
func (p *DecoderPool) Get(r io.Reader) (io.Reader, func(), error) {
	if p == nil {
		dec, err := zlib.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, func() { _ = dec.Close() }, nil
	}

	if value := p.pool.Get(); value != nil {
		if dec, ok := value.(io.ReadCloser); ok {
			if resetter, ok := dec.(zlib.Resetter); ok {
				if err := resetter.Reset(r, nil); err == nil {
					return dec, p.releaser(dec), nil
				}
			}
		}
	}

	dec, err := zlib.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	return dec, p.releaser(dec), nil
}

func (p *DecoderPool) releaser(dec io.ReadCloser) func() {
	return func() {
		_ = dec.Close() //nolint:errcheck // state is reset on next Get
		p.pool.Put(dec)
	}
}
