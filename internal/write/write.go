// Package write streams resource bytes into archives and extraction targets.
package write

import (
	"context"
	"io"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/bif/internal/stream"
)

// BufferSize is the copy buffer size callers should allocate.
const BufferSize = 32 * 1024

// CopyWithContext copies from src to dst until EOF or error, checking for
// context cancellation between reads. It returns the number of bytes written.
//
//nolint:gocognit // Follows stdlib io.Copy pattern
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (uint64, error) {
	var written uint64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			if nw > 0 {
				//nolint:gosec // nw is guaranteed non-negative by io.Writer contract
				if written > ^uint64(0)-uint64(nw) {
					return written, stream.ErrOverflow
				}
				written += uint64(nw) //nolint:gosec // overflow checked above
			}
			if ew != nil {
				return written, ew
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er == io.EOF {
				return written, nil
			}
			return written, er
		}
	}
}

// Digested streams src into dst and returns the number of bytes copied and
// the canonical digest of prefix followed by those bytes. prefix is hashed
// but not written.
func Digested(ctx context.Context, dst io.Writer, src io.Reader, buf, prefix []byte) (int64, digest.Digest, error) {
	digester := digest.Canonical.Digester()
	h := digester.Hash()
	h.Write(prefix) //nolint:errcheck // hash writes never fail

	n, err := CopyWithContext(ctx, io.MultiWriter(dst, h), src, buf)
	if err != nil {
		return 0, "", err
	}
	if n > 1<<62 {
		return 0, "", stream.ErrOverflow
	}
	return int64(n), digester.Digest(), nil
}
