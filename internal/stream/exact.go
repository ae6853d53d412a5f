package stream

import (
	"errors"
	"fmt"
	"io"

	"github.com/meigma/bif/internal/biftype"
)

// ExactReader yields exactly N bytes from R. If R ends before N bytes were
// produced, Read fails with ErrIntegrity instead of returning a short stream.
type ExactReader struct {
	R io.Reader
	N int64

	// Strict also requires R to end after N bytes. Extra output fails the
	// read that consumes the last byte, and every later read, with
	// ErrIntegrity.
	Strict bool

	checked bool
	err     error
}

// Read implements io.Reader.
func (e *ExactReader) Read(p []byte) (int, error) {
	if e.N <= 0 {
		return 0, e.finish()
	}
	if int64(len(p)) > e.N {
		p = p[:e.N]
	}
	n, err := e.R.Read(p)
	e.N -= int64(n)
	switch {
	case e.N == 0 && (err == nil || err == io.EOF):
		if err == io.EOF {
			e.checked = true
		}
		if ferr := e.finish(); ferr != io.EOF {
			return n, ferr
		}
		return n, nil
	case err == nil:
		return n, nil
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return n, fmt.Errorf("%w: stream ended %d bytes early", biftype.ErrIntegrity, e.N)
	default:
		return n, err
	}
}

// finish returns io.EOF once R is confirmed drained, or the trailing-data
// error.
func (e *ExactReader) finish() error {
	if !e.Strict || e.checked {
		if e.err != nil {
			return e.err
		}
		return io.EOF
	}
	e.checked = true
	if err := ExpectEOF(e.R); err != nil {
		e.err = err
		return err
	}
	return io.EOF
}

// ExpectEOF reads one byte from r and fails with ErrIntegrity unless r is
// at its end.
func ExpectEOF(r io.Reader) error {
	var one [1]byte
	n, err := r.Read(one[:])
	if n > 0 {
		return fmt.Errorf("%w: stream longer than declared", biftype.ErrIntegrity)
	}
	switch {
	case err == nil, err == io.EOF:
		return nil
	case errors.Is(err, biftype.ErrIntegrity):
		return err
	default:
		return fmt.Errorf("%w: %v", biftype.ErrIntegrity, err)
	}
}
