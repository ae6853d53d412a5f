package bif

import (
	"log/slog"

	"github.com/klauspost/compress/zlib"
)

// DefaultBlockSize is the decoded size of each chunk written to
// block-compressed archives.
const DefaultBlockSize = 8192

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithFormat sets the encoding of the written archive (default FormatPlain).
func WithFormat(f Format) WriterOption {
	return func(w *Writer) {
		w.format = f
	}
}

// WithBlockSize sets the chunk size for FormatBlock.
// Values <= 0 use DefaultBlockSize.
func WithBlockSize(n int) WriterOption {
	return func(w *Writer) {
		if n <= 0 {
			n = DefaultBlockSize
		}
		w.blockSize = n
	}
}

// WithCompressionLevel sets the zlib level for compressed formats
// (default zlib.DefaultCompression).
func WithCompressionLevel(level int) WriterOption {
	return func(w *Writer) {
		w.level = level
	}
}

// WithEncodeConcurrency sets how many chunks are compressed in parallel for
// FormatBlock. Values < 1 force serial compression.
func WithEncodeConcurrency(n int) WriterOption {
	return func(w *Writer) {
		if n < 1 {
			n = 1
		}
		w.concurrency = n
	}
}

// WithLocation sets the location bitmask recorded when the writer registers
// a new archive in the catalog (default 1).
func WithLocation(location uint16) WriterOption {
	return func(w *Writer) {
		w.location = location
	}
}

// WithWriterLogger sets the logger for write operations.
// If not set, logging is disabled.
func WithWriterLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

func defaultWriter() *Writer {
	return &Writer{
		format:      FormatPlain,
		blockSize:   DefaultBlockSize,
		level:       zlib.DefaultCompression,
		concurrency: 1,
		location:    1,
		pending:     make(map[string]pendingRef),
	}
}
