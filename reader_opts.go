package bif

import (
	"log/slog"

	"github.com/meigma/bif/internal/stream"
)

// defaultDecoders is shared by readers that are not given their own pool.
var defaultDecoders = stream.NewDecoderPool()

// ReaderOption configures archives opened by Open.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	logger      *slog.Logger
	materialize bool
	decoders    *stream.DecoderPool
}

func newReaderConfig(opts []ReaderOption) *readerConfig {
	cfg := &readerConfig{decoders: defaultDecoders}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// log returns the logger, falling back to a discard logger if nil.
func (c *readerConfig) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// WithReaderLogger sets the logger for archive readers.
// If not set, logging is disabled.
func WithReaderLogger(logger *slog.Logger) ReaderOption {
	return func(c *readerConfig) {
		c.logger = logger
	}
}

// WithMaterialize controls whether whole-file-compressed archives are
// inflated into memory on first read and served from there afterwards.
//
// By default every read inflates the stream from its start up to the entry,
// which keeps memory bounded at the cost of repeated decoding. Other formats
// ignore this option.
func WithMaterialize(enabled bool) ReaderOption {
	return func(c *readerConfig) {
		c.materialize = enabled
	}
}
