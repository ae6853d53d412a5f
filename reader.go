package bif

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/meigma/bif/internal/format"
	"github.com/meigma/bif/internal/sizing"
	"github.com/meigma/bif/internal/stream"
)

// LargeReadThreshold is the decoded size above which a read may block long
// enough that interactive callers should schedule it off their UI path.
const LargeReadThreshold = 1 << 20

// TileHeaderSize is the length of the tile-sheet header prepended to tileset
// entries returned by readers.
const TileHeaderSize = format.TileSheetSize

// Format identifies the on-disk encoding of an archive.
type Format uint8

const (
	FormatPlain Format = iota
	FormatWholeFile
	FormatBlock
)

func (f Format) String() string {
	switch f {
	case FormatPlain:
		return "plain"
	case FormatWholeFile:
		return "wholefile"
	case FormatBlock:
		return "block"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name as printed by Format.String.
// "none" is accepted as an alias for "plain".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "plain", "none", "":
		return FormatPlain, nil
	case "wholefile", "whole-file", "bif":
		return FormatWholeFile, nil
	case "block", "bifc":
		return FormatBlock, nil
	default:
		return 0, fmt.Errorf("unknown archive format %q", s)
	}
}

// Entry describes one resource inside an archive.
type Entry struct {
	// Kind is KindFlat or KindTile.
	Kind Kind

	// Index is the flat index (from 0) or tileset index (from 1).
	Index uint32

	// Locator is the locator recorded in the archive's entry table.
	Locator Locator

	// Type is the resource type code.
	Type Type

	// Offset is the position of the payload in the decoded archive.
	Offset uint32

	// Size is the payload size on disk. For tilesets it equals
	// TileCount * TileSize and excludes the synthesized header.
	Size uint32

	// TileCount and TileSize are set for tileset entries only.
	TileCount uint32
	TileSize  uint32
}

// DataSize returns the number of bytes a read of the entry returns.
func (e Entry) DataSize() int64 {
	if e.Kind == KindTile {
		return int64(e.Size) + TileHeaderSize
	}
	return int64(e.Size)
}

// IsLargeRead reports whether reading e may block for a noticeable time.
func IsLargeRead(e Entry) bool {
	return e.DataSize() > LargeReadThreshold
}

// Reader extracts resources from one archive file.
//
// Implementations are safe for concurrent use; every read opens its own view
// of the underlying file.
type Reader interface {
	// Path returns the file the reader was opened from.
	Path() string

	// Format returns the archive's on-disk encoding.
	Format() Format

	// Entries returns every entry of the archive, flat entries first.
	Entries() []Entry

	// EntryInfo returns the entry addressed by loc, or ErrNotFound.
	// Only the kind and index bits of loc are considered.
	EntryInfo(loc Locator) (Entry, error)

	// ReadEntry returns the bytes of the entry addressed by loc. Tileset
	// entries are returned with a synthesized tile-sheet header.
	ReadEntry(loc Locator) ([]byte, error)

	// OpenEntry returns a stream of the same bytes ReadEntry returns.
	OpenEntry(loc Locator) (io.ReadCloser, error)

	// Close releases the underlying file.
	Close() error
}

// Open opens the archive at path, detecting its encoding from the signature.
func Open(path string, opts ...ReaderOption) (Reader, error) {
	cfg := newReaderConfig(opts)

	f, err := os.Open(path) //nolint:gosec // path is chosen by the caller
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open archive %s: %w: %w", path, ErrNotFound, err)
		}
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat archive %s: %w", path, err)
	}

	sig := make([]byte, format.SignatureSize)
	if _, err := f.ReadAt(sig, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("open archive %s: %w: read signature: %v", path, ErrFormat, err)
	}

	var r Reader
	switch kind := format.Detect(sig); kind {
	case format.KindPlain:
		r, err = openPlain(path, f, info.Size(), cfg)
	case format.KindWholeFile:
		r, err = openWholeFile(path, f, info.Size(), cfg)
	case format.KindBlock:
		r, err = openBlock(path, f, info.Size(), cfg)
	default:
		err = fmt.Errorf("%w: unknown signature %q", ErrFormat, sig)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	cfg.log().Debug("archive opened", "path", path, "format", r.Format(), "entries", len(r.Entries()))
	return r, nil
}

// payload returns a reader over n decoded archive bytes starting at off.
type payload interface {
	section(off, n int64) (io.ReadCloser, error)
}

// archive holds the state shared by every encoding: the parsed entry table
// and the read path built on top of a payload.
type archive struct {
	path    string
	format  Format
	entries []Entry
	flat    map[uint32]int
	tile    map[uint32]int
	data    payload
	logger  *slog.Logger
}

func newArchive(path string, f Format, t *format.EntryTable, data payload, logger *slog.Logger) *archive {
	a := &archive{
		path:    path,
		format:  f,
		entries: make([]Entry, 0, len(t.Flat)+len(t.Tile)),
		flat:    make(map[uint32]int, len(t.Flat)),
		tile:    make(map[uint32]int, len(t.Tile)),
		data:    data,
		logger:  logger,
	}
	for _, r := range t.Flat {
		loc := Locator(r.Locator)
		idx := loc.flatIndex()
		if _, dup := a.flat[idx]; !dup {
			a.flat[idx] = len(a.entries)
		}
		a.entries = append(a.entries, Entry{
			Kind:    KindFlat,
			Index:   idx,
			Locator: loc,
			Type:    Type(r.Type),
			Offset:  r.Offset,
			Size:    r.Size,
		})
	}
	for _, r := range t.Tile {
		loc := Locator(r.Locator)
		idx := loc.tileIndex()
		if _, dup := a.tile[idx]; !dup {
			a.tile[idx] = len(a.entries)
		}
		size, _ := r.RawSize() // bounds checked by format.ParseEntryTable
		a.entries = append(a.entries, Entry{
			Kind:      KindTile,
			Index:     idx,
			Locator:   loc,
			Type:      Type(r.Type),
			Offset:    r.Offset,
			Size:      size,
			TileCount: r.TileCount,
			TileSize:  r.TileSize,
		})
	}
	return a
}

func (a *archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Path implements Reader.
func (a *archive) Path() string {
	return a.path
}

// Format implements Reader.
func (a *archive) Format() Format {
	return a.format
}

// Entries implements Reader.
func (a *archive) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// EntryInfo implements Reader.
func (a *archive) EntryInfo(loc Locator) (Entry, error) {
	var (
		i  int
		ok bool
	)
	if loc.Kind() == KindTile {
		i, ok = a.tile[loc.tileIndex()]
	} else {
		i, ok = a.flat[loc.flatIndex()]
	}
	if !ok {
		return Entry{}, fmt.Errorf("%s in %s: %w", loc, a.path, ErrNotFound)
	}
	return a.entries[i], nil
}

// OpenEntry implements Reader.
func (a *archive) OpenEntry(loc Locator) (io.ReadCloser, error) {
	e, err := a.EntryInfo(loc)
	if err != nil {
		return nil, err
	}
	return a.openEntry(e)
}

func (a *archive) openEntry(e Entry) (io.ReadCloser, error) {
	if IsLargeRead(e) {
		a.log().Debug("large read", "path", a.path, "locator", e.Locator, "bytes", e.DataSize())
	}
	body, err := a.data.section(int64(e.Offset), int64(e.Size))
	if err != nil {
		return nil, fmt.Errorf("read %s in %s: %w", e.Locator, a.path, err)
	}
	if e.Kind != KindTile {
		return body, nil
	}
	hdr := format.AppendTileSheetHeader(make([]byte, 0, TileHeaderSize), e.TileCount, e.TileSize)
	return &entryStream{Reader: io.MultiReader(bytes.NewReader(hdr), body), close: body.Close}, nil
}

// ReadEntry implements Reader.
func (a *archive) ReadEntry(loc Locator) ([]byte, error) {
	e, err := a.EntryInfo(loc)
	if err != nil {
		return nil, err
	}
	size, err := sizing.ToInt(uint64(e.DataSize()), ErrRange) //nolint:gosec // DataSize is non-negative
	if err != nil {
		return nil, err
	}
	rc, err := a.openEntry(e)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := make([]byte, size)
	if _, err := io.ReadFull(rc, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: short read", ErrIntegrity)
		}
		return nil, fmt.Errorf("read %s in %s: %w", loc, a.path, err)
	}
	if err := stream.ExpectEOF(rc); err != nil {
		return nil, fmt.Errorf("read %s in %s: %w", loc, a.path, err)
	}
	return buf, nil
}

// entryStream pairs a reader with the close function of its source.
type entryStream struct {
	io.Reader
	close func() error
}

// Close implements io.Closer.
func (s *entryStream) Close() error {
	if s.close == nil {
		return nil
	}
	err := s.close()
	s.close = nil
	return err
}

// exactSection bounds r to exactly n bytes, releasing it on Close.
func exactSection(r io.Reader, n int64, release func() error) io.ReadCloser {
	return &entryStream{Reader: &stream.ExactReader{R: r, N: n}, close: release}
}
