package format

import (
	"fmt"
	"io"

	"github.com/meigma/bif/internal/biftype"
	"github.com/meigma/bif/internal/sizing"
)

// PlainHeader is the 20-byte header of an uncompressed archive.
type PlainHeader struct {
	FileCount   uint32
	TileCount   uint32
	TableOffset uint32
}

// TableSize returns the byte length of the entry table described by h.
func (h PlainHeader) TableSize() (uint32, bool) {
	flat, ok := sizing.MulUint32(h.FileCount, FlatRecordSize)
	if !ok {
		return 0, false
	}
	tile, ok := sizing.MulUint32(h.TileCount, TileRecordSize)
	if !ok {
		return 0, false
	}
	return sizing.AddUint32(flat, tile)
}

// ParsePlainHeader decodes and validates an uncompressed archive header.
func ParsePlainHeader(b []byte) (PlainHeader, error) {
	if len(b) < PlainHeaderSize {
		return PlainHeader{}, fmt.Errorf("%w: archive header truncated (%d bytes)", biftype.ErrFormat, len(b))
	}
	if sig := string(b[:SignatureSize]); sig != SigPlain {
		return PlainHeader{}, fmt.Errorf("%w: archive signature %q", biftype.ErrFormat, sig)
	}
	return PlainHeader{
		FileCount:   le.Uint32(b[8:]),
		TileCount:   le.Uint32(b[12:]),
		TableOffset: le.Uint32(b[16:]),
	}, nil
}

// AppendPlainHeader appends the encoded header to dst.
func AppendPlainHeader(dst []byte, h PlainHeader) []byte {
	dst = append(dst, SigPlain...)
	dst = le.AppendUint32(dst, h.FileCount)
	dst = le.AppendUint32(dst, h.TileCount)
	return le.AppendUint32(dst, h.TableOffset)
}

// FlatRecord describes a flat entry inside an archive.
type FlatRecord struct {
	Locator  uint32
	Offset   uint32
	Size     uint32
	Type     uint16
	Reserved uint16
}

// TileRecord describes a tileset entry inside an archive.
type TileRecord struct {
	Locator   uint32
	Offset    uint32
	TileCount uint32
	TileSize  uint32
	Type      uint16
	Reserved  uint16
}

// RawSize returns the on-disk payload size of the tileset.
func (r TileRecord) RawSize() (uint32, bool) {
	return sizing.MulUint32(r.TileCount, r.TileSize)
}

// EntryTable is the decoded entry table of an archive.
type EntryTable struct {
	Flat []FlatRecord
	Tile []TileRecord
}

// ParseEntryTable decodes the entry table that follows h.
//
// payloadSize is the size of the decoded plain archive; every entry must lie
// within it, otherwise ErrFormat is returned.
func ParseEntryTable(h PlainHeader, table []byte, payloadSize int64) (*EntryTable, error) {
	want, ok := h.TableSize()
	if !ok || uint64(len(table)) < uint64(want) {
		return nil, fmt.Errorf("%w: entry table truncated", biftype.ErrFormat)
	}
	t := &EntryTable{
		Flat: make([]FlatRecord, 0, h.FileCount),
		Tile: make([]TileRecord, 0, h.TileCount),
	}
	off := 0
	for i := uint32(0); i < h.FileCount; i++ {
		b := table[off : off+FlatRecordSize]
		r := FlatRecord{
			Locator:  le.Uint32(b[0:]),
			Offset:   le.Uint32(b[4:]),
			Size:     le.Uint32(b[8:]),
			Type:     le.Uint16(b[12:]),
			Reserved: le.Uint16(b[14:]),
		}
		if !sizing.InBounds(r.Offset, r.Size, payloadSize) {
			return nil, fmt.Errorf("%w: flat entry %d outside archive (offset %d, size %d)", biftype.ErrFormat, i, r.Offset, r.Size)
		}
		t.Flat = append(t.Flat, r)
		off += FlatRecordSize
	}
	for i := uint32(0); i < h.TileCount; i++ {
		b := table[off : off+TileRecordSize]
		r := TileRecord{
			Locator:   le.Uint32(b[0:]),
			Offset:    le.Uint32(b[4:]),
			TileCount: le.Uint32(b[8:]),
			TileSize:  le.Uint32(b[12:]),
			Type:      le.Uint16(b[16:]),
			Reserved:  le.Uint16(b[18:]),
		}
		raw, ok := r.RawSize()
		if !ok || !sizing.InBounds(r.Offset, raw, payloadSize) {
			return nil, fmt.Errorf("%w: tileset entry %d outside archive (offset %d)", biftype.ErrFormat, i, r.Offset)
		}
		t.Tile = append(t.Tile, r)
		off += TileRecordSize
	}
	return t, nil
}

// AppendEntryTable appends the encoded table to dst.
func AppendEntryTable(dst []byte, t *EntryTable) []byte {
	for _, r := range t.Flat {
		dst = le.AppendUint32(dst, r.Locator)
		dst = le.AppendUint32(dst, r.Offset)
		dst = le.AppendUint32(dst, r.Size)
		dst = le.AppendUint16(dst, r.Type)
		dst = le.AppendUint16(dst, r.Reserved)
	}
	for _, r := range t.Tile {
		dst = le.AppendUint32(dst, r.Locator)
		dst = le.AppendUint32(dst, r.Offset)
		dst = le.AppendUint32(dst, r.TileCount)
		dst = le.AppendUint32(dst, r.TileSize)
		dst = le.AppendUint16(dst, r.Type)
		dst = le.AppendUint16(dst, r.Reserved)
	}
	return dst
}

// ReadEntryTable reads a plain header and its entry table from a decoded
// archive stream positioned at offset 0. It consumes the stream up to the end
// of the table; the returned count is the number of bytes consumed.
func ReadEntryTable(r io.Reader, payloadSize int64) (PlainHeader, *EntryTable, int64, error) {
	hdrBuf := make([]byte, PlainHeaderSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return PlainHeader{}, nil, 0, fmt.Errorf("%w: read archive header: %v", biftype.ErrFormat, err)
	}
	h, err := ParsePlainHeader(hdrBuf)
	if err != nil {
		return PlainHeader{}, nil, 0, err
	}
	if h.TableOffset < PlainHeaderSize {
		return PlainHeader{}, nil, 0, fmt.Errorf("%w: entry table offset %d overlaps header", biftype.ErrFormat, h.TableOffset)
	}
	size, ok := h.TableSize()
	if !ok || !sizing.InBounds(h.TableOffset, size, payloadSize) {
		return PlainHeader{}, nil, 0, fmt.Errorf("%w: entry table outside archive", biftype.ErrFormat)
	}
	if _, err := io.CopyN(io.Discard, r, int64(h.TableOffset)-PlainHeaderSize); err != nil {
		return PlainHeader{}, nil, 0, fmt.Errorf("%w: seek entry table: %v", biftype.ErrFormat, err)
	}
	table := make([]byte, size)
	if _, err := io.ReadFull(r, table); err != nil {
		return PlainHeader{}, nil, 0, fmt.Errorf("%w: read entry table: %v", biftype.ErrFormat, err)
	}
	t, err := ParseEntryTable(h, table, payloadSize)
	if err != nil {
		return PlainHeader{}, nil, 0, err
	}
	return h, t, int64(h.TableOffset) + int64(size), nil
}

// WholeFileHeader is the header of a whole-file-compressed archive.
type WholeFileHeader struct {
	Name             []byte // raw, NUL-terminated as stored
	UncompressedSize uint32
	CompressedSize   uint32
}

// Len returns the encoded header length; the deflate stream starts there.
func (h WholeFileHeader) Len() int64 {
	return SignatureSize + 4 + int64(len(h.Name)) + 8
}

// maxEmbeddedName caps the embedded filename length read from disk.
const maxEmbeddedName = 4096

// ReadWholeFileHeader decodes a whole-file header from r.
func ReadWholeFileHeader(r io.Reader) (WholeFileHeader, error) {
	var fixed [SignatureSize + 4]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return WholeFileHeader{}, fmt.Errorf("%w: read header: %v", biftype.ErrFormat, err)
	}
	if sig := string(fixed[:SignatureSize]); sig != SigWholeFile {
		return WholeFileHeader{}, fmt.Errorf("%w: archive signature %q", biftype.ErrFormat, sig)
	}
	n := le.Uint32(fixed[SignatureSize:])
	if n > maxEmbeddedName {
		return WholeFileHeader{}, fmt.Errorf("%w: embedded name length %d", biftype.ErrFormat, n)
	}
	rest := make([]byte, int(n)+8)
	if _, err := io.ReadFull(r, rest); err != nil {
		return WholeFileHeader{}, fmt.Errorf("%w: read header: %v", biftype.ErrFormat, err)
	}
	return WholeFileHeader{
		Name:             rest[:n],
		UncompressedSize: le.Uint32(rest[n:]),
		CompressedSize:   le.Uint32(rest[n+4:]),
	}, nil
}

// AppendWholeFileHeader appends the encoded header to dst.
func AppendWholeFileHeader(dst []byte, h WholeFileHeader) []byte {
	dst = append(dst, SigWholeFile...)
	dst = le.AppendUint32(dst, uint32(len(h.Name))) //nolint:gosec // bounded by caller
	dst = append(dst, h.Name...)
	dst = le.AppendUint32(dst, h.UncompressedSize)
	return le.AppendUint32(dst, h.CompressedSize)
}

// ParseBlockArchiveHeader decodes the 12-byte header of a block-compressed
// archive and returns the total uncompressed size.
func ParseBlockArchiveHeader(b []byte) (uint32, error) {
	if len(b) < SignatureSize+4 {
		return 0, fmt.Errorf("%w: archive header truncated (%d bytes)", biftype.ErrFormat, len(b))
	}
	if sig := string(b[:SignatureSize]); sig != SigBlock {
		return 0, fmt.Errorf("%w: archive signature %q", biftype.ErrFormat, sig)
	}
	return le.Uint32(b[SignatureSize:]), nil
}

// AppendBlockArchiveHeader appends the encoded header to dst.
func AppendBlockArchiveHeader(dst []byte, total uint32) []byte {
	dst = append(dst, SigBlock...)
	return le.AppendUint32(dst, total)
}

// BlockHeader prefixes each chunk of a block-compressed archive.
type BlockHeader struct {
	UncompressedSize uint32
	CompressedSize   uint32
}

// ParseBlockHeader decodes an 8-byte chunk header.
func ParseBlockHeader(b []byte) BlockHeader {
	return BlockHeader{
		UncompressedSize: le.Uint32(b[0:]),
		CompressedSize:   le.Uint32(b[4:]),
	}
}

// AppendBlockHeader appends the encoded chunk header to dst.
func AppendBlockHeader(dst []byte, h BlockHeader) []byte {
	dst = le.AppendUint32(dst, h.UncompressedSize)
	return le.AppendUint32(dst, h.CompressedSize)
}

// AppendTileSheetHeader appends the synthesized 24-byte tile-sheet header.
func AppendTileSheetHeader(dst []byte, tileCount, tileSize uint32) []byte {
	dst = append(dst, SigTileSheet...)
	dst = le.AppendUint32(dst, tileCount)
	dst = le.AppendUint32(dst, tileSize)
	dst = le.AppendUint32(dst, TileSheetDataOff)
	return le.AppendUint32(dst, TileDimension)
}

// ParseTileSheetHeader decodes a tile-sheet header and returns its tile count
// and tile size.
func ParseTileSheetHeader(b []byte) (tileCount, tileSize uint32, err error) {
	if len(b) < TileSheetSize {
		return 0, 0, fmt.Errorf("%w: tile-sheet header truncated (%d bytes)", biftype.ErrFormat, len(b))
	}
	if sig := string(b[:SignatureSize]); sig != SigTileSheet {
		return 0, 0, fmt.Errorf("%w: tile-sheet signature %q", biftype.ErrFormat, sig)
	}
	if off := le.Uint32(b[16:]); off != TileSheetDataOff {
		return 0, 0, fmt.Errorf("%w: tile-sheet data offset %#x", biftype.ErrFormat, off)
	}
	return le.Uint32(b[8:]), le.Uint32(b[12:]), nil
}
