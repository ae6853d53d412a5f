package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bif/internal/biftype"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sig  string
		want Kind
	}{
		{SigPlain, KindPlain},
		{SigWholeFile, KindWholeFile},
		{SigBlock, KindBlock},
		{SigCatalog, KindUnknown},
		{"BIFF", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Detect([]byte(tt.sig)), "signature %q", tt.sig)
	}
}

func TestCatalogHeader(t *testing.T) {
	t.Parallel()

	h := CatalogHeader{ArchiveCount: 2, ResourceCount: 7, ArchiveOffset: 24, ResourceOffset: 90}
	b := AppendCatalogHeader(nil, h)
	require.Len(t, b, CatalogHeaderSize)

	got, err := ParseCatalogHeader(b)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = ParseCatalogHeader(b[:20])
	require.ErrorIs(t, err, biftype.ErrFormat)

	bad := bytes.Clone(b)
	copy(bad, "KEY V2  ")
	_, err = ParseCatalogHeader(bad)
	require.ErrorIs(t, err, biftype.ErrFormat)
}

func TestArchiveRecordLayouts(t *testing.T) {
	t.Parallel()

	r := ArchiveRecord{Size: 1234, NameOffset: 60, NameLength: 14, Location: 3}

	std := AppendArchiveRecord(nil, r, false)
	require.Len(t, std, ArchiveRecordSize)
	assert.Equal(t, r, ParseArchiveRecord(std, false))

	legacy := AppendArchiveRecord(nil, r, true)
	require.Len(t, legacy, LegacyArchiveSize)
	want := r
	want.Size = 0
	assert.Equal(t, want, ParseArchiveRecord(legacy, true))
}

func TestResourceRecord(t *testing.T) {
	t.Parallel()

	var r ResourceRecord
	copy(r.Name[:], "SW1H01")
	r.Type = 0x3ed
	r.Locator = 1<<20 | 5

	b := AppendResourceRecord(nil, r)
	require.Len(t, b, ResourceRecordSize)
	assert.Equal(t, r, ParseResourceRecord(b))
	assert.Equal(t, []byte("SW1H01"), CString(r.Name[:]))
}

func TestCString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte("abc"), CString([]byte("abc\x00def")))
	assert.Equal(t, []byte("FULLNAME"), CString([]byte("FULLNAME")))
	assert.Empty(t, CString([]byte{0, 'x'}))
}

func TestStringCodepage(t *testing.T) {
	t.Parallel()

	enc, err := EncodeString("café")
	require.NoError(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, enc)
	assert.Equal(t, "café", DecodeString(append(enc, 0, 'x')))

	_, err = EncodeString("日本")
	require.ErrorIs(t, err, biftype.ErrRange)
}

// plainArchive returns a header and table for one flat and one tileset entry
// laid out after the table.
func plainArchive() (PlainHeader, *EntryTable) {
	h := PlainHeader{FileCount: 1, TileCount: 1, TableOffset: PlainHeaderSize}
	dataOff := uint32(PlainHeaderSize + FlatRecordSize + TileRecordSize)
	t := &EntryTable{
		Flat: []FlatRecord{{Locator: 0, Offset: dataOff, Size: 10, Type: 0x3ed}},
		Tile: []TileRecord{{Locator: 1 << 14, Offset: dataOff + 10, TileCount: 2, TileSize: 8, Type: 0x3eb}},
	}
	return h, t
}

func TestEntryTable(t *testing.T) {
	t.Parallel()

	h, table := plainArchive()
	size, ok := h.TableSize()
	require.True(t, ok)
	assert.Equal(t, uint32(FlatRecordSize+TileRecordSize), size)

	archive := AppendPlainHeader(nil, h)
	archive = AppendEntryTable(archive, table)
	archive = append(archive, make([]byte, 26)...)
	payload := int64(len(archive))

	got, err := ParseEntryTable(h, archive[PlainHeaderSize:], payload)
	require.NoError(t, err)
	assert.Equal(t, table, got)

	gotHeader, streamed, consumed, err := ReadEntryTable(bytes.NewReader(archive), payload)
	require.NoError(t, err)
	assert.Equal(t, h, gotHeader)
	assert.Equal(t, table, streamed)
	assert.Equal(t, int64(PlainHeaderSize+size), consumed)

	raw, ok := table.Tile[0].RawSize()
	require.True(t, ok)
	assert.Equal(t, uint32(16), raw)
}

func TestEntryTableBounds(t *testing.T) {
	t.Parallel()

	h, table := plainArchive()
	encoded := AppendEntryTable(nil, table)
	payload := int64(PlainHeaderSize + len(encoded) + 26)

	_, err := ParseEntryTable(h, encoded[:FlatRecordSize], payload)
	require.ErrorIs(t, err, biftype.ErrFormat)

	_, err = ParseEntryTable(h, encoded, payload-1)
	require.ErrorIs(t, err, biftype.ErrFormat, "tileset runs past end")

	table.Flat[0].Size = 1 << 30
	_, err = ParseEntryTable(h, AppendEntryTable(nil, table), payload)
	require.ErrorIs(t, err, biftype.ErrFormat, "flat entry runs past end")

	huge := PlainHeader{FileCount: 1 << 30, TableOffset: PlainHeaderSize}
	_, ok := huge.TableSize()
	assert.False(t, ok)
}

func TestReadEntryTableRejectsBadHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header PlainHeader
		sig    string
	}{
		{name: "table overlaps header", header: PlainHeader{FileCount: 1, TableOffset: 4}},
		{name: "table past end", header: PlainHeader{FileCount: 4, TableOffset: PlainHeaderSize}},
		{name: "wrong signature", header: PlainHeader{TableOffset: PlainHeaderSize}, sig: "BIFFV2  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := AppendPlainHeader(nil, tt.header)
			if tt.sig != "" {
				copy(b, tt.sig)
			}
			b = append(b, make([]byte, 32)...)
			_, _, _, err := ReadEntryTable(bytes.NewReader(b), int64(len(b)))
			require.ErrorIs(t, err, biftype.ErrFormat)
		})
	}
}

func TestWholeFileHeader(t *testing.T) {
	t.Parallel()

	h := WholeFileHeader{Name: []byte("AREA.BIF\x00"), UncompressedSize: 500, CompressedSize: 120}
	b := AppendWholeFileHeader(nil, h)
	assert.Equal(t, h.Len(), int64(len(b)))

	got, err := ReadWholeFileHeader(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = ReadWholeFileHeader(bytes.NewReader(b[:10]))
	require.ErrorIs(t, err, biftype.ErrFormat)

	long := AppendWholeFileHeader(nil, WholeFileHeader{Name: make([]byte, maxEmbeddedName+1)})
	_, err = ReadWholeFileHeader(bytes.NewReader(long))
	require.ErrorIs(t, err, biftype.ErrFormat)
}

func TestBlockHeaders(t *testing.T) {
	t.Parallel()

	b := AppendBlockArchiveHeader(nil, 4096)
	total, err := ParseBlockArchiveHeader(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), total)

	_, err = ParseBlockArchiveHeader([]byte(SigPlain + "\x00\x00\x00\x00"))
	require.ErrorIs(t, err, biftype.ErrFormat)

	chunk := BlockHeader{UncompressedSize: 8192, CompressedSize: 301}
	enc := AppendBlockHeader(nil, chunk)
	require.Len(t, enc, BlockHeaderSize)
	assert.Equal(t, chunk, ParseBlockHeader(enc))
}

func TestTileSheetHeader(t *testing.T) {
	t.Parallel()

	b := AppendTileSheetHeader(nil, 12, 5120)
	require.Len(t, b, TileSheetSize)

	count, size, err := ParseTileSheetHeader(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), count)
	assert.Equal(t, uint32(5120), size)

	_, _, err = ParseTileSheetHeader(b[:TileSheetSize-1])
	require.ErrorIs(t, err, biftype.ErrFormat)

	bad := bytes.Clone(b)
	bad[16] = 0x20
	_, _, err = ParseTileSheetHeader(bad)
	require.ErrorIs(t, err, biftype.ErrFormat)
}
