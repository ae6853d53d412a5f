// Package testutil builds catalog and archive fixtures for tests.
package testutil

import (
	"bytes"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bif/internal/format"
)

// FlatLocator returns the locator of flat entry index in archive.
func FlatLocator(archive, index uint32) uint32 {
	return archive<<20 | index
}

// TileLocator returns the locator of tileset entry index in archive.
func TileLocator(archive, index uint32) uint32 {
	return archive<<20 | index<<14
}

// FlatFixture is a flat entry to place in a plain archive.
type FlatFixture struct {
	Locator uint32
	Type    uint16
	Data    []byte
}

// TileFixture is a tileset entry. Data holds TileCount*TileSize bytes
// without the tile-sheet header.
type TileFixture struct {
	Locator   uint32
	Type      uint16
	TileCount uint32
	TileSize  uint32
	Data      []byte
}

// BuildPlain lays out a plain archive: header, entry table at 0x14, flat
// data, then tileset data.
func BuildPlain(tb testing.TB, flat []FlatFixture, tile []TileFixture) []byte {
	tb.Helper()

	hdr := format.PlainHeader{
		FileCount:   uint32(len(flat)), //nolint:gosec // test fixture
		TileCount:   uint32(len(tile)), //nolint:gosec // test fixture
		TableOffset: format.PlainHeaderSize,
	}
	tableSize, ok := hdr.TableSize()
	require.True(tb, ok)

	off := uint32(format.PlainHeaderSize) + tableSize
	table := &format.EntryTable{}
	var data []byte
	for _, f := range flat {
		table.Flat = append(table.Flat, format.FlatRecord{
			Locator: f.Locator,
			Offset:  off,
			Size:    uint32(len(f.Data)), //nolint:gosec // test fixture
			Type:    f.Type,
		})
		data = append(data, f.Data...)
		off += uint32(len(f.Data)) //nolint:gosec // test fixture
	}
	for _, t := range tile {
		require.Len(tb, t.Data, int(t.TileCount*t.TileSize))
		table.Tile = append(table.Tile, format.TileRecord{
			Locator:   t.Locator,
			Offset:    off,
			TileCount: t.TileCount,
			TileSize:  t.TileSize,
			Type:      t.Type,
		})
		data = append(data, t.Data...)
		off += uint32(len(t.Data)) //nolint:gosec // test fixture
	}

	out := format.AppendPlainHeader(nil, hdr)
	out = format.AppendEntryTable(out, table)
	return append(out, data...)
}

// BuildWholeFile wraps a plain archive in the whole-file compressed layout.
func BuildWholeFile(tb testing.TB, plain []byte, name string) []byte {
	tb.Helper()

	packed := deflate(tb, plain)
	out := format.AppendWholeFileHeader(nil, format.WholeFileHeader{
		Name:             append([]byte(name), 0),
		UncompressedSize: uint32(len(plain)),  //nolint:gosec // test fixture
		CompressedSize:   uint32(len(packed)), //nolint:gosec // test fixture
	})
	return append(out, packed...)
}

// BuildBlock wraps a plain archive in the block compressed layout, splitting
// it into chunks of blockSize decoded bytes.
func BuildBlock(tb testing.TB, plain []byte, blockSize int) []byte {
	tb.Helper()
	require.Positive(tb, blockSize)

	out := format.AppendBlockArchiveHeader(nil, uint32(len(plain))) //nolint:gosec // test fixture
	for start := 0; start < len(plain); start += blockSize {
		end := min(start+blockSize, len(plain))
		packed := deflate(tb, plain[start:end])
		out = format.AppendBlockHeader(out, format.BlockHeader{
			UncompressedSize: uint32(end - start), //nolint:gosec // test fixture
			CompressedSize:   uint32(len(packed)), //nolint:gosec // test fixture
		})
		out = append(out, packed...)
	}
	return out
}

// Deflate returns the zlib encoding of p.
func Deflate(tb testing.TB, p []byte) []byte {
	tb.Helper()
	return deflate(tb, p)
}

func deflate(tb testing.TB, p []byte) []byte {
	tb.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(p)
	require.NoError(tb, err)
	require.NoError(tb, zw.Close())
	return buf.Bytes()
}

// ArchiveFixture is an archive record of a catalog fixture.
type ArchiveFixture struct {
	Name     string
	Size     uint32
	Location uint16
}

// ResourceFixture is a resource record of a catalog fixture.
type ResourceFixture struct {
	Name    string
	Type    uint16
	Locator uint32
}

// CatalogFixture describes a catalog file.
type CatalogFixture struct {
	Archives  []ArchiveFixture
	Resources []ResourceFixture

	// Legacy selects 8-byte archive records without a size field.
	Legacy bool
}

// BuildCatalog encodes a catalog: header, archive table, names, resources.
func BuildCatalog(tb testing.TB, c CatalogFixture) []byte {
	tb.Helper()

	recSize := format.ArchiveRecordSize
	if c.Legacy {
		recSize = format.LegacyArchiveSize
	}
	archiveOff := format.CatalogHeaderSize
	namesOff := archiveOff + len(c.Archives)*recSize
	namesLen := 0
	for _, a := range c.Archives {
		namesLen += len(a.Name) + 1
	}
	resourceOff := namesOff + namesLen

	out := format.AppendCatalogHeader(nil, format.CatalogHeader{
		ArchiveCount:   uint32(len(c.Archives)),  //nolint:gosec // test fixture
		ResourceCount:  uint32(len(c.Resources)), //nolint:gosec // test fixture
		ArchiveOffset:  uint32(archiveOff),       //nolint:gosec // test fixture
		ResourceOffset: uint32(resourceOff),      //nolint:gosec // test fixture
	})
	nameOff := namesOff
	for _, a := range c.Archives {
		out = format.AppendArchiveRecord(out, format.ArchiveRecord{
			Size:       a.Size,
			NameOffset: uint32(nameOff),         //nolint:gosec // test fixture
			NameLength: uint16(len(a.Name) + 1), //nolint:gosec // test fixture
			Location:   a.Location,
		}, c.Legacy)
		nameOff += len(a.Name) + 1
	}
	for _, a := range c.Archives {
		out = append(out, a.Name...)
		out = append(out, 0)
	}
	for _, r := range c.Resources {
		require.LessOrEqual(tb, len(r.Name), format.ResourceNameSize)
		rec := format.ResourceRecord{Type: r.Type, Locator: r.Locator}
		copy(rec.Name[:], r.Name)
		out = format.AppendResourceRecord(out, rec)
	}
	return out
}

// WriteFile writes data to dir/rel, creating parent directories, and returns
// the full path.
func WriteFile(tb testing.TB, dir, rel string, data []byte) string {
	tb.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(tb, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(tb, os.WriteFile(path, data, 0o600))
	return path
}

// Pattern returns n deterministic, mildly compressible bytes.
func Pattern(n int, seed uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // deterministic test data
	out := make([]byte, n)
	for i := range out {
		if i%4 == 0 {
			out[i] = byte(rng.IntN(256))
		} else {
			out[i] = byte(i)
		}
	}
	return out
}

// TileSheet returns a tileset payload prefixed with its tile-sheet header.
func TileSheet(tileCount, tileSize uint32, data []byte) []byte {
	out := format.AppendTileSheetHeader(nil, tileCount, tileSize)
	return append(out, data...)
}
