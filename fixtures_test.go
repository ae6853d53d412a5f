package bif

import (
	"testing"

	"github.com/meigma/bif/internal/testutil"
)

// fixture is the content of a small archive used across tests.
type fixture struct {
	flat  []testutil.FlatFixture
	tile  []testutil.TileFixture
	plain []byte
}

func newFixture(t *testing.T, archive uint32) fixture {
	t.Helper()

	f := fixture{
		flat: []testutil.FlatFixture{
			{Locator: testutil.FlatLocator(archive, 0), Type: uint16(Type2DA), Data: []byte("2DA V1.0\n0\n")},
			{Locator: testutil.FlatLocator(archive, 1), Type: uint16(TypeITM), Data: testutil.Pattern(20000, 1)},
			{Locator: testutil.FlatLocator(archive, 2), Type: uint16(TypeBCS), Data: []byte{}},
		},
		tile: []testutil.TileFixture{
			{Locator: testutil.TileLocator(archive, 1), Type: uint16(TypeTIS), TileCount: 3, TileSize: 16, Data: testutil.Pattern(48, 2)},
		},
	}
	f.plain = testutil.BuildPlain(t, f.flat, f.tile)
	return f
}

// encode returns the fixture in the given on-disk format.
func (f fixture) encode(t *testing.T, format Format, name string) []byte {
	t.Helper()
	switch format {
	case FormatWholeFile:
		return testutil.BuildWholeFile(t, f.plain, name)
	case FormatBlock:
		return testutil.BuildBlock(t, f.plain, 64)
	default:
		return f.plain
	}
}

// want returns the bytes a read of each fixture entry returns, by locator.
func (f fixture) want() map[Locator][]byte {
	out := make(map[Locator][]byte, len(f.flat)+len(f.tile))
	for _, e := range f.flat {
		out[Locator(e.Locator)] = e.Data
	}
	for _, e := range f.tile {
		out[Locator(e.Locator)] = testutil.TileSheet(e.TileCount, e.TileSize, e.Data)
	}
	return out
}

// gameDir lays out a catalog with one archive holding the fixture.
//
//	dir/chitin.key
//	dir/data/BASE.BIF
func gameDir(t *testing.T, format Format) (string, fixture) {
	t.Helper()

	dir := t.TempDir()
	f := newFixture(t, 0)
	data := f.encode(t, format, "BASE.BIF")
	testutil.WriteFile(t, dir, "data/BASE.BIF", data)

	key := testutil.BuildCatalog(t, testutil.CatalogFixture{
		Archives: []testutil.ArchiveFixture{{Name: `data\BASE.BIF`, Size: uint32(len(data)), Location: 1}}, //nolint:gosec // test fixture
		Resources: []testutil.ResourceFixture{
			{Name: "TABLE", Type: uint16(Type2DA), Locator: f.flat[0].Locator},
			{Name: "SWORD", Type: uint16(TypeITM), Locator: f.flat[1].Locator},
			{Name: "EMPTY", Type: uint16(TypeBCS), Locator: f.flat[2].Locator},
			{Name: "AR0100", Type: uint16(TypeTIS), Locator: f.tile[0].Locator},
		},
	})
	testutil.WriteFile(t, dir, "chitin.key", key)
	return dir, f
}

// writeOverlay writes an overlay catalog under dir/dlc defining TABLE.2DA
// with data. The overlay lists its own archive; its locators index its own
// table.
func writeOverlay(t *testing.T, dir string, data []byte) string {
	t.Helper()
	dlc := testutil.BuildPlain(t, []testutil.FlatFixture{
		{Locator: testutil.FlatLocator(0, 0), Type: uint16(Type2DA), Data: data},
	}, nil)
	testutil.WriteFile(t, dir, "dlc/data/DLC.BIF", dlc)
	return testutil.WriteFile(t, dir, "dlc/dlc.key", testutil.BuildCatalog(t, testutil.CatalogFixture{
		Archives:  []testutil.ArchiveFixture{{Name: `data\DLC.BIF`, Size: uint32(len(dlc))}}, //nolint:gosec // test fixture
		Resources: []testutil.ResourceFixture{{Name: "table", Type: uint16(Type2DA), Locator: testutil.FlatLocator(0, 0)}},
	}))
}
