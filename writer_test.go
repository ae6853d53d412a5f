package bif

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bif/internal/testutil"
)

func emptyGame(t *testing.T) (string, *Catalog) {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "chitin.key", testutil.BuildCatalog(t, testutil.CatalogFixture{}))
	return dir, loadGame(t, dir, nil)
}

// dirNames lists the file names in dir.
func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriterRoundTrip(t *testing.T) {
	t.Parallel()

	flat := map[string][]byte{
		"SMALL":   []byte("hello"),
		"LARGE":   testutil.Pattern(50000, 7),
		"NOTHING": {},
	}
	tiles := testutil.Pattern(5*64, 8)

	for _, fmtKind := range allFormats {
		t.Run(fmtKind.String(), func(t *testing.T) {
			t.Parallel()

			dir, cat := emptyGame(t)
			w := NewWriter(cat, `data\PATCH.BIF`,
				WithFormat(fmtKind),
				WithBlockSize(1000),
				WithEncodeConcurrency(3),
				WithLocation(4),
			)
			for _, name := range []string{"SMALL", "LARGE", "NOTHING"} {
				w.AddFlat(PendingResource{Name: name, Type: TypeITM, Source: BytesSource(flat[name])})
			}
			w.AddTileset(PendingResource{Name: "ar0100", Type: TypeTIS, Source: BytesSource(testutil.TileSheet(5, 64, tiles))})
			assert.Equal(t, 4, w.Len())

			res, err := w.Write()
			require.NoError(t, err)
			assert.Equal(t, fmtKind, res.Format)
			assert.Equal(t, 0, res.Archive.Index)
			assert.Equal(t, uint16(4), res.Archive.Location)
			assert.Equal(t, filepath.Join(dir, "data", "PATCH.BIF"), res.Archive.Path)
			require.Len(t, res.Resources, 4)

			info, err := os.Stat(res.Archive.Path)
			require.NoError(t, err)
			assert.Equal(t, uint32(info.Size()), res.Archive.Size) //nolint:gosec // test file
			assert.Equal(t, []string{"PATCH.BIF"}, dirNames(t, filepath.Join(dir, "data")))

			for i, p := range res.Resources[:3] {
				assert.Equal(t, KindFlat, p.Kind)
				assert.Equal(t, uint32(i), p.Locator.Index()) //nolint:gosec // small index
				got, err := cat.ReadResource(p.Key())
				require.NoError(t, err)
				assert.Equal(t, flat[p.Name], got)
				assert.Equal(t, digest.FromBytes(flat[p.Name]), p.Digest)
				assert.Equal(t, int64(len(flat[p.Name])), p.Size)
			}

			tile := res.Resources[3]
			assert.Equal(t, "AR0100", tile.Name)
			assert.Equal(t, KindTile, tile.Kind)
			assert.Equal(t, uint32(1), tile.Locator.Index())
			got, err := cat.ReadResource("AR0100.TIS")
			require.NoError(t, err)
			want := testutil.TileSheet(5, 64, tiles)
			assert.Equal(t, want, got)
			assert.Equal(t, digest.FromBytes(want), tile.Digest)

			r, err := cat.OpenArchive(res.Archive)
			require.NoError(t, err)
			assert.Equal(t, fmtKind, r.Format())
			if named, ok := r.(interface{ EmbeddedName() string }); ok {
				assert.Equal(t, "PATCH.BIF", named.EmbeddedName())
			}

			// The saved catalog reproduces the index.
			require.NoError(t, cat.Save())
			reloaded := loadGame(t, dir, nil)
			assert.Equal(t, cat.Entries(), reloaded.Entries())
			got, err = reloaded.ReadResource("LARGE.ITM")
			require.NoError(t, err)
			assert.Equal(t, flat["LARGE"], got)
		})
	}
}

func TestWriterRepacksExistingArchive(t *testing.T) {
	t.Parallel()

	dir, f := gameDir(t, FormatPlain)
	cat := loadGame(t, dir, nil)

	// Populate the cache with a reader of the old file.
	_, err := cat.ReadResource("TABLE.2DA")
	require.NoError(t, err)

	w := NewWriter(cat, `DATA\base.bif`, WithFormat(FormatBlock))
	w.AddFlat(PendingResource{Name: "SWORD", Type: TypeITM, Source: BytesSource([]byte("new sword"))})
	require.NoError(t, w.AddArchiveContents())
	assert.Equal(t, 4, w.Len())

	res, err := w.Write()
	require.NoError(t, err)
	assert.Equal(t, 0, res.Archive.Index)
	assert.Equal(t, `data\BASE.BIF`, res.Archive.Name)
	assert.Len(t, cat.Archives(), 1)

	got, err := cat.ReadResource("SWORD.ITM")
	require.NoError(t, err)
	assert.Equal(t, []byte("new sword"), got)

	got, err = cat.ReadResource("TABLE.2DA")
	require.NoError(t, err)
	assert.Equal(t, f.flat[0].Data, got)

	got, err = cat.ReadResource("AR0100.TIS")
	require.NoError(t, err)
	assert.Equal(t, f.want()[Locator(f.tile[0].Locator)], got)

	r, err := cat.OpenArchive(res.Archive)
	require.NoError(t, err)
	assert.Equal(t, FormatBlock, r.Format())
}

func TestWriterDropsStaleEntries(t *testing.T) {
	t.Parallel()

	dir, _ := gameDir(t, FormatPlain)
	cat := loadGame(t, dir, nil)

	w := NewWriter(cat, `data\BASE.BIF`)
	w.AddFlat(PendingResource{Name: "ONLY", Type: TypeITM, Source: BytesSource([]byte("x"))})
	_, err := w.Write()
	require.NoError(t, err)

	assert.Equal(t, 1, cat.Len())
	_, ok := cat.Lookup("SWORD.ITM")
	assert.False(t, ok)
	got, err := cat.ReadResource("ONLY.ITM")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestWriterNewArchiveAfterExisting(t *testing.T) {
	t.Parallel()

	dir, f := gameDir(t, FormatPlain)
	cat := loadGame(t, dir, nil)

	w := NewWriter(cat, "data/PATCH.BIF", WithFormat(FormatWholeFile))
	w.AddFlat(PendingResource{Name: "SWORD", Type: TypeITM, Source: CatalogSource(cat, "SWORD.ITM")})
	res, err := w.Write()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Archive.Index)
	assert.Equal(t, `data\PATCH.BIF`, res.Archive.Name)

	loc, ok := cat.Lookup("SWORD.ITM")
	require.True(t, ok)
	assert.Equal(t, uint16(1), loc.Archive())

	got, err := cat.ReadResource("SWORD.ITM")
	require.NoError(t, err)
	assert.Equal(t, f.flat[1].Data, got)

	// Entries of the first archive are untouched.
	got, err = cat.ReadResource("TABLE.2DA")
	require.NoError(t, err)
	assert.Equal(t, f.flat[0].Data, got)
}

func TestWriterFailureLeavesArchiveUntouched(t *testing.T) {
	t.Parallel()

	failing := SourceFunc(func() (io.ReadCloser, error) {
		return nil, errors.New("disk on fire")
	})

	tests := []struct {
		name    string
		add     func(w *Writer)
		wantErr error
	}{
		{
			name: "source fails",
			add: func(w *Writer) {
				w.AddFlat(PendingResource{Name: "A", Type: TypeITM, Source: BytesSource([]byte("a"))})
				w.AddFlat(PendingResource{Name: "B", Type: TypeITM, Source: failing})
			},
		},
		{
			name: "tileset without header",
			add: func(w *Writer) {
				w.AddTileset(PendingResource{Name: "T", Type: TypeTIS, Source: BytesSource([]byte("not a tile sheet at all, sorry"))})
			},
			wantErr: ErrFormat,
		},
		{
			name: "tileset shorter than declared",
			add: func(w *Writer) {
				w.AddTileset(PendingResource{Name: "T", Type: TypeTIS, Source: BytesSource(testutil.TileSheet(4, 64, make([]byte, 100)))})
			},
			wantErr: ErrFormat,
		},
		{
			name: "too many tilesets",
			add: func(w *Writer) {
				for i := range MaxTileIndex + 1 {
					name := fmt.Sprintf("T%02d", i)
					w.AddTileset(PendingResource{Name: name, Type: TypeTIS, Source: BytesSource(testutil.TileSheet(0, 0, nil))})
				}
			},
			wantErr: ErrRange,
		},
		{
			name: "name too long",
			add: func(w *Writer) {
				w.AddFlat(PendingResource{Name: "NINECHARS", Type: TypeITM, Source: BytesSource(nil)})
			},
			wantErr: ErrRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir, f := gameDir(t, FormatPlain)
			cat := loadGame(t, dir, nil)
			archivePath := filepath.Join(dir, "data", "BASE.BIF")
			before, err := os.ReadFile(archivePath)
			require.NoError(t, err)
			entries := cat.Entries()

			w := NewWriter(cat, `data\BASE.BIF`, WithFormat(FormatBlock))
			tt.add(w)
			_, err = w.Write()
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}

			after, err := os.ReadFile(archivePath)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Equal(t, []string{"BASE.BIF"}, dirNames(t, filepath.Join(dir, "data")))
			assert.Equal(t, entries, cat.Entries())

			got, err := cat.ReadResource("SWORD.ITM")
			require.NoError(t, err)
			assert.Equal(t, f.flat[1].Data, got)
		})
	}
}

func TestWriterLastAddWins(t *testing.T) {
	t.Parallel()

	_, cat := emptyGame(t)
	w := NewWriter(cat, `data\X.BIF`)
	w.AddFlat(PendingResource{Name: "dup", Type: TypeITM, Source: BytesSource([]byte("first"))})
	w.AddFlat(PendingResource{Name: "other", Type: TypeITM, Source: BytesSource([]byte("other"))})
	w.AddFlat(PendingResource{Name: "DUP", Type: TypeITM, Source: BytesSource([]byte("second"))})
	w.AddFlat(PendingResource{Name: "tis", Type: TypeTIS, Source: BytesSource(nil)})
	w.AddTileset(PendingResource{Name: "tis", Type: TypeTIS, Source: BytesSource(testutil.TileSheet(1, 4, []byte("abcd")))})
	assert.Equal(t, 3, w.Len())

	res, err := w.Write()
	require.NoError(t, err)
	require.Len(t, res.Resources, 3)

	got, err := cat.ReadResource("DUP.ITM")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	e, err := cat.ResourceInfo("TIS.TIS")
	require.NoError(t, err)
	assert.Equal(t, KindTile, e.Kind)

	other, err := cat.ResourceInfo("OTHER.ITM")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), other.Index)
}

func TestWriterKeepsOverlayPriority(t *testing.T) {
	t.Parallel()

	dir, _ := gameDir(t, FormatPlain)
	dlcData := []byte("overlay")
	overlay := writeOverlay(t, dir, dlcData)
	cat := loadGame(t, dir, []string{overlay})

	w := NewWriter(cat, `data\PATCH.BIF`)
	w.AddFlat(PendingResource{Name: "TABLE", Type: Type2DA, Source: BytesSource([]byte("packed"))})
	res, err := w.Write()
	require.NoError(t, err)
	require.Len(t, res.Resources, 1)

	readTable := func() []byte {
		t.Helper()
		got, err := cat.ReadResource("TABLE.2DA")
		require.NoError(t, err)
		return got
	}
	assert.Equal(t, dlcData, readTable(), "overlay still shadows the primary catalog")

	// Unrelated catalog changes do not change which entry wins.
	_, err = cat.AppendArchive(`data\EXTRA.BIF`, 1)
	require.NoError(t, err)
	require.NoError(t, cat.RemoveArchive(2))
	assert.Equal(t, dlcData, readTable())

	// The packed data is reachable through the primary archive.
	desc, err := cat.Archive(1)
	require.NoError(t, err)
	r, err := cat.OpenArchive(desc)
	require.NoError(t, err)
	got, err := r.ReadEntry(res.Resources[0].Locator)
	require.NoError(t, err)
	assert.Equal(t, []byte("packed"), got)

	// Reloading the saved catalog agrees.
	require.NoError(t, cat.Save())
	reloaded := loadGame(t, dir, []string{overlay})
	got, err = reloaded.ReadResource("TABLE.2DA")
	require.NoError(t, err)
	assert.Equal(t, dlcData, got)
}

func TestWriterAddArchiveContentsUnknownArchive(t *testing.T) {
	t.Parallel()

	_, cat := emptyGame(t)
	w := NewWriter(cat, `data\NOPE.BIF`)
	require.ErrorIs(t, w.AddArchiveContents(), ErrNotFound)
}

func TestWriterPacksOverrideFolder(t *testing.T) {
	t.Parallel()

	_, cat := emptyGame(t)
	override := t.TempDir()
	tiles := testutil.Pattern(2*16, 5)
	testutil.WriteFile(t, override, "sw1h01.itm", []byte("sword"))
	testutil.WriteFile(t, override, "AR0200.TIS", testutil.TileSheet(2, 16, tiles))
	testutil.WriteFile(t, override, "readme.txt", []byte("not a resource"))
	testutil.WriteFile(t, override, "sub/NESTED.ITM", []byte("ignored"))

	res, skipped, err := DirResources(override)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"readme.txt", "sub"}, skipped)
	require.Len(t, res, 2)
	assert.Equal(t, "AR0200.TIS", res[0].Key())
	assert.Equal(t, "SW1H01.ITM", res[1].Key())

	w := NewWriter(cat, `data\OVERRIDE.BIF`, WithFormat(FormatBlock))
	w.AddResources(res)
	_, err = w.Write()
	require.NoError(t, err)

	e, err := cat.ResourceInfo("AR0200.TIS")
	require.NoError(t, err)
	assert.Equal(t, KindTile, e.Kind)
	got, err := cat.ReadResource("AR0200.TIS")
	require.NoError(t, err)
	assert.Equal(t, testutil.TileSheet(2, 16, tiles), got)

	got, err = cat.ReadResource("SW1H01.ITM")
	require.NoError(t, err)
	assert.Equal(t, []byte("sword"), got)
}

func TestWriterRejectsEscapingArchiveName(t *testing.T) {
	t.Parallel()

	_, cat := emptyGame(t)
	w := NewWriter(cat, `..\outside.bif`)
	w.AddFlat(PendingResource{Name: "A", Type: TypeITM, Source: BytesSource([]byte("a"))})
	_, err := w.Write()
	require.ErrorIs(t, err, ErrRange)
}
