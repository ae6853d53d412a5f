package bif

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	for _, fmtKind := range allFormats {
		t.Run(fmtKind.String(), func(t *testing.T) {
			t.Parallel()

			dir, f := gameDir(t, fmtKind)
			cat := loadGame(t, dir, nil)
			out := filepath.Join(t.TempDir(), "out")

			stats, err := cat.Extract(context.Background(),
				[]string{"sword.itm", "TABLE.2DA", "AR0100.TIS", "EMPTY.BCS", "GHOST.ITM", "SWORD.ITM"},
				out, WithExtractWorkers(2))
			require.NoError(t, err)
			assert.Equal(t, 4, stats.Written)
			assert.Zero(t, stats.Skipped)
			assert.Equal(t, []string{"GHOST.ITM"}, stats.Missing)

			want := map[string][]byte{
				"TABLE.2DA":  f.flat[0].Data,
				"SWORD.ITM":  f.flat[1].Data,
				"EMPTY.BCS":  f.flat[2].Data,
				"AR0100.TIS": f.want()[Locator(f.tile[0].Locator)],
			}
			var total int64
			for name, data := range want {
				got, err := os.ReadFile(filepath.Join(out, name))
				require.NoError(t, err, name)
				assert.Equal(t, data, got, name)
				total += int64(len(data))
			}
			assert.Equal(t, total, stats.Bytes)
		})
	}
}

func TestExtractSkipsExisting(t *testing.T) {
	t.Parallel()

	dir, f := gameDir(t, FormatPlain)
	cat := loadGame(t, dir, nil)
	out := t.TempDir()
	existing := filepath.Join(out, "SWORD.ITM")
	require.NoError(t, os.WriteFile(existing, []byte("keep me"), 0o600))

	stats, err := cat.Extract(context.Background(), []string{"SWORD.ITM", "TABLE.2DA"}, out, WithOverwrite(false))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, 1, stats.Skipped)

	got, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep me"), got)

	stats, err = cat.Extract(context.Background(), []string{"SWORD.ITM"}, out)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	got, err = os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, f.flat[1].Data, got)
}

func TestExtractMissingArchive(t *testing.T) {
	t.Parallel()

	dir, _ := gameDir(t, FormatPlain)
	cat := loadGame(t, dir, nil)
	require.NoError(t, os.Remove(filepath.Join(dir, "data", "BASE.BIF")))

	stats, err := cat.Extract(context.Background(), []string{"SWORD.ITM", "TABLE.2DA"}, t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, stats.Written)
	assert.Equal(t, []string{"SWORD.ITM", "TABLE.2DA"}, stats.Missing)
}

func TestExtractCanceled(t *testing.T) {
	t.Parallel()

	dir, _ := gameDir(t, FormatPlain)
	cat := loadGame(t, dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cat.Extract(ctx, []string{"SWORD.ITM"}, t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}
