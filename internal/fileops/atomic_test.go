package fileops

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "chitin.key")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o600))

	require.NoError(t, WriteFileAtomic(target, []byte("new contents")))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("new contents"), got)
	assert.Equal(t, []string{"chitin.key"}, listDir(t, dir))
}

func TestStreamFileAtomicFailureKeepsTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "chitin.key")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o600))

	boom := errors.New("boom")
	err := StreamFileAtomic(target, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
	assert.Equal(t, []string{"chitin.key"}, listDir(t, dir))
}

func TestTempSet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	set := NewTempSet(dir)

	kept, err := set.Create(".archive-*")
	require.NoError(t, err)
	require.NoError(t, kept.Close())
	dropped, err := set.Create(".archive-*")
	require.NoError(t, err)
	require.NoError(t, dropped.Close())
	gone, err := set.Create(".archive-*")
	require.NoError(t, err)
	require.NoError(t, gone.Close())
	require.NoError(t, os.Remove(gone.Name()))

	final := filepath.Join(dir, "sub", "FINAL.BIF")
	require.NoError(t, Replace(kept.Name(), final))
	set.Release(kept.Name())

	require.NoError(t, set.Cleanup())
	assert.NoFileExists(t, dropped.Name())
	assert.FileExists(t, final)
	assert.Equal(t, []string{"sub"}, listDir(t, dir))

	require.NoError(t, set.Cleanup(), "second cleanup is a no-op")
}

func TestReplaceKeepsTargetMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "BASE.BIF")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o640))
	require.NoError(t, os.Chmod(target, 0o640))

	set := NewTempSet(dir)
	tmp, err := set.Create(".bif-*")
	require.NoError(t, err)
	_, err = tmp.WriteString("new")
	require.NoError(t, err)
	require.NoError(t, tmp.Close())

	require.NoError(t, Replace(tmp.Name(), target))
	set.Release(tmp.Name())

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	fresh := filepath.Join(dir, "NEW.BIF")
	require.NoError(t, WriteFileAtomic(fresh, []byte("x")))
	info, err = os.Stat(fresh)
	require.NoError(t, err)
	assert.Equal(t, DefaultMode, info.Mode().Perm())
}
