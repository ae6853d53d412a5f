package bif

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/bif/internal/testutil"
)

func TestReaderCacheCollapsesConcurrentOpens(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	path := testutil.WriteFile(t, t.TempDir(), "A.BIF", f.encode(t, FormatBlock, "A.BIF"))

	c := NewReaderCache()
	defer c.Close()

	const workers = 32
	readers := make([]Reader, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			r, err := c.Get(path)
			assert.NoError(t, err)
			readers[i] = r
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), c.Opens())
	assert.Equal(t, 1, c.Len())
	for _, r := range readers {
		assert.Same(t, readers[0], r)
	}
}

func TestReaderCacheInvalidate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "A.BIF", f.plain)

	c := NewReaderCache()
	defer c.Close()

	first, err := c.Get(path)
	require.NoError(t, err)

	again, err := c.Get(path)
	require.NoError(t, err)
	assert.Same(t, first, again)

	require.NoError(t, c.Invalidate(path))
	assert.Equal(t, 0, c.Len())
	require.NoError(t, c.Invalidate(path), "invalidating a missing entry is a no-op")

	second, err := c.Get(path)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(2), c.Opens())
}

func TestReaderCacheInvalidateDuringOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 0)
	path := testutil.WriteFile(t, t.TempDir(), "A.BIF", f.plain)

	c := NewReaderCache()
	defer c.Close()

	opening := make(chan struct{})
	proceed := make(chan struct{})
	var stale Reader
	c.open = func(p string, opts ...ReaderOption) (Reader, error) {
		r, err := Open(p, opts...)
		if stale == nil {
			stale = r
			close(opening)
			<-proceed
		}
		return r, err
	}

	type result struct {
		r   Reader
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := c.Get(path)
		done <- result{r, err}
	}()

	<-opening
	require.NoError(t, c.Invalidate(path))
	close(proceed)
	res := <-done
	require.NoError(t, res.err)

	assert.NotSame(t, stale, res.r)
	assert.Equal(t, int64(2), c.Opens())
	assert.Equal(t, 1, c.Len())

	cached, err := c.Get(path)
	require.NoError(t, err)
	assert.Same(t, res.r, cached)

	_, err = stale.ReadEntry(Locator(f.flat[0].Locator))
	require.Error(t, err, "the reader opened across Invalidate is closed")
	got, err := cached.ReadEntry(Locator(f.flat[0].Locator))
	require.NoError(t, err)
	assert.Equal(t, f.flat[0].Data, got)
}

func TestReaderCacheOpenError(t *testing.T) {
	t.Parallel()

	c := NewReaderCache()
	defer c.Close()

	_, err := c.Get(t.TempDir() + "/missing.bif")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, c.Len())

	_, err = c.Get("")
	require.ErrorIs(t, err, ErrNotFound)
}
