package bif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		archive uint16
		offset  uint32
		kind    Kind
		want    Locator
	}{
		{name: "first flat", archive: 0, offset: 0, kind: KindFlat, want: 0},
		{name: "flat", archive: 3, offset: 17, kind: KindFlat, want: 0x00300011},
		{name: "max flat", archive: MaxArchiveIndex, offset: MaxFlatIndex, kind: KindFlat, want: 0xfff03fff},
		{name: "first tile", archive: 0, offset: 1, kind: KindTile, want: 0x00004000},
		{name: "tile", archive: 2, offset: 5, kind: KindTile, want: 0x00214000},
		{name: "max tile", archive: MaxArchiveIndex, offset: MaxTileIndex, kind: KindTile, want: 0xffffc000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			loc, err := Encode(tt.archive, tt.offset, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, loc)

			archive, offset, kind := loc.Decode()
			assert.Equal(t, tt.archive, archive)
			assert.Equal(t, tt.offset, offset)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestLocatorExhaustiveFields(t *testing.T) {
	t.Parallel()

	seen := make(map[Locator][3]uint32)
	check := func(archive uint16, offset uint32, kind Kind) {
		loc, err := Encode(archive, offset, kind)
		require.NoError(t, err)
		a, o, k := loc.Decode()
		require.Equal(t, archive, a)
		require.Equal(t, offset, o)
		require.Equal(t, kind, k)

		key := [3]uint32{uint32(archive), offset, uint32(kind)}
		prev, dup := seen[loc]
		require.False(t, dup, "%v and %v encode to %s", prev, key, loc)
		seen[loc] = key
	}

	for _, archive := range []uint16{0, 1, 2, 100, MaxArchiveIndex} {
		for offset := uint32(0); offset <= MaxFlatIndex; offset += 97 {
			check(archive, offset, KindFlat)
		}
		check(archive, MaxFlatIndex, KindFlat)
		for offset := uint32(1); offset <= MaxTileIndex; offset++ {
			check(archive, offset, KindTile)
		}
	}
}

func TestEncodeRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		archive uint16
		offset  uint32
		kind    Kind
	}{
		{name: "archive too large", archive: MaxArchiveIndex + 1, offset: 0, kind: KindFlat},
		{name: "flat index too large", archive: 0, offset: MaxFlatIndex + 1, kind: KindFlat},
		{name: "tile index zero", archive: 0, offset: 0, kind: KindTile},
		{name: "tile index too large", archive: 0, offset: MaxTileIndex + 1, kind: KindTile},
		{name: "unknown kind", archive: 0, offset: 0, kind: Kind(9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Encode(tt.archive, tt.offset, tt.kind)
			require.ErrorIs(t, err, ErrRange)
		})
	}
}

func TestLocatorWithArchive(t *testing.T) {
	t.Parallel()

	loc, err := Encode(5, 9, KindTile)
	require.NoError(t, err)

	moved, err := loc.WithArchive(4)
	require.NoError(t, err)
	archive, offset, kind := moved.Decode()
	assert.Equal(t, uint16(4), archive)
	assert.Equal(t, uint32(9), offset)
	assert.Equal(t, KindTile, kind)

	_, err = loc.WithArchive(MaxArchiveIndex + 1)
	require.ErrorIs(t, err, ErrRange)
}

func TestLocatorString(t *testing.T) {
	t.Parallel()

	loc, err := Encode(1, 2, KindFlat)
	require.NoError(t, err)
	assert.Contains(t, loc.String(), "archive=1")
	assert.Contains(t, loc.String(), "flat=2")
}
