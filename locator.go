package bif

import (
	"fmt"
)

// Kind distinguishes flat archive entries from tileset entries.
type Kind uint8

const (
	KindFlat Kind = iota
	KindTile
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindTile:
		return "tile"
	default:
		return "unknown"
	}
}

// Locator is the persisted 32-bit identifier of a resource inside an archive.
//
// Bits 31..20 hold the archive index, bits 19..14 the tileset index (1-based,
// zero for flat entries) and bits 13..0 the flat entry index.
type Locator uint32

// Locator field limits.
const (
	MaxArchiveIndex = 1<<12 - 1
	MaxFlatIndex    = 1<<14 - 1
	MaxTileIndex    = 1<<6 - 1
)

const (
	archiveShift = 20
	tileShift    = 14
	flatMask     = MaxFlatIndex
	tileMask     = MaxTileIndex
)

// Encode packs an archive index, an entry index and an entry kind into a
// Locator. Tileset indices start at 1; flat indices start at 0.
func Encode(archive uint16, offset uint32, kind Kind) (Locator, error) {
	if archive > MaxArchiveIndex {
		return 0, fmt.Errorf("%w: archive index %d exceeds %d", ErrRange, archive, MaxArchiveIndex)
	}
	base := uint32(archive) << archiveShift
	switch kind {
	case KindFlat:
		if offset > MaxFlatIndex {
			return 0, fmt.Errorf("%w: flat index %d exceeds %d", ErrRange, offset, MaxFlatIndex)
		}
		return Locator(base | offset), nil
	case KindTile:
		if offset == 0 || offset > MaxTileIndex {
			return 0, fmt.Errorf("%w: tileset index %d outside 1..%d", ErrRange, offset, MaxTileIndex)
		}
		return Locator(base | offset<<tileShift), nil
	default:
		return 0, fmt.Errorf("%w: unknown entry kind %d", ErrRange, kind)
	}
}

// Decode unpacks the locator into its archive index, entry index and kind.
func (l Locator) Decode() (archive uint16, offset uint32, kind Kind) {
	return l.Archive(), l.Index(), l.Kind()
}

// Archive returns the archive index.
func (l Locator) Archive() uint16 {
	return uint16(uint32(l) >> archiveShift) //nolint:gosec // 12-bit field
}

// Kind reports whether the locator addresses a tileset or a flat entry.
func (l Locator) Kind() Kind {
	if l.tileIndex() != 0 {
		return KindTile
	}
	return KindFlat
}

// Index returns the entry index within the archive for the locator's kind.
func (l Locator) Index() uint32 {
	if t := l.tileIndex(); t != 0 {
		return t
	}
	return l.flatIndex()
}

// WithArchive returns the locator moved to another archive index.
func (l Locator) WithArchive(archive uint16) (Locator, error) {
	return Encode(archive, l.Index(), l.Kind())
}

func (l Locator) flatIndex() uint32 {
	return uint32(l) & flatMask
}

func (l Locator) tileIndex() uint32 {
	return uint32(l) >> tileShift & tileMask
}

func (l Locator) String() string {
	return fmt.Sprintf("%#08x(archive=%d %s=%d)", uint32(l), l.Archive(), l.Kind(), l.Index())
}
