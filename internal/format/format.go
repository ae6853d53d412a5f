// Package format encodes and decodes the fixed binary layouts of catalog
// ("KEY") files, archive ("BIFF") files and the synthesized tile-sheet header.
//
// All integers are little-endian. The package only deals with byte layouts;
// resolving names, locators and files is left to the bif package.
package format

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/bif/internal/biftype"
)

var le = binary.LittleEndian

// Signatures and versions, each 8 bytes including the version.
const (
	SigCatalog   = "KEY V1  "
	SigPlain     = "BIFFV1  "
	SigWholeFile = "BIF V1.0"
	SigBlock     = "BIFCV1.0"
	SigTileSheet = "TIS V1  "
)

// Layout sizes.
const (
	SignatureSize      = 8
	CatalogHeaderSize  = 24
	ArchiveRecordSize  = 12
	LegacyArchiveSize  = 8
	ResourceRecordSize = 14
	ResourceNameSize   = 8

	PlainHeaderSize  = 20
	FlatRecordSize   = 16
	TileRecordSize   = 20
	BlockHeaderSize  = 8
	TileSheetSize    = 24
	TileSheetDataOff = 0x18
	TileDimension    = 0x40
)

// Kind identifies an archive encoding detected from its signature.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPlain
	KindWholeFile
	KindBlock
)

// Detect returns the archive kind for an 8-byte signature.
func Detect(sig []byte) Kind {
	if len(sig) < SignatureSize {
		return KindUnknown
	}
	switch string(sig[:SignatureSize]) {
	case SigPlain:
		return KindPlain
	case SigWholeFile:
		return KindWholeFile
	case SigBlock:
		return KindBlock
	default:
		return KindUnknown
	}
}

// CatalogHeader is the fixed 24-byte header of a catalog file.
type CatalogHeader struct {
	ArchiveCount   uint32
	ResourceCount  uint32
	ArchiveOffset  uint32
	ResourceOffset uint32
}

// ParseCatalogHeader decodes and validates a catalog header.
func ParseCatalogHeader(b []byte) (CatalogHeader, error) {
	if len(b) < CatalogHeaderSize {
		return CatalogHeader{}, fmt.Errorf("%w: catalog header truncated (%d bytes)", biftype.ErrFormat, len(b))
	}
	if sig := string(b[:SignatureSize]); sig != SigCatalog {
		return CatalogHeader{}, fmt.Errorf("%w: catalog signature %q", biftype.ErrFormat, sig)
	}
	return CatalogHeader{
		ArchiveCount:   le.Uint32(b[8:]),
		ResourceCount:  le.Uint32(b[12:]),
		ArchiveOffset:  le.Uint32(b[16:]),
		ResourceOffset: le.Uint32(b[20:]),
	}, nil
}

// AppendCatalogHeader appends the encoded header to dst.
func AppendCatalogHeader(dst []byte, h CatalogHeader) []byte {
	dst = append(dst, SigCatalog...)
	dst = le.AppendUint32(dst, h.ArchiveCount)
	dst = le.AppendUint32(dst, h.ResourceCount)
	dst = le.AppendUint32(dst, h.ArchiveOffset)
	return le.AppendUint32(dst, h.ResourceOffset)
}

// ArchiveRecord is one entry of the catalog's archive table.
// Size is absent on disk in the legacy layout.
type ArchiveRecord struct {
	Size       uint32
	NameOffset uint32
	NameLength uint16
	Location   uint16
}

// ParseArchiveRecord decodes a record in the standard or legacy layout.
func ParseArchiveRecord(b []byte, legacy bool) ArchiveRecord {
	if legacy {
		return ArchiveRecord{
			NameOffset: le.Uint32(b[0:]),
			NameLength: le.Uint16(b[4:]),
			Location:   le.Uint16(b[6:]),
		}
	}
	return ArchiveRecord{
		Size:       le.Uint32(b[0:]),
		NameOffset: le.Uint32(b[4:]),
		NameLength: le.Uint16(b[8:]),
		Location:   le.Uint16(b[10:]),
	}
}

// AppendArchiveRecord appends the encoded record to dst.
func AppendArchiveRecord(dst []byte, r ArchiveRecord, legacy bool) []byte {
	if !legacy {
		dst = le.AppendUint32(dst, r.Size)
	}
	dst = le.AppendUint32(dst, r.NameOffset)
	dst = le.AppendUint16(dst, r.NameLength)
	return le.AppendUint16(dst, r.Location)
}

// ResourceRecord is one entry of the catalog's resource table.
type ResourceRecord struct {
	Name    [ResourceNameSize]byte
	Type    uint16
	Locator uint32
}

// ParseResourceRecord decodes a 14-byte resource record.
func ParseResourceRecord(b []byte) ResourceRecord {
	var r ResourceRecord
	copy(r.Name[:], b[:ResourceNameSize])
	r.Type = le.Uint16(b[8:])
	r.Locator = le.Uint32(b[10:])
	return r
}

// AppendResourceRecord appends the encoded record to dst.
func AppendResourceRecord(dst []byte, r ResourceRecord) []byte {
	dst = append(dst, r.Name[:]...)
	dst = le.AppendUint16(dst, r.Type)
	return le.AppendUint32(dst, r.Locator)
}

// CString returns b up to (not including) its first NUL byte.
func CString(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
