package bif

import (
	"fmt"
	"math"

	"github.com/meigma/bif/internal/fileops"
	"github.com/meigma/bif/internal/format"
)

// Serialize encodes the primary catalog: header, archive table, archive name
// strings and resource table, in that order. Name offsets are recomputed;
// overlay catalogs are not included.
func (c *Catalog) Serialize() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return serializeFile(c.files[0])
}

func serializeFile(f *catalogFile) ([]byte, error) {
	recSize := format.ArchiveRecordSize
	if f.legacy {
		recSize = format.LegacyArchiveSize
	}

	names := make([][]byte, len(f.archives))
	namesLen := 0
	for i, a := range f.archives {
		b, err := format.EncodeString(a.Name)
		if err != nil {
			return nil, fmt.Errorf("serialize archive %d: %w", i, err)
		}
		b = append(b, 0)
		if len(b) > math.MaxUint16 {
			return nil, fmt.Errorf("serialize archive %d: %w: name too long", i, ErrRange)
		}
		names[i] = b
		namesLen += len(b)
	}

	archiveOff := format.CatalogHeaderSize
	namesOff := archiveOff + len(f.archives)*recSize
	resourceOff := namesOff + namesLen
	total := resourceOff + len(f.entries)*format.ResourceRecordSize
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("serialize catalog: %w: %d bytes", ErrRange, total)
	}

	out := make([]byte, 0, total)
	out = format.AppendCatalogHeader(out, format.CatalogHeader{
		ArchiveCount:   uint32(len(f.archives)), //nolint:gosec // bounded by total
		ResourceCount:  uint32(len(f.entries)),  //nolint:gosec // bounded by total
		ArchiveOffset:  uint32(archiveOff),      //nolint:gosec // bounded by total
		ResourceOffset: uint32(resourceOff),     //nolint:gosec // bounded by total
	})

	nameOff := namesOff
	for i, a := range f.archives {
		out = format.AppendArchiveRecord(out, format.ArchiveRecord{
			Size:       a.Size,
			NameOffset: uint32(nameOff),       //nolint:gosec // bounded by total
			NameLength: uint16(len(names[i])), //nolint:gosec // checked above
			Location:   a.Location,
		}, f.legacy)
		nameOff += len(names[i])
	}
	for _, n := range names {
		out = append(out, n...)
	}

	for _, e := range f.entries {
		b, err := format.EncodeString(e.Name)
		if err != nil {
			return nil, fmt.Errorf("serialize resource %s: %w", e.Key(), err)
		}
		if len(b) > format.ResourceNameSize {
			return nil, fmt.Errorf("serialize resource %s: %w: name longer than %d bytes", e.Key(), ErrRange, format.ResourceNameSize)
		}
		rec := format.ResourceRecord{Type: uint16(e.Type), Locator: uint32(e.Locator)}
		copy(rec.Name[:], b)
		out = format.AppendResourceRecord(out, rec)
	}
	return out, nil
}

// Save atomically rewrites the primary catalog file with Serialize's output.
func (c *Catalog) Save() error {
	data, err := c.Serialize()
	if err != nil {
		return err
	}
	if err := fileops.WriteFileAtomic(c.Path(), data); err != nil {
		return fmt.Errorf("save catalog %s: %w", c.Path(), err)
	}
	c.log().Debug("catalog saved", "path", c.Path(), "bytes", len(data))
	return nil
}
