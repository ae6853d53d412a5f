package bif

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/bif/internal/fileops"
	"github.com/meigma/bif/internal/format"
	"github.com/meigma/bif/internal/pathutil"
	"github.com/meigma/bif/internal/sizing"
	"github.com/meigma/bif/internal/stream"
	"github.com/meigma/bif/internal/write"
)

// PackedResource describes a resource after a successful Write.
type PackedResource struct {
	Name    string
	Type    Type
	Kind    Kind
	Locator Locator

	// Size is the number of bytes a read of the resource returns.
	Size int64

	// Digest is the SHA-256 digest of those bytes.
	Digest digest.Digest
}

// Key returns the case-insensitive lookup key "NAME.EXT".
func (p PackedResource) Key() string {
	return ResourceKey(p.Name, p.Type)
}

// WriteResult reports the archive written by Writer.Write.
type WriteResult struct {
	Archive   ArchiveDescriptor
	Format    Format
	Resources []PackedResource
}

// pendingRef locates a queued resource.
type pendingRef struct {
	kind Kind
	pos  int
}

// Writer packs resources into a fresh archive and republishes their
// locators through a catalog.
//
// Write is an exclusive batch operation. Callers must not read the resources
// being packed while it runs, and must drop locators it superseded once it
// returns successfully.
type Writer struct {
	cat  *Catalog
	name string

	format      Format
	blockSize   int
	level       int
	concurrency int
	location    uint16
	logger      *slog.Logger

	flat    []PendingResource
	tile    []PendingResource
	pending map[string]pendingRef
}

// NewWriter creates a writer for the archive recorded in cat as archiveName
// (for example "data\\patch.bif"; forward slashes are recorded as
// backslashes). If cat does not list the archive yet, a descriptor is
// appended when Write succeeds.
func NewWriter(cat *Catalog, archiveName string, opts ...WriterOption) *Writer {
	w := defaultWriter()
	w.cat = cat
	w.name = pathutil.FromSlash(archiveName)
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// log returns the logger, falling back to a discard logger if nil.
func (w *Writer) log() *slog.Logger {
	if w.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.logger
}

// AddFlat queues a flat resource. A resource queued earlier under the same
// name is replaced.
func (w *Writer) AddFlat(res PendingResource) {
	w.add(KindFlat, res)
}

// AddTileset queues a tileset resource. Its source must start with a
// tile-sheet header.
func (w *Writer) AddTileset(res PendingResource) {
	w.add(KindTile, res)
}

func (w *Writer) add(kind Kind, res PendingResource) {
	res.Name = normalizeName(res.Name)
	key := res.Key()
	if ref, ok := w.pending[key]; ok {
		if ref.kind == kind {
			(*w.list(kind))[ref.pos] = res
			return
		}
		w.remove(ref)
	}
	list := w.list(kind)
	w.pending[key] = pendingRef{kind: kind, pos: len(*list)}
	*list = append(*list, res)
}

func (w *Writer) list(kind Kind) *[]PendingResource {
	if kind == KindTile {
		return &w.tile
	}
	return &w.flat
}

func (w *Writer) remove(ref pendingRef) {
	list := w.list(ref.kind)
	*list = slices.Delete(*list, ref.pos, ref.pos+1)
	for i := ref.pos; i < len(*list); i++ {
		w.pending[(*list)[i].Key()] = pendingRef{kind: ref.kind, pos: i}
	}
}

// Len returns the number of queued resources.
func (w *Writer) Len() int {
	return len(w.flat) + len(w.tile)
}

// AddResources queues each resource, tile-sheet types as tilesets and
// everything else as flat resources.
func (w *Writer) AddResources(res []PendingResource) {
	for _, r := range res {
		if r.Type == TypeTIS {
			w.AddTileset(r)
			continue
		}
		w.AddFlat(r)
	}
}

// AddArchiveContents queues every primary-catalog resource currently stored
// in the target archive, so that Write repacks them alongside new ones.
// Resources already queued are left as they are.
func (w *Writer) AddArchiveContents() error {
	w.cat.mu.RLock()
	desc, ok := w.cat.findArchiveLocked(w.name)
	var entries []CatalogEntry
	if ok {
		for _, e := range w.cat.files[0].entries {
			if int(e.Locator.Archive()) == desc.Index {
				entries = append(entries, e)
			}
		}
	}
	w.cat.mu.RUnlock()
	if !ok {
		return fmt.Errorf("archive %s: %w", w.name, ErrNotFound)
	}

	for _, e := range entries {
		if _, queued := w.pending[e.Key()]; queued {
			continue
		}
		res := PendingResource{Name: e.Name, Type: e.Type, Source: archiveSource(w.cat, desc, e.Locator)}
		w.add(e.Locator.Kind(), res)
	}
	return nil
}

// archiveSource reads one entry of desc through the catalog's cache.
func archiveSource(cat *Catalog, desc ArchiveDescriptor, loc Locator) ResourceSource {
	return SourceFunc(func() (io.ReadCloser, error) {
		r, err := cat.OpenArchive(desc)
		if err != nil {
			return nil, err
		}
		return r.OpenEntry(loc)
	})
}

// target captures where the archive goes and which index it gets.
type target struct {
	desc   ArchiveDescriptor
	exists bool
}

// Write packs the queued resources, replaces the archive file and publishes
// the new locators.
//
// On failure before the archive file is replaced, the live archive and the
// catalog are untouched. Temporary files are removed on every path.
func (w *Writer) Write() (res *WriteResult, err error) {
	for _, list := range [][]PendingResource{w.flat, w.tile} {
		for _, r := range list {
			if err := validateName(r); err != nil {
				return nil, fmt.Errorf("write archive %s: %w", w.name, err)
			}
		}
	}
	tgt, err := w.resolveTarget()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(tgt.desc.Path), 0o750); err != nil {
		return nil, fmt.Errorf("write archive %s: %w", w.name, err)
	}

	temps := fileops.NewTempSet(filepath.Dir(tgt.desc.Path))
	defer func() {
		if cerr := temps.Cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	// Steps 1-2: assign indices and stream the plain layout.
	packed, locs, err := w.assign(uint16(tgt.desc.Index)) //nolint:gosec // checked in resolveTarget
	if err != nil {
		return nil, err
	}
	plainPath, err := w.writePlain(temps, packed, locs)
	if err != nil {
		return nil, fmt.Errorf("write archive %s: %w", w.name, err)
	}
	w.log().Debug("plain archive staged", "archive", w.name, "flat", len(w.flat), "tile", len(w.tile))

	// Step 3: re-encode.
	finalPath := plainPath
	if w.format != FormatPlain {
		finalPath, err = w.encode(temps, plainPath, filepath.Base(tgt.desc.Path))
		if err != nil {
			return nil, fmt.Errorf("encode archive %s: %w", w.name, err)
		}
		w.log().Debug("archive encoded", "archive", w.name, "format", w.format)
	}
	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("write archive %s: %w", w.name, err)
	}
	size, err := sizing.ToUint32(info.Size(), ErrRange)
	if err != nil {
		return nil, fmt.Errorf("write archive %s: %w", w.name, err)
	}

	w.cat.mu.Lock()
	defer w.cat.mu.Unlock()
	if !tgt.exists && len(w.cat.files[0].archives) != tgt.desc.Index {
		return nil, fmt.Errorf("write archive %s: archive table changed during write", w.name)
	}

	// Step 4: no reader may keep the old file open.
	if err := w.cat.cache.Invalidate(tgt.desc.Path); err != nil {
		return nil, fmt.Errorf("write archive %s: %w", w.name, err)
	}

	// Step 5: replace the live file.
	if err := fileops.Replace(finalPath, tgt.desc.Path); err != nil {
		return nil, fmt.Errorf("replace archive %s: %w", tgt.desc.Path, err)
	}
	temps.Release(finalPath)

	// Step 6: publish.
	desc := tgt.desc
	if !tgt.exists {
		appended, err := w.cat.appendArchiveLocked(w.name, w.location)
		if err != nil {
			return nil, err
		}
		desc.Location = appended.Location
	}
	desc.Size = size
	w.cat.setArchiveLocked(desc)

	entries := make([]CatalogEntry, len(packed))
	for i, p := range packed {
		entries[i] = CatalogEntry{Name: p.Name, Type: p.Type, Locator: p.Locator}
	}
	w.cat.republishLocked(desc.Index, entries)
	w.log().Debug("archive written", "archive", w.name, "path", desc.Path, "bytes", size, "resources", len(packed))

	return &WriteResult{Archive: desc, Format: w.format, Resources: packed}, nil
}

// resolveTarget finds the descriptor the archive will use.
func (w *Writer) resolveTarget() (target, error) {
	if !pathutil.IsLocal(w.name) || len(pathutil.Components(w.name)) == 0 {
		return target{}, fmt.Errorf("write archive %q: %w: name must be relative to the catalog folder", w.name, ErrRange)
	}
	w.cat.mu.RLock()
	defer w.cat.mu.RUnlock()

	primary := w.cat.files[0]
	if desc, ok := w.cat.findArchiveLocked(w.name); ok {
		if desc.Path == "" {
			desc.Path = primary.resolver.target(desc.Name)
		}
		return target{desc: desc, exists: true}, nil
	}
	index := len(primary.archives)
	if index > MaxArchiveIndex {
		return target{}, fmt.Errorf("write archive %s: %w: catalog already lists %d archives", w.name, ErrRange, index)
	}
	return target{
		desc: ArchiveDescriptor{
			Index:    index,
			Name:     w.name,
			Path:     primary.resolver.target(w.name),
			Location: w.location,
		},
	}, nil
}

// assign gives every queued resource its new locator: flat entries are
// numbered from 0 and tileset entries from 1.
func (w *Writer) assign(archive uint16) ([]PackedResource, []Locator, error) {
	packed := make([]PackedResource, 0, w.Len())
	locs := make([]Locator, 0, w.Len())
	for i, r := range w.flat {
		loc, err := Encode(archive, uint32(i), KindFlat) //nolint:gosec // Encode range-checks
		if err != nil {
			return nil, nil, fmt.Errorf("write archive %s: %d flat resources: %w", w.name, len(w.flat), err)
		}
		packed = append(packed, PackedResource{Name: r.Name, Type: r.Type, Kind: KindFlat, Locator: loc})
		locs = append(locs, loc)
	}
	for i, r := range w.tile {
		loc, err := Encode(archive, uint32(i+1), KindTile) //nolint:gosec // Encode range-checks
		if err != nil {
			return nil, nil, fmt.Errorf("write archive %s: %d tileset resources: %w", w.name, len(w.tile), err)
		}
		packed = append(packed, PackedResource{Name: r.Name, Type: r.Type, Kind: KindTile, Locator: loc})
		locs = append(locs, loc)
	}
	return packed, locs, nil
}

// writePlain streams every resource into a temp file in the plain layout:
// header, entry table, flat data, then tileset data. Header and table are
// written last, once offsets and sizes are known.
func (w *Writer) writePlain(temps *fileops.TempSet, packed []PackedResource, locs []Locator) (string, error) {
	f, err := temps.Create(".bif-plain-*")
	if err != nil {
		return "", err
	}
	defer f.Close()

	hdr := format.PlainHeader{
		FileCount:   uint32(len(w.flat)), //nolint:gosec // bounded by locator range
		TileCount:   uint32(len(w.tile)), //nolint:gosec // bounded by locator range
		TableOffset: format.PlainHeaderSize,
	}
	tableSize, _ := hdr.TableSize() // small: counts are bounded by locator range
	dataStart := int64(format.PlainHeaderSize) + int64(tableSize)
	if _, err := f.Seek(dataStart, io.SeekStart); err != nil {
		return "", err
	}

	bw := bufio.NewWriterSize(f, 64*1024)
	cw := &stream.CountingWriter{W: bw, N: uint64(dataStart)} //nolint:gosec // dataStart is positive
	table := &format.EntryTable{}
	buf := make([]byte, write.BufferSize)

	for i, r := range w.flat {
		off, err := sizing.ToUint32(int64(cw.N), ErrRange) //nolint:gosec // bounded by uint32 checks
		if err != nil {
			return "", fmt.Errorf("%s: archive exceeds 4GiB: %w", r.Key(), err)
		}
		n, dgst, err := copyFlat(cw, r, buf)
		if err != nil {
			return "", fmt.Errorf("%s: %w", r.Key(), err)
		}
		size, err := sizing.ToUint32(n, ErrRange)
		if err != nil {
			return "", fmt.Errorf("%s: %w", r.Key(), err)
		}
		table.Flat = append(table.Flat, format.FlatRecord{
			Locator: uint32(locs[i]),
			Offset:  off,
			Size:    size,
			Type:    uint16(r.Type),
		})
		packed[i].Size = n
		packed[i].Digest = dgst
	}
	for i, r := range w.tile {
		j := len(w.flat) + i
		off, err := sizing.ToUint32(int64(cw.N), ErrRange) //nolint:gosec // bounded by uint32 checks
		if err != nil {
			return "", fmt.Errorf("%s: archive exceeds 4GiB: %w", r.Key(), err)
		}
		count, tileSize, dgst, err := copyTileset(cw, r, buf)
		if err != nil {
			return "", fmt.Errorf("%s: %w", r.Key(), err)
		}
		table.Tile = append(table.Tile, format.TileRecord{
			Locator:   uint32(locs[j]),
			Offset:    off,
			TileCount: count,
			TileSize:  tileSize,
			Type:      uint16(r.Type),
		})
		packed[j].Size = int64(count)*int64(tileSize) + TileHeaderSize
		packed[j].Digest = dgst
	}
	if _, err := sizing.ToUint32(int64(cw.N), ErrRange); err != nil { //nolint:gosec // bounded above
		return "", fmt.Errorf("archive exceeds 4GiB: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return "", err
	}

	head := format.AppendPlainHeader(make([]byte, 0, dataStart), hdr)
	head = format.AppendEntryTable(head, table)
	if _, err := f.WriteAt(head, 0); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// copyFlat streams a flat resource and returns its size and digest.
func copyFlat(dst io.Writer, r PendingResource, buf []byte) (int64, digest.Digest, error) {
	src, err := openSource(r)
	if err != nil {
		return 0, "", err
	}
	defer src.Close()

	return write.Digested(context.Background(), dst, src, buf, nil)
}

// copyTileset strips the tile-sheet header from a tileset resource and
// streams exactly tileCount*tileSize bytes of tile data.
func copyTileset(dst io.Writer, r PendingResource, buf []byte) (count, size uint32, dgst digest.Digest, err error) {
	src, err := openSource(r)
	if err != nil {
		return 0, 0, "", err
	}
	defer src.Close()

	hdr := make([]byte, TileHeaderSize)
	if _, err := io.ReadFull(src, hdr); err != nil {
		return 0, 0, "", fmt.Errorf("%w: read tile-sheet header: %v", ErrFormat, err)
	}
	count, size, err = format.ParseTileSheetHeader(hdr)
	if err != nil {
		return 0, 0, "", err
	}
	raw, ok := sizing.MulUint32(count, size)
	if !ok {
		return 0, 0, "", fmt.Errorf("%w: %d tiles of %d bytes", ErrRange, count, size)
	}
	// Readers synthesize the header, so the digest covers that form.
	prefix := format.AppendTileSheetHeader(nil, count, size)
	_, dgst, err = write.Digested(context.Background(), dst, &stream.ExactReader{R: src, N: int64(raw)}, buf, prefix)
	if err != nil {
		if errors.Is(err, ErrIntegrity) {
			return 0, 0, "", fmt.Errorf("%w: tile data shorter than %d bytes", ErrFormat, raw)
		}
		return 0, 0, "", err
	}
	var extra [1]byte
	if n, _ := src.Read(extra[:]); n > 0 {
		return 0, 0, "", fmt.Errorf("%w: tile data longer than %d bytes", ErrFormat, raw)
	}
	return count, size, dgst, nil
}

func openSource(r PendingResource) (io.ReadCloser, error) {
	if r.Source == nil {
		return nil, fmt.Errorf("%w: no source", ErrNotFound)
	}
	return r.Source.Open()
}

// normalizeName upper-cases a resource name.
func normalizeName(name string) string {
	return strings.ToUpper(name)
}

// validateName checks that name fits the catalog's resource name field.
func validateName(res PendingResource) error {
	b, err := format.EncodeString(res.Name)
	if err != nil {
		return fmt.Errorf("%s: %w", res.Key(), err)
	}
	if len(b) == 0 || len(b) > format.ResourceNameSize {
		return fmt.Errorf("%s: %w: name must be 1 to %d bytes", res.Key(), ErrRange, format.ResourceNameSize)
	}
	return nil
}
