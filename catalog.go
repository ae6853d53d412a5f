package bif

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/meigma/bif/internal/format"
	"github.com/meigma/bif/internal/pathutil"
	"github.com/meigma/bif/internal/sizing"
)

// ArchiveDescriptor describes one archive listed in a catalog file.
type ArchiveDescriptor struct {
	// Index is the archive's position in its catalog's archive table.
	Index int

	// Name is the relative path as recorded in the catalog ("data\\AREA.bif").
	Name string

	// Path is the resolved absolute path, or empty if no file was found.
	Path string

	// Size is the file size declared by the catalog.
	Size uint32

	// Location holds the legacy search-hint bitmask, preserved verbatim.
	Location uint16

	// Source is the catalog file that lists the archive: 0 for the primary
	// catalog, 1.. for overlays in load order.
	Source int
}

// CatalogEntry maps a resource name to its location.
type CatalogEntry struct {
	// Name is the upper-case resource name without extension (max 8 bytes).
	Name string

	// Type is the resource type code.
	Type Type

	// Locator addresses the resource within an archive of the Source catalog.
	Locator Locator

	// Source is the catalog file that defines the entry.
	Source int
}

// Key returns the case-insensitive lookup key "NAME.EXT".
func (e CatalogEntry) Key() string {
	return ResourceKey(e.Name, e.Type)
}

// catalogFile is the parsed content of one catalog file.
type catalogFile struct {
	path     string
	legacy   bool
	resolver resolver
	archives []ArchiveDescriptor
	entries  []CatalogEntry
	index    map[string]int // key -> position in entries
}

// Catalog is the merged view of a primary catalog and its overlays.
//
// Lookups and reads are safe for concurrent use. Mutating operations
// (AppendArchive, RemoveArchive and publishing by a Writer) take an exclusive
// lock.
type Catalog struct {
	mu        sync.RWMutex
	files     []*catalogFile
	effective map[string]CatalogEntry
	cache     *ReaderCache
	ownsCache bool

	searchRoots []string
	readerOpts  []ReaderOption
	maxSize     uint64
	logger      *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Catalog) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Load parses the primary catalog and its overlays, in order. Entries of a
// later file replace entries of an earlier file with the same name.
func Load(primaryPath string, overlayPaths []string, opts ...CatalogOption) (*Catalog, error) {
	c := &Catalog{
		effective: make(map[string]CatalogEntry),
		maxSize:   DefaultMaxCatalogSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = NewReaderCache(WithCacheReaderOptions(c.readerOpts...), WithCacheLogger(c.logger))
		c.ownsCache = true
	}

	paths := append([]string{primaryPath}, overlayPaths...)
	for i, path := range paths {
		f, err := c.parseFile(path, i)
		if err != nil {
			return nil, err
		}
		c.files = append(c.files, f)
		c.log().Debug("catalog loaded", "path", path, "archives", len(f.archives), "resources", len(f.entries), "legacy", f.legacy)
	}
	c.rebuild()
	return c, nil
}

// parseFile reads and decodes one catalog file.
func (c *Catalog) parseFile(path string, source int) (*catalogFile, error) {
	data, err := c.readFile(path)
	if err != nil {
		return nil, err
	}
	h, err := format.ParseCatalogHeader(data)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	f := &catalogFile{
		path:     abs,
		legacy:   isLegacyLayout(data, h),
		resolver: resolver{base: filepath.Dir(abs), extra: c.searchRoots},
		index:    make(map[string]int, h.ResourceCount),
	}

	recSize := uint32(format.ArchiveRecordSize)
	if f.legacy {
		recSize = format.LegacyArchiveSize
	}
	tableLen, ok := sizing.MulUint32(h.ArchiveCount, recSize)
	if !ok || !sizing.InBounds(h.ArchiveOffset, tableLen, int64(len(data))) {
		return nil, fmt.Errorf("load catalog %s: %w: archive table outside file", path, ErrFormat)
	}
	f.archives = make([]ArchiveDescriptor, 0, h.ArchiveCount)
	for i := range h.ArchiveCount {
		off := h.ArchiveOffset + i*recSize
		rec := format.ParseArchiveRecord(data[off:off+recSize], f.legacy)
		if !sizing.InBounds(rec.NameOffset, uint32(rec.NameLength), int64(len(data))) {
			return nil, fmt.Errorf("load catalog %s: %w: archive %d name outside file", path, ErrFormat, i)
		}
		name := format.DecodeString(data[rec.NameOffset : rec.NameOffset+uint32(rec.NameLength)])
		desc := ArchiveDescriptor{
			Index:    int(i),
			Name:     name,
			Size:     rec.Size,
			Location: rec.Location,
			Source:   source,
		}
		if p, ok := f.resolver.resolve(name); ok {
			desc.Path = p
		} else {
			c.log().Debug("archive not found", "catalog", path, "archive", name)
		}
		f.archives = append(f.archives, desc)
	}

	resLen, ok := sizing.MulUint32(h.ResourceCount, format.ResourceRecordSize)
	if !ok || !sizing.InBounds(h.ResourceOffset, resLen, int64(len(data))) {
		return nil, fmt.Errorf("load catalog %s: %w: resource table outside file", path, ErrFormat)
	}
	f.entries = make([]CatalogEntry, 0, h.ResourceCount)
	for i := range h.ResourceCount {
		off := h.ResourceOffset + i*format.ResourceRecordSize
		rec := format.ParseResourceRecord(data[off : off+format.ResourceRecordSize])
		f.put(CatalogEntry{
			Name:    strings.ToUpper(format.DecodeString(rec.Name[:])),
			Type:    Type(rec.Type),
			Locator: Locator(rec.Locator),
			Source:  source,
		})
	}
	return f, nil
}

func (c *Catalog) readFile(path string) ([]byte, error) {
	fh, err := os.Open(path) //nolint:gosec // path is chosen by the caller
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load catalog %s: %w: %w", path, ErrNotFound, err)
		}
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	defer fh.Close()
	data, err := sizing.ReadAllWithLimit(fh, c.maxSize, ErrRange)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return data, nil
}

// isLegacyLayout reports whether the archive table uses 8-byte records
// without a file size. The standard layout wins unless only the legacy
// interpretation yields a valid, NUL-terminated first name.
func isLegacyLayout(data []byte, h format.CatalogHeader) bool {
	if h.ArchiveCount == 0 {
		return false
	}
	if validFirstName(data, h.ArchiveOffset, false) {
		return false
	}
	return validFirstName(data, h.ArchiveOffset, true)
}

func validFirstName(data []byte, off uint32, legacy bool) bool {
	size := uint32(format.ArchiveRecordSize)
	if legacy {
		size = format.LegacyArchiveSize
	}
	if !sizing.InBounds(off, size, int64(len(data))) {
		return false
	}
	rec := format.ParseArchiveRecord(data[off:off+size], legacy)
	n := uint32(rec.NameLength)
	if n == 0 || !sizing.InBounds(rec.NameOffset, n, int64(len(data))) {
		return false
	}
	return data[rec.NameOffset+n-1] == 0
}

// put adds or replaces an entry, keeping file order for new names.
func (f *catalogFile) put(e CatalogEntry) {
	key := e.Key()
	if i, ok := f.index[key]; ok {
		f.entries[i] = e
		return
	}
	f.index[key] = len(f.entries)
	f.entries = append(f.entries, e)
}

// reindex rebuilds the name index after entries were removed.
func (f *catalogFile) reindex() {
	f.index = make(map[string]int, len(f.entries))
	for i, e := range f.entries {
		f.index[e.Key()] = i
	}
}

// rebuild recomputes the effective index from every file in load order.
// Callers must hold the write lock (or own c exclusively).
func (c *Catalog) rebuild() {
	c.effective = make(map[string]CatalogEntry)
	for _, f := range c.files {
		for _, e := range f.entries {
			c.effective[e.Key()] = e
		}
	}
}

// Path returns the absolute path of the primary catalog.
func (c *Catalog) Path() string {
	return c.files[0].path
}

// Cache returns the reader cache used to open archives.
func (c *Catalog) Cache() *ReaderCache {
	return c.cache
}

// Len returns the number of resources in the effective index.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.effective)
}

// Lookup returns the locator of the named resource ("NAME.EXT").
func (c *Catalog) Lookup(name string) (Locator, bool) {
	e, ok := c.LookupEntry(name)
	return e.Locator, ok
}

// LookupEntry returns the effective entry of the named resource.
func (c *Catalog) LookupEntry(name string) (CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.effective[strings.ToUpper(name)]
	return e, ok
}

// Entries returns the effective index sorted by key.
func (c *Catalog) Entries() []CatalogEntry {
	c.mu.RLock()
	out := make([]CatalogEntry, 0, len(c.effective))
	for _, e := range c.effective {
		out = append(out, e)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b CatalogEntry) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return out
}

// Archives returns the archive descriptors of the primary catalog.
func (c *Catalog) Archives() []ArchiveDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.files[0].archives)
}

// Archive returns the primary catalog's archive descriptor at index.
func (c *Catalog) Archive(index int) (ArchiveDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.archiveLocked(0, index)
}

// ArchiveFor returns the descriptor of the archive holding e.
func (c *Catalog) ArchiveFor(e CatalogEntry) (ArchiveDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.archiveLocked(e.Source, int(e.Locator.Archive()))
}

func (c *Catalog) archiveLocked(source, index int) (ArchiveDescriptor, error) {
	if source < 0 || source >= len(c.files) {
		return ArchiveDescriptor{}, fmt.Errorf("catalog source %d: %w", source, ErrNotFound)
	}
	archives := c.files[source].archives
	if index < 0 || index >= len(archives) {
		return ArchiveDescriptor{}, fmt.Errorf("archive %d in %s: %w", index, c.files[source].path, ErrNotFound)
	}
	return archives[index], nil
}

// OpenArchive returns a reader for desc through the reader cache.
func (c *Catalog) OpenArchive(desc ArchiveDescriptor) (Reader, error) {
	if desc.Path == "" {
		return nil, fmt.Errorf("open archive %s: %w: %w", desc.Name, ErrNotFound, fs.ErrNotExist)
	}
	return c.cache.Get(desc.Path)
}

// ReadResource returns the bytes of the named resource.
func (c *Catalog) ReadResource(name string) ([]byte, error) {
	r, e, err := c.openResource(name)
	if err != nil {
		return nil, err
	}
	return r.ReadEntry(e.Locator)
}

// OpenResource returns a stream of the bytes ReadResource returns for name.
func (c *Catalog) OpenResource(name string) (io.ReadCloser, error) {
	r, e, err := c.openResource(name)
	if err != nil {
		return nil, err
	}
	return r.OpenEntry(e.Locator)
}

// ResourceInfo returns the archive entry backing the named resource.
func (c *Catalog) ResourceInfo(name string) (Entry, error) {
	r, e, err := c.openResource(name)
	if err != nil {
		return Entry{}, err
	}
	return r.EntryInfo(e.Locator)
}

func (c *Catalog) openResource(name string) (Reader, CatalogEntry, error) {
	e, ok := c.LookupEntry(name)
	if !ok {
		return nil, CatalogEntry{}, fmt.Errorf("resource %s: %w", name, ErrNotFound)
	}
	desc, err := c.ArchiveFor(e)
	if err != nil {
		return nil, CatalogEntry{}, fmt.Errorf("resource %s: %w", name, err)
	}
	r, err := c.OpenArchive(desc)
	if err != nil {
		return nil, CatalogEntry{}, fmt.Errorf("resource %s: %w", name, err)
	}
	return r, e, nil
}

// AppendArchive registers a new archive in the primary catalog and returns
// its descriptor. The file does not need to exist yet.
func (c *Catalog) AppendArchive(name string, location uint16) (ArchiveDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendArchiveLocked(name, location)
}

func (c *Catalog) appendArchiveLocked(name string, location uint16) (ArchiveDescriptor, error) {
	primary := c.files[0]
	index := len(primary.archives)
	if index > MaxArchiveIndex {
		return ArchiveDescriptor{}, fmt.Errorf("append archive %s: %w: catalog already lists %d archives", name, ErrRange, index)
	}
	desc := ArchiveDescriptor{
		Index:    index,
		Name:     name,
		Location: location,
	}
	if p, ok := primary.resolver.resolve(name); ok {
		desc.Path = p
	} else {
		desc.Path = primary.resolver.target(name)
	}
	primary.archives = append(primary.archives, desc)
	c.log().Debug("archive appended", "archive", name, "index", index)
	return desc, nil
}

// findArchiveLocked returns the primary descriptor recorded under name.
func (c *Catalog) findArchiveLocked(name string) (ArchiveDescriptor, bool) {
	for _, d := range c.files[0].archives {
		if pathutil.Equal(d.Name, name) {
			return d, true
		}
	}
	return ArchiveDescriptor{}, false
}

// RemoveArchive removes the primary catalog's archive at index. Entries
// stored in it are dropped, and later archives are renumbered with their
// entries' locators rewritten. The archive file itself is left in place.
func (c *Catalog) RemoveArchive(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	primary := c.files[0]
	if index < 0 || index >= len(primary.archives) {
		return fmt.Errorf("remove archive %d: %w", index, ErrNotFound)
	}
	removed := primary.archives[index]
	if removed.Path != "" {
		if err := c.cache.Invalidate(removed.Path); err != nil {
			return fmt.Errorf("remove archive %s: %w", removed.Name, err)
		}
	}

	primary.archives = slices.Delete(primary.archives, index, index+1)
	for i := index; i < len(primary.archives); i++ {
		primary.archives[i].Index = i
	}

	kept := primary.entries[:0]
	for _, e := range primary.entries {
		a := int(e.Locator.Archive())
		switch {
		case a == index:
			continue
		case a > index:
			loc, err := e.Locator.WithArchive(uint16(a - 1)) //nolint:gosec // a <= MaxArchiveIndex
			if err != nil {
				return err
			}
			e.Locator = loc
		}
		kept = append(kept, e)
	}
	primary.entries = kept
	primary.reindex()
	c.rebuild()
	c.log().Debug("archive removed", "archive", removed.Name, "index", index)
	return nil
}

// publishLocked records entries in the primary catalog and recomputes the
// effective index. An overlay entry with the same name still wins.
func (c *Catalog) publishLocked(entries []CatalogEntry) {
	primary := c.files[0]
	for _, e := range entries {
		e.Source = 0
		primary.put(e)
	}
	c.rebuild()
}

// republishLocked publishes the entries packed into the primary archive at
// index. Primary entries that still point into that archive but were not
// repacked are dropped, since their data no longer exists.
func (c *Catalog) republishLocked(index int, entries []CatalogEntry) {
	primary := c.files[0]
	packed := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		packed[e.Key()] = struct{}{}
	}
	kept := primary.entries[:0]
	dropped := 0
	for _, e := range primary.entries {
		if _, ok := packed[e.Key()]; !ok && int(e.Locator.Archive()) == index {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	primary.entries = kept
	if dropped > 0 {
		primary.reindex()
		c.log().Debug("stale entries dropped", "archive", index, "count", dropped)
	}
	c.publishLocked(entries)
}

// setArchiveLocked updates a primary descriptor after its file was rewritten.
func (c *Catalog) setArchiveLocked(desc ArchiveDescriptor) {
	c.files[0].archives[desc.Index] = desc
}

// Close releases the reader cache if the catalog created it.
func (c *Catalog) Close() error {
	if !c.ownsCache {
		return nil
	}
	return c.cache.Close()
}
