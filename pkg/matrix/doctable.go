package matrix

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/mnohosten/forumidx/pkg/cache"
	"github.com/mnohosten/forumidx/pkg/compression"
	"github.com/mnohosten/forumidx/pkg/storage"
)

// DocumentTable is the disk-backed `document_id -> (document_name,
// optional fulltext)` mapping: a location map in memory keyed by id,
// backed by slotted data pages, with an LRU cache of decoded records in
// front of disk reads. Records are never updated in place (a document's
// name/fulltext is fixed at ingest), so there is no update path, only
// insert/lookup/delete.
//
// Fulltext, when retained (the `--fulltext` CLI flag), is the one field
// here that is free text rather than a short token: it is compressed with
// pkg/compression's zstd codec before being written into a slot and
// decompressed on read, so a corpus built with --fulltext does not inflate
// the document table's on-disk size by the full size of every comment body.
type DocumentTable struct {
	mu         sync.RWMutex
	engine     *storage.PageEngine
	locations  map[uint32]location
	active     storage.PageID
	pageCount  uint32
	cache      *cache.LRUCache
	compressor *compression.Compressor
}

type location struct {
	Page storage.PageID
	Slot uint16
}

// Record is one decoded document row.
type Record struct {
	Name        string
	Fulltext    string
	HasFulltext bool
}

const (
	docTableMagic   uint32 = 0x464d4454 // "FMDC" (document catalog)
	docTableVersion uint32 = 1
	docHeaderPageID        = storage.PageID(0)
)

// OpenDocumentTable creates or reopens a document table under cfg, with an
// LRU cache of cacheSize decoded records in front of disk reads, sized for
// hot query-time name/fulltext lookups.
func OpenDocumentTable(cfg *storage.Config, cacheSize int) (*DocumentTable, error) {
	engine, err := storage.NewPageEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("matrix: open document table page engine: %w", err)
	}
	compressor, err := compression.NewCompressor(compression.DefaultConfig())
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("matrix: create fulltext compressor: %w", err)
	}
	dt := &DocumentTable{
		engine:     engine,
		locations:  make(map[uint32]location),
		cache:      cache.NewLRUCache(cacheSize, 0),
		compressor: compressor,
	}
	if err := dt.loadOrInitHeader(); err != nil {
		engine.Close()
		return nil, err
	}
	if err := dt.rebuildLocations(); err != nil {
		engine.Close()
		return nil, err
	}
	return dt, nil
}

func (dt *DocumentTable) loadOrInitHeader() error {
	page, err := dt.engine.FetchPage(docHeaderPageID)
	if err != nil {
		page, err = dt.engine.AllocatePage()
		if err != nil {
			return fmt.Errorf("matrix: allocate document table header page: %w", err)
		}
		if page.ID != docHeaderPageID {
			return fmt.Errorf("matrix: expected document table header page id 0, got %d", page.ID)
		}
		dt.writeHeader(page, 0)
		return dt.engine.UnpinPage(page.ID, true)
	}
	defer dt.engine.UnpinPage(page.ID, false)

	magic := binary.LittleEndian.Uint32(page.Data[0:4])
	if magic != docTableMagic {
		dt.writeHeader(page, 0)
		return dt.engine.UnpinPage(page.ID, true)
	}
	dt.pageCount = binary.LittleEndian.Uint32(page.Data[8:12])
	if dt.pageCount > 0 {
		dt.active = storage.PageID(dt.pageCount)
	}
	return nil
}

func (dt *DocumentTable) writeHeader(page *storage.Page, pageCount uint32) {
	binary.LittleEndian.PutUint32(page.Data[0:4], docTableMagic)
	binary.LittleEndian.PutUint32(page.Data[4:8], docTableVersion)
	binary.LittleEndian.PutUint32(page.Data[8:12], pageCount)
	page.MarkDirty()
}

func (dt *DocumentTable) persistHeader() error {
	page, err := dt.engine.FetchPage(docHeaderPageID)
	if err != nil {
		return fmt.Errorf("matrix: fetch document table header: %w", err)
	}
	dt.writeHeader(page, dt.pageCount)
	return dt.engine.UnpinPage(page.ID, true)
}

// rebuildLocations scans every data page to reconstruct the in-memory
// location map, since the slotted-page layer carries no directory of its
// own. Each record embeds its document_id so the scan is self-describing,
// the same trick pkg/rowstore uses for Scan.
func (dt *DocumentTable) rebuildLocations() error {
	for p := storage.PageID(1); p <= storage.PageID(dt.pageCount); p++ {
		page, err := dt.engine.FetchPage(p)
		if err != nil {
			return fmt.Errorf("matrix: fetch document page %d: %w", p, err)
		}
		sp, err := storage.LoadSlottedPage(page)
		if err != nil {
			dt.engine.UnpinPage(p, false)
			return fmt.Errorf("matrix: load slotted page %d: %w", p, err)
		}
		for slot := uint16(0); slot < sp.SlotCount(); slot++ {
			data, err := sp.GetSlot(slot)
			if err != nil {
				continue // tombstoned slot
			}
			docID := binary.LittleEndian.Uint32(data[0:4])
			dt.locations[docID] = location{Page: p, Slot: slot}
		}
		if err := dt.engine.UnpinPage(p, false); err != nil {
			return err
		}
	}
	return nil
}

// encodeRecord serializes r to the on-disk slot layout. Fulltext, when
// present, is zstd-compressed via dt.compressor before being written, so
// the stored length prefix covers the compressed byte count, not the
// original comment body's length.
func (dt *DocumentTable) encodeRecord(documentID uint32, r Record) ([]byte, error) {
	hasFulltext := byte(0)
	if r.HasFulltext {
		hasFulltext = 1
	}

	fulltext := []byte(r.Fulltext)
	if r.HasFulltext && len(fulltext) > 0 {
		compressed, err := dt.compressor.Compress(fulltext)
		if err != nil {
			return nil, fmt.Errorf("matrix: compress fulltext for document %d: %w", documentID, err)
		}
		fulltext = compressed
	}

	buf := make([]byte, 0, 13+len(r.Name)+len(fulltext))
	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], documentID)
	buf = append(buf, idBuf[:]...)
	buf = append(buf, hasFulltext)

	var nameLen [4]byte
	binary.LittleEndian.PutUint32(nameLen[:], uint32(len(r.Name)))
	buf = append(buf, nameLen[:]...)
	buf = append(buf, r.Name...)

	var ftLen [4]byte
	binary.LittleEndian.PutUint32(ftLen[:], uint32(len(fulltext)))
	buf = append(buf, ftLen[:]...)
	buf = append(buf, fulltext...)
	return buf, nil
}

// decodeRecord reverses encodeRecord, decompressing the fulltext blob
// when present.
func (dt *DocumentTable) decodeRecord(data []byte) (Record, error) {
	hasFulltext := data[4] == 1
	nameLen := binary.LittleEndian.Uint32(data[5:9])
	name := string(data[9 : 9+nameLen])
	off := 9 + nameLen
	ftLen := binary.LittleEndian.Uint32(data[off : off+4])
	compacted := data[off+4 : off+4+ftLen]

	var fulltext string
	if hasFulltext && len(compacted) > 0 {
		decompressed, err := dt.compressor.Decompress(compacted)
		if err != nil {
			return Record{}, fmt.Errorf("matrix: decompress fulltext: %w", err)
		}
		fulltext = string(decompressed)
	}
	return Record{Name: name, Fulltext: fulltext, HasFulltext: hasFulltext}, nil
}

// Insert stores a new document row. documentID must not already exist.
func (dt *DocumentTable) Insert(documentID uint32, r Record) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if _, exists := dt.locations[documentID]; exists {
		return fmt.Errorf("matrix: document %d already exists", documentID)
	}

	data, err := dt.encodeRecord(documentID, r)
	if err != nil {
		return err
	}
	loc, err := dt.insertIntoActivePage(data)
	if err != nil {
		return err
	}
	dt.locations[documentID] = loc
	dt.cache.Put(cacheKey(documentID), r)
	return nil
}

func (dt *DocumentTable) insertIntoActivePage(data []byte) (location, error) {
	if dt.pageCount > 0 {
		page, err := dt.engine.FetchPage(dt.active)
		if err == nil {
			sp, err := storage.LoadSlottedPage(page)
			if err == nil {
				if slot, err := sp.InsertSlot(data); err == nil {
					unpinErr := dt.engine.UnpinPage(dt.active, true)
					return location{Page: dt.active, Slot: slot}, unpinErr
				}
			}
			dt.engine.UnpinPage(dt.active, false)
		}
	}

	page, err := dt.engine.AllocatePage()
	if err != nil {
		return location{}, fmt.Errorf("matrix: allocate document page: %w", err)
	}
	sp, err := storage.NewSlottedPage(page)
	if err != nil {
		dt.engine.UnpinPage(page.ID, false)
		return location{}, fmt.Errorf("matrix: init slotted page: %w", err)
	}
	slot, err := sp.InsertSlot(data)
	if err != nil {
		dt.engine.UnpinPage(page.ID, false)
		return location{}, fmt.Errorf("matrix: insert into fresh page: %w", err)
	}
	if err := dt.engine.UnpinPage(page.ID, true); err != nil {
		return location{}, err
	}
	dt.pageCount++
	dt.active = page.ID
	if err := dt.persistHeader(); err != nil {
		return location{}, err
	}
	return location{Page: page.ID, Slot: slot}, nil
}

func cacheKey(documentID uint32) string {
	return fmt.Sprintf("doc:%d", documentID)
}

func (dt *DocumentTable) read(documentID uint32) (Record, bool, error) {
	if cached, ok := dt.cache.Get(cacheKey(documentID)); ok {
		return cached.(Record), true, nil
	}
	loc, ok := dt.locations[documentID]
	if !ok {
		return Record{}, false, nil
	}
	page, err := dt.engine.FetchPage(loc.Page)
	if err != nil {
		return Record{}, false, fmt.Errorf("matrix: fetch document page %d: %w", loc.Page, err)
	}
	defer dt.engine.UnpinPage(loc.Page, false)

	sp, err := storage.LoadSlottedPage(page)
	if err != nil {
		return Record{}, false, fmt.Errorf("matrix: load slotted page %d: %w", loc.Page, err)
	}
	data, err := sp.GetSlot(loc.Slot)
	if err != nil {
		return Record{}, false, nil
	}
	r, err := dt.decodeRecord(data)
	if err != nil {
		return Record{}, false, err
	}
	dt.cache.Put(cacheKey(documentID), r)
	return r, true, nil
}

// LookupName returns the external document name for documentID.
func (dt *DocumentTable) LookupName(documentID uint32) (string, bool, error) {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	r, ok, err := dt.read(documentID)
	if err != nil || !ok {
		return "", false, err
	}
	return r.Name, true, nil
}

// LookupFulltext returns the stored fulltext for documentID, if any.
func (dt *DocumentTable) LookupFulltext(documentID uint32) (string, bool, error) {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	r, ok, err := dt.read(documentID)
	if err != nil || !ok || !r.HasFulltext {
		return "", false, err
	}
	return r.Fulltext, true, nil
}

// Delete removes documentID's row, used by the matrix store's cascade
// rule when a document loses its last posting.
func (dt *DocumentTable) Delete(documentID uint32) error {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	loc, ok := dt.locations[documentID]
	if !ok {
		return nil
	}
	page, err := dt.engine.FetchPage(loc.Page)
	if err != nil {
		return fmt.Errorf("matrix: fetch document page %d: %w", loc.Page, err)
	}
	sp, err := storage.LoadSlottedPage(page)
	if err != nil {
		dt.engine.UnpinPage(loc.Page, false)
		return fmt.Errorf("matrix: load slotted page %d: %w", loc.Page, err)
	}
	if err := sp.DeleteSlot(loc.Slot); err != nil {
		dt.engine.UnpinPage(loc.Page, false)
		return fmt.Errorf("matrix: delete slot %d: %w", loc.Slot, err)
	}
	if err := dt.engine.UnpinPage(loc.Page, true); err != nil {
		return err
	}
	delete(dt.locations, documentID)
	dt.cache.Remove(cacheKey(documentID))
	return nil
}

// Count returns the number of live document rows.
func (dt *DocumentTable) Count() int {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return len(dt.locations)
}

// Exists reports whether documentID currently has a row.
func (dt *DocumentTable) Exists(documentID uint32) bool {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	_, ok := dt.locations[documentID]
	return ok
}

// Sync flushes all dirty pages and fsyncs the backing file.
func (dt *DocumentTable) Sync() error {
	if err := dt.engine.FlushAll(); err != nil {
		return err
	}
	return dt.engine.Sync()
}

// Close flushes and closes the underlying page engine and releases the
// fulltext compressor's zstd encoder/decoder.
func (dt *DocumentTable) Close() error {
	dt.compressor.Close()
	return dt.engine.Close()
}
