// Package rowstore implements a fixed-width row heap for posting triples
// (document_id, term_id, score) directly on top of pkg/storage's page
// engine. Every row in this table has the same 16-byte shape, so there is
// no need for a variable-length slot directory, pointer indirection, or
// fragmentation tracking. Rows are tombstoned in place and only
// physically reclaimed by Compact, which is only ever called once the
// index is sealed (see pkg/engine).
package rowstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/crypto/blake2b"

	"github.com/mnohosten/forumidx/pkg/storage"
)

const (
	magic   uint32 = 0x464d5478 // "FMTx"
	version uint32 = 1

	headerPageID = storage.PageID(0)

	// rowHeaderSize is the per-page header: live row count + reserved.
	rowHeaderSize = 8
	// rowSize is document_id(4) + term_id(4) + score(8).
	rowSize = 16

	// deletedTermID marks a tombstoned or never-written slot. Term-ids are
	// allocated from 0, so this value can never collide with a real term.
	deletedTermID = math.MaxUint32

	// checksumOffset/checksumSize locate the segment checksum within the
	// header page, past the magic/version/pageCount/liveRowCount fields
	// written at offsets 0-20.
	checksumOffset = 20
	checksumSize   = blake2b.Size256
)

// rowsPerPage is the number of fixed-width rows that fit in one data page
// after the per-page header.
const rowsPerPage = (storage.PageSize - storage.PageHeaderSize - rowHeaderSize) / rowSize

// Row is one posting triple.
type Row struct {
	DocumentID uint32
	TermID     uint32
	Score      float64
}

// RowID addresses a single row slot. It is stable for the lifetime of the
// store unless Compact is called, so callers must not retain a RowID across
// a Compact call.
type RowID struct {
	Page storage.PageID
	Slot uint16
}

// RowStore is a fixed-width row heap. Page 0 is a reserved header page
// carrying the page count and live row count; data pages start at 1.
type RowStore struct {
	engine       *storage.PageEngine
	pageCount    uint32
	liveRowCount uint64
	appendCursor storage.PageID // page currently receiving appends

	// checksum is the blake2b-256 digest of every data page's bytes as of
	// the last Compact, or the zero value if the store has never been
	// compacted (e.g. a build in progress). VerifyChecksum treats the
	// zero value as "nothing to verify" rather than a mismatch.
	checksum [checksumSize]byte
}

// Open creates or reopens a row store under cfg.
func Open(cfg *storage.Config) (*RowStore, error) {
	engine, err := storage.NewPageEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("rowstore: open page engine: %w", err)
	}

	rs := &RowStore{engine: engine}
	if err := rs.loadOrInitHeader(); err != nil {
		engine.Close()
		return nil, err
	}
	return rs, nil
}

func (rs *RowStore) loadOrInitHeader() error {
	page, err := rs.engine.FetchPage(headerPageID)
	if err != nil {
		// First open: allocate page 0 as the header page.
		page, err = rs.engine.AllocatePage()
		if err != nil {
			return fmt.Errorf("rowstore: allocate header page: %w", err)
		}
		if page.ID != headerPageID {
			return fmt.Errorf("rowstore: expected header page id 0, got %d", page.ID)
		}
		rs.writeHeader(page, 0, 0)
		return rs.engine.UnpinPage(page.ID, true)
	}
	defer rs.engine.UnpinPage(page.ID, false)

	m := binary.LittleEndian.Uint32(page.Data[0:4])
	if m != magic {
		// Freshly allocated but never written (all-zero page): initialize.
		rs.writeHeader(page, 0, 0)
		return rs.engine.UnpinPage(page.ID, true)
	}
	rs.pageCount = binary.LittleEndian.Uint32(page.Data[8:12])
	rs.liveRowCount = binary.LittleEndian.Uint64(page.Data[12:20])
	copy(rs.checksum[:], page.Data[checksumOffset:checksumOffset+checksumSize])
	if rs.pageCount > 0 {
		rs.appendCursor = storage.PageID(rs.pageCount)
	}
	return nil
}

func (rs *RowStore) writeHeader(page *storage.Page, pageCount uint32, liveRows uint64) {
	binary.LittleEndian.PutUint32(page.Data[0:4], magic)
	binary.LittleEndian.PutUint32(page.Data[4:8], version)
	binary.LittleEndian.PutUint32(page.Data[8:12], pageCount)
	binary.LittleEndian.PutUint64(page.Data[12:20], liveRows)
	copy(page.Data[checksumOffset:checksumOffset+checksumSize], rs.checksum[:])
	page.MarkDirty()
}

func (rs *RowStore) persistHeader() error {
	page, err := rs.engine.FetchPage(headerPageID)
	if err != nil {
		return fmt.Errorf("rowstore: fetch header page: %w", err)
	}
	rs.writeHeader(page, rs.pageCount, rs.liveRowCount)
	return rs.engine.UnpinPage(page.ID, true)
}

// computeChecksum digests every data page's raw bytes, in page order, with
// blake2b-256.
func (rs *RowStore) computeChecksum() ([checksumSize]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return [checksumSize]byte{}, fmt.Errorf("rowstore: init checksum hash: %w", err)
	}
	for p := storage.PageID(1); p <= storage.PageID(rs.pageCount); p++ {
		page, err := rs.engine.FetchPage(p)
		if err != nil {
			return [checksumSize]byte{}, fmt.Errorf("rowstore: fetch page %d for checksum: %w", p, err)
		}
		h.Write(page.Data)
		if err := rs.engine.UnpinPage(p, false); err != nil {
			return [checksumSize]byte{}, err
		}
	}
	var out [checksumSize]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// sealChecksum recomputes and persists the segment checksum over the
// current set of data pages. Called once Compact has finished rewriting
// the heap into its final, packed layout.
func (rs *RowStore) sealChecksum() error {
	sum, err := rs.computeChecksum()
	if err != nil {
		return err
	}
	rs.checksum = sum
	return rs.persistHeader()
}

// VerifyChecksum recomputes the segment checksum over the current data
// pages and compares it against the one persisted at the last seal. It
// reports ok=true if the store has never been sealed (zero checksum), so
// a build in progress is never mistaken for a corrupt one.
func (rs *RowStore) VerifyChecksum() (ok bool, err error) {
	var zero [checksumSize]byte
	if rs.checksum == zero {
		return true, nil
	}
	sum, err := rs.computeChecksum()
	if err != nil {
		return false, err
	}
	return bytes.Equal(sum[:], rs.checksum[:]), nil
}

func decodeRow(data []byte, slot int) Row {
	off := rowHeaderSize + slot*rowSize
	return Row{
		DocumentID: binary.LittleEndian.Uint32(data[off : off+4]),
		TermID:     binary.LittleEndian.Uint32(data[off+4 : off+8]),
		Score:      math.Float64frombits(binary.LittleEndian.Uint64(data[off+8 : off+16])),
	}
}

func encodeRow(data []byte, slot int, row Row) {
	off := rowHeaderSize + slot*rowSize
	binary.LittleEndian.PutUint32(data[off:off+4], row.DocumentID)
	binary.LittleEndian.PutUint32(data[off+4:off+8], row.TermID)
	binary.LittleEndian.PutUint64(data[off+8:off+16], math.Float64bits(row.Score))
}

func pageLiveCount(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data[0:4])
}

func setPageLiveCount(data []byte, n uint32) {
	binary.LittleEndian.PutUint32(data[0:4], n)
}

// AppendRow appends one row, allocating a new data page if the current
// append page is full.
func (rs *RowStore) AppendRow(row Row) (RowID, error) {
	if rs.pageCount == 0 {
		if err := rs.allocateDataPage(); err != nil {
			return RowID{}, err
		}
	}

	page, err := rs.engine.FetchPage(rs.appendCursor)
	if err != nil {
		return RowID{}, fmt.Errorf("rowstore: fetch append page: %w", err)
	}

	live := pageLiveCount(page.Data)
	if int(live) >= rowsPerPage {
		rs.engine.UnpinPage(page.ID, false)
		if err := rs.allocateDataPage(); err != nil {
			return RowID{}, err
		}
		page, err = rs.engine.FetchPage(rs.appendCursor)
		if err != nil {
			return RowID{}, fmt.Errorf("rowstore: fetch new append page: %w", err)
		}
		live = 0
	}

	encodeRow(page.Data, int(live), row)
	setPageLiveCount(page.Data, live+1)
	if err := rs.engine.UnpinPage(page.ID, true); err != nil {
		return RowID{}, err
	}

	rs.liveRowCount++
	return RowID{Page: rs.appendCursor, Slot: uint16(live)}, nil
}

func (rs *RowStore) allocateDataPage() error {
	page, err := rs.engine.AllocatePage()
	if err != nil {
		return fmt.Errorf("rowstore: allocate data page: %w", err)
	}
	setPageLiveCount(page.Data, 0)
	for slot := 0; slot < rowsPerPage; slot++ {
		binary.LittleEndian.PutUint32(page.Data[rowHeaderSize+slot*rowSize+4:rowHeaderSize+slot*rowSize+8], deletedTermID)
	}
	page.MarkDirty()
	if err := rs.engine.UnpinPage(page.ID, true); err != nil {
		return err
	}
	rs.pageCount++
	rs.appendCursor = page.ID
	return rs.persistHeader()
}

// ReadRow returns the row at id. The second return value is false if the
// slot has been tombstoned.
func (rs *RowStore) ReadRow(id RowID) (Row, bool, error) {
	page, err := rs.engine.FetchPage(id.Page)
	if err != nil {
		return Row{}, false, fmt.Errorf("rowstore: fetch page %d: %w", id.Page, err)
	}
	defer rs.engine.UnpinPage(id.Page, false)

	row := decodeRow(page.Data, int(id.Slot))
	if row.TermID == deletedTermID {
		return Row{}, false, nil
	}
	return row, true, nil
}

// UpdateScore overwrites the score at id in place. Returns false if the
// slot has been tombstoned; deciding whether that is an error belongs to
// the caller, not this primitive.
func (rs *RowStore) UpdateScore(id RowID, score float64) (bool, error) {
	page, err := rs.engine.FetchPage(id.Page)
	if err != nil {
		return false, fmt.Errorf("rowstore: fetch page %d: %w", id.Page, err)
	}

	row := decodeRow(page.Data, int(id.Slot))
	if row.TermID == deletedTermID {
		rs.engine.UnpinPage(id.Page, false)
		return false, nil
	}
	row.Score = score
	encodeRow(page.Data, int(id.Slot), row)
	return true, rs.engine.UnpinPage(id.Page, true)
}

// DeleteRow tombstones the slot at id.
func (rs *RowStore) DeleteRow(id RowID) error {
	page, err := rs.engine.FetchPage(id.Page)
	if err != nil {
		return fmt.Errorf("rowstore: fetch page %d: %w", id.Page, err)
	}

	off := rowHeaderSize + int(id.Slot)*rowSize
	wasLive := binary.LittleEndian.Uint32(page.Data[off+4:off+8]) != deletedTermID
	binary.LittleEndian.PutUint32(page.Data[off+4:off+8], deletedTermID)
	if err := rs.engine.UnpinPage(id.Page, true); err != nil {
		return err
	}
	if wasLive && rs.liveRowCount > 0 {
		rs.liveRowCount--
	}
	return nil
}

// Scan calls fn for every live row in page/slot order, stopping early if fn
// returns an error.
func (rs *RowStore) Scan(fn func(id RowID, row Row) error) error {
	for p := storage.PageID(1); p <= storage.PageID(rs.pageCount); p++ {
		page, err := rs.engine.FetchPage(p)
		if err != nil {
			return fmt.Errorf("rowstore: fetch page %d: %w", p, err)
		}
		for slot := 0; slot < rowsPerPage; slot++ {
			row := decodeRow(page.Data, slot)
			if row.TermID == deletedTermID {
				continue
			}
			if err := fn(RowID{Page: p, Slot: uint16(slot)}, row); err != nil {
				rs.engine.UnpinPage(p, false)
				return err
			}
		}
		if err := rs.engine.UnpinPage(p, false); err != nil {
			return err
		}
	}
	return nil
}

// PageCount returns the number of data pages currently allocated.
func (rs *RowStore) PageCount() uint32 { return rs.pageCount }

// LiveRowCount returns the number of non-tombstoned rows.
func (rs *RowStore) LiveRowCount() uint64 { return rs.liveRowCount }

// Compact rewrites the heap with tombstones removed, packing live rows
// into the fewest possible pages and releasing any pages left empty. It
// must only be called when no RowID held by a caller will be used again
// afterward: Compact runs once the index is sealed, after which every
// reader rebuilds its location index from a fresh Scan.
func (rs *RowStore) Compact() error {
	var rows []Row
	if err := rs.Scan(func(_ RowID, row Row) error {
		rows = append(rows, row)
		return nil
	}); err != nil {
		return err
	}

	// Rewrite the surviving rows into the existing low-numbered pages
	// rather than allocating fresh ones: the stale pages still hold the
	// highest ids in the file, so allocation would pack the heap at the
	// wrong end and leave Scan reading tombstones.
	oldPageCount := rs.pageCount
	needed := uint32((len(rows) + rowsPerPage - 1) / rowsPerPage)

	next := 0
	for p := storage.PageID(1); p <= storage.PageID(needed); p++ {
		page, err := rs.engine.FetchPage(p)
		if err != nil {
			return fmt.Errorf("rowstore: fetch page %d for compaction: %w", p, err)
		}
		live := 0
		for slot := 0; slot < rowsPerPage; slot++ {
			if next < len(rows) {
				encodeRow(page.Data, slot, rows[next])
				next++
				live++
			} else {
				off := rowHeaderSize + slot*rowSize
				binary.LittleEndian.PutUint32(page.Data[off+4:off+8], deletedTermID)
			}
		}
		setPageLiveCount(page.Data, uint32(live))
		page.MarkDirty()
		if err := rs.engine.UnpinPage(p, true); err != nil {
			return err
		}
	}

	for p := storage.PageID(needed + 1); p <= storage.PageID(oldPageCount); p++ {
		if err := rs.engine.DeallocatePage(p); err != nil {
			return fmt.Errorf("rowstore: deallocate stale page %d: %w", p, err)
		}
	}

	rs.pageCount = needed
	rs.appendCursor = storage.PageID(needed)
	rs.liveRowCount = uint64(len(rows))

	return rs.sealChecksum()
}

// Sync flushes all dirty pages and fsyncs the backing file.
func (rs *RowStore) Sync() error {
	if err := rs.engine.FlushAll(); err != nil {
		return err
	}
	return rs.engine.Sync()
}

// Close flushes and closes the underlying page engine.
func (rs *RowStore) Close() error {
	return rs.engine.Close()
}

// Stats reports row store statistics.
type Stats struct {
	PageCount    uint32
	LiveRowCount uint64
	RowsPerPage  int
	Engine       storage.Stats
}

// Stats returns a snapshot of row store statistics.
func (rs *RowStore) Stats() Stats {
	return Stats{
		PageCount:    rs.pageCount,
		LiveRowCount: rs.liveRowCount,
		RowsPerPage:  rowsPerPage,
		Engine:       rs.engine.Stats(),
	}
}
