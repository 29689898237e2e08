// Package dictionary implements the bijective term<->term_id map the rest
// of the engine calls TermDictionary. Term-ids are dense, monotonically
// assigned starting at a configurable high-water mark, and never reused
// once removed (pruned term-ids stay retired so surviving postings never
// collide with a freshly interned term). The in-memory map is persisted
// to a sidecar file between build and query-only reopen.
package dictionary

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

// UnknownTermID is the sentinel returned by Lookup for a term the
// dictionary has never interned. The query path must never have the side
// effect of allocating an id for an unseen query term, so Lookup is
// read-only and returns this sentinel instead.
const UnknownTermID uint32 = math.MaxUint32

const (
	sidecarMagic   uint32 = 0x464d4454 // "FMDT"
	sidecarVersion uint32 = 1
)

// Dictionary is a bijective string<->term_id map. The engine is
// single-threaded within one build or query invocation, so the mutex only
// guards against the query path reading while a build is still interning.
type Dictionary struct {
	mu        sync.RWMutex
	startID   uint32
	nextID    uint32
	termToID  map[string]uint32
	idToTerm  map[uint32]string
}

// New creates an empty dictionary whose first interned term receives
// startID.
func New(startID uint32) *Dictionary {
	return &Dictionary{
		startID:  startID,
		nextID:   startID,
		termToID: make(map[string]uint32),
		idToTerm: make(map[uint32]string),
	}
}

// Intern returns term's id, allocating the next one if term has never
// been seen. Total: always succeeds.
func (d *Dictionary) Intern(term string) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.termToID[term]; ok {
		return id
	}
	id := d.nextID
	d.nextID++
	d.termToID[term] = id
	d.idToTerm[id] = term
	return id
}

// Lookup returns term's id without interning it. ok is false if term has
// never been seen (or was removed), in which case callers must use
// UnknownTermID rather than calling Intern.
func (d *Dictionary) Lookup(term string) (id uint32, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok = d.termToID[term]
	return id, ok
}

// Contains reports whether term currently maps to a live term_id.
func (d *Dictionary) Contains(term string) bool {
	_, ok := d.Lookup(term)
	return ok
}

// Term returns the surface string for id, if it is currently live. Used
// by invariant checks and diagnostics, not by the hot build/query path.
func (d *Dictionary) Term(id uint32) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.idToTerm[id]
	return t, ok
}

// RemoveByIDs bulk-removes every id in ids from the dictionary. Removed
// ids are never reused: nextID is left untouched, so a later Intern of a
// brand new term keeps allocating from the pre-removal high-water mark
// and can never collide with a posting that still references a removed
// id elsewhere (there shouldn't be one, since the caller is expected to
// have already deleted those postings from the matrix store, but the
// dictionary doesn't assume that — it simply never recycles ids).
func (d *Dictionary) RemoveByIDs(ids []uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		term, ok := d.idToTerm[id]
		if !ok {
			continue
		}
		delete(d.idToTerm, id)
		delete(d.termToID, term)
	}
}

// Count returns the number of currently live terms.
func (d *Dictionary) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.termToID)
}

// NextID returns the id that would be assigned to the next newly interned
// term, i.e. the current high-water mark.
func (d *Dictionary) NextID() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nextID
}

// Sidecar is the persisted companion to a sealed index: the term
// dictionary plus the total document count at end-of-ingest. The scoring
// phase fixes IDF's denominator to that pre-prune count and a query-only
// reopen has no other way to recover it.
type Sidecar struct {
	TotalDocumentCount uint32
	StartID            uint32
	NextID             uint32
	Entries            []Entry
}

// Entry is one surviving (term, term_id) pair.
type Entry struct {
	Term string
	ID   uint32
}

// Snapshot captures the dictionary's current state for persistence.
func (d *Dictionary) Snapshot(totalDocumentCount uint32) *Sidecar {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries := make([]Entry, 0, len(d.termToID))
	for term, id := range d.termToID {
		entries = append(entries, Entry{Term: term, ID: id})
	}
	return &Sidecar{
		TotalDocumentCount: totalDocumentCount,
		StartID:            d.startID,
		NextID:             d.nextID,
		Entries:            entries,
	}
}

// FromSidecar reconstructs a Dictionary from a previously saved Sidecar.
func FromSidecar(s *Sidecar) *Dictionary {
	d := &Dictionary{
		startID:  s.StartID,
		nextID:   s.NextID,
		termToID: make(map[string]uint32, len(s.Entries)),
		idToTerm: make(map[uint32]string, len(s.Entries)),
	}
	for _, e := range s.Entries {
		d.termToID[e.Term] = e.ID
		d.idToTerm[e.ID] = e.Term
	}
	return d
}

// Save writes the sidecar to path: a magic number, a version, the total
// document count, the start/next term-id high-water marks, and a length-
// prefixed list of (term, id) entries.
func Save(path string, s *Sidecar) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dictionary: create sidecar %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var hdr [24]byte
	binary.LittleEndian.PutUint32(hdr[0:4], sidecarMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], sidecarVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], s.TotalDocumentCount)
	binary.LittleEndian.PutUint32(hdr[12:16], s.StartID)
	binary.LittleEndian.PutUint32(hdr[16:20], s.NextID)
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(s.Entries)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("dictionary: write sidecar header: %w", err)
	}

	for _, e := range s.Entries {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.Term)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("dictionary: write term length: %w", err)
		}
		if _, err := io.WriteString(w, e.Term); err != nil {
			return fmt.Errorf("dictionary: write term: %w", err)
		}
		var idBuf [4]byte
		binary.LittleEndian.PutUint32(idBuf[:], e.ID)
		if _, err := w.Write(idBuf[:]); err != nil {
			return fmt.Errorf("dictionary: write term id: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("dictionary: flush sidecar: %w", err)
	}
	return f.Sync()
}

// Load reads a sidecar previously written by Save, validating the magic
// number and version.
func Load(path string) (*Sidecar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dictionary: open sidecar %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr [24]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("dictionary: read sidecar header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != sidecarMagic {
		return nil, fmt.Errorf("dictionary: bad sidecar magic %#x, expected %#x", magic, sidecarMagic)
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != sidecarVersion {
		return nil, fmt.Errorf("dictionary: unsupported sidecar version %d", version)
	}

	s := &Sidecar{
		TotalDocumentCount: binary.LittleEndian.Uint32(hdr[8:12]),
		StartID:            binary.LittleEndian.Uint32(hdr[12:16]),
		NextID:             binary.LittleEndian.Uint32(hdr[16:20]),
	}
	count := binary.LittleEndian.Uint32(hdr[20:24])
	s.Entries = make([]Entry, 0, count)

	for i := uint32(0); i < count; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("dictionary: read term length: %w", err)
		}
		termLen := binary.LittleEndian.Uint32(lenBuf[:])
		termBytes := make([]byte, termLen)
		if _, err := io.ReadFull(r, termBytes); err != nil {
			return nil, fmt.Errorf("dictionary: read term: %w", err)
		}
		var idBuf [4]byte
		if _, err := io.ReadFull(r, idBuf[:]); err != nil {
			return nil, fmt.Errorf("dictionary: read term id: %w", err)
		}
		s.Entries = append(s.Entries, Entry{
			Term: string(termBytes),
			ID:   binary.LittleEndian.Uint32(idBuf[:]),
		})
	}
	return s, nil
}
