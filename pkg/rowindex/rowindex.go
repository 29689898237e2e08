// Package rowindex provides the in-memory auxiliary indices the matrix
// layer needs to scan postings by term or by document. Every lookup is an
// equality lookup on term_id or document_id ("all postings for this term",
// "all postings for this document"), so an ordered structure buys nothing
// over a hash multimap. The index is absent during bulk ingest and built
// fresh by a Rebuild call before the phase that needs it.
package rowindex

import (
	"sync"

	"github.com/mnohosten/forumidx/pkg/rowstore"
)

// MultiMap maps a uint32 key (a term_id or a document_id) to the set of
// RowIDs posted under it.
type MultiMap struct {
	mu      sync.RWMutex
	entries map[uint32][]rowstore.RowID
}

// NewMultiMap creates an empty index.
func NewMultiMap() *MultiMap {
	return &MultiMap{entries: make(map[uint32][]rowstore.RowID)}
}

// Add records that key maps to id.
func (m *MultiMap) Add(key uint32, id rowstore.RowID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append(m.entries[key], id)
}

// Lookup returns the RowIDs recorded under key, or nil if none.
func (m *MultiMap) Lookup(key uint32) []rowstore.RowID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.entries[key]
	out := make([]rowstore.RowID, len(ids))
	copy(out, ids)
	return out
}

// Remove deletes one specific (key, id) association, used when a single
// posting is tombstoned rather than an entire key.
func (m *MultiMap) Remove(key uint32, id rowstore.RowID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.entries[key]
	for i, existing := range ids {
		if existing == id {
			ids[i] = ids[len(ids)-1]
			m.entries[key] = ids[:len(ids)-1]
			break
		}
	}
	if len(m.entries[key]) == 0 {
		delete(m.entries, key)
	}
}

// RemoveKey drops an entire key and every RowID recorded under it, used
// when a term is pruned outright.
func (m *MultiMap) RemoveKey(key uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Keys returns every key currently indexed.
func (m *MultiMap) Keys() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]uint32, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// Count returns the number of RowIDs recorded under key.
func (m *MultiMap) Count(key uint32) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[key])
}

// Reset discards all entries, used before a Rebuild.
func (m *MultiMap) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[uint32][]rowstore.RowID)
}

// Rebuild clears the index and repopulates it by scanning store, keyed by
// keyOf(row). The auxiliary index appropriate to the next build phase is
// built fresh rather than maintained incrementally through ingest, which
// would slow bulk insert by orders of magnitude.
func Rebuild(store *rowstore.RowStore, keyOf func(rowstore.Row) uint32) (*MultiMap, error) {
	m := NewMultiMap()
	err := store.Scan(func(id rowstore.RowID, row rowstore.Row) error {
		m.Add(keyOf(row), id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
