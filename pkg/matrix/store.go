package matrix

import (
	"fmt"
	"sync"

	"github.com/mnohosten/forumidx/pkg/rowindex"
	"github.com/mnohosten/forumidx/pkg/rowstore"
	"github.com/mnohosten/forumidx/pkg/storage"
)

// Store is the disk-backed sparse matrix of (document_id, term_id, score)
// triples, wrapping pkg/rowstore's fixed-width row heap with the two
// auxiliary indices the build phases need and the DocumentTable cascade-
// delete rule. It is the concrete PostingStore this engine ships; callers
// needing a different backend implement the same interface.
type Store struct {
	mu sync.Mutex

	postings *rowstore.RowStore
	docs     *DocumentTable

	byTerm     *rowindex.MultiMap
	byDocument *rowindex.MultiMap

	docLiveCount map[uint32]uint32
	bulkInsert   bool
}

var _ PostingStore = (*Store)(nil)

// Config bundles the on-disk configuration for both halves of the store.
type Config struct {
	DataDir          string
	PostingsFile     string // default "postings.db"
	DocumentsFile    string // default "documents.db"
	BufferPoolSize   int
	DocumentCacheLen int

	// UseMmap selects storage.MmapDiskManager over the plain
	// storage.DiskManager for both the posting heap and the document
	// table. A build mutates the store through three phases and has no
	// use for it; a sealed, read-many index opened by
	// engine.OpenEvaluator sets this, the workload the memory-mapped
	// backend is suited for.
	UseMmap bool
}

// DefaultConfig returns sensible defaults for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:          dataDir,
		PostingsFile:     "postings.db",
		DocumentsFile:    "documents.db",
		BufferPoolSize:   1000,
		DocumentCacheLen: 4096,
	}
}

// Open creates or reopens a sparse matrix store under cfg. A reopened
// store rebuilds its live-document counters by scanning the posting
// heap once, since that count is not itself persisted.
func Open(cfg Config) (*Store, error) {
	postingsCfg := storage.DefaultConfig(cfg.DataDir, cfg.PostingsFile)
	postingsCfg.BufferPoolSize = cfg.BufferPoolSize
	postingsCfg.UseMmap = cfg.UseMmap
	postings, err := rowstore.Open(postingsCfg)
	if err != nil {
		return nil, fmt.Errorf("matrix: open posting row store: %w", err)
	}

	docsCfg := storage.DefaultConfig(cfg.DataDir, cfg.DocumentsFile)
	docsCfg.BufferPoolSize = cfg.BufferPoolSize
	docsCfg.UseMmap = cfg.UseMmap
	docs, err := OpenDocumentTable(docsCfg, cfg.DocumentCacheLen)
	if err != nil {
		postings.Close()
		return nil, fmt.Errorf("matrix: open document table: %w", err)
	}

	s := &Store{
		postings:     postings,
		docs:         docs,
		docLiveCount: make(map[uint32]uint32),
	}
	if err := s.rebuildDocLiveCount(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) rebuildDocLiveCount() error {
	return s.postings.Scan(func(_ rowstore.RowID, row rowstore.Row) error {
		s.docLiveCount[row.DocumentID]++
		return nil
	})
}

// Documents exposes the underlying DocumentTable for callers (the
// builder, when inserting rows; the evaluator, when resolving names and
// fulltext) that need its API directly rather than through PostingStore.
func (s *Store) Documents() *DocumentTable { return s.docs }

// BeginBulkInsert scopes a high-throughput insertion epoch: no auxiliary
// index is maintained and individual inserts are not separately fsynced.
// Maintaining an index across millions of inserts would slow the bulk
// path by orders of magnitude.
func (s *Store) BeginBulkInsert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkInsert = true
}

// EndBulkInsert closes the epoch and durably flushes everything written
// during it in one go.
func (s *Store) EndBulkInsert() error {
	s.mu.Lock()
	s.bulkInsert = false
	s.mu.Unlock()
	if err := s.postings.Sync(); err != nil {
		return fmt.Errorf("matrix: sync postings after bulk insert: %w", err)
	}
	return s.docs.Sync()
}

// InsertPostings appends one posting per (term_id, raw_count) pair for
// documentID. Each (document_id, term_id) pair must be unique; this holds
// by construction since ingest calls this exactly once per document with
// already-deduplicated term counts. A duplicate pair indicates a producer
// bug and is a ContractViolation the caller (pkg/engine) is responsible
// for raising.
func (s *Store) InsertPostings(documentID uint32, postings []TermCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tc := range postings {
		if _, err := s.postings.AppendRow(rowstore.Row{
			DocumentID: documentID,
			TermID:     tc.TermID,
			Score:      float64(tc.Count),
		}); err != nil {
			return fmt.Errorf("matrix: append posting: %w", err)
		}
	}
	s.docLiveCount[documentID] = uint32(len(postings))

	if !s.bulkInsert {
		if err := s.postings.Sync(); err != nil {
			return fmt.Errorf("matrix: sync posting insert: %w", err)
		}
	}
	return nil
}

// ScanByTerm returns the document-ids posting under termID. Requires the
// term_id auxiliary index to be current (see PrepareForDeletes /
// PrepareForQueries).
func (s *Store) ScanByTerm(termID uint32) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanByTermLocked(termID)
}

func (s *Store) scanByTermLocked(termID uint32) ([]uint32, error) {
	if s.byTerm == nil {
		return nil, fmt.Errorf("matrix: term index not built; call PrepareForDeletes or PrepareForQueries first")
	}
	rowIDs := s.byTerm.Lookup(termID)
	docIDs := make([]uint32, 0, len(rowIDs))
	for _, id := range rowIDs {
		row, ok, err := s.postings.ReadRow(id)
		if err != nil {
			return nil, err
		}
		if ok {
			docIDs = append(docIDs, row.DocumentID)
		}
	}
	return docIDs, nil
}

// ScanByDocument returns documentID's term vector. Requires the
// document_id auxiliary index to be current (see PrepareForUpdates /
// PrepareForQueries).
func (s *Store) ScanByDocument(documentID uint32) ([]Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byDocument == nil {
		return nil, fmt.Errorf("matrix: document index not built; call PrepareForUpdates or PrepareForQueries first")
	}
	rowIDs := s.byDocument.Lookup(documentID)
	out := make([]Posting, 0, len(rowIDs))
	for _, id := range rowIDs {
		row, ok, err := s.postings.ReadRow(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Posting{TermID: row.TermID, Score: row.Score})
		}
	}
	return out, nil
}

// DeleteByTermIDs removes every posting whose term_id is in termIDs and
// cascades to DocumentTable for any document left with zero postings.
// It returns the ids of documents that were cascade-
// deleted, so the caller (pkg/engine's prune phase) can report counts.
func (s *Store) DeleteByTermIDs(termIDs []uint32) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTerm == nil {
		return nil, fmt.Errorf("matrix: term index not built; call PrepareForDeletes first")
	}

	touched := make(map[uint32]struct{})
	for _, termID := range termIDs {
		rowIDs := s.byTerm.Lookup(termID)
		for _, id := range rowIDs {
			row, ok, err := s.postings.ReadRow(id)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if err := s.postings.DeleteRow(id); err != nil {
				return nil, fmt.Errorf("matrix: delete posting row: %w", err)
			}
			touched[row.DocumentID] = struct{}{}
			if s.docLiveCount[row.DocumentID] > 0 {
				s.docLiveCount[row.DocumentID]--
			}
		}
		s.byTerm.RemoveKey(termID)
	}

	var orphaned []uint32
	for docID := range touched {
		if s.docLiveCount[docID] == 0 {
			if err := s.docs.Delete(docID); err != nil {
				return nil, fmt.Errorf("matrix: cascade delete document %d: %w", docID, err)
			}
			delete(s.docLiveCount, docID)
			orphaned = append(orphaned, docID)
		}
	}
	return orphaned, nil
}

// BulkUpdateScores overwrites the score of each (document_id, term_id)
// pair named in updates. A pair with no matching row is silently ignored.
// Requires the document_id auxiliary index.
func (s *Store) BulkUpdateScores(updates []ScoreUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byDocument == nil {
		return fmt.Errorf("matrix: document index not built; call PrepareForUpdates first")
	}

	for _, u := range updates {
		rowIDs := s.byDocument.Lookup(u.DocumentID)
		for _, id := range rowIDs {
			row, ok, err := s.postings.ReadRow(id)
			if err != nil {
				return err
			}
			if !ok || row.TermID != u.TermID {
				continue
			}
			if _, err := s.postings.UpdateScore(id, u.Score); err != nil {
				return fmt.Errorf("matrix: update score: %w", err)
			}
			break
		}
	}
	return nil
}

// TermDocumentFrequency returns the number of distinct documents carrying
// termID (the df in IDF). Requires the term_id index.
func (s *Store) TermDocumentFrequency(termID uint32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTerm == nil {
		return 0, fmt.Errorf("matrix: term index not built")
	}
	return s.byTerm.Count(termID), nil
}

// TermTotalFrequency sums the scores posted under termID (raw counts
// before scoring, the IDF-weighted sum afterward). Requires the term_id
// index.
func (s *Store) TermTotalFrequency(termID uint32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termTotalFrequencyLocked(termID)
}

func (s *Store) termTotalFrequencyLocked(termID uint32) (float64, error) {
	if s.byTerm == nil {
		return 0, fmt.Errorf("matrix: term index not built")
	}
	var total float64
	for _, id := range s.byTerm.Lookup(termID) {
		row, ok, err := s.postings.ReadRow(id)
		if err != nil {
			return 0, err
		}
		if ok {
			total += row.Score
		}
	}
	return total, nil
}

// TermsBelowTotalFrequency returns every term-id whose summed score is
// <= threshold; the prune boundary is inclusive. Requires the term_id
// index.
func (s *Store) TermsBelowTotalFrequency(threshold float64) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTerm == nil {
		return nil, fmt.Errorf("matrix: term index not built")
	}
	var out []uint32
	for _, termID := range s.byTerm.Keys() {
		total, err := s.termTotalFrequencyLocked(termID)
		if err != nil {
			return nil, err
		}
		if total <= threshold {
			out = append(out, termID)
		}
	}
	return out, nil
}

// PrepareForInserts commits pending work and drops both auxiliary
// indices; no index is maintained during bulk insert.
func (s *Store) PrepareForInserts() error {
	s.mu.Lock()
	s.byTerm = nil
	s.byDocument = nil
	s.mu.Unlock()
	return s.postings.Sync()
}

// PrepareForDeletes commits pending work and builds the term_id index the
// prune phase needs.
func (s *Store) PrepareForDeletes() error {
	return s.rebuildIndex(true, false)
}

// PrepareForUpdates commits pending work and builds the document_id index
// the scoring phase needs.
func (s *Store) PrepareForUpdates() error {
	return s.rebuildIndex(false, true)
}

// PrepareForQueries builds both auxiliary indices, used once a build is
// sealed (or a store is reopened read-only) so the evaluator can both
// resolve postings lists by term and document vectors by id.
func (s *Store) PrepareForQueries() error {
	return s.rebuildIndex(true, true)
}

func (s *Store) rebuildIndex(term, document bool) error {
	if err := s.postings.Sync(); err != nil {
		return fmt.Errorf("matrix: sync before index build: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if term {
		byTerm, err := rowindex.Rebuild(s.postings, func(r rowstore.Row) uint32 { return r.TermID })
		if err != nil {
			return fmt.Errorf("matrix: build term index: %w", err)
		}
		s.byTerm = byTerm
	}
	if document {
		byDocument, err := rowindex.Rebuild(s.postings, func(r rowstore.Row) uint32 { return r.DocumentID })
		if err != nil {
			return fmt.Errorf("matrix: build document index: %w", err)
		}
		s.byDocument = byDocument
	}
	return nil
}

// Compact reclaims tombstoned space in both the posting heap and flushes
// the document table, making subsequent scans as fast as possible.
// Invalidates both auxiliary indices (RowIDs shift during compaction), so
// callers must call PrepareForQueries again afterward if they need to
// keep scanning.
func (s *Store) Compact() error {
	s.mu.Lock()
	s.byTerm = nil
	s.byDocument = nil
	s.mu.Unlock()

	if err := s.postings.Compact(); err != nil {
		return fmt.Errorf("matrix: compact postings: %w", err)
	}
	return s.docs.Sync()
}

// VerifyIntegrity recomputes the posting heap's segment checksum and
// compares it against the one persisted at the last Compact (Builder.seal
// calls Compact once the index is sealed). A store that was never sealed
// has no checksum to compare against and reports ok=true.
func (s *Store) VerifyIntegrity() (ok bool, err error) {
	return s.postings.VerifyChecksum()
}

// LiveDocumentCount returns the number of documents still carrying at
// least one posting.
func (s *Store) LiveDocumentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docLiveCount)
}

// PostingCount returns the number of live posting rows.
func (s *Store) PostingCount() uint64 {
	return s.postings.LiveRowCount()
}

// Sync flushes both halves of the store to durable storage.
func (s *Store) Sync() error {
	if err := s.postings.Sync(); err != nil {
		return err
	}
	return s.docs.Sync()
}

// Close flushes and closes both halves of the store.
func (s *Store) Close() error {
	postingsErr := s.postings.Close()
	docsErr := s.docs.Close()
	if postingsErr != nil {
		return postingsErr
	}
	return docsErr
}
