// Package matrix implements the sparse term-document matrix and the
// document table over pkg/rowstore (fixed-width posting rows) and
// pkg/storage's slotted pages (variable-length document records), with
// pkg/rowindex supplying the auxiliary term_id/document_id indices the
// builder rebuilds between phases.
package matrix

// PostingStore is the set of operations a Builder and Evaluator need from
// the sparse matrix, independent of backend. The contract is named and
// exported so an in-memory or memory-mapped alternative implementation
// can substitute for Store in tests or future backends.
type PostingStore interface {
	BeginBulkInsert()
	EndBulkInsert() error

	InsertPostings(documentID uint32, postings []TermCount) error

	ScanByTerm(termID uint32) ([]uint32, error)
	ScanByDocument(documentID uint32) ([]Posting, error)

	DeleteByTermIDs(termIDs []uint32) ([]uint32, error)
	BulkUpdateScores(updates []ScoreUpdate) error

	TermDocumentFrequency(termID uint32) (int, error)
	TermTotalFrequency(termID uint32) (float64, error)
	TermsBelowTotalFrequency(threshold float64) ([]uint32, error)

	PrepareForInserts() error
	PrepareForDeletes() error
	PrepareForUpdates() error

	Compact() error
}

// Posting is one (term_id, score) pair returned from a document scan.
type Posting struct {
	TermID uint32
	Score  float64
}

// TermCount is one (term_id, raw_count) pair produced by ingest.
type TermCount struct {
	TermID uint32
	Count  uint32
}

// ScoreUpdate overwrites the score of one (document_id, term_id) pair.
// Pairs with no matching row are silently ignored.
type ScoreUpdate struct {
	DocumentID uint32
	TermID     uint32
	Score      float64
}
