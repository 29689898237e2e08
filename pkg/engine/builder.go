package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mnohosten/forumidx/pkg/dictionary"
	"github.com/mnohosten/forumidx/pkg/diagnostic"
	"github.com/mnohosten/forumidx/pkg/ingest"
	"github.com/mnohosten/forumidx/pkg/matrix"
	"github.com/mnohosten/forumidx/pkg/metrics"
)

// Builder orchestrates the three-phase bulk-ingest pipeline: ingest,
// prune, score, strictly sequenced — no scoring update happens before all
// prune deletes complete, no prune delete before all ingest inserts
// commit.
type Builder struct {
	cfg     Config
	store   *matrix.Store
	dict    *dictionary.Dictionary
	sink    *diagnostic.Sink
	metrics *metrics.Collector

	buildID            uuid.UUID
	totalDocumentCount uint32
}

// NewBuilder creates a Builder over a fresh or existing store at
// cfg.WorkingDir. Callers doing a from-scratch build should call
// ValidateForBuild first.
func NewBuilder(cfg Config) (*Builder, error) {
	store, err := matrix.Open(cfg.matrixConfig())
	if err != nil {
		return nil, NewFault(KindStorage, "open sparse matrix store", err)
	}
	buildID := uuid.New()
	sink := cfg.sink()
	sink.SetBuildID(buildID)
	return &Builder{
		cfg:     cfg,
		store:   store,
		dict:    dictionary.New(cfg.TermStartID),
		sink:    sink,
		metrics: cfg.Metrics,
		buildID: buildID,
	}, nil
}

// Close releases the underlying store without sealing it. A build that
// closes without completing the scoring phase leaves an unqueryable store.
func (b *Builder) Close() error {
	return b.store.Close()
}

// Build runs all three phases over source and seals the resulting index.
// It is the single entry point a CLI driver calls for mode 1 ("build")
// and the build half of mode 3 ("build then query").
func (b *Builder) Build(source ingest.Source) error {
	if err := b.ingest(source); err != nil {
		return err
	}
	// Zero disables pruning (no term's total count is <= 0); only a
	// negative value falls back to the default.
	minFreq := b.cfg.MinFrequency
	if minFreq < 0 {
		minFreq = DefaultMinFrequency
	}
	if err := b.prune(minFreq); err != nil {
		return err
	}
	if err := b.score(); err != nil {
		return err
	}
	return b.seal()
}

func (b *Builder) emit(kind diagnostic.Kind, phase string, success bool, cause error, details map[string]interface{}) {
	event := &diagnostic.Event{
		Kind:     kind,
		Severity: diagnostic.SeverityInfo,
		Phase:    phase,
		Success:  success,
		Details:  details,
	}
	if !success {
		event.Severity = diagnostic.SeverityError
		if cause != nil {
			event.ErrorMessage = cause.Error()
		}
	}
	b.sink.Emit(event)
}

// ingest is Phase 1: assign document-ids in arrival order, intern
// tokens, count occurrences per term, and insert one DocumentTable row
// plus one posting per distinct term — all inside a single bulk-insert
// epoch so no auxiliary index slows the hot path. Memory per document is
// O(distinct terms in that document): the stream is never materialized.
func (b *Builder) ingest(source ingest.Source) error {
	start := time.Now()
	b.store.BeginBulkInsert()

	var docID uint32
	for {
		doc, ok, err := source.Next()
		if err != nil {
			b.store.EndBulkInsert()
			b.emit(diagnostic.KindStorage, "ingest", false, err, nil)
			return NewFault(KindStorage, "read document stream", err)
		}
		if !ok {
			break
		}

		counts := make(map[uint32]uint32, len(doc.Tokens))
		for _, token := range doc.Tokens {
			id := b.dict.Intern(token)
			counts[id]++
		}

		if err := b.store.Documents().Insert(docID, matrix.Record{
			Name:        doc.Name,
			Fulltext:    doc.Fulltext,
			HasFulltext: doc.HasFulltext,
		}); err != nil {
			b.store.EndBulkInsert()
			b.emit(diagnostic.KindContract, "ingest", false, err, nil)
			return NewFault(KindContractViolation, fmt.Sprintf("insert document row for id %d", docID), err)
		}

		postings := make([]matrix.TermCount, 0, len(counts))
		for termID, count := range counts {
			postings = append(postings, matrix.TermCount{TermID: termID, Count: count})
		}
		if err := b.store.InsertPostings(docID, postings); err != nil {
			b.store.EndBulkInsert()
			b.emit(diagnostic.KindStorage, "ingest", false, err, nil)
			return NewFault(KindStorage, fmt.Sprintf("insert postings for document %d", docID), err)
		}

		docID++
	}

	if err := b.store.EndBulkInsert(); err != nil {
		b.emit(diagnostic.KindStorage, "ingest", false, err, nil)
		return NewFault(KindStorage, "commit bulk insert epoch", err)
	}

	// The scoring phase's IDF denominator freezes to this pre-prune count.
	b.totalDocumentCount = docID

	b.recordPhase("ingest", start)
	if b.metrics != nil {
		b.metrics.RecordIngest(int(docID))
	}
	b.emit(diagnostic.KindBuildPhase, "ingest", true, nil, map[string]interface{}{
		"documents": int(docID),
		"terms":     b.dict.Count(),
	})
	return nil
}

// prune is Phase 2: build the term_id auxiliary index, select every term
// whose total occurrence count is <= threshold (the boundary is
// inclusive), delete those postings (cascading orphaned documents), and
// retire the same term-ids from the dictionary.
func (b *Builder) prune(threshold int) error {
	start := time.Now()

	if err := b.store.PrepareForDeletes(); err != nil {
		b.emit(diagnostic.KindStorage, "prune", false, err, nil)
		return NewFault(KindStorage, "prepare term index for prune", err)
	}

	below, err := b.store.TermsBelowTotalFrequency(float64(threshold))
	if err != nil {
		b.emit(diagnostic.KindStorage, "prune", false, err, nil)
		return NewFault(KindStorage, "select terms below frequency threshold", err)
	}

	orphaned, err := b.store.DeleteByTermIDs(below)
	if err != nil {
		b.emit(diagnostic.KindStorage, "prune", false, err, nil)
		return NewFault(KindStorage, "delete pruned postings", err)
	}
	b.dict.RemoveByIDs(below)

	b.recordPhase("prune", start)
	if b.metrics != nil {
		b.metrics.RecordPrune(len(below), len(orphaned))
	}
	b.emit(diagnostic.KindBuildPhase, "prune", true, nil, map[string]interface{}{
		"terms_removed":      len(below),
		"documents_orphaned": len(orphaned),
		"threshold":          threshold,
	})
	return nil
}

// score is Phase 3: build the document_id auxiliary index, then
// for every surviving document in id order compute raw-count*IDF per
// term, L2-normalize, and flush normalized scores back via
// bulk_update_scores every ScoreFlushInterval documents and once at the
// end.
func (b *Builder) score() error {
	start := time.Now()

	if err := b.store.PrepareForUpdates(); err != nil {
		b.emit(diagnostic.KindStorage, "score", false, err, nil)
		return NewFault(KindStorage, "prepare document index for scoring", err)
	}

	flushEvery := b.cfg.ScoreFlushInterval
	if flushEvery <= 0 {
		flushEvery = DefaultScoreFlushInterval
	}

	var buffer []matrix.ScoreUpdate
	var scored int
	var docsSinceFlush int
	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		if err := b.store.BulkUpdateScores(buffer); err != nil {
			return err
		}
		buffer = buffer[:0]
		return nil
	}

	n := float64(b.totalDocumentCount)
	for docID := uint32(0); docID < b.totalDocumentCount; docID++ {
		if !b.store.Documents().Exists(docID) {
			continue // cascade-deleted during prune
		}
		postings, err := b.store.ScanByDocument(docID)
		if err != nil {
			b.emit(diagnostic.KindStorage, "score", false, err, nil)
			return NewFault(KindStorage, fmt.Sprintf("scan document %d for scoring", docID), err)
		}
		if len(postings) == 0 {
			continue
		}

		tfidf := make([]float64, len(postings))
		var sumSquares float64
		for i, p := range postings {
			df, err := b.store.TermDocumentFrequency(p.TermID)
			if err != nil {
				return NewFault(KindStorage, "read term document frequency", err)
			}
			idf := math.Log2(n / math.Max(float64(df), 1))
			tfidf[i] = p.Score * idf
			sumSquares += tfidf[i] * tfidf[i]
		}

		norm := math.Sqrt(sumSquares)
		for i, p := range postings {
			var normalized float64
			if norm != 0 {
				normalized = tfidf[i] / norm
			}
			buffer = append(buffer, matrix.ScoreUpdate{
				DocumentID: docID,
				TermID:     p.TermID,
				Score:      normalized,
			})
		}

		scored++
		docsSinceFlush++
		if int(docID+1)%flushEvery == 0 {
			if err := flush(); err != nil {
				b.emit(diagnostic.KindStorage, "score", false, err, nil)
				return NewFault(KindStorage, "flush score updates", err)
			}
			if b.metrics != nil {
				b.metrics.RecordScoreFlush(docsSinceFlush)
			}
			docsSinceFlush = 0
		}
	}
	if err := flush(); err != nil {
		b.emit(diagnostic.KindStorage, "score", false, err, nil)
		return NewFault(KindStorage, "flush final score updates", err)
	}
	if b.metrics != nil && docsSinceFlush > 0 {
		b.metrics.RecordScoreFlush(docsSinceFlush)
	}

	b.recordPhase("score", start)
	b.emit(diagnostic.KindBuildPhase, "score", true, nil, map[string]interface{}{
		"documents_scored": scored,
	})
	return nil
}

// seal compacts the store, persists the dictionary sidecar, and rebuilds
// both auxiliary indices so the store is immediately queryable from the
// same process (a separate query-only process reopens via OpenEvaluator
// instead).
func (b *Builder) seal() error {
	if err := b.store.Compact(); err != nil {
		return NewFault(KindStorage, "compact sealed store", err)
	}
	if err := b.store.PrepareForQueries(); err != nil {
		return NewFault(KindStorage, "prepare indices for querying", err)
	}
	snapshot := b.dict.Snapshot(b.totalDocumentCount)
	if err := dictionary.Save(b.cfg.sidecarPath(), snapshot); err != nil {
		return NewFault(KindStorage, "save dictionary sidecar", err)
	}
	b.emit(diagnostic.KindBuildPhase, "seal", true, nil, map[string]interface{}{
		"total_document_count": int(b.totalDocumentCount),
		"surviving_terms":      b.dict.Count(),
	})
	return nil
}

func (b *Builder) recordPhase(phase string, start time.Time) {
	if b.metrics != nil {
		b.metrics.RecordBuildPhase(phase, time.Since(start))
	}
}

// Store exposes the underlying matrix store, e.g. so a caller can build
// an Evaluator directly from a freshly sealed Builder without a reopen
// round-trip (mode 3, "build then query").
func (b *Builder) Store() *matrix.Store { return b.store }

// Dictionary exposes the in-memory term dictionary, for the same reason.
func (b *Builder) Dictionary() *dictionary.Dictionary { return b.dict }

// TotalDocumentCount returns the pre-prune document count frozen at the
// end of ingest, the denominator every IDF computation uses.
func (b *Builder) TotalDocumentCount() uint32 { return b.totalDocumentCount }

// BuildID returns the run identifier stamped on every diagnostic event
// this build emitted.
func (b *Builder) BuildID() uuid.UUID { return b.buildID }
