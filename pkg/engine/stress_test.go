package engine

import (
	"fmt"
	"math"
	"testing"

	"github.com/mnohosten/forumidx/pkg/ingest"
)

// TestIndexOrderingStressTest runs a synthetic corpus large
// enough to exercise the full three-phase pipeline under realistic skew,
// checked two ways — every surviving document's score vector is unit
// L2-normalized, and the dictionary's surviving term count matches an
// independent in-memory tally built without touching the engine at all.
func TestIndexOrderingStressTest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const (
		numDocuments = 100000
		threshold    = 5
	)

	// Each document draws one token per scale: term_<scale>_<i%scale>.
	// A term's total occurrence count across the corpus is therefore
	// ~numDocuments/scale, so small scales (2, 3, 5...) produce a handful
	// of very frequent survivors and large scales (20000, 50000) produce
	// terms occurring only a few times each, landing at or below the
	// prune threshold — a realistic frequency spread without scanning a
	// large vocabulary per document.
	scales := []int{2, 3, 5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 20000, 50000}

	docs := make([]ingest.Document, numDocuments)
	counter := make(map[string]int, 90000)
	for i := 0; i < numDocuments; i++ {
		tokens := make([]string, len(scales))
		for j, scale := range scales {
			term := fmt.Sprintf("term_%d_%d", scale, i%scale)
			tokens[j] = term
			counter[term]++
		}
		docs[i] = ingest.Document{Name: fmt.Sprintf("doc%d", i), Tokens: tokens}
	}

	wantSurvivingTerms := 0
	for _, count := range counter {
		if count > threshold {
			wantSurvivingTerms++
		}
	}

	cfg := DefaultConfig(t.TempDir())
	cfg.MinFrequency = threshold
	b, err := NewBuilder(cfg)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	if err := b.Build(ingest.NewSliceSource(docs)); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := b.Dictionary().Count(); got != wantSurvivingTerms {
		t.Fatalf("surviving term count = %d, want %d (independently tallied)", got, wantSurvivingTerms)
	}

	for docID := uint32(0); docID < b.TotalDocumentCount(); docID++ {
		if !b.Store().Documents().Exists(docID) {
			continue
		}
		postings, err := b.Store().ScanByDocument(docID)
		if err != nil {
			t.Fatalf("ScanByDocument(%d): %v", docID, err)
		}
		if len(postings) == 0 {
			continue
		}
		var sumSquares float64
		for _, p := range postings {
			sumSquares += p.Score * p.Score
		}
		if math.Abs(sumSquares-1.0) > 1e-6 {
			t.Fatalf("document %d sum of squared scores = %v, want 1.0", docID, sumSquares)
		}
	}
}
