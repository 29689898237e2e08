package engine

import (
	"container/heap"
	"math"
	"sort"
	"time"

	"github.com/mnohosten/forumidx/pkg/dictionary"
	"github.com/mnohosten/forumidx/pkg/diagnostic"
	"github.com/mnohosten/forumidx/pkg/matrix"
	"github.com/mnohosten/forumidx/pkg/metrics"
)

// Evaluator turns a query token list into a normalized TF-IDF vector,
// unions or intersects postings lists for candidates, and returns the
// top-K by cosine similarity.
type Evaluator struct {
	store              *matrix.Store
	dict               *dictionary.Dictionary
	totalDocumentCount uint32
	sink               *diagnostic.Sink
	metrics            *metrics.Collector
}

// NewEvaluator builds an Evaluator directly over an already-open store
// and dictionary, e.g. immediately after Builder.Build in the same
// process (mode 3).
func NewEvaluator(store *matrix.Store, dict *dictionary.Dictionary, totalDocumentCount uint32, cfg Config) *Evaluator {
	return &Evaluator{
		store:              store,
		dict:               dict,
		totalDocumentCount: totalDocumentCount,
		sink:               cfg.sink(),
		metrics:            cfg.Metrics,
	}
}

// OpenEvaluator reopens a previously sealed index at cfg.WorkingDir for
// query-only use (mode 2): it loads the dictionary sidecar, opens the
// sparse matrix store read-many, and rebuilds both auxiliary indices so
// ScanByTerm and ScanByDocument are both servable.
func OpenEvaluator(cfg Config) (*Evaluator, error) {
	if err := ValidateForQuery(cfg); err != nil {
		return nil, err
	}
	sidecar, err := dictionary.Load(cfg.sidecarPath())
	if err != nil {
		return nil, NewFault(KindStorage, "load dictionary sidecar", err)
	}
	dict := dictionary.FromSidecar(sidecar)

	matrixCfg := cfg.matrixConfig()
	matrixCfg.UseMmap = true
	store, err := matrix.Open(matrixCfg)
	if err != nil {
		return nil, NewFault(KindStorage, "open sparse matrix store", err)
	}
	if ok, err := store.VerifyIntegrity(); err != nil || !ok {
		store.Close()
		if err != nil {
			return nil, NewFault(KindStorage, "verify segment checksum", err)
		}
		return nil, NewFault(KindStorage, "posting segment checksum mismatch: on-disk data is corrupt", nil)
	}
	if err := store.PrepareForQueries(); err != nil {
		store.Close()
		return nil, NewFault(KindStorage, "prepare indices for querying", err)
	}

	return &Evaluator{
		store:              store,
		dict:               dict,
		totalDocumentCount: sidecar.TotalDocumentCount,
		sink:               cfg.sink(),
		metrics:            cfg.Metrics,
	}, nil
}

// Close closes the underlying store. It does so unconditionally, also when
// the store is shared with a live Builder (an Evaluator from
// NewEvaluator), so such a store is closed for the Builder too.
func (e *Evaluator) Close() error {
	return e.store.Close()
}

// Params are the per-query evaluation parameters.
type Params struct {
	TopK         int
	Conjunctive  bool
	WantFulltext bool
}

// Result is one ranked hit.
type Result struct {
	DocumentID   uint32
	DocumentName string
	Similarity   float64
	Fulltext     string
}

// TermIDF is the per-query-term diagnostic record: each term's IDF as
// seen by this query, including unknown terms.
type TermIDF struct {
	Term string
	IDF  float64
}

// Response bundles a query's ranked results with its IDF diagnostics.
type Response struct {
	Results     []Result
	Diagnostics []TermIDF
}

// Evaluate runs the full query pipeline over tokens: dedup, term
// resolution, candidate assembly, scoring, top-K selection.
func (e *Evaluator) Evaluate(tokens []string, params Params) (*Response, error) {
	start := time.Now()
	resp, err := e.evaluate(tokens, params)
	if e.metrics != nil {
		returned := 0
		if resp != nil {
			returned = len(resp.Results)
		}
		e.metrics.RecordQuery(time.Since(start), returned)
	}
	return resp, err
}

func (e *Evaluator) evaluate(tokens []string, params Params) (*Response, error) {
	// Step 1: dedup preserving first-occurrence order, so diagnostics
	// line up with the tokens as the caller wrote them.
	seen := make(map[string]struct{}, len(tokens))
	var unique []string
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}

	if len(unique) == 0 {
		e.warn("empty query after deduplication")
		return &Response{}, nil
	}

	// Step 2: resolve to term-ids; unknown terms get the sentinel rather
	// than a side-effecting Intern, so querying never grows the
	// dictionary.
	termIDs := make([]uint32, len(unique))
	diagnostics := make([]TermIDF, len(unique))
	anyKnown := false
	n := math.Max(float64(e.totalDocumentCount), 1)

	for i, term := range unique {
		id, ok := e.dict.Lookup(term)
		df := 0
		if ok {
			anyKnown = true
			termIDs[i] = id
			if count, err := e.store.TermDocumentFrequency(id); err == nil {
				df = count
			}
		} else {
			termIDs[i] = dictionary.UnknownTermID
			e.warn("unknown query term: " + term)
		}
		diagnostics[i] = TermIDF{Term: term, IDF: math.Log2(n / math.Max(float64(df), 1))}
	}

	if !anyKnown {
		e.warn("all query terms unknown")
		return &Response{Diagnostics: diagnostics}, nil
	}

	// Step 3: build the candidate set.
	candidates, err := e.candidates(termIDs, params.Conjunctive)
	if err != nil {
		return nil, NewFault(KindStorage, "build candidate set", err)
	}
	if len(candidates) == 0 {
		e.warn("empty candidate set")
		return &Response{Diagnostics: diagnostics}, nil
	}

	// Step 4: query TF-IDF vector, L2-normalized.
	queryVector := make(map[uint32]float64, len(unique))
	var querySumSquares float64
	for i, id := range termIDs {
		if id == dictionary.UnknownTermID {
			continue
		}
		w := diagnostics[i].IDF
		queryVector[id] = w
		querySumSquares += w * w
	}
	queryNorm := math.Sqrt(querySumSquares)
	if queryNorm == 0 {
		// Every matched term has IDF 0 (present in every document): the
		// query carries no discriminating information. Return an empty
		// result set rather than dividing by zero.
		e.warn("query vector has zero information (all matched terms have IDF 0)")
		return &Response{Diagnostics: diagnostics}, nil
	}
	for id := range queryVector {
		queryVector[id] /= queryNorm
	}

	// Step 5: cosine similarity per candidate.
	results := make([]docScore, 0, len(candidates))
	for _, docID := range candidates {
		postings, err := e.store.ScanByDocument(docID)
		if err != nil {
			return nil, NewFault(KindStorage, "scan candidate document vector", err)
		}
		var dot float64
		for _, p := range postings {
			if qw, ok := queryVector[p.TermID]; ok {
				dot += qw * p.Score
			}
		}
		results = append(results, docScore{docID: docID, score: dot})
	}

	// Step 6: bounded top-K selection, O(C log K).
	topK := params.TopK
	if topK <= 0 {
		topK = len(results)
	}
	h := &topKHeap{}
	heap.Init(h)
	for _, r := range results {
		heap.Push(h, r)
		if h.Len() > topK {
			heap.Pop(h)
		}
	}
	final := make([]docScore, h.Len())
	for i := len(final) - 1; i >= 0; i-- {
		final[i] = heap.Pop(h).(docScore)
	}
	// Deterministic tie-break: ascending document_id on equal similarity.
	sort.SliceStable(final, func(i, j int) bool {
		if final[i].score != final[j].score {
			return final[i].score > final[j].score
		}
		return final[i].docID < final[j].docID
	})

	out := make([]Result, len(final))
	for i, r := range final {
		name, _, err := e.store.Documents().LookupName(r.docID)
		if err != nil {
			return nil, NewFault(KindStorage, "lookup document name", err)
		}
		res := Result{DocumentID: r.docID, DocumentName: name, Similarity: r.score}
		if params.WantFulltext {
			fulltext, _, err := e.store.Documents().LookupFulltext(r.docID)
			if err != nil {
				return nil, NewFault(KindStorage, "lookup document fulltext", err)
			}
			res.Fulltext = fulltext
		}
		out[i] = res
	}

	if len(out) == 0 {
		e.warn("query produced no results")
	}
	return &Response{Results: out, Diagnostics: diagnostics}, nil
}

// candidates unions or intersects each term's postings list. A truly
// conjunctive query containing an unknown term can never match anything
// (it asks for a term no document contains), so an empty list for any
// term correctly collapses the intersection to empty.
func (e *Evaluator) candidates(termIDs []uint32, conjunctive bool) ([]uint32, error) {
	lists := make([][]uint32, 0, len(termIDs))
	for _, id := range termIDs {
		if id == dictionary.UnknownTermID {
			lists = append(lists, nil)
			continue
		}
		docIDs, err := e.store.ScanByTerm(id)
		if err != nil {
			return nil, err
		}
		lists = append(lists, docIDs)
	}

	if conjunctive {
		return intersect(lists), nil
	}
	return union(lists), nil
}

func union(lists [][]uint32) []uint32 {
	set := make(map[uint32]struct{})
	for _, list := range lists {
		for _, id := range list {
			set[id] = struct{}{}
		}
	}
	out := make([]uint32, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func intersect(lists [][]uint32) []uint32 {
	if len(lists) == 0 {
		return nil
	}
	counts := make(map[uint32]int)
	for _, list := range lists {
		seen := make(map[uint32]struct{}, len(list))
		for _, id := range list {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			counts[id]++
		}
	}
	out := make([]uint32, 0)
	for id, c := range counts {
		if c == len(lists) {
			out = append(out, id)
		}
	}
	return out
}

func (e *Evaluator) warn(message string) {
	if e.metrics != nil {
		e.metrics.RecordQueryWarning()
	}
	e.sink.Emit(&diagnostic.Event{
		Kind:     diagnostic.KindQueryWarning,
		Severity: diagnostic.SeverityWarning,
		Success:  true,
		Details:  map[string]interface{}{"message": message},
	})
}

// docScore pairs a candidate document with its cosine similarity.
type docScore struct {
	docID uint32
	score float64
}

// topKHeap is a min-heap over docScore ordered so the worst candidate
// (lowest score, then highest docID as the tie-break loser) sits at the
// root and is evicted first once the heap exceeds K entries.
type topKHeap []docScore

func (h topKHeap) Len() int { return len(h) }
func (h topKHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score < h[j].score
	}
	return h[i].docID > h[j].docID
}
func (h topKHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *topKHeap) Push(x interface{}) {
	*h = append(*h, x.(docScore))
}
func (h *topKHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
