package matrix

import (
	"strings"
	"testing"

	"github.com/mnohosten/forumidx/pkg/storage"
)

func openTestDocTable(t *testing.T) *DocumentTable {
	t.Helper()
	cfg := storage.DefaultConfig(t.TempDir(), "documents.db")
	dt, err := OpenDocumentTable(cfg, 16)
	if err != nil {
		t.Fatalf("OpenDocumentTable: %v", err)
	}
	t.Cleanup(func() { dt.Close() })
	return dt
}

func TestDocumentTableInsertLookup(t *testing.T) {
	dt := openTestDocTable(t)

	if err := dt.Insert(0, Record{Name: "docA", Fulltext: "hello world", HasFulltext: true}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := dt.Insert(1, Record{Name: "docB"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	name, ok, err := dt.LookupName(0)
	if err != nil || !ok || name != "docA" {
		t.Fatalf("LookupName(0) = (%q, %v, %v), want (docA, true, nil)", name, ok, err)
	}

	fulltext, ok, err := dt.LookupFulltext(0)
	if err != nil || !ok || fulltext != "hello world" {
		t.Fatalf("LookupFulltext(0) = (%q, %v, %v)", fulltext, ok, err)
	}

	if _, ok, _ := dt.LookupFulltext(1); ok {
		t.Fatalf("docB has no fulltext, LookupFulltext should report not-ok")
	}

	if dt.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", dt.Count())
	}
}

func TestDocumentTableDelete(t *testing.T) {
	dt := openTestDocTable(t)
	if err := dt.Insert(0, Record{Name: "docA"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := dt.Delete(0); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if dt.Exists(0) {
		t.Fatalf("doc 0 should not exist after delete")
	}
	if _, ok, _ := dt.LookupName(0); ok {
		t.Fatalf("LookupName should miss after delete")
	}
}

func TestDocumentTableFulltextCompressionRoundTrip(t *testing.T) {
	dt := openTestDocTable(t)

	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 200)
	if err := dt.Insert(0, Record{Name: "docA", Fulltext: long, HasFulltext: true}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := dt.Insert(1, Record{Name: "docB", Fulltext: "", HasFulltext: true}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok, err := dt.LookupFulltext(0)
	if err != nil || !ok {
		t.Fatalf("LookupFulltext(0) = (%q, %v, %v)", got, ok, err)
	}
	if got != long {
		t.Fatalf("LookupFulltext(0) round-trip mismatch: got %d bytes, want %d", len(got), len(long))
	}

	empty, ok, err := dt.LookupFulltext(1)
	if err != nil || !ok || empty != "" {
		t.Fatalf("LookupFulltext(1) = (%q, %v, %v), want (\"\", true, nil)", empty, ok, err)
	}
}

func TestDocumentTableReopenRebuildsLocations(t *testing.T) {
	dir := t.TempDir()
	cfg := storage.DefaultConfig(dir, "documents.db")

	dt, err := OpenDocumentTable(cfg, 16)
	if err != nil {
		t.Fatalf("OpenDocumentTable: %v", err)
	}
	for i := uint32(0); i < 5; i++ {
		if err := dt.Insert(i, Record{Name: "doc", Fulltext: "x", HasFulltext: true}); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	if err := dt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenDocumentTable(cfg, 16)
	if err != nil {
		t.Fatalf("reopen OpenDocumentTable: %v", err)
	}
	defer reopened.Close()

	if reopened.Count() != 5 {
		t.Fatalf("Count() after reopen = %d, want 5", reopened.Count())
	}
	for i := uint32(0); i < 5; i++ {
		if !reopened.Exists(i) {
			t.Fatalf("doc %d missing after reopen", i)
		}
	}
}
