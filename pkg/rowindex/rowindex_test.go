package rowindex

import (
	"testing"

	"github.com/mnohosten/forumidx/pkg/rowstore"
	"github.com/mnohosten/forumidx/pkg/storage"
)

func TestMultiMapAddLookupRemove(t *testing.T) {
	m := NewMultiMap()
	id1 := rowstore.RowID{Page: 1, Slot: 0}
	id2 := rowstore.RowID{Page: 1, Slot: 1}

	m.Add(42, id1)
	m.Add(42, id2)

	ids := m.Lookup(42)
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	m.Remove(42, id1)
	ids = m.Lookup(42)
	if len(ids) != 1 || ids[0] != id2 {
		t.Errorf("after remove, ids = %v, want [%v]", ids, id2)
	}

	m.Remove(42, id2)
	if m.Count(42) != 0 {
		t.Errorf("expected key to be fully drained, count = %d", m.Count(42))
	}
}

func TestMultiMapRemoveKey(t *testing.T) {
	m := NewMultiMap()
	m.Add(1, rowstore.RowID{Page: 1, Slot: 0})
	m.Add(1, rowstore.RowID{Page: 1, Slot: 1})
	m.RemoveKey(1)
	if m.Count(1) != 0 {
		t.Errorf("expected key 1 fully removed, count = %d", m.Count(1))
	}
}

func TestRebuildIndexesByKeyFunc(t *testing.T) {
	dir := t.TempDir()
	cfg := storage.DefaultConfig(dir, "postings.db")
	rs, err := rowstore.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rs.Close()

	rs.AppendRow(rowstore.Row{DocumentID: 0, TermID: 10, Score: 1})
	rs.AppendRow(rowstore.Row{DocumentID: 0, TermID: 11, Score: 1})
	rs.AppendRow(rowstore.Row{DocumentID: 1, TermID: 10, Score: 1})

	byTerm, err := Rebuild(rs, func(r rowstore.Row) uint32 { return r.TermID })
	if err != nil {
		t.Fatalf("Rebuild by term: %v", err)
	}
	if byTerm.Count(10) != 2 {
		t.Errorf("term 10 postings = %d, want 2", byTerm.Count(10))
	}
	if byTerm.Count(11) != 1 {
		t.Errorf("term 11 postings = %d, want 1", byTerm.Count(11))
	}

	byDoc, err := Rebuild(rs, func(r rowstore.Row) uint32 { return r.DocumentID })
	if err != nil {
		t.Fatalf("Rebuild by document: %v", err)
	}
	if byDoc.Count(0) != 2 {
		t.Errorf("document 0 postings = %d, want 2", byDoc.Count(0))
	}
}

func TestResetClearsEntries(t *testing.T) {
	m := NewMultiMap()
	m.Add(1, rowstore.RowID{Page: 1, Slot: 0})
	m.Reset()
	if len(m.Keys()) != 0 {
		t.Errorf("expected no keys after reset, got %v", m.Keys())
	}
}
