package dictionary

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInternIsIdempotent(t *testing.T) {
	d := New(0)
	id1 := d.Intern("foo")
	id2 := d.Intern("foo")
	if id1 != id2 {
		t.Fatalf("intern not idempotent: %d != %d", id1, id2)
	}
	if got, ok := d.Lookup("foo"); !ok || got != id1 {
		t.Fatalf("lookup(foo) = (%d, %v), want (%d, true)", got, ok, id1)
	}
}

func TestInternAllocatesMonotonically(t *testing.T) {
	d := New(5)
	ids := make(map[string]uint32)
	for _, term := range []string{"a", "b", "c"} {
		ids[term] = d.Intern(term)
	}
	if ids["a"] != 5 || ids["b"] != 6 || ids["c"] != 7 {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestLookupUnknownTerm(t *testing.T) {
	d := New(0)
	if _, ok := d.Lookup("nope"); ok {
		t.Fatalf("lookup of never-interned term should not be ok")
	}
	if d.Contains("nope") {
		t.Fatalf("contains(nope) should be false")
	}
}

func TestRemoveByIDsThenLookup(t *testing.T) {
	d := New(0)
	id := d.Intern("foo")
	d.Intern("bar")

	d.RemoveByIDs([]uint32{id})

	if d.Contains("foo") {
		t.Fatalf("foo should be gone after removal")
	}
	if !d.Contains("bar") {
		t.Fatalf("bar should survive removal of foo's id")
	}
}

func TestRemovedIDsAreNeverReused(t *testing.T) {
	d := New(0)
	fooID := d.Intern("foo")
	d.Intern("bar")
	d.RemoveByIDs([]uint32{fooID})

	newID := d.Intern("baz")
	if newID == fooID {
		t.Fatalf("removed id %d was reused for a fresh term", fooID)
	}
	if newID < d.NextID()-1 {
		t.Fatalf("next id did not advance past high-water mark")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	d := New(1)
	d.Intern("alpha")
	d.Intern("beta")
	beta, _ := d.Lookup("beta")
	d.RemoveByIDs([]uint32{beta})
	d.Intern("gamma")

	snap := d.Snapshot(42)
	dir := t.TempDir()
	path := filepath.Join(dir, "sidecar.bin")
	if err := Save(path, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.TotalDocumentCount != 42 {
		t.Fatalf("total document count = %d, want 42", loaded.TotalDocumentCount)
	}

	reopened := FromSidecar(loaded)
	if !reopened.Contains("alpha") || !reopened.Contains("gamma") {
		t.Fatalf("reopened dictionary missing surviving terms")
	}
	if reopened.Contains("beta") {
		t.Fatalf("reopened dictionary should not contain removed term")
	}
	if reopened.NextID() != d.NextID() {
		t.Fatalf("next id mismatch after reopen: %d != %d", reopened.NextID(), d.NextID())
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.bin")
	if err := os.WriteFile(path, []byte("not a sidecar file at all"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("Load should reject a file with a bad magic number")
	}
}
