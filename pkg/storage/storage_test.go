package storage

import (
	"os"
	"testing"
)

func TestNewPageEngine(t *testing.T) {
	dir := "./test_storage"
	defer os.RemoveAll(dir)

	config := DefaultConfig(dir, "postings.db")
	engine, err := NewPageEngine(config)
	if err != nil {
		t.Fatalf("Failed to create page engine: %v", err)
	}
	defer engine.Close()

	if engine == nil {
		t.Fatal("Expected non-nil page engine")
	}
}

func TestAllocateAndFetchPage(t *testing.T) {
	dir := "./test_storage_page"
	defer os.RemoveAll(dir)

	config := DefaultConfig(dir, "postings.db")
	engine, err := NewPageEngine(config)
	if err != nil {
		t.Fatalf("Failed to create page engine: %v", err)
	}
	defer engine.Close()

	page, err := engine.AllocatePage()
	if err != nil {
		t.Fatalf("Failed to allocate page: %v", err)
	}

	pageID := page.ID

	testData := []byte("Hello, Storage!")
	copy(page.Data, testData)
	page.MarkDirty()

	engine.UnpinPage(pageID, true)

	fetchedPage, err := engine.FetchPage(pageID)
	if err != nil {
		t.Fatalf("Failed to fetch page: %v", err)
	}

	fetchedData := fetchedPage.Data[:len(testData)]
	if string(fetchedData) != string(testData) {
		t.Errorf("Expected %s, got %s", testData, fetchedData)
	}

	engine.UnpinPage(fetchedPage.ID, false)
}

func TestPageEngineReopenPersistsData(t *testing.T) {
	dir := "./test_storage_reopen"
	defer os.RemoveAll(dir)

	config := DefaultConfig(dir, "postings.db")
	engine, err := NewPageEngine(config)
	if err != nil {
		t.Fatalf("Failed to create page engine: %v", err)
	}

	page, _ := engine.AllocatePage()
	testData := []byte("reopen test")
	copy(page.Data, testData)
	page.MarkDirty()
	engine.UnpinPage(page.ID, true)
	pageID := page.ID

	if err := engine.Close(); err != nil {
		t.Fatalf("Failed to close page engine: %v", err)
	}

	engine2, err := NewPageEngine(config)
	if err != nil {
		t.Fatalf("Failed to reopen page engine: %v", err)
	}
	defer engine2.Close()

	reopenedPage, err := engine2.FetchPage(pageID)
	if err != nil {
		t.Fatalf("Failed to fetch page after reopen: %v", err)
	}

	reopenedData := reopenedPage.Data[:len(testData)]
	if string(reopenedData) != string(testData) {
		t.Errorf("Data not persisted correctly: expected %s, got %s", testData, reopenedData)
	}

	engine2.UnpinPage(reopenedPage.ID, false)
}

func TestPageEngineStats(t *testing.T) {
	dir := "./test_storage_stats"
	defer os.RemoveAll(dir)

	config := DefaultConfig(dir, "postings.db")
	engine, err := NewPageEngine(config)
	if err != nil {
		t.Fatalf("Failed to create page engine: %v", err)
	}
	defer engine.Close()

	page, _ := engine.AllocatePage()
	engine.UnpinPage(page.ID, true)

	stats := engine.Stats()
	if stats.BufferPool.Size == 0 {
		t.Error("Expected non-zero buffer pool size after allocation")
	}
}
