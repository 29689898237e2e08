package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PagedStore is the durable, page-addressable backend a PageEngine runs on.
// DiskManager and MmapDiskManager both satisfy it, so callers can pick the
// trade-off (plain file I/O vs. a memory-mapped file) without touching the
// row/index layers built on top.
type PagedStore interface {
	ReadPage(id PageID) (*Page, error)
	WritePage(page *Page) error
	AllocatePage() (PageID, error)
	DeallocatePage(id PageID) error
	Sync() error
	Close() error
}

// PageEngine manages page-level persistence for one on-disk table (the
// sparse matrix's posting rows or the document table's rows) behind a
// buffer pool. It carries no write-ahead log: a partially built index is
// never promised to survive a crash (a build either runs the scoring phase
// to completion or is discarded), so WAL-based recovery has no caller.
type PageEngine struct {
	store      PagedStore
	bufferPool *BufferPool
	mu         sync.RWMutex
	dataDir    string
	isOpen     bool
}

// Config holds page engine configuration.
type Config struct {
	DataDir        string
	FileName       string // e.g. "postings.db" or "documents.db"
	BufferPoolSize int    // number of pages to cache
	UseMmap        bool   // memory-map the backing file instead of plain I/O
}

// DefaultConfig returns default configuration for fileName under dataDir.
func DefaultConfig(dataDir, fileName string) *Config {
	return &Config{
		DataDir:        dataDir,
		FileName:       fileName,
		BufferPoolSize: 1000,
	}
}

// NewPageEngine creates or opens a page engine.
func NewPageEngine(config *Config) (*PageEngine, error) {
	if err := os.MkdirAll(config.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dataPath := filepath.Join(config.DataDir, config.FileName)

	var store PagedStore
	var err error
	if config.UseMmap {
		store, err = NewMmapDiskManager(dataPath, nil)
	} else {
		store, err = NewDiskManager(dataPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open backing store %s: %w", dataPath, err)
	}

	bufferPool := NewBufferPool(config.BufferPoolSize, store)

	return &PageEngine{
		store:      store,
		bufferPool: bufferPool,
		dataDir:    config.DataDir,
		isOpen:     true,
	}, nil
}

// AllocatePage allocates a new page.
func (pe *PageEngine) AllocatePage() (*Page, error) {
	if !pe.isOpen {
		return nil, fmt.Errorf("page engine is closed")
	}
	return pe.bufferPool.NewPage()
}

// FetchPage retrieves a page by ID.
func (pe *PageEngine) FetchPage(pageID PageID) (*Page, error) {
	if !pe.isOpen {
		return nil, fmt.Errorf("page engine is closed")
	}
	return pe.bufferPool.FetchPage(pageID)
}

// UnpinPage unpins a page, allowing it to be evicted.
func (pe *PageEngine) UnpinPage(pageID PageID, isDirty bool) error {
	return pe.bufferPool.UnpinPage(pageID, isDirty)
}

// DeallocatePage frees a page for reuse.
func (pe *PageEngine) DeallocatePage(pageID PageID) error {
	return pe.bufferPool.DeletePage(pageID)
}

// FlushAll writes all dirty pages to the backing store.
func (pe *PageEngine) FlushAll() error {
	return pe.bufferPool.FlushAllPages()
}

// Sync fsyncs (or msyncs) the backing store.
func (pe *PageEngine) Sync() error {
	return pe.store.Sync()
}

// Close flushes and closes the page engine.
func (pe *PageEngine) Close() error {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	if !pe.isOpen {
		return nil
	}

	if err := pe.bufferPool.FlushAllPages(); err != nil {
		return fmt.Errorf("failed to flush pages on close: %w", err)
	}
	if err := pe.store.Sync(); err != nil {
		return fmt.Errorf("failed to sync backing store: %w", err)
	}
	if err := pe.store.Close(); err != nil {
		return fmt.Errorf("failed to close backing store: %w", err)
	}

	pe.isOpen = false
	return nil
}

// Stats reports page engine statistics.
type Stats struct {
	BufferPool BufferPoolStats
}

// Stats returns page engine statistics.
func (pe *PageEngine) Stats() Stats {
	return Stats{BufferPool: pe.bufferPool.Stats()}
}
