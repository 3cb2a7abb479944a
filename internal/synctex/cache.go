package synctex

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type cacheEntry struct {
	modTime time.Time
	index   *Index
}

// Cache keeps parsed indexes and re-parses when the PDF's mtime changes.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the index for pdfPath, parsing it when absent or stale.
func (c *Cache) Get(pdfPath string) (*Index, error) {
	pdfPath = filepath.Clean(pdfPath)
	info, err := os.Stat(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("synctex: stat %s: %w", pdfPath, err)
	}

	c.mu.Lock()
	entry, ok := c.entries[pdfPath]
	c.mu.Unlock()
	if ok && entry.modTime.Equal(info.ModTime()) {
		return entry.index, nil
	}

	ix, err := Open(pdfPath)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[pdfPath] = cacheEntry{modTime: info.ModTime(), index: ix}
	c.mu.Unlock()
	return ix, nil
}

// Invalidate drops any cached index for pdfPath.
func (c *Cache) Invalidate(pdfPath string) {
	c.mu.Lock()
	delete(c.entries, filepath.Clean(pdfPath))
	c.mu.Unlock()
}
