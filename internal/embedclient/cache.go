package embedclient

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/gcorroto/semantic-codebase-index/internal/codeerr"
)

// Cache is a persisted, content-addressed embedding cache keyed by chunkId.
// A hit requires both the content hash and the model to match the stored
// entry, so a changed chunk or a model upgrade both miss correctly.
type Cache struct {
	path string

	mu      sync.Mutex
	entries map[string]CacheEntry
	dirty   bool
}

// LoadCache reads the cache file at path, or returns an empty cache if it
// doesn't exist yet.
func LoadCache(path string) (*Cache, error) {
	c := &Cache{path: path, entries: make(map[string]CacheEntry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, codeerr.IO("read embedding cache", err)
	}
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, codeerr.Parse("decode embedding cache", err)
	}
	return c, nil
}

// Get returns the cached vector for chunkID if its contentHash and model
// match the current entry. When chunkID has no matching entry, any entry
// with the same contentHash and model is used instead, so a chunk whose id
// changed (e.g. a renamed file) but whose content did not still hits.
func (c *Cache) Get(chunkID, contentHash, model string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[chunkID]
	if ok && entry.ContentHash == contentHash && entry.Model == model {
		return entry.Vector, true
	}
	for _, e := range c.entries {
		if e.ContentHash == contentHash && e.Model == model {
			return e.Vector, true
		}
	}
	return nil, false
}

// Put stages a cache write for chunkID. It is not flushed to disk until
// Flush is called.
func (c *Cache) Put(chunkID string, entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[chunkID] = entry
	c.dirty = true
}

// Flush writes staged entries to disk if anything changed since the last
// flush. Safe to call when nothing is dirty.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return codeerr.IO("create embedding cache directory", err)
	}

	data, err := json.Marshal(c.entries)
	if err != nil {
		return codeerr.IO("encode embedding cache", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return codeerr.IO("write embedding cache", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return codeerr.IO("install embedding cache", err)
	}

	c.dirty = false
	return nil
}
