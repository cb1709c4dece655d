package embedclient

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheMissOnNewFile(t *testing.T) {
	c, err := LoadCache(filepath.Join(t.TempDir(), "embedding-cache.json"))
	require.NoError(t, err)
	_, ok := c.Get("chunk1", "hash1", "model-a")
	assert.False(t, ok)
}

func TestCacheRoundTripsThroughFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embedding-cache.json")
	c, err := LoadCache(path)
	require.NoError(t, err)

	c.Put("chunk1", CacheEntry{ContentHash: "hash1", Vector: []float32{1, 2, 3}, Model: "model-a", SavedAt: time.Now()})
	require.NoError(t, c.Flush())

	reloaded, err := LoadCache(path)
	require.NoError(t, err)
	vec, ok := reloaded.Get("chunk1", "hash1", "model-a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vec)
}

func TestCacheMissesOnContentHashOrModelMismatch(t *testing.T) {
	c, err := LoadCache(filepath.Join(t.TempDir(), "embedding-cache.json"))
	require.NoError(t, err)
	c.Put("chunk1", CacheEntry{ContentHash: "hash1", Vector: []float32{1}, Model: "model-a"})

	_, ok := c.Get("chunk1", "hash2", "model-a")
	assert.False(t, ok, "different content hash must miss")

	_, ok = c.Get("chunk1", "hash1", "model-b")
	assert.False(t, ok, "different model must miss")
}

func TestCacheFlushIsNoOpWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embedding-cache.json")
	c, err := LoadCache(path)
	require.NoError(t, err)
	require.NoError(t, c.Flush())
}
