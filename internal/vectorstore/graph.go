package vectorstore

import (
	"bufio"
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/coder/hnsw"

	"github.com/gcorroto/semantic-codebase-index/internal/codeerr"
)

// projectGraph is one project's ANN index: a coder/hnsw graph plus the
// string-chunkId <-> uint64-key mapping the graph needs internally.
type projectGraph struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	dimensions int

	idToKey map[string]uint64
	keyToID map[uint64]string
	nextKey uint64
}

type graphMetadata struct {
	IDToKey    map[string]uint64
	NextKey    uint64
	Dimensions int
}

func newProjectGraph(dimensions int) *projectGraph {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 32
	graph.EfSearch = 64
	graph.Ml = 0.25

	return &projectGraph{
		graph:      graph,
		dimensions: dimensions,
		idToKey:    make(map[string]uint64),
		keyToID:    make(map[uint64]string),
	}
}

// upsert adds or replaces the vector for chunkID. Replacement is lazy: the
// old graph node is orphaned rather than removed, since coder/hnsw mishandles
// deleting the last remaining node.
func (g *projectGraph) upsert(chunkID string, vector []float32) error {
	if len(vector) != g.dimensions {
		return codeerr.Validation("embedding dimension mismatch", nil).
			WithDetail("expected", strconv.Itoa(g.dimensions)).WithDetail("got", strconv.Itoa(len(vector)))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if oldKey, exists := g.idToKey[chunkID]; exists {
		delete(g.keyToID, oldKey)
		delete(g.idToKey, chunkID)
	}

	key := g.nextKey
	g.nextKey++

	normalized := make([]float32, len(vector))
	copy(normalized, vector)
	normalizeInPlace(normalized)

	g.graph.Add(hnsw.MakeNode(key, normalized))
	g.idToKey[chunkID] = key
	g.keyToID[key] = chunkID
	return nil
}

func (g *projectGraph) remove(chunkID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if key, exists := g.idToKey[chunkID]; exists {
		delete(g.keyToID, key)
		delete(g.idToKey, chunkID)
	}
}

type graphHit struct {
	ChunkID string
	Score   float32
}

// search returns up to k nearest neighbors, scored max(0, 1 - distance/2)
// for the cosine metric, floored at zero per spec's invariant that scores
// live in [0, 1].
func (g *projectGraph) search(query []float32, k int) ([]graphHit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(query) != g.dimensions {
		return nil, codeerr.Validation("embedding dimension mismatch", nil)
	}
	if g.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	nodes := g.graph.Search(normalized, k)
	hits := make([]graphHit, 0, len(nodes))
	for _, node := range nodes {
		chunkID, ok := g.keyToID[node.Key]
		if !ok {
			continue
		}
		distance := g.graph.Distance(normalized, node.Value)
		score := 1 - distance/2
		if score < 0 {
			score = 0
		}
		hits = append(hits, graphHit{ChunkID: chunkID, Score: score})
	}
	return hits, nil
}

func (g *projectGraph) save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return codeerr.Storage("create vector store directory", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return codeerr.Storage("create vector index file", err)
	}
	if err := g.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return codeerr.Storage("export vector graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return codeerr.Storage("close vector index file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return codeerr.Storage("install vector index file", err)
	}

	return g.saveMetadata(path + ".meta")
}

func (g *projectGraph) saveMetadata(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return codeerr.Storage("create vector metadata file", err)
	}
	meta := graphMetadata{IDToKey: g.idToKey, NextKey: g.nextKey, Dimensions: g.dimensions}
	if err := gob.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return codeerr.Storage("encode vector metadata", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return codeerr.Storage("close vector metadata file", err)
	}
	return os.Rename(tmp, path)
}

func (g *projectGraph) load(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return codeerr.Storage("open vector index file", err)
	}
	defer f.Close()

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	if err := graph.Import(bufio.NewReader(f)); err != nil {
		return codeerr.Storage("import vector graph", err)
	}

	metaFile, err := os.Open(path + ".meta")
	if os.IsNotExist(err) {
		return codeerr.Storage("missing vector metadata file", nil)
	}
	if err != nil {
		return codeerr.Storage("open vector metadata file", err)
	}
	defer metaFile.Close()

	var meta graphMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return codeerr.Storage("decode vector metadata", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.graph = graph
	g.idToKey = meta.IDToKey
	g.nextKey = meta.NextKey
	g.keyToID = make(map[uint64]string, len(meta.IDToKey))
	for id, key := range meta.IDToKey {
		g.keyToID[key] = id
	}
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := 1 / math.Sqrt(sumSquares)
	for i := range v {
		v[i] *= float32(inv)
	}
}
