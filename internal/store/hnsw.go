package store

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/coder/hnsw"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// HNSWConfig tunes the graph.
type HNSWConfig struct {
	// Dimensions of every vector. Zero adopts the first vector's length.
	Dimensions int

	// M is the max connections per layer (default 16).
	M int

	// EfSearch is the query-time search width (default 64).
	EfSearch int
}

// HNSWIndex is an in-memory cosine ANN index over chunk embeddings, built
// on coder/hnsw. SQLite holds the vectors; the graph is rebuilt from them
// on startup.
//
// Deletes are lazy: the graph node stays but its key is unmapped, and
// searches skip it. Re-adding a chunk maps it to a fresh key.
type HNSWIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	dims  int

	keyOf   map[int64]uint64 // chunk ID -> graph key
	chunkOf map[uint64]int64 // graph key -> chunk ID
	nextKey uint64
}

// Verify interface implementation at compile time
var _ VectorIndex = (*HNSWIndex)(nil)

// NewHNSWIndex creates an empty index.
func NewHNSWIndex(cfg HNSWConfig) *HNSWIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWIndex{
		graph:   graph,
		dims:    cfg.Dimensions,
		keyOf:   make(map[int64]uint64),
		chunkOf: make(map[uint64]int64),
	}
}

// Add inserts or replaces vectors.
func (x *HNSWIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return rerrors.InternalError(fmt.Sprintf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors)), nil)
	}
	if len(ids) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dims == 0 {
		x.dims = len(vectors[0])
	}
	for _, v := range vectors {
		if len(v) != x.dims {
			return dimensionMismatch(x.dims, len(v))
		}
	}

	for i, id := range ids {
		if old, ok := x.keyOf[id]; ok {
			delete(x.chunkOf, old)
		}

		key := x.nextKey
		x.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)
		x.graph.Add(hnsw.MakeNode(key, vec))

		x.keyOf[id] = key
		x.chunkOf[key] = id
	}
	return nil
}

// Delete unmaps chunks from the graph.
func (x *HNSWIndex) Delete(ctx context.Context, ids []int64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, id := range ids {
		if key, ok := x.keyOf[id]; ok {
			delete(x.chunkOf, key)
			delete(x.keyOf, id)
		}
	}
	return nil
}

// Search returns up to k live chunks by descending cosine similarity.
func (x *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.keyOf) == 0 || k <= 0 {
		return []*VectorResult{}, nil
	}
	if len(query) != x.dims {
		return nil, dimensionMismatch(x.dims, len(query))
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	// Ask for the orphans too so k live results survive the skip below.
	want := k + (x.graph.Len() - len(x.keyOf))
	nodes := x.graph.Search(q, want)

	results := make([]*VectorResult, 0, min(k, len(nodes)))
	for _, node := range nodes {
		id, ok := x.chunkOf[node.Key]
		if !ok {
			continue
		}
		d := x.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			ChunkID:    id,
			Distance:   d,
			Similarity: 1 - d,
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Len returns the number of live vectors.
func (x *HNSWIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.keyOf)
}

// IDs returns the chunk IDs of live vectors in ascending order.
func (x *HNSWIndex) IDs() []int64 {
	x.mu.RLock()
	ids := make([]int64, 0, len(x.keyOf))
	for id := range x.keyOf {
		ids = append(ids, id)
	}
	x.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Dimensions returns the vector length, zero until the first Add.
func (x *HNSWIndex) Dimensions() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dims
}

// HNSWStats describes graph occupancy.
type HNSWStats struct {
	Live       int
	GraphNodes int
	Orphans    int
}

// Stats reports live and lazily-deleted nodes.
func (x *HNSWIndex) Stats() HNSWStats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	nodes := x.graph.Len()
	return HNSWStats{Live: len(x.keyOf), GraphNodes: nodes, Orphans: nodes - len(x.keyOf)}
}

// LoadHNSW builds an index from every embedding in the store.
func LoadHNSW(ctx context.Context, st *SQLiteStore, cfg HNSWConfig) (*HNSWIndex, error) {
	ids, vecs, err := st.AllEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	if len(vecs) > 0 {
		cfg.Dimensions = len(vecs[0])
	}
	idx := NewHNSWIndex(cfg)
	if err := idx.Add(ctx, ids, vecs); err != nil {
		return nil, err
	}
	return idx, nil
}

// normalizeVectorInPlace scales v to unit length. Zero vectors are left alone.
func normalizeVectorInPlace(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
