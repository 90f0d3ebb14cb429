// Package store is the recall datastore: documents and chunks in SQLite,
// the lexical indexes (FTS5 or bleve) and the HNSW vector index.
package store

import (
	"context"
	"time"
)

// Document is an ingested transcript.
type Document struct {
	ID          string
	Source      string
	Title       string
	Category    string
	URL         string
	PublishedAt *time.Time
	Metadata    map[string]string
	Text        string
	CreatedAt   time.Time
}

// ChunkRecord is a chunk about to be written. Ord values of one document
// must be 0..n-1.
type ChunkRecord struct {
	Ord        int
	TokenCount int
	Text       string
}

// StoredChunk is a persisted chunk joined with its document's metadata.
type StoredChunk struct {
	ID          int64
	DocumentID  string
	Ord         int
	TokenCount  int
	Text        string
	Title       string
	Source      string
	Category    string
	URL         string
	PublishedAt *time.Time
	Metadata    map[string]string
}

// PutResult reports what PutDocument wrote.
type PutResult struct {
	DocumentID      string
	ChunkIDs        []int64
	RemovedChunkIDs []int64
	TotalTokens     int
	Replaced        bool
}

// Operator combines the terms of a lexical query.
type Operator string

const (
	// OperatorAnd is web-search syntax: implicit AND, quoted phrases,
	// -term exclusion and OR between terms.
	OperatorAnd Operator = "and"

	// OperatorOr drops stop words and matches any remaining term.
	OperatorOr Operator = "or"
)

// LexicalQuery is one keyword search.
type LexicalQuery struct {
	Text     string
	Limit    int
	Filters  Filters
	Operator Operator
}

// LexicalResult is one ranked keyword hit. Higher scores are better.
type LexicalResult struct {
	Chunk *StoredChunk
	Score float64
	Rank  int
}

// LexicalIndex is a ranked keyword search primitive over chunk text.
type LexicalIndex interface {
	Search(ctx context.Context, q LexicalQuery) ([]*LexicalResult, error)
}

// ChunkText is the unit a secondary lexical index ingests.
type ChunkText struct {
	ChunkID     int64
	DocumentID  string
	Text        string
	Source      string
	Category    string
	PublishedAt *time.Time
}

// SyncedIndex is a lexical index maintained outside SQLite.
type SyncedIndex interface {
	LexicalIndex
	Index(ctx context.Context, chunks []ChunkText) error
	Delete(ctx context.Context, chunkIDs []int64) error
	Close() error
}

// VectorResult is one nearest-neighbour hit.
type VectorResult struct {
	ChunkID    int64
	Distance   float32
	Similarity float32 // 1 - cosine distance
}

// VectorIndex is an approximate nearest-neighbour primitive over chunk embeddings.
type VectorIndex interface {
	Add(ctx context.Context, ids []int64, vectors [][]float32) error
	Delete(ctx context.Context, ids []int64) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Len() int
}

// PlanRow is one row of EXPLAIN QUERY PLAN output.
type PlanRow struct {
	ID     int
	Parent int
	Detail string
}

// Stats summarizes the datastore contents.
type Stats struct {
	Documents      int
	Chunks         int
	EmbeddedChunks int
	EmbeddingModel string
	EmbeddingDims  int
	LexicalBackend string
	VectorNodes    int
}
