// Package search turns a query into a ranked list of chunks.
//
// Engine runs the lexical and vector retrievers and fuses their lists with
// per-source min-max normalization and a weighted sum. MultiQuerySearcher
// decomposes a question into sub-queries, retrieves for each in parallel and
// merges the per-sub-query lists into one deduplicated ranking.
package search

import (
	"context"
	"strings"
	"time"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/store"
)

// Mode selects the retrieval path.
type Mode string

const (
	// ModeLexical runs keyword search only.
	ModeLexical Mode = "lexical"
	// ModeVector runs nearest-neighbour search only.
	ModeVector Mode = "vector"
	// ModeHybrid runs both and fuses them.
	ModeHybrid Mode = "hybrid"
)

// ParseMode reads a mode name. Empty selects hybrid; "fts" and "keyword"
// are accepted for lexical.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeHybrid):
		return ModeHybrid, nil
	case string(ModeLexical), "fts", "keyword":
		return ModeLexical, nil
	case string(ModeVector), "semantic":
		return ModeVector, nil
	}
	return "", rerrors.New(rerrors.ErrCodeInvalidMode,
		"unknown retrieval mode "+strings.TrimSpace(s), nil).
		WithSuggestion("Use lexical, vector or hybrid")
}

// Weights are the per-source fusion weights. They need not sum to 1: a
// chunk's score is divided by the weights of the sources that returned it.
type Weights struct {
	Lexical float64
	Vector  float64
}

// DefaultWeights returns equal weights.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.5, Vector: 0.5}
}

// RankedHit is one entry of a single retriever's ranked list. Rank is
// 1-based; Score is higher-is-better within that retriever.
type RankedHit struct {
	ChunkID int64
	Score   float64
	Rank    int
	Chunk   *store.StoredChunk
}

// FusedResult is one chunk after fusion. Source ranks are 0 when the source
// did not return the chunk.
type FusedResult struct {
	ChunkID      int64
	Score        float64
	LexicalScore float64 // normalized
	VectorScore  float64 // normalized
	LexicalRank  int
	VectorRank   int
	Chunk        *store.StoredChunk
}

// BestRank is the better of the two source ranks.
func (r *FusedResult) BestRank() int {
	switch {
	case r.LexicalRank == 0:
		return r.VectorRank
	case r.VectorRank == 0:
		return r.LexicalRank
	default:
		return min(r.LexicalRank, r.VectorRank)
	}
}

// RetrieveOptions configures one retrieval.
type RetrieveOptions struct {
	Query    string
	Limit    int
	Mode     Mode
	Filters  store.Filters
	Operator store.Operator

	// Weights overrides the engine's fusion weights.
	Weights *Weights

	// Candidates overrides the per-source fetch size in hybrid mode.
	Candidates int
}

// Retrieval is the outcome of one retrieval.
type Retrieval struct {
	Query   string
	Mode    Mode
	Limit   int
	Results []*FusedResult

	LexicalCandidates int
	VectorCandidates  int

	// Degraded names sources that were skipped or failed while the other
	// source still answered, e.g. "vector: no embeddings".
	Degraded []string

	RetrievalTime time.Duration
	TotalTime     time.Duration
}

// Retriever is the single-query retrieval surface shared by Engine and
// anything that wraps it.
type Retriever interface {
	Retrieve(ctx context.Context, opts RetrieveOptions) (*Retrieval, error)
}
