// Package embed turns chunk and query text into dense vectors.
//
// Two providers exist: the OpenAI embeddings API and a deterministic
// hash-based embedder that needs no network. Either is usually wrapped in a
// CachedEmbedder so repeated queries skip the provider.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize caps a single provider request. OpenAI accepts up to 2048
	// inputs, but smaller batches keep token-per-minute pressure down.
	MaxBatchSize = 512

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 64

	// DefaultTimeout bounds one provider request including retries.
	DefaultTimeout = 60 * time.Second
)

// OpenAI model defaults
const (
	// DefaultOpenAIModel is the embedding model used when none is configured.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultOpenAIDimensions is the native dimension of text-embedding-3-small.
	DefaultOpenAIDimensions = 1536
)

// Static embedder constants
const (
	// StaticDimensions is the embedding dimension for static embedder
	StaticDimensions = 256

	// StaticModelName identifies static vectors in the store state.
	StaticModelName = "static-hash-v1"
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// toFloat32 converts the provider's float64 vectors for storage.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

// clampBatchSize keeps a configured batch size within provider limits.
func clampBatchSize(n int) int {
	switch {
	case n <= 0:
		return DefaultBatchSize
	case n < MinBatchSize:
		return MinBatchSize
	case n > MaxBatchSize:
		return MaxBatchSize
	default:
		return n
	}
}
