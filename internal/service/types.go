package service

import (
	"time"

	"github.com/Aman-CERP/recall/internal/bench"
	"github.com/Aman-CERP/recall/internal/embed"
	"github.com/Aman-CERP/recall/internal/index"
	"github.com/Aman-CERP/recall/internal/telemetry"
)

// IngestRequest is one document to store.
type IngestRequest struct {
	index.DocumentInput

	// NoEmbed stores the chunks lexical-only.
	NoEmbed bool `json:"no_embed,omitempty"`
}

// IngestResponse reports what was stored.
type IngestResponse struct {
	DocumentID          string   `json:"document_id"`
	ChunkCount          int      `json:"chunk_count"`
	TotalTokens         int      `json:"total_tokens"`
	IngestionTimeMS     float64  `json:"ingestion_time_ms"`
	EmbeddingsGenerated int      `json:"embeddings_generated"`
	Replaced            bool     `json:"replaced"`
	EmbeddingError      string   `json:"embedding_error,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
}

// RetrieveRequest is one retrieval. Query emptiness is reported as
// ERR_404_EMPTY_QUERY by the engine rather than by struct validation.
type RetrieveRequest struct {
	Query    string         `json:"query"`
	N        int            `json:"n,omitempty" validate:"gte=0"`
	Mode     string         `json:"mode,omitempty"`
	Filters  map[string]any `json:"filters,omitempty"`
	Operator string         `json:"operator,omitempty" validate:"omitempty,oneof=and or"`
}

// Chunk is one retrieved chunk.
type Chunk struct {
	ChunkID  int64          `json:"chunk_id"`
	DocID    string         `json:"doc_id"`
	Score    float64        `json:"score"`
	Ord      int            `json:"ord"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`

	// Scores breaks the fused score down by source.
	Scores *ScoreBreakdown `json:"scores,omitempty"`
}

// ScoreBreakdown holds normalized per-source scores and 1-based source
// ranks. A zero rank means the source did not return the chunk.
type ScoreBreakdown struct {
	Lexical     float64 `json:"lexical"`
	Vector      float64 `json:"vector"`
	LexicalRank int     `json:"lexical_rank,omitempty"`
	VectorRank  int     `json:"vector_rank,omitempty"`
}

// QueryInfo echoes how a retrieval was interpreted.
type QueryInfo struct {
	Query             string   `json:"query"`
	N                 int      `json:"n"`
	Mode              string   `json:"mode"`
	ResultsReturned   int      `json:"results_returned"`
	FiltersApplied    []string `json:"filters_applied"`
	LexicalCandidates int      `json:"lexical_candidates"`
	VectorCandidates  int      `json:"vector_candidates"`
}

// Timing is wall-clock time in milliseconds.
type Timing struct {
	Retrieval float64 `json:"retrieval"`
	Total     float64 `json:"total"`
}

// RetrieveResponse is the outcome of Retrieve. Chunks is empty, never
// null, when nothing matched.
type RetrieveResponse struct {
	Chunks    []Chunk   `json:"chunks"`
	QueryInfo QueryInfo `json:"query_info"`
	TimingMS  Timing    `json:"timing_ms"`
	Degraded  []string  `json:"degraded,omitempty"`
}

// AnswerRequest is one question.
type AnswerRequest struct {
	Question      string         `json:"question"`
	MaxSubQueries int            `json:"max_sub_queries,omitempty" validate:"gte=0,lte=10"`
	N             int            `json:"n,omitempty" validate:"gte=0"`
	Mode          string         `json:"mode,omitempty"`
	Filters       map[string]any `json:"filters,omitempty"`
	Operator      string         `json:"operator,omitempty" validate:"omitempty,oneof=and or"`

	// NoSynthesis returns chunks without answer text.
	NoSynthesis bool `json:"no_synthesis,omitempty"`
}

// SubQueryInfo is one sub-query and its 1-based ordinal.
type SubQueryInfo struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

// FailedSubQueryInfo names a sub-query whose retrieval failed.
type FailedSubQueryInfo struct {
	Ordinal int    `json:"ordinal"`
	Query   string `json:"query"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// AnswerChunk is a merged chunk with its citation provenance.
type AnswerChunk struct {
	Chunk

	// SubQuery is the ordinal of the lowest sub-query that returned it.
	SubQuery     int `json:"sub_query"`
	SubQueryHits int `json:"sub_query_hits"`
}

// AnswerTiming splits an answer's latency in milliseconds.
type AnswerTiming struct {
	Decomposition float64 `json:"decomposition"`
	Retrieval     float64 `json:"retrieval"`
	Synthesis     float64 `json:"synthesis"`
	Total         float64 `json:"total"`
}

// AnswerResponse is the outcome of Answer. Partial is set when at least
// one sub-query failed; its chunks are missing from the merge.
type AnswerResponse struct {
	Question              string               `json:"question"`
	SubQueries            []SubQueryInfo       `json:"sub_queries"`
	DecompositionFallback bool                 `json:"decomposition_fallback"`
	DecompositionError    string               `json:"decomposition_error,omitempty"`
	Chunks                []AnswerChunk        `json:"chunks"`
	Partial               bool                 `json:"partial"`
	FailedSubQueries      []FailedSubQueryInfo `json:"failed_sub_queries,omitempty"`
	Answer                string               `json:"answer,omitempty"`
	SynthesisError        string               `json:"synthesis_error,omitempty"`
	LatencyMS             float64              `json:"latency_ms"`
	TimingMS              AnswerTiming         `json:"timing_ms"`
}

// BenchmarkRequest is one benchmark run.
type BenchmarkRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
	N     int    `json:"n,omitempty" validate:"gte=0"`

	// ThresholdMS overrides benchmark.threshold_ms. Negative disables
	// the latency check; the plan check always applies.
	ThresholdMS float64 `json:"threshold_ms,omitempty"`
}

// BenchmarkResponse is a benchmark report with its pass/fail verdict.
type BenchmarkResponse struct {
	bench.Report
	ThresholdMS float64 `json:"threshold_ms"`
	Passed      bool    `json:"passed"`
	Failure     string  `json:"failure,omitempty"`
}

// ExpandRequest asks for the neighbours of retrieved chunks.
type ExpandRequest struct {
	ChunkIDs []int64 `json:"chunk_ids" validate:"required,min=1,max=100"`

	// Window is how many ords on each side to include; 0 uses
	// DefaultExpandWindow.
	Window int `json:"window,omitempty" validate:"gte=0,lte=20"`
}

// ExpandResponse holds the requested chunks and their neighbours, one
// entry per chunk, ordered by document then ord.
type ExpandResponse struct {
	Chunks  []Chunk `json:"chunks"`
	Missing []int64 `json:"missing,omitempty"`
}

// DeleteResponse reports a removed document.
type DeleteResponse struct {
	DocumentID    string `json:"document_id"`
	ChunksRemoved int    `json:"chunks_removed"`
}

// StatusResponse describes the datastore and its indexes.
type StatusResponse struct {
	Documents       int      `json:"documents"`
	Chunks          int      `json:"chunks"`
	EmbeddedChunks  int      `json:"embedded_chunks"`
	EmbeddingModel  string   `json:"embedding_model,omitempty"`
	EmbeddingDims   int      `json:"embedding_dims,omitempty"`
	LexicalBackend  string   `json:"lexical_backend"`
	VectorNodes     int      `json:"vector_nodes"`
	Embedder        string   `json:"embedder"`
	LLMProvider     string   `json:"llm_provider"`
	LLMModel        string   `json:"llm_model,omitempty"`
	Consistent      bool     `json:"consistent"`
	Inconsistencies []string `json:"inconsistencies,omitempty"`
	Repaired        bool     `json:"repaired,omitempty"`

	// EmbeddingCache counts query-embedding cache use in this process.
	EmbeddingCache *embed.CacheStats `json:"embedding_cache,omitempty"`

	// Queries is the local query telemetry; nil when disabled.
	Queries *telemetry.Summary `json:"queries,omitempty"`
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
