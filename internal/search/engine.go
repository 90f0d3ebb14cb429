package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/recall/internal/embed"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// minVectorOverfetch is the first ANN fetch size when a hydrator cannot
// search filtered embeddings itself.
const minVectorOverfetch = 50

// Hydrator loads chunks by ID, dropping those that fail the filters.
type Hydrator interface {
	HydrateChunks(ctx context.Context, ids []int64, filters store.Filters) (map[int64]*store.StoredChunk, error)
}

// FilteredVectorSearcher ranks only the embeddings of chunks that pass the
// filters. *store.SQLiteStore implements it.
type FilteredVectorSearcher interface {
	SearchEmbeddings(ctx context.Context, query []float32, k int, filters store.Filters) ([]*store.VectorResult, error)
}

// EngineConfig holds the engine's retrieval defaults.
type EngineConfig struct {
	DefaultLimit int
	MaxLimit     int

	// Candidates is each source's fetch size in hybrid mode, when larger
	// than the requested limit.
	Candidates int

	Weights Weights
	Timeout time.Duration
}

// DefaultEngineConfig returns the defaults used by recall's configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit: 50,
		MaxLimit:     200,
		Candidates:   100,
		Weights:      DefaultWeights(),
		Timeout:      5 * time.Second,
	}
}

// Engine retrieves for a single query: lexical, vector or both fused.
//
// The vector side is optional. Without a vector index or embedder, or
// while the index is empty, hybrid retrieval runs lexical-only and reports
// the vector source as degraded.
type Engine struct {
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	hydrator Hydrator
	embedder embed.Embedder
	config   EngineConfig
}

// Verify interface implementation at compile time
var (
	_ Retriever              = (*Engine)(nil)
	_ FilteredVectorSearcher = (*store.SQLiteStore)(nil)
)

// NewEngine creates an engine. lexical and hydrator are required; vector
// and embedder may be nil for a lexical-only deployment.
func NewEngine(
	lexical store.LexicalIndex,
	vector store.VectorIndex,
	hydrator Hydrator,
	embedder embed.Embedder,
	config EngineConfig,
) (*Engine, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if hydrator == nil {
		return nil, fmt.Errorf("%w: hydrator is required", ErrNilDependency)
	}
	def := DefaultEngineConfig()
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = def.DefaultLimit
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = def.MaxLimit
	}
	if config.DefaultLimit > config.MaxLimit {
		config.DefaultLimit = config.MaxLimit
	}
	if config.Weights.Lexical == 0 && config.Weights.Vector == 0 {
		config.Weights = def.Weights
	}
	return &Engine{
		lexical:  lexical,
		vector:   vector,
		hydrator: hydrator,
		embedder: embedder,
		config:   config,
	}, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// VectorAvailable reports whether vector retrieval can run at all.
func (e *Engine) VectorAvailable() bool {
	return e.vector != nil && e.embedder != nil && e.vector.Len() > 0
}

// Retrieve runs one query. An empty result is not an error; errors are
// client-input (bad query, filters, mode or limit) or retrieval-unavailable.
func (e *Engine) Retrieve(ctx context.Context, opts RetrieveOptions) (*Retrieval, error) {
	start := time.Now()

	query := strings.TrimSpace(opts.Query)
	if query == "" {
		return nil, rerrors.New(rerrors.ErrCodeEmptyQuery, "query is empty", nil).
			WithSuggestion("Provide a non-empty query")
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	if err := opts.Filters.Validate(); err != nil {
		return nil, err
	}
	limit, err := e.limit(opts.Limit)
	if err != nil {
		return nil, err
	}
	weights := e.config.Weights
	if opts.Weights != nil {
		weights = *opts.Weights
		if weights.Lexical < 0 || weights.Vector < 0 || weights.Lexical+weights.Vector == 0 {
			return nil, rerrors.InputError("fusion weights must be non-negative and not both zero", nil)
		}
	}

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	out := &Retrieval{Query: query, Mode: mode, Limit: limit}
	retrievalStart := time.Now()

	switch mode {
	case ModeLexical:
		lex, err := e.lexicalHits(ctx, query, limit, opts)
		if err != nil {
			return nil, err
		}
		out.LexicalCandidates = len(lex)
		out.Results = Fuse(lex, nil, Weights{Lexical: 1}, limit)

	case ModeVector:
		if !e.VectorAvailable() {
			out.Degraded = append(out.Degraded, "vector: no embeddings")
			out.Results = []*FusedResult{}
			break
		}
		vec, err := e.vectorHits(ctx, query, limit, opts.Filters)
		if err != nil {
			return nil, err
		}
		out.VectorCandidates = len(vec)
		out.Results = Fuse(nil, vec, Weights{Vector: 1}, limit)

	case ModeHybrid:
		candidates := max(limit, e.config.Candidates)
		if opts.Candidates > 0 {
			candidates = max(limit, opts.Candidates)
		}
		lex, vec, degraded, err := e.hybridHits(ctx, query, candidates, opts)
		if err != nil {
			return nil, err
		}
		out.LexicalCandidates = len(lex)
		out.VectorCandidates = len(vec)
		out.Degraded = degraded
		out.Results = Fuse(lex, vec, weights, limit)
	}

	out.RetrievalTime = time.Since(retrievalStart)
	out.TotalTime = time.Since(start)

	slog.Debug("retrieve_complete",
		slog.String("query", query),
		slog.String("mode", string(mode)),
		slog.Int("limit", limit),
		slog.Int("lexical_candidates", out.LexicalCandidates),
		slog.Int("vector_candidates", out.VectorCandidates),
		slog.Int("results", len(out.Results)),
		slog.Duration("duration", out.TotalTime))
	return out, nil
}

// limit applies the default and the cap to a requested result count.
func (e *Engine) limit(n int) (int, error) {
	switch {
	case n < 0:
		return 0, rerrors.InputError(fmt.Sprintf("n must not be negative, got %d", n), nil)
	case n == 0:
		return e.config.DefaultLimit, nil
	case n > e.config.MaxLimit:
		return e.config.MaxLimit, nil
	default:
		return n, nil
	}
}

// hybridHits runs both retrievers in parallel. One failing source degrades
// the retrieval; both failing is an error.
func (e *Engine) hybridHits(ctx context.Context, query string, k int, opts RetrieveOptions) ([]RankedHit, []RankedHit, []string, error) {
	var (
		lex, vec       []RankedHit
		lexErr, vecErr error
		degraded       []string
	)

	var g errgroup.Group
	g.Go(func() error {
		lex, lexErr = e.lexicalHits(ctx, query, k, opts)
		return nil
	})
	if e.VectorAvailable() {
		g.Go(func() error {
			vec, vecErr = e.vectorHits(ctx, query, k, opts.Filters)
			return nil
		})
	} else {
		degraded = append(degraded, "vector: no embeddings")
	}
	_ = g.Wait()

	// Input errors are the caller's, whichever source noticed them.
	for _, err := range []error{lexErr, vecErr} {
		if err != nil && rerrors.IsInput(err) && rerrors.GetCode(err) != rerrors.ErrCodeDimensionMismatch {
			return nil, nil, nil, err
		}
	}

	switch {
	case lexErr != nil && (vecErr != nil || len(degraded) > 0):
		return nil, nil, nil, lexErr
	case lexErr != nil:
		slog.Warn("lexical_search_degraded", slog.String("error", lexErr.Error()))
		degraded = append(degraded, "lexical: "+lexErr.Error())
	case vecErr != nil:
		slog.Warn("vector_search_degraded", slog.String("error", vecErr.Error()))
		degraded = append(degraded, "vector: "+vecErr.Error())
	}
	return lex, vec, degraded, nil
}

// lexicalHits runs the keyword search with filters applied inside the
// backend, before its own top-k cut.
func (e *Engine) lexicalHits(ctx context.Context, query string, k int, opts RetrieveOptions) ([]RankedHit, error) {
	results, err := e.lexical.Search(ctx, store.LexicalQuery{
		Text:     query,
		Limit:    k,
		Filters:  opts.Filters,
		Operator: opts.Operator,
	})
	if err != nil {
		return nil, asUnavailable("lexical search failed", err)
	}
	hits := make([]RankedHit, 0, len(results))
	for i, r := range results {
		if r == nil || r.Chunk == nil {
			continue
		}
		rank := r.Rank
		if rank <= 0 {
			rank = i + 1
		}
		hits = append(hits, RankedHit{ChunkID: r.Chunk.ID, Score: r.Score, Rank: rank, Chunk: r.Chunk})
	}
	return hits, nil
}

// vectorHits embeds the query and returns its k nearest chunks. Filters
// narrow the candidate set before the top-k cut.
func (e *Engine) vectorHits(ctx context.Context, query string, k int, filters store.Filters) ([]RankedHit, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		if rerrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, rerrors.New(rerrors.ErrCodeEmbeddingFailed, "query embedding failed", err)
	}

	var found []*store.VectorResult
	switch fs, ok := e.hydrator.(FilteredVectorSearcher); {
	case filters.Empty():
		found, err = e.vector.Search(ctx, vec, k)
	case ok:
		found, err = fs.SearchEmbeddings(ctx, vec, k, filters)
	default:
		return e.widenVectorSearch(ctx, vec, k, filters)
	}
	if err != nil {
		return nil, e.vectorError(vec, err)
	}
	if len(found) == 0 {
		return []RankedHit{}, nil
	}
	chunks, err := e.hydrate(ctx, found, filters)
	if err != nil {
		return nil, err
	}
	return rankVectorHits(found, chunks, k), nil
}

// widenVectorSearch doubles the ANN fetch until k hits pass the filters or
// the whole index has been searched.
func (e *Engine) widenVectorSearch(ctx context.Context, vec []float32, k int, filters store.Filters) ([]RankedHit, error) {
	total := e.vector.Len()
	fetch := max(k*4, minVectorOverfetch)
	for {
		found, err := e.vector.Search(ctx, vec, min(fetch, total))
		if err != nil {
			return nil, e.vectorError(vec, err)
		}
		chunks, err := e.hydrate(ctx, found, filters)
		if err != nil {
			return nil, err
		}
		hits := rankVectorHits(found, chunks, k)
		if len(hits) == k || fetch >= total {
			return hits, nil
		}
		fetch *= 2
	}
}

func (e *Engine) vectorError(vec []float32, err error) error {
	if rerrors.GetCode(err) == rerrors.ErrCodeDimensionMismatch {
		slog.Warn("dimension_mismatch",
			slog.Int("query_dims", len(vec)),
			slog.String("model", e.embedder.ModelName()),
			slog.String("recovery", "re-ingest with the configured embedding model"))
		return err
	}
	return asUnavailable("vector search failed", err)
}

func (e *Engine) hydrate(ctx context.Context, found []*store.VectorResult, filters store.Filters) (map[int64]*store.StoredChunk, error) {
	ids := make([]int64, len(found))
	for i, r := range found {
		ids[i] = r.ChunkID
	}
	chunks, err := e.hydrator.HydrateChunks(ctx, ids, filters)
	if err != nil {
		return nil, asUnavailable("failed to load vector hits", err)
	}
	return chunks, nil
}

// rankVectorHits keeps the hits that hydrated, in similarity order, up to k.
func rankVectorHits(found []*store.VectorResult, chunks map[int64]*store.StoredChunk, k int) []RankedHit {
	hits := make([]RankedHit, 0, min(k, len(found)))
	for _, r := range found {
		if len(hits) == k {
			break
		}
		c, ok := chunks[r.ChunkID]
		if !ok {
			continue
		}
		hits = append(hits, RankedHit{
			ChunkID: r.ChunkID,
			Score:   float64(r.Similarity),
			Rank:    len(hits) + 1,
			Chunk:   c,
		})
	}
	return hits
}

// asUnavailable keeps coded errors and marks the rest retrieval-unavailable.
func asUnavailable(msg string, err error) error {
	if rerrors.GetCode(err) != "" {
		return err
	}
	return rerrors.UnavailableError(msg, err)
}
