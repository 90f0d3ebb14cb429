// Package service is recall's exposed interface: ingest, retrieve, answer,
// benchmark and expand, wired from configuration.
//
// A Service owns the datastore, its lexical and vector indexes, the
// embedding function and the language-model capabilities. It is safe for
// concurrent use; every request is independent and only the datastore's
// bounded connection pool is shared between them.
package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/recall/internal/bench"
	"github.com/Aman-CERP/recall/internal/chunk"
	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/embed"
	"github.com/Aman-CERP/recall/internal/index"
	"github.com/Aman-CERP/recall/internal/llm"
	"github.com/Aman-CERP/recall/internal/search"
	"github.com/Aman-CERP/recall/internal/store"
	"github.com/Aman-CERP/recall/internal/telemetry"
)

// Service is the recall core behind the CLI and the MCP server.
type Service struct {
	cfg     *config.Config
	root    string
	dataDir string

	store    *store.SQLiteStore
	lexical  store.LexicalIndex
	synced   store.SyncedIndex
	vectors  *store.HNSWIndex
	embedder embed.Embedder
	caps     *llm.Capabilities

	engine   *search.Engine
	multi    *search.MultiQuerySearcher
	pipeline *index.Pipeline
	harness  *bench.Harness
	checker  *index.ConsistencyChecker

	// queries is nil when telemetry is disabled.
	queries   *telemetry.Collector
	querySink *telemetry.SQLiteSink

	closeOnce sync.Once
	closeErr  error
}

type options struct {
	embedder     embed.Embedder
	capabilities *llm.Capabilities
}

// Option overrides a dependency Open would otherwise build from config.
type Option func(*options)

// WithEmbedder uses e instead of the configured embedding provider.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithCapabilities uses caps instead of the configured LLM provider.
func WithCapabilities(caps *llm.Capabilities) Option {
	return func(o *options) { o.capabilities = caps }
}

// Open validates cfg and opens the datastore under root. The vector index
// is rebuilt from stored embeddings and, for the bleve backend, the
// lexical index is resynced when it disagrees with the store.
func Open(ctx context.Context, cfg *config.Config, root string, opts ...Option) (_ *Service, err error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	chunker, err := chunk.NewChunker(cfg.Chunking.Params())
	if err != nil {
		return nil, err
	}

	storePath := cfg.StorePath(root)
	s := &Service{cfg: cfg, root: root, dataDir: filepath.Dir(storePath)}

	s.store, err = store.Open(ctx, store.Config{
		Path:         storePath,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		CacheMB:      cfg.Store.CacheMB,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.lexical, s.synced, err = store.NewLexicalIndex(ctx, cfg.Retrieval.LexicalBackend, s.store, s.dataDir)
	if err != nil {
		return nil, err
	}
	if s.vectors, err = store.LoadHNSW(ctx, s.store, store.HNSWConfig{}); err != nil {
		return nil, err
	}

	s.embedder = o.embedder
	if s.embedder == nil {
		if s.embedder, err = embed.NewEmbedder(cfg.Embeddings); err != nil {
			return nil, err
		}
	}
	s.caps = o.capabilities
	if s.caps == nil {
		if s.caps, err = llm.New(cfg.LLM); err != nil {
			return nil, err
		}
	}
	s.warnOnModelChange(ctx)

	s.engine, err = search.NewEngine(s.lexical, s.vectors, s.store, s.embedder, search.EngineConfig{
		DefaultLimit: cfg.Retrieval.DefaultN,
		MaxLimit:     cfg.Retrieval.MaxN,
		Candidates:   cfg.Retrieval.HybridCandidates,
		Weights:      search.Weights{Lexical: cfg.Retrieval.LexicalWeight, Vector: cfg.Retrieval.VectorWeight},
		Timeout:      cfg.RetrievalTimeout(),
	})
	if err != nil {
		return nil, err
	}

	var gen search.SubQueryGenerator
	if s.caps.Generator != nil {
		gen = s.caps.Generator
	}
	s.multi = search.NewMultiQuerySearcher(search.NewDecomposer(gen), s.engine,
		search.WithMaxSubQueries(cfg.MultiQuery.MaxSubQueries),
		search.WithParallelism(cfg.MultiQuery.Parallelism))

	s.pipeline, err = index.NewPipeline(index.PipelineConfig{
		Store:     s.store,
		Chunker:   chunker,
		Embedder:  s.embedder,
		Vectors:   s.vectors,
		Lexical:   s.synced,
		Lock:      index.NewIngestLock(s.dataDir, 0),
		BatchSize: cfg.Embeddings.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	s.harness = bench.NewHarness(s.engine, s.store, bench.WithLexicalBackend(cfg.Retrieval.LexicalBackend))

	var counted index.CountedLexical
	if bl, ok := s.synced.(*store.BleveLexical); ok {
		counted = bl
	}
	s.checker = index.NewConsistencyChecker(s.store, s.vectors, counted)

	if !cfg.Telemetry.Disabled {
		s.openTelemetry(ctx)
	}

	slog.Info("service_opened",
		slog.String("store", storePath),
		slog.String("lexical_backend", backendName(cfg.Retrieval.LexicalBackend)),
		slog.Int("vectors", s.vectors.Len()),
		slog.String("embedder", s.embedder.ModelName()),
		slog.String("llm", s.caps.Provider))
	return s, nil
}

// openTelemetry starts query telemetry. A failure only disables it.
func (s *Service) openTelemetry(ctx context.Context) {
	sink, err := telemetry.NewSQLiteSink(ctx, s.store.DB())
	if err != nil {
		slog.Warn("telemetry_disabled", slog.String("error", err.Error()))
		return
	}
	s.querySink = sink
	s.queries = telemetry.NewCollector(sink, telemetry.Config{FlushInterval: s.cfg.TelemetryFlushInterval()})
}

// recordQuery adds a served query to telemetry.
func (s *Service) recordQuery(query string, kind telemetry.Kind, results int, degraded bool, latency time.Duration) {
	if s.queries == nil {
		return
	}
	s.queries.Record(telemetry.Event{
		Query:    query,
		Kind:     kind,
		Results:  results,
		Degraded: degraded,
		Latency:  latency,
	})
}

// warnOnModelChange flags a store built with a different embedding model.
// Vector retrieval then degrades with a dimension mismatch until the
// corpus is re-embedded.
func (s *Service) warnOnModelChange(ctx context.Context) {
	stored, err := s.store.GetState(ctx, store.StateKeyEmbeddingModel)
	if err != nil || stored == "" || stored == s.embedder.ModelName() {
		return
	}
	slog.Warn("embedding_model_mismatch",
		slog.String("stored", stored),
		slog.String("configured", s.embedder.ModelName()))
}

// Config returns the configuration the service was opened with.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// DataDir returns the directory holding the datastore.
func (s *Service) DataDir() string {
	return s.dataDir
}

// Engine returns the single-query retrieval engine.
func (s *Service) Engine() *search.Engine {
	return s.engine
}

// Close releases the indexes, the embedder and the datastore. Idempotent.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.queries != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			errs = append(errs, s.queries.Close(ctx))
			cancel()
		}
		if s.synced != nil {
			errs = append(errs, s.synced.Close())
		}
		if s.embedder != nil {
			errs = append(errs, s.embedder.Close())
		}
		if s.store != nil {
			errs = append(errs, s.store.Close())
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func backendName(b string) string {
	if b == "" {
		return string(store.LexicalBackendSQLite)
	}
	return b
}
