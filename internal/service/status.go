package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/recall/internal/embed"
	"github.com/Aman-CERP/recall/internal/telemetry"
)

// Status reports datastore counts, the active capabilities and whether the
// vector and lexical indexes agree with the store. With repair set, any
// disagreement is fixed and checked again.
func (s *Service) Status(ctx context.Context, repair bool) (*StatusResponse, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	check, err := s.checker.Check(ctx)
	if err != nil {
		return nil, err
	}
	repaired := false
	if repair && !check.Consistent() {
		if err := s.checker.Repair(ctx, check.Inconsistencies); err != nil {
			return nil, err
		}
		if check, err = s.checker.Check(ctx); err != nil {
			return nil, err
		}
		repaired = true
	}

	resp := &StatusResponse{
		Documents:      stats.Documents,
		Chunks:         stats.Chunks,
		EmbeddedChunks: stats.EmbeddedChunks,
		EmbeddingModel: stats.EmbeddingModel,
		EmbeddingDims:  stats.EmbeddingDims,
		LexicalBackend: backendName(s.cfg.Retrieval.LexicalBackend),
		VectorNodes:    s.vectors.Len(),
		Embedder:       s.embedder.ModelName(),
		LLMProvider:    s.caps.Provider,
		LLMModel:       s.caps.Model,
		Consistent:     check.Consistent(),
		Repaired:       repaired,
	}
	for _, issue := range check.Inconsistencies {
		if issue.ChunkID != 0 {
			resp.Inconsistencies = append(resp.Inconsistencies, fmt.Sprintf("%s: chunk %d", issue.Type, issue.ChunkID))
			continue
		}
		resp.Inconsistencies = append(resp.Inconsistencies, fmt.Sprintf("%s: %s", issue.Type, issue.Details))
	}
	if cached, ok := s.embedder.(*embed.CachedEmbedder); ok {
		st := cached.Stats()
		resp.EmbeddingCache = &st
	}
	resp.Queries = s.querySummary(ctx)
	return resp, nil
}

// statusTopTerms bounds the terms and empty queries status reports.
const statusTopTerms = 5

// querySummary flushes pending telemetry and reads the stored totals. It
// returns nil when telemetry is disabled or unreadable.
func (s *Service) querySummary(ctx context.Context) *telemetry.Summary {
	if s.queries == nil {
		return nil
	}
	if err := s.queries.Flush(ctx); err != nil {
		slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
	}
	sum, err := s.querySink.Summary(ctx, statusTopTerms)
	if err != nil {
		slog.Warn("telemetry_read_failed", slog.String("error", err.Error()))
		return nil
	}
	return sum
}
