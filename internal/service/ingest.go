package service

import (
	"context"

	"github.com/Aman-CERP/recall/internal/index"
)

// Ingest stores a document, replacing any earlier document with its ID.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	res, err := s.pipeline.Ingest(ctx, req.DocumentInput, index.IngestOptions{SkipEmbeddings: req.NoEmbed})
	if err != nil {
		return nil, err
	}
	return &IngestResponse{
		DocumentID:          res.DocumentID,
		ChunkCount:          res.ChunkCount,
		TotalTokens:         res.TotalTokens,
		IngestionTimeMS:     ms(res.Duration),
		EmbeddingsGenerated: res.EmbeddingsGenerated,
		Replaced:            res.Replaced,
		EmbeddingError:      res.EmbeddingError,
		Warnings:            res.Warnings,
	}, nil
}

// Delete removes a document and its chunks from every index.
func (s *Service) Delete(ctx context.Context, documentID string) (*DeleteResponse, error) {
	res, err := s.pipeline.Delete(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &DeleteResponse{DocumentID: res.DocumentID, ChunksRemoved: res.ChunksRemoved}, nil
}

// EmbedPending embeds chunks stored without vectors and returns how many
// were embedded.
func (s *Service) EmbedPending(ctx context.Context) (int, error) {
	return s.pipeline.EmbedPending(ctx)
}
