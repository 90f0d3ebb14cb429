// Package index turns raw transcripts into stored, searchable chunks.
//
// The Pipeline validates a document, cleans and chunks its text, writes
// document and chunks in one transaction, keeps any secondary lexical index
// in step and embeds the new chunks. Writes are serialized across
// processes by an IngestLock.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/recall/internal/chunk"
	"github.com/Aman-CERP/recall/internal/embed"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/store"
	"github.com/Aman-CERP/recall/internal/validate"
)

// ErrNoEmbedder is returned by EmbedPending when no embedder is configured.
var ErrNoEmbedder = errors.New("no embedder configured")

// DocumentInput is a document as a caller submits it.
type DocumentInput struct {
	// ID is optional; a UUID is assigned when empty. Reusing an ID
	// replaces the earlier document.
	ID          string            `json:"id,omitempty" validate:"max=256"`
	Title       string            `json:"title,omitempty" validate:"max=1024"`
	Source      string            `json:"source,omitempty" validate:"max=256"`
	Category    string            `json:"category,omitempty" validate:"max=256"`
	URL         string            `json:"url,omitempty" validate:"omitempty,url"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Text        string            `json:"text" validate:"required"`
}

// IngestOptions tunes one ingest.
type IngestOptions struct {
	// SkipEmbeddings leaves the chunks lexical-only. EmbedPending can
	// embed them later.
	SkipEmbeddings bool
}

// IngestResult reports one ingest.
type IngestResult struct {
	DocumentID          string
	ChunkCount          int
	TotalTokens         int
	EmbeddingsGenerated int
	Replaced            bool
	Duration            time.Duration

	// EmbeddingError is set when the document was stored but embedding
	// failed. Its chunks are lexical-only until embedded.
	EmbeddingError string

	// Warnings lists secondary-index failures. The document is stored
	// and the consistency check repairs the index.
	Warnings []string
}

// DeleteResult reports one delete.
type DeleteResult struct {
	DocumentID    string
	ChunksRemoved int
}

// PipelineConfig wires a Pipeline. Store and Chunker are required.
type PipelineConfig struct {
	Store    *store.SQLiteStore
	Chunker  *chunk.Chunker
	Embedder embed.Embedder
	Vectors  store.VectorIndex
	Lexical  store.SyncedIndex
	Lock     *IngestLock

	// BatchSize is the number of chunks per embedding request.
	BatchSize int
}

// Pipeline ingests and deletes documents.
type Pipeline struct {
	store     *store.SQLiteStore
	chunker   *chunk.Chunker
	embedder  embed.Embedder
	vectors   store.VectorIndex
	lexical   store.SyncedIndex
	lock      *IngestLock
	batchSize int
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Store == nil || cfg.Chunker == nil {
		return nil, rerrors.InternalError("pipeline requires a store and a chunker", nil)
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = embed.DefaultBatchSize
	}
	return &Pipeline{
		store:     cfg.Store,
		chunker:   cfg.Chunker,
		embedder:  cfg.Embedder,
		vectors:   cfg.Vectors,
		lexical:   cfg.Lexical,
		lock:      cfg.Lock,
		batchSize: min(batch, embed.MaxBatchSize),
	}, nil
}

// Ingest stores in and returns what was written. A document whose text is
// empty after cleaning is rejected. Embedding failures do not fail the
// ingest; they are reported in IngestResult.EmbeddingError.
func (p *Pipeline) Ingest(ctx context.Context, in DocumentInput, opts IngestOptions) (*IngestResult, error) {
	start := time.Now()

	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	text := chunk.Clean(in.Text)
	if text == "" {
		return nil, rerrors.InputError("document text is empty after cleaning", nil)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}

	chunks := p.chunker.Split(text)
	records := make([]store.ChunkRecord, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		records[i] = store.ChunkRecord{Ord: ch.Ord, TokenCount: ch.TokenCount, Text: ch.Text}
		texts[i] = ch.Text
	}

	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	doc := store.Document{
		ID:          id,
		Source:      strings.TrimSpace(in.Source),
		Title:       strings.TrimSpace(in.Title),
		Category:    strings.TrimSpace(in.Category),
		URL:         strings.TrimSpace(in.URL),
		PublishedAt: in.PublishedAt,
		Metadata:    in.Metadata,
		Text:        text,
	}
	put, err := p.store.PutDocument(ctx, doc, records)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{
		DocumentID:  put.DocumentID,
		ChunkCount:  len(put.ChunkIDs),
		TotalTokens: put.TotalTokens,
		Replaced:    put.Replaced,
	}
	result.Warnings = p.syncSecondary(ctx, doc, put, texts)

	if !opts.SkipEmbeddings && p.embedder != nil {
		n, err := p.embedChunks(ctx, put.ChunkIDs, texts)
		result.EmbeddingsGenerated = n
		if err != nil {
			result.EmbeddingError = err.Error()
			slog.Warn("embedding_failed",
				slog.String("document_id", id),
				slog.Int("embedded", n),
				slog.Int("chunks", len(put.ChunkIDs)),
				slog.String("error", err.Error()))
		}
	}

	result.Duration = time.Since(start)
	slog.Info("document_ingested",
		slog.String("document_id", id),
		slog.Int("chunks", result.ChunkCount),
		slog.Int("tokens", result.TotalTokens),
		slog.Int("embeddings", result.EmbeddingsGenerated),
		slog.Bool("replaced", result.Replaced),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// syncSecondary drops replaced chunks from the in-memory and bleve indexes
// and adds the new ones to bleve. Failures are returned as warnings.
func (p *Pipeline) syncSecondary(ctx context.Context, doc store.Document, put *store.PutResult, texts []string) []string {
	var warnings []string
	warn := func(what string, err error) {
		slog.Warn("secondary_index_sync_failed",
			slog.String("index", what),
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()))
		warnings = append(warnings, fmt.Sprintf("%s index: %v", what, err))
	}

	if len(put.RemovedChunkIDs) > 0 && p.vectors != nil {
		if err := p.vectors.Delete(ctx, put.RemovedChunkIDs); err != nil {
			warn("vector", err)
		}
	}
	if p.lexical == nil {
		return warnings
	}
	if len(put.RemovedChunkIDs) > 0 {
		if err := p.lexical.Delete(ctx, put.RemovedChunkIDs); err != nil {
			warn("lexical", err)
		}
	}
	entries := make([]store.ChunkText, len(put.ChunkIDs))
	for i, id := range put.ChunkIDs {
		entries[i] = store.ChunkText{
			ChunkID:     id,
			DocumentID:  doc.ID,
			Text:        texts[i],
			Source:      doc.Source,
			Category:    doc.Category,
			PublishedAt: doc.PublishedAt,
		}
	}
	if err := p.lexical.Index(ctx, entries); err != nil {
		warn("lexical", err)
	}
	return warnings
}

// embedChunks embeds texts in batches, storing each batch before the next
// request. It returns how many chunks were embedded before any error.
func (p *Pipeline) embedChunks(ctx context.Context, ids []int64, texts []string) (int, error) {
	done := 0
	for start := 0; start < len(ids); start += p.batchSize {
		end := min(start+p.batchSize, len(ids))
		vecs, err := p.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return done, err
		}
		if err := p.store.PutEmbeddings(ctx, ids[start:end], vecs, p.embedder.ModelName()); err != nil {
			return done, err
		}
		if p.vectors != nil {
			if err := p.vectors.Add(ctx, ids[start:end], vecs); err != nil {
				return done, err
			}
		}
		done += end - start
	}
	return done, nil
}

// EmbedPending embeds chunks stored without vectors, such as those of
// documents ingested with SkipEmbeddings. It returns the number embedded.
func (p *Pipeline) EmbedPending(ctx context.Context) (int, error) {
	if p.embedder == nil {
		return 0, rerrors.New(rerrors.ErrCodeCapabilityUnavailable, "cannot embed pending chunks", ErrNoEmbedder)
	}
	release, err := p.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	total := 0
	for {
		pending, err := p.store.ChunksWithoutEmbeddings(ctx, p.batchSize)
		if err != nil {
			return total, err
		}
		if len(pending) == 0 {
			break
		}
		ids := make([]int64, len(pending))
		texts := make([]string, len(pending))
		for i, c := range pending {
			ids[i] = c.ID
			texts[i] = c.Text
		}
		n, err := p.embedChunks(ctx, ids, texts)
		total += n
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		slog.Info("pending_chunks_embedded", slog.Int("count", total))
	}
	return total, nil
}

// Delete removes a document from the store and every index.
func (p *Pipeline) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, rerrors.InputError("document id is required", nil)
	}
	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	removed, err := p.store.DeleteDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.vectors != nil {
		if err := p.vectors.Delete(ctx, removed); err != nil {
			slog.Warn("secondary_index_sync_failed", slog.String("index", "vector"), slog.String("error", err.Error()))
		}
	}
	if p.lexical != nil {
		if err := p.lexical.Delete(ctx, removed); err != nil {
			slog.Warn("secondary_index_sync_failed", slog.String("index", "lexical"), slog.String("error", err.Error()))
		}
	}

	slog.Info("document_deleted", slog.String("document_id", id), slog.Int("chunks", len(removed)))
	return &DeleteResult{DocumentID: id, ChunksRemoved: len(removed)}, nil
}

func (p *Pipeline) acquire(ctx context.Context) (func(), error) {
	if p.lock == nil {
		return func() {}, nil
	}
	return p.lock.Acquire(ctx)
}
