package index

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recall/internal/chunk"
	"github.com/Aman-CERP/recall/internal/embed"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/store"
)

// transcript returns n distinct words.
func transcript(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(words, " ")
}

// failingEmbedder errors on every call.
type failingEmbedder struct{ err error }

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, f.err }
func (f *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, f.err
}
func (f *failingEmbedder) Dimensions() int                { return 8 }
func (f *failingEmbedder) ModelName() string              { return "failing" }
func (f *failingEmbedder) Available(context.Context) bool { return false }
func (f *failingEmbedder) Close() error                   { return nil }

// brokenLexical accepts searches but fails every write.
type brokenLexical struct{}

func (brokenLexical) Search(context.Context, store.LexicalQuery) ([]*store.LexicalResult, error) {
	return nil, nil
}
func (brokenLexical) Index(context.Context, []store.ChunkText) error { return errors.New("disk full") }
func (brokenLexical) Delete(context.Context, []int64) error          { return errors.New("disk full") }
func (brokenLexical) Close() error                                   { return nil }

type pipelineFixture struct {
	dir      string
	store    *store.SQLiteStore
	vectors  *store.HNSWIndex
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T, mutate func(*PipelineConfig)) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), store.Config{Path: filepath.Join(dir, "recall.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	chunker, err := chunk.NewChunker(chunk.Params{MinTokens: 20, MaxTokens: 40, OverlapTokens: 5})
	require.NoError(t, err)
	vectors := store.NewHNSWIndex(store.HNSWConfig{})

	cfg := PipelineConfig{
		Store:     st,
		Chunker:   chunker,
		Embedder:  embed.NewStaticEmbedder(16),
		Vectors:   vectors,
		Lock:      NewIngestLock(dir, time.Second),
		BatchSize: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	return &pipelineFixture{dir: dir, store: st, vectors: vectors, pipeline: p}
}

func TestPipeline_Ingest(t *testing.T) {
	// Given: a 100-token transcript and 40-token windows overlapping by 5
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	// When: it is ingested without an ID
	res, err := f.pipeline.Ingest(ctx, DocumentInput{
		Title:  "Episode 7",
		Source: "podcast-a",
		Text:   transcript(100),
	}, IngestOptions{})

	// Then: three chunks are stored, embedded and indexed
	require.NoError(t, err)
	_, err = uuid.Parse(res.DocumentID)
	assert.NoError(t, err, "generated id should be a UUID")
	assert.Equal(t, 3, res.ChunkCount)
	assert.Equal(t, 110, res.TotalTokens)
	assert.Equal(t, 3, res.EmbeddingsGenerated)
	assert.Empty(t, res.EmbeddingError)
	assert.False(t, res.Replaced)
	assert.Positive(t, res.Duration)
	assert.Equal(t, 3, f.vectors.Len())

	chunks, err := f.store.DocumentChunks(ctx, res.DocumentID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ord)
		assert.Equal(t, "Episode 7", c.Title)
	}
}

func TestPipeline_IngestCleansText(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, DocumentInput{ID: "ep-1", Text: "  hello\\n\nworld \t again  "}, IngestOptions{})

	require.NoError(t, err)
	doc, err := f.store.GetDocument(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, "hellon world again", doc.Text)
	assert.Equal(t, 1, res.ChunkCount)
}

func TestPipeline_ReingestReplacesChunks(t *testing.T) {
	// Given: a stored three-chunk document
	f := newPipelineFixture(t, nil)
	ctx := context.Background()
	_, err := f.pipeline.Ingest(ctx, DocumentInput{ID: "ep-1", Text: transcript(100)}, IngestOptions{})
	require.NoError(t, err)

	// When: the same ID is ingested with a one-chunk text
	res, err := f.pipeline.Ingest(ctx, DocumentInput{ID: "ep-1", Text: transcript(10)}, IngestOptions{})

	// Then: only the new chunk remains in the store and the vector index
	require.NoError(t, err)
	assert.True(t, res.Replaced)
	assert.Equal(t, 1, res.ChunkCount)
	chunks, err := f.store.DocumentChunks(ctx, "ep-1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Ord)
	assert.Equal(t, []int64{chunks[0].ID}, f.vectors.IDs())
}

func TestPipeline_SkipEmbeddingsThenEmbedPending(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	res, err := f.pipeline.Ingest(ctx, DocumentInput{ID: "ep-1", Text: transcript(100)}, IngestOptions{SkipEmbeddings: true})
	require.NoError(t, err)
	assert.Zero(t, res.EmbeddingsGenerated)
	assert.Zero(t, f.vectors.Len())

	n, err := f.pipeline.EmbedPending(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, f.vectors.Len())
	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.EmbeddedChunks)

	n, err = f.pipeline.EmbedPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipeline_EmbedPendingWithoutEmbedder(t *testing.T) {
	f := newPipelineFixture(t, func(c *PipelineConfig) { c.Embedder = nil })

	_, err := f.pipeline.EmbedPending(context.Background())

	assert.True(t, rerrors.IsUnavailable(err))
	assert.ErrorIs(t, err, ErrNoEmbedder)
}

func TestPipeline_EmbeddingFailureKeepsDocument(t *testing.T) {
	// Given: an embedder that is down
	f := newPipelineFixture(t, func(c *PipelineConfig) {
		c.Embedder = &failingEmbedder{err: rerrors.UnavailableError("embedding API down", nil)}
	})
	ctx := context.Background()

	// When: a document is ingested
	res, err := f.pipeline.Ingest(ctx, DocumentInput{ID: "ep-1", Text: transcript(50)}, IngestOptions{})

	// Then: the document is stored lexical-only and the failure is reported
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChunkCount)
	assert.Zero(t, res.EmbeddingsGenerated)
	assert.Contains(t, res.EmbeddingError, "embedding API down")
	hits, err := f.store.Search(ctx, store.LexicalQuery{Text: "word3", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestPipeline_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   DocumentInput
	}{
		{"missing text", DocumentInput{ID: "a"}},
		{"text empty after cleaning", DocumentInput{ID: "a", Text: " \\ \n\t "}},
		{"bad url", DocumentInput{ID: "a", Text: "hello", URL: "not a url"}},
		{"id too long", DocumentInput{ID: strings.Repeat("x", 300), Text: "hello"}},
	}
	f := newPipelineFixture(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipeline.Ingest(context.Background(), tt.in, IngestOptions{})

			require.Error(t, err)
			assert.True(t, rerrors.IsInput(err))
		})
	}
}

func TestPipeline_KeepsBleveInStep(t *testing.T) {
	// Given: a pipeline maintaining an in-memory bleve index
	var bl *store.BleveLexical
	f := newPipelineFixture(t, func(c *PipelineConfig) {
		var err error
		bl, err = store.NewBleveLexical("", c.Store)
		require.NoError(t, err)
		t.Cleanup(func() { _ = bl.Close() })
		c.Lexical = bl
	})
	ctx := context.Background()

	// When: a document is ingested
	_, err := f.pipeline.Ingest(ctx, DocumentInput{ID: "ep-1", Source: "podcast-a", Text: "neural networks are everywhere now"}, IngestOptions{})
	require.NoError(t, err)

	// Then: bleve finds it
	hits, err := bl.Search(ctx, store.LexicalQuery{Text: "neural", Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ep-1", hits[0].Chunk.DocumentID)

	// And: deleting the document empties bleve and the vector index
	del, err := f.pipeline.Delete(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, 1, del.ChunksRemoved)
	count, err := bl.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, f.vectors.Len())
}

func TestPipeline_LexicalSyncFailureIsAWarning(t *testing.T) {
	f := newPipelineFixture(t, func(c *PipelineConfig) { c.Lexical = brokenLexical{} })

	res, err := f.pipeline.Ingest(context.Background(), DocumentInput{ID: "ep-1", Text: "hello world"}, IngestOptions{})

	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "disk full")
}

func TestPipeline_DeleteErrors(t *testing.T) {
	f := newPipelineFixture(t, nil)
	ctx := context.Background()

	_, err := f.pipeline.Delete(ctx, "missing")
	assert.Equal(t, rerrors.ErrCodeDocumentNotFound, rerrors.GetCode(err))

	_, err = f.pipeline.Delete(ctx, "  ")
	assert.True(t, rerrors.IsInput(err))
}

func TestPipeline_WaitsForIngestLock(t *testing.T) {
	// Given: another writer holding the data directory's lock
	f := newPipelineFixture(t, func(c *PipelineConfig) { c.Lock = nil })
	p, err := NewPipeline(PipelineConfig{
		Store:   f.store,
		Chunker: f.pipeline.chunker,
		Lock:    NewIngestLock(f.dir, 100*time.Millisecond),
	})
	require.NoError(t, err)
	release, err := NewIngestLock(f.dir, time.Second).Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	// When: the pipeline ingests
	_, err = p.Ingest(context.Background(), DocumentInput{ID: "ep-1", Text: "hello"}, IngestOptions{})

	// Then: it fails with ERR_204_LOCKED and writes nothing
	assert.Equal(t, rerrors.ErrCodeLocked, rerrors.GetCode(err))
	stats, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
}

func TestNewPipeline_RequiresStoreAndChunker(t *testing.T) {
	_, err := NewPipeline(PipelineConfig{})
	assert.Error(t, err)
}
