package store

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "recall.db"), MaxOpenConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func date(s string) *time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func putDoc(t *testing.T, st *SQLiteStore, doc Document, texts ...string) *PutResult {
	t.Helper()
	chunks := make([]ChunkRecord, len(texts))
	for i, txt := range texts {
		chunks[i] = ChunkRecord{Ord: i, TokenCount: len(strings.Fields(txt)), Text: txt}
	}
	res, err := st.PutDocument(context.Background(), doc, chunks)
	require.NoError(t, err)
	return res
}

func TestPutDocument_AssignsContiguousOrds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	res := putDoc(t, st, Document{ID: "d1", Source: "podcast", Text: "a b c"}, "alpha beta", "beta gamma", "gamma delta")

	assert.Len(t, res.ChunkIDs, 3)
	assert.Equal(t, 6, res.TotalTokens)
	assert.False(t, res.Replaced)

	chunks, err := st.DocumentChunks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ord)
		assert.Equal(t, "podcast", c.Source)
	}
}

func TestPutDocument_RejectsGappedOrds(t *testing.T) {
	st := newTestStore(t)

	_, err := st.PutDocument(context.Background(), Document{ID: "d1", Text: "x"},
		[]ChunkRecord{{Ord: 0, Text: "a"}, {Ord: 2, Text: "b"}})

	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeInternal, rerrors.GetCode(err))
}

func TestPutDocument_ReplaceKeepsOrdsAndIndex(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	first := putDoc(t, st, Document{ID: "d1", Text: "x"}, "old zebra text", "more zebra text", "zebra again")

	// When re-ingesting with fewer chunks
	second := putDoc(t, st, Document{ID: "d1", Text: "y"}, "new giraffe text", "giraffe again")

	// Then old chunks are gone from the table and from FTS
	assert.True(t, second.Replaced)
	assert.ElementsMatch(t, first.ChunkIDs, second.RemovedChunkIDs)
	chunks, err := st.DocumentChunks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Ord)
	assert.Equal(t, 1, chunks[1].Ord)

	old, err := st.Search(ctx, LexicalQuery{Text: "zebra", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, old)
	fresh, err := st.Search(ctx, LexicalQuery{Text: "giraffe", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestDeleteDocument_Cascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	res := putDoc(t, st, Document{ID: "d1", Text: "x"}, "penguin colony", "penguin diet")
	require.NoError(t, st.PutEmbeddings(ctx, res.ChunkIDs, [][]float32{{1, 0}, {0, 1}}, "static"))

	removed, err := st.DeleteDocument(ctx, "d1")

	require.NoError(t, err)
	assert.Equal(t, res.ChunkIDs, removed)
	hits, err := st.Search(ctx, LexicalQuery{Text: "penguin", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
	ids, _, err := st.AllEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = st.DeleteDocument(ctx, "d1")
	assert.Equal(t, rerrors.ErrCodeDocumentNotFound, rerrors.GetCode(err))
}

func TestSearch_NeuralNetworks_MatchesOnlyRelevantChunk(t *testing.T) {
	// Given one document about neural networks and one unrelated
	st := newTestStore(t)
	putDoc(t, st, Document{ID: "ml", Text: "x"}, "today we discuss how a neural network learns from data")
	putDoc(t, st, Document{ID: "cooking", Text: "y"}, "the recipe calls for two cups of flour and an egg")

	// When searching for the plural form
	hits, err := st.Search(context.Background(), LexicalQuery{Text: "neural networks", Limit: 10})

	// Then exactly the relevant chunk comes back with a positive score
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ml", hits[0].Chunk.DocumentID)
	assert.Greater(t, hits[0].Score, 0.0)
	assert.Equal(t, 1, hits[0].Rank)
}

func TestSearch_QuerySyntax(t *testing.T) {
	st := newTestStore(t)
	putDoc(t, st, Document{ID: "a", Text: "x"}, "climate policy and carbon tax debate")
	putDoc(t, st, Document{ID: "b", Text: "x"}, "carbon capture technology explained")
	putDoc(t, st, Document{ID: "c", Text: "x"}, "policy of the central bank on interest")

	tests := []struct {
		name  string
		query string
		op    Operator
		want  []string
	}{
		{"implicit and", "carbon policy", OperatorAnd, []string{"a"}},
		{"phrase", `"carbon capture"`, OperatorAnd, []string{"b"}},
		{"exclusion", "carbon -tax", OperatorAnd, []string{"b"}},
		{"or", "capture OR bank", OperatorAnd, []string{"b", "c"}},
		{"only negatives", "-carbon", OperatorAnd, nil},
		{"operator or drops stop words", "the carbon of interest", OperatorOr, []string{"a", "b", "c"}},
		{"punctuation tolerated", "carbon!!! (policy)", OperatorAnd, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := st.Search(context.Background(), LexicalQuery{Text: tt.query, Limit: 10, Operator: tt.op})
			require.NoError(t, err)

			var got []string
			for _, h := range hits {
				got = append(got, h.Chunk.DocumentID)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestSearch_FiltersApplyBeforeLimit(t *testing.T) {
	st := newTestStore(t)
	// Many strong matches from one source, one weaker match from another
	for i := 0; i < 5; i++ {
		putDoc(t, st, Document{ID: "loud" + string(rune('a'+i)), Source: "loud", PublishedAt: date("2024-01-10")},
			"economy economy economy economy")
	}
	putDoc(t, st, Document{ID: "quiet", Source: "quiet", Category: "finance", PublishedAt: date("2023-06-01")},
		"a long segment that mentions the economy only once among many other words")

	hits, err := st.Search(context.Background(), LexicalQuery{
		Text:    "economy",
		Limit:   1,
		Filters: Filters{Sources: []string{"quiet"}},
	})

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "quiet", hits[0].Chunk.DocumentID)

	t.Run("date range", func(t *testing.T) {
		hits, err := st.Search(context.Background(), LexicalQuery{
			Text:    "economy",
			Limit:   10,
			Filters: Filters{From: date("2024-01-01"), To: date("2024-12-31")},
		})
		require.NoError(t, err)
		assert.Len(t, hits, 5)
	})

	t.Run("any mode", func(t *testing.T) {
		hits, err := st.Search(context.Background(), LexicalQuery{
			Text:    "economy",
			Limit:   10,
			Filters: Filters{Sources: []string{"nobody"}, Categories: []string{"finance"}, Mode: FilterAny},
		})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "quiet", hits[0].Chunk.DocumentID)
	})
}

func TestSearch_TiesBreakOnLowestChunkID(t *testing.T) {
	st := newTestStore(t)
	a := putDoc(t, st, Document{ID: "a"}, "identical walrus text")
	b := putDoc(t, st, Document{ID: "b"}, "identical walrus text")

	hits, err := st.Search(context.Background(), LexicalQuery{Text: "walrus", Limit: 10})

	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, a.ChunkIDs[0], hits[0].Chunk.ID)
	assert.Equal(t, b.ChunkIDs[0], hits[1].Chunk.ID)
}

func TestSearch_ClosedStoreIsUnavailable(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Close())

	_, err := st.Search(context.Background(), LexicalQuery{Text: "anything"})

	require.Error(t, err)
	assert.True(t, rerrors.IsUnavailable(err))
}

var fullChunkScan = regexp.MustCompile(`^SCAN chunks(\s|$)`)

func TestLexicalPlan_IsIndexBacked(t *testing.T) {
	st := newTestStore(t)
	putDoc(t, st, Document{ID: "a", Source: "s"}, "index backed search")

	plan, err := st.LexicalPlan(context.Background(), LexicalQuery{
		Text:    "search",
		Limit:   5,
		Filters: Filters{Sources: []string{"s"}, From: date("2020-01-01")},
	})

	require.NoError(t, err)
	require.NotEmpty(t, plan)
	for _, row := range plan {
		assert.False(t, fullChunkScan.MatchString(row.Detail), "full scan in plan: %s", row.Detail)
	}
}

func TestHydrateChunks_AppliesFilters(t *testing.T) {
	st := newTestStore(t)
	a := putDoc(t, st, Document{ID: "a", Source: "one"}, "x")
	b := putDoc(t, st, Document{ID: "b", Source: "two"}, "y")

	got, err := st.HydrateChunks(context.Background(), []int64{a.ChunkIDs[0], b.ChunkIDs[0]}, Filters{Sources: []string{"two"}})

	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, b.ChunkIDs[0])
}

func TestNeighbors_WindowWithinDocument(t *testing.T) {
	st := newTestStore(t)
	putDoc(t, st, Document{ID: "a"}, "c0", "c1", "c2", "c3", "c4")
	putDoc(t, st, Document{ID: "b"}, "other")

	got, err := st.Neighbors(context.Background(), "a", 0, 2)

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{got[0].Ord, got[1].Ord, got[2].Ord})
}

func TestEmbeddings_RoundTripAndDimensionGuard(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	res := putDoc(t, st, Document{ID: "a"}, "one", "two")

	require.NoError(t, st.PutEmbeddings(ctx, res.ChunkIDs[:1], [][]float32{{0.5, -1.25, 3}}, "m"))

	ids, vecs, err := st.AllEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.ChunkIDs[:1], ids)
	assert.Equal(t, []float32{0.5, -1.25, 3}, vecs[0])

	pending, err := st.ChunksWithoutEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, res.ChunkIDs[1], pending[0].ID)

	err = st.PutEmbeddings(ctx, res.ChunkIDs[1:], [][]float32{{1, 2}}, "m")
	assert.Equal(t, rerrors.ErrCodeDimensionMismatch, rerrors.GetCode(err))

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 1, stats.EmbeddedChunks)
	assert.Equal(t, 3, stats.EmbeddingDims)
}

func TestGetDocument(t *testing.T) {
	st := newTestStore(t)
	putDoc(t, st, Document{ID: "a", Title: "Episode 1", Metadata: map[string]string{"host": "sam"}, PublishedAt: date("2024-02-03"), Text: "full"}, "full")

	doc, err := st.GetDocument(context.Background(), "a")

	require.NoError(t, err)
	assert.Equal(t, "Episode 1", doc.Title)
	assert.Equal(t, "sam", doc.Metadata["host"])
	require.NotNil(t, doc.PublishedAt)
	assert.True(t, doc.PublishedAt.Equal(*date("2024-02-03")))

	_, err = st.GetDocument(context.Background(), "missing")
	assert.Equal(t, rerrors.ErrCodeDocumentNotFound, rerrors.GetCode(err))
}

func TestSearchEmbeddings_FiltersBeforeTopK(t *testing.T) {
	// Given: five close vectors from one source and a distant one from another
	st := newTestStore(t)
	ctx := context.Background()
	var bulkIDs []int64
	for _, id := range []string{"b1", "b2", "b3", "b4", "b5"} {
		res := putDoc(t, st, Document{ID: id, Source: "bulk"}, "neural networks")
		bulkIDs = append(bulkIDs, res.ChunkIDs...)
	}
	rare := putDoc(t, st, Document{ID: "r1", Source: "rare", Category: "garden"}, "tomatoes")
	vecs := make([][]float32, len(bulkIDs))
	for i := range vecs {
		vecs[i] = []float32{1, float32(i) * 0.01, 0}
	}
	require.NoError(t, st.PutEmbeddings(ctx, bulkIDs, vecs, "m"))
	require.NoError(t, st.PutEmbeddings(ctx, rare.ChunkIDs, [][]float32{{0, 0, 1}}, "m"))
	query := []float32{1, 0, 0}

	t.Run("selective filter still finds the match", func(t *testing.T) {
		got, err := st.SearchEmbeddings(ctx, query, 2, Filters{Sources: []string{"rare"}})

		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, rare.ChunkIDs[0], got[0].ChunkID)
		assert.InDelta(t, 0.0, got[0].Similarity, 1e-5)
	})

	t.Run("ordered by similarity and cut to k", func(t *testing.T) {
		got, err := st.SearchEmbeddings(ctx, query, 3, Filters{Sources: []string{"bulk"}})

		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, bulkIDs[:3], []int64{got[0].ChunkID, got[1].ChunkID, got[2].ChunkID})
		assert.GreaterOrEqual(t, got[0].Similarity, got[1].Similarity)
	})

	t.Run("any mode unions predicates", func(t *testing.T) {
		got, err := st.SearchEmbeddings(ctx, query, 10, Filters{Sources: []string{"none"}, Categories: []string{"garden"}, Mode: FilterAny})

		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, rare.ChunkIDs[0], got[0].ChunkID)
	})

	t.Run("no match is empty", func(t *testing.T) {
		got, err := st.SearchEmbeddings(ctx, query, 5, Filters{Sources: []string{"none"}})

		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := st.SearchEmbeddings(ctx, []float32{1, 0}, 5, Filters{Sources: []string{"rare"}})

		assert.Equal(t, rerrors.ErrCodeDimensionMismatch, rerrors.GetCode(err))
	})
}
