package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// TextAnalyzerName lowercases and porter-stems unicode word tokens, the
// same normalization chunks_fts applies.
const TextAnalyzerName = "recall_text"

// BleveLexical is the alternate lexical backend. It indexes chunk text and
// filter fields in bleve and loads hit chunks from the SQLite store.
type BleveLexical struct {
	mu     sync.RWMutex
	index  bleve.Index
	store  *SQLiteStore
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ SyncedIndex = (*BleveLexical)(nil)

// validateIndexIntegrity checks that an existing index directory has a
// readable index_meta.json.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// NewBleveLexical opens or creates the bleve index at path. An empty path
// creates an in-memory index. A corrupted index is cleared; call Sync to
// refill it from the store.
func NewBleveLexical(path string, st *SQLiteStore) (*BleveLexical, error) {
	im, err := chunkIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("bleve_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if err := os.RemoveAll(path); err != nil {
				return nil, fmt.Errorf("bleve index corrupted at %s and cannot remove: %w", path, err)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreOpen, "failed to open bleve index", err)
	}

	return &BleveLexical{index: idx, store: st, path: path}, nil
}

func chunkIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(TextAnalyzerName, map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name, porter.Name},
	})
	if err != nil {
		return nil, err
	}
	im.DefaultAnalyzer = TextAnalyzerName

	doc := bleve.NewDocumentMapping()

	content := bleve.NewTextFieldMapping()
	content.Analyzer = TextAnalyzerName
	doc.AddFieldMappingsAt("content", content)

	for _, name := range []string{"document_id", "source", "category"} {
		kw := bleve.NewTextFieldMapping()
		kw.Analyzer = keyword.Name
		kw.IncludeInAll = false
		kw.IncludeTermVectors = false
		doc.AddFieldMappingsAt(name, kw)
	}

	published := bleve.NewDateTimeFieldMapping()
	published.IncludeInAll = false
	doc.AddFieldMappingsAt("published_at", published)

	im.DefaultMapping = doc
	return im, nil
}

// Index adds or replaces chunks.
func (b *BleveLexical) Index(ctx context.Context, chunks []ChunkText) error {
	if len(chunks) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return rerrors.UnavailableError("bleve index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		fields := map[string]any{
			"content":     c.Text,
			"document_id": c.DocumentID,
			"source":      c.Source,
			"category":    c.Category,
		}
		if c.PublishedAt != nil {
			fields["published_at"] = c.PublishedAt.UTC()
		}
		if err := batch.Index(bleveDocID(c.ChunkID), fields); err != nil {
			return rerrors.New(rerrors.ErrCodeStoreWrite, fmt.Sprintf("failed to index chunk %d", c.ChunkID), err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return rerrors.New(rerrors.ErrCodeStoreWrite, "failed to execute bleve batch", err)
	}
	return nil
}

// Delete removes chunks.
func (b *BleveLexical) Delete(ctx context.Context, chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return rerrors.UnavailableError("bleve index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(bleveDocID(id))
	}
	if err := b.index.Batch(batch); err != nil {
		return rerrors.New(rerrors.ErrCodeStoreWrite, "failed to delete from bleve", err)
	}
	return nil
}

// Search runs the query with its filters as required clauses, so
// filtering happens inside bleve before the top hits are cut.
func (b *BleveLexical) Search(ctx context.Context, q LexicalQuery) ([]*LexicalResult, error) {
	if err := q.Filters.Validate(); err != nil {
		return nil, err
	}
	parsed := parseQuery(q.Text, q.Operator)
	if parsed.Empty() {
		return []*LexicalResult{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, rerrors.UnavailableError("bleve index is closed", nil)
	}
	req := bleve.NewSearchRequestOptions(bleveQuery(parsed, q.Filters), limit, 0, false)
	// Ties at the limit go to the lowest chunk ID.
	req.SortBy([]string{"-_score", "_id"})
	res, err := b.index.SearchInContext(ctx, req)
	b.mu.RUnlock()
	if err != nil {
		return nil, rerrors.UnavailableError("bleve search failed", err)
	}

	type hit struct {
		id    int64
		score float64
	}
	hits := make([]hit, 0, len(res.Hits))
	ids := make([]int64, 0, len(res.Hits))
	for _, h := range res.Hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, hit{id: id, score: h.Score})
		ids = append(ids, id)
	}

	chunks, err := b.store.HydrateChunks(ctx, ids, Filters{})
	if err != nil {
		return nil, err
	}

	results := make([]*LexicalResult, 0, len(hits))
	for _, h := range hits {
		c, ok := chunks[h.id]
		if !ok {
			// indexed in bleve but gone from the store
			continue
		}
		results = append(results, &LexicalResult{Chunk: c, Score: h.score, Rank: len(results) + 1})
	}
	return results, nil
}

// bleveDocID zero-pads chunk IDs so bleve's string order on _id matches
// numeric order.
func bleveDocID(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func bleveQuery(p parsedQuery, f Filters) query.Query {
	bq := bleve.NewBooleanQuery()
	for _, g := range p.groups {
		if len(g) == 1 {
			bq.AddMust(bleveTerm(g[0]))
			continue
		}
		alts := make([]query.Query, len(g))
		for i, t := range g {
			alts[i] = bleveTerm(t)
		}
		bq.AddMust(bleve.NewDisjunctionQuery(alts...))
	}
	for _, t := range p.excluded {
		bq.AddMustNot(bleveTerm(t))
	}
	if fq := bleveFilter(f); fq != nil {
		bq.AddMust(fq)
	}
	return bq
}

func bleveTerm(t queryTerm) query.Query {
	if t.phrase {
		q := bleve.NewMatchPhraseQuery(t.text)
		q.SetField("content")
		return q
	}
	q := bleve.NewMatchQuery(t.text)
	q.SetField("content")
	return q
}

func bleveFilter(f Filters) query.Query {
	var preds []query.Query
	if f.From != nil || f.To != nil {
		var start, end time.Time
		if f.From != nil {
			start = *f.From
		}
		if f.To != nil {
			end = *f.To
		}
		inclusive := true
		dq := bleve.NewDateRangeInclusiveQuery(start, end, &inclusive, &inclusive)
		dq.SetField("published_at")
		preds = append(preds, dq)
	}
	if len(f.Sources) > 0 {
		preds = append(preds, termsQuery("source", f.Sources))
	}
	if len(f.Categories) > 0 {
		preds = append(preds, termsQuery("category", f.Categories))
	}

	switch {
	case len(preds) == 0:
		return nil
	case len(preds) == 1:
		return preds[0]
	case f.Mode == FilterAny:
		return bleve.NewDisjunctionQuery(preds...)
	default:
		return bleve.NewConjunctionQuery(preds...)
	}
}

func termsQuery(field string, values []string) query.Query {
	terms := make([]query.Query, len(values))
	for i, v := range values {
		tq := bleve.NewTermQuery(v)
		tq.SetField(field)
		terms[i] = tq
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return bleve.NewDisjunctionQuery(terms...)
}

// Count returns the number of indexed chunks.
func (b *BleveLexical) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, rerrors.UnavailableError("bleve index is closed", nil)
	}
	return b.index.DocCount()
}

// Sync rebuilds the index from the store when the chunk counts disagree,
// as after a cleared corrupt index.
func (b *BleveLexical) Sync(ctx context.Context) error {
	stats, err := b.store.Stats(ctx)
	if err != nil {
		return err
	}
	count, err := b.Count()
	if err != nil {
		return err
	}
	if int(count) == stats.Chunks {
		return nil
	}

	slog.Info("bleve_index_resync",
		slog.Uint64("indexed", count),
		slog.Int("stored", stats.Chunks))

	const batchSize = 500
	var batch []ChunkText
	err = b.store.ForEachChunk(ctx, func(c ChunkText) error {
		batch = append(batch, c)
		if len(batch) < batchSize {
			return nil
		}
		err := b.Index(ctx, batch)
		batch = batch[:0]
		return err
	})
	if err != nil {
		return err
	}
	return b.Index(ctx, batch)
}

// Close closes the index. Idempotent.
func (b *BleveLexical) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

