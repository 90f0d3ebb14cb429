package service

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/Aman-CERP/recall/internal/search"
	"github.com/Aman-CERP/recall/internal/store"
	"github.com/Aman-CERP/recall/internal/telemetry"
	"github.com/Aman-CERP/recall/internal/validate"
)

// DefaultExpandWindow is the neighbour window when a request gives none.
const DefaultExpandWindow = 1

// Retrieve runs one query and returns ranked chunks. No match is an empty
// response, not an error.
func (s *Service) Retrieve(ctx context.Context, req RetrieveRequest) (*RetrieveResponse, error) {
	start := time.Now()
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	filters, err := store.ParseFilters(req.Filters)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Retrieve(ctx, search.RetrieveOptions{
		Query:    req.Query,
		Limit:    req.N,
		Mode:     search.Mode(req.Mode),
		Filters:  filters,
		Operator: store.Operator(req.Operator),
	})
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(res.Results))
	for _, r := range res.Results {
		chunks = append(chunks, fusedChunk(r))
	}
	applied := filters.Applied()
	if applied == nil {
		applied = []string{}
	}
	total := time.Since(start)
	s.recordQuery(res.Query, telemetry.Kind(res.Mode), len(chunks), len(res.Degraded) > 0, total)
	return &RetrieveResponse{
		Chunks: chunks,
		QueryInfo: QueryInfo{
			Query:             res.Query,
			N:                 res.Limit,
			Mode:              string(res.Mode),
			ResultsReturned:   len(chunks),
			FiltersApplied:    applied,
			LexicalCandidates: res.LexicalCandidates,
			VectorCandidates:  res.VectorCandidates,
		},
		TimingMS: Timing{Retrieval: ms(res.RetrievalTime), Total: ms(total)},
		Degraded: res.Degraded,
	}, nil
}

// Expand returns the requested chunks and their neighbours within the
// window, deduplicated and ordered by document then ord. IDs that do not
// exist are listed in Missing.
func (s *Service) Expand(ctx context.Context, req ExpandRequest) (*ExpandResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	window := req.Window
	if window == 0 {
		window = DefaultExpandWindow
	}

	found, err := s.store.GetChunks(ctx, req.ChunkIDs)
	if err != nil {
		return nil, err
	}
	present := make(map[int64]bool, len(found))
	for _, c := range found {
		present[c.ID] = true
	}
	resp := &ExpandResponse{}
	for _, id := range req.ChunkIDs {
		if !present[id] && !slices.Contains(resp.Missing, id) {
			resp.Missing = append(resp.Missing, id)
		}
	}

	seen := make(map[int64]*store.StoredChunk)
	for _, c := range found {
		neighbours, err := s.store.Neighbors(ctx, c.DocumentID, c.Ord, window)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbours {
			seen[n.ID] = n
		}
	}

	ordered := make([]*store.StoredChunk, 0, len(seen))
	for _, c := range seen {
		ordered = append(ordered, c)
	}
	slices.SortFunc(ordered, func(a, b *store.StoredChunk) int {
		return cmp.Or(cmp.Compare(a.DocumentID, b.DocumentID), cmp.Compare(a.Ord, b.Ord))
	})
	resp.Chunks = make([]Chunk, len(ordered))
	for i, c := range ordered {
		resp.Chunks[i] = storedChunk(c, 0)
	}
	return resp, nil
}

func fusedChunk(r *search.FusedResult) Chunk {
	c := storedChunk(r.Chunk, r.Score)
	c.ChunkID = r.ChunkID
	c.Scores = &ScoreBreakdown{
		Lexical:     r.LexicalScore,
		Vector:      r.VectorScore,
		LexicalRank: r.LexicalRank,
		VectorRank:  r.VectorRank,
	}
	return c
}

func storedChunk(c *store.StoredChunk, score float64) Chunk {
	if c == nil {
		return Chunk{Score: score, Metadata: map[string]any{}}
	}
	return Chunk{
		ChunkID:  c.ID,
		DocID:    c.DocumentID,
		Score:    score,
		Ord:      c.Ord,
		Text:     c.Text,
		Metadata: metadata(c),
	}
}

// metadata flattens document metadata into one map. The document's own
// fields win over free-form metadata keys of the same name.
func metadata(c *store.StoredChunk) map[string]any {
	m := make(map[string]any, len(c.Metadata)+5)
	for k, v := range c.Metadata {
		m[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("title", c.Title)
	set("source", c.Source)
	set("category", c.Category)
	set("url", c.URL)
	if c.PublishedAt != nil {
		m["published_at"] = c.PublishedAt.UTC().Format(time.RFC3339)
	}
	return m
}
