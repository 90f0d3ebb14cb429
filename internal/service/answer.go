package service

import (
	"context"
	"log/slog"
	"time"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/llm"
	"github.com/Aman-CERP/recall/internal/search"
	"github.com/Aman-CERP/recall/internal/store"
	"github.com/Aman-CERP/recall/internal/telemetry"
	"github.com/Aman-CERP/recall/internal/validate"
)

// maxPassages caps how many merged chunks are offered to synthesis.
const maxPassages = 8

// Answer decomposes question into sub-queries, retrieves them in parallel,
// merges the results and, when a synthesizer is configured, writes a cited
// answer.
//
// Decomposition and synthesis failures degrade rather than fail: the
// question is retrieved as a single query, and a failed synthesis leaves
// Answer empty with SynthesisError set. A failed sub-query makes the
// response Partial. Only a request whose every sub-query failed, or a bad
// request, returns an error.
func (s *Service) Answer(ctx context.Context, req AnswerRequest) (*AnswerResponse, error) {
	start := time.Now()
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	filters, err := store.ParseFilters(req.Filters)
	if err != nil {
		return nil, err
	}
	mode, err := search.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}

	res, err := s.multi.Search(ctx, req.Question, search.MultiQueryOptions{
		RetrieveOptions: search.RetrieveOptions{
			Limit:    s.resolveN(req.N),
			Mode:     mode,
			Filters:  filters,
			Operator: store.Operator(req.Operator),
		},
		MaxSubQueries: req.MaxSubQueries,
	})
	if err != nil {
		return nil, err
	}

	resp := &AnswerResponse{
		Question:              res.Question,
		SubQueries:            make([]SubQueryInfo, len(res.SubQueries)),
		DecompositionFallback: res.Fallback,
		Chunks:                make([]AnswerChunk, len(res.Results)),
		Partial:               res.Partial,
		TimingMS: AnswerTiming{
			Decomposition: ms(res.Timing.Decomposition),
			Retrieval:     ms(res.Timing.Retrieval),
		},
	}
	if res.DecompositionError != nil {
		resp.DecompositionError = res.DecompositionError.Error()
	}
	for i, sq := range res.SubQueries {
		resp.SubQueries[i] = SubQueryInfo{Ordinal: sq.Ordinal, Text: sq.Text}
	}
	for _, f := range res.FailedSubQueries {
		resp.FailedSubQueries = append(resp.FailedSubQueries, FailedSubQueryInfo{
			Ordinal: f.Ordinal,
			Query:   f.Query,
			Error:   f.Err.Error(),
			Code:    rerrors.GetCode(f.Err),
		})
	}
	for i, m := range res.Results {
		resp.Chunks[i] = AnswerChunk{
			Chunk:        fusedChunk(&m.FusedResult),
			SubQuery:     m.SubQuery.Ordinal,
			SubQueryHits: m.SubQueryHits,
		}
	}

	if !req.NoSynthesis && s.caps.Synthesizer != nil && len(res.Results) > 0 {
		synthStart := time.Now()
		answer, err := s.caps.Synthesizer.Synthesize(ctx, res.Question, passages(res.Results))
		resp.TimingMS.Synthesis = ms(time.Since(synthStart))
		if err != nil {
			resp.SynthesisError = err.Error()
			slog.Warn("synthesis_failed",
				slog.String("provider", s.caps.Provider),
				slog.String("error", err.Error()))
		} else {
			resp.Answer = answer
		}
	}

	total := time.Since(start)
	resp.LatencyMS = ms(total)
	resp.TimingMS.Total = ms(total)
	s.recordQuery(res.Question, telemetry.KindAnswer, len(resp.Chunks), res.Partial, total)
	return resp, nil
}

// resolveN applies the retrieval defaults so every sub-query and the merge
// use the same limit.
func (s *Service) resolveN(n int) int {
	if n <= 0 {
		n = s.cfg.Retrieval.DefaultN
	}
	return min(n, s.cfg.Retrieval.MaxN)
}

func passages(results []*search.MergedResult) []llm.Passage {
	n := min(len(results), maxPassages)
	out := make([]llm.Passage, 0, n)
	for i, r := range results[:n] {
		p := llm.Passage{Index: i + 1}
		if r.Chunk != nil {
			p.Title = r.Chunk.Title
			p.Text = r.Chunk.Text
		}
		out = append(out, p)
	}
	return out
}
