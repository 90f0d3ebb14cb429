package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// RetrieveFunc adapts a function to the Retriever interface, so
// MultiQuerySearcher can be driven without a full Engine.
type RetrieveFunc func(ctx context.Context, opts RetrieveOptions) (*Retrieval, error)

// Retrieve calls f.
func (f RetrieveFunc) Retrieve(ctx context.Context, opts RetrieveOptions) (*Retrieval, error) {
	return f(ctx, opts)
}

// MultiQueryOptions configures one multi-query search. Query in the
// embedded options is ignored; each sub-query supplies its own.
type MultiQueryOptions struct {
	RetrieveOptions
	MaxSubQueries int
}

// FailedSubQuery names a sub-query whose retrieval failed.
type FailedSubQuery struct {
	Ordinal int
	Query   string
	Err     error
}

// MultiQueryTiming splits a multi-query search's wall-clock time.
type MultiQueryTiming struct {
	Decomposition time.Duration
	Retrieval     time.Duration
	Total         time.Duration
}

// MultiQueryResult is the merged outcome of a decomposed question.
type MultiQueryResult struct {
	Question   string
	SubQueries []SubQuery

	// Fallback is set when decomposition degraded to the question alone.
	Fallback           bool
	DecompositionError error

	Results []*MergedResult

	// Partial is set when at least one sub-query failed and the rest were
	// merged without it.
	Partial          bool
	FailedSubQueries []FailedSubQuery

	Timing MultiQueryTiming
}

// MultiQuerySearcher decomposes a question, retrieves every sub-query in
// parallel and merges the per-sub-query lists.
type MultiQuerySearcher struct {
	decomposer *Decomposer
	retriever  Retriever

	maxSubQueries int
	parallelism   int
}

// MultiQueryOption configures the MultiQuerySearcher.
type MultiQueryOption func(*MultiQuerySearcher)

// WithMaxSubQueries sets the default cap on sub-queries.
func WithMaxSubQueries(n int) MultiQueryOption {
	return func(m *MultiQuerySearcher) {
		if n > 0 {
			m.maxSubQueries = n
		}
	}
}

// WithParallelism bounds how many sub-queries retrieve at once.
func WithParallelism(n int) MultiQueryOption {
	return func(m *MultiQuerySearcher) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// NewMultiQuerySearcher creates a multi-query search orchestrator.
func NewMultiQuerySearcher(decomposer *Decomposer, retriever Retriever, opts ...MultiQueryOption) *MultiQuerySearcher {
	m := &MultiQuerySearcher{
		decomposer:    decomposer,
		retriever:     retriever,
		maxSubQueries: DefaultMaxSubQueries,
		parallelism:   4,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Search answers question with the merged results of its sub-queries.
//
// A failing sub-query is recorded in FailedSubQueries and left out of the
// merge; Search only fails when every sub-query does, returning the
// lowest-ordinal failure. When ctx ends first, sub-queries still running
// are abandoned: they finish on a detached context and their results are
// discarded.
func (m *MultiQuerySearcher) Search(ctx context.Context, question string, opts MultiQueryOptions) (*MultiQueryResult, error) {
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, rerrors.New(rerrors.ErrCodeEmptyQuery, "question is empty", nil)
	}
	max := opts.MaxSubQueries
	if max <= 0 {
		max = m.maxSubQueries
	}

	decomp := m.decomposer.Decompose(ctx, question, max)
	out := &MultiQueryResult{
		Question:           question,
		SubQueries:         decomp.SubQueries,
		Fallback:           decomp.Fallback,
		DecompositionError: decomp.Err,
	}
	out.Timing.Decomposition = time.Since(start)

	retrievalStart := time.Now()
	per, err := m.fanOut(ctx, decomp.SubQueries, opts.RetrieveOptions)
	out.Timing.Retrieval = time.Since(retrievalStart)
	if err != nil {
		out.Timing.Total = time.Since(start)
		return nil, err
	}

	var firstErr error
	for _, r := range per {
		if r.Err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = r.Err
		}
		out.FailedSubQueries = append(out.FailedSubQueries, FailedSubQuery{
			Ordinal: r.SubQuery.Ordinal,
			Query:   r.SubQuery.Text,
			Err:     r.Err,
		})
		slog.Warn("sub_query_failed",
			slog.Int("ordinal", r.SubQuery.Ordinal),
			slog.String("query", r.SubQuery.Text),
			slog.String("error", r.Err.Error()))
	}
	if len(out.FailedSubQueries) == len(per) {
		return nil, firstErr
	}
	out.Partial = len(out.FailedSubQueries) > 0

	out.Results = Merge(per, opts.Limit)
	out.Timing.Total = time.Since(start)

	slog.Debug("multi_query_search_complete",
		slog.String("question", question),
		slog.Int("sub_queries", len(per)),
		slog.Int("failed", len(out.FailedSubQueries)),
		slog.Int("results", len(out.Results)),
		slog.Duration("duration", out.Timing.Total))
	return out, nil
}

// fanOut retrieves every sub-query under the parallelism bound. It returns
// one entry per sub-query in ordinal order, or ctx's error if ctx ends
// before they all finish.
func (m *MultiQuerySearcher) fanOut(ctx context.Context, subs []SubQuery, base RetrieveOptions) ([]SubQueryResult, error) {
	results := make([]SubQueryResult, len(subs))
	detached := context.WithoutCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(m.parallelism)
		for i, sq := range subs {
			g.Go(func() error {
				results[i] = SubQueryResult{SubQuery: sq}
				if err := ctx.Err(); err != nil {
					// not started before the caller gave up
					results[i].Err = err
					return nil
				}
				opts := base
				opts.Query = sq.Text
				r, err := m.retriever.Retrieve(detached, opts)
				if err != nil {
					results[i].Err = err
					return nil
				}
				results[i].Results = r.Results
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		return results, nil
	case <-ctx.Done():
		slog.Warn("multi_query_abandoned",
			slog.Int("sub_queries", len(subs)),
			slog.String("error", ctx.Err().Error()))
		return nil, rerrors.UnavailableError(
			fmt.Sprintf("multi-query search abandoned: %v", ctx.Err()), ctx.Err())
	}
}
