// Package bench runs one retrieval under a stopwatch and captures the
// datastore's execution plan for it.
//
// It is a regression guard, not a relevance check: a run passes when the
// plan shows index-backed access to the chunk table and the query finished
// under the latency threshold. Relevance is measured by package eval.
package bench

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/search"
	"github.com/Aman-CERP/recall/internal/store"
)

// DefaultThreshold is the latency a benchmark run must stay under.
const DefaultThreshold = 50 * time.Millisecond

// fullChunkScan matches a plan step that reads every row of chunks.
var fullChunkScan = regexp.MustCompile(`^SCAN chunks(\s|$)`)

// Planner exposes the statements retrieval runs to EXPLAIN QUERY PLAN.
type Planner interface {
	LexicalPlan(ctx context.Context, q store.LexicalQuery) ([]store.PlanRow, error)
	HydratePlan(ctx context.Context, ids []int64, filters store.Filters) ([]store.PlanRow, error)
}

// PlanStep is one plan row tagged with the retrieval stage it belongs to.
type PlanStep struct {
	Stage  string `json:"stage"`
	ID     int    `json:"id"`
	Parent int    `json:"parent"`
	Detail string `json:"detail"`
}

// Report is the outcome of one benchmark run.
type Report struct {
	Query        string        `json:"query"`
	Mode         search.Mode   `json:"mode"`
	N            int           `json:"n"`
	QueryTime    time.Duration `json:"-"`
	TotalTime    time.Duration `json:"-"`
	QueryTimeMS  float64       `json:"query_time_ms"`
	TotalTimeMS  float64       `json:"total_time_ms"`
	RowsReturned int           `json:"rows_returned"`
	Plan         []PlanStep    `json:"plan"`
	IndexBacked  bool          `json:"index_backed"`
	Degraded     []string      `json:"degraded,omitempty"`
}

// Assert fails when the plan scans the chunk table or, for a positive
// threshold, when the query took longer than threshold.
func (r *Report) Assert(threshold time.Duration) error {
	if !r.IndexBacked {
		return rerrors.New(rerrors.ErrCodeInternal, "query plan scans the chunks table", nil).
			WithDetail("plan", r.planSummary())
	}
	if threshold > 0 && r.QueryTime > threshold {
		return rerrors.New(rerrors.ErrCodeInternal,
			fmt.Sprintf("query took %s, over the %s threshold", r.QueryTime.Round(time.Microsecond), threshold), nil)
	}
	return nil
}

func (r *Report) planSummary() string {
	details := make([]string, len(r.Plan))
	for i, s := range r.Plan {
		details[i] = s.Stage + ": " + s.Detail
	}
	return strings.Join(details, "; ")
}

// IndexBacked reports whether no step of plan is a full scan of chunks.
func IndexBacked(plan []store.PlanRow) bool {
	for _, row := range plan {
		if fullChunkScan.MatchString(strings.TrimSpace(row.Detail)) {
			return false
		}
	}
	return true
}

// Harness times retrieval and explains its statements.
type Harness struct {
	retriever search.Retriever
	planner   Planner

	// bleve resolves keyword matches outside SQLite, so only its
	// hydration statement has a plan.
	bleveLexical bool
}

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithLexicalBackend tells the harness which lexical backend serves
// retrieval, so it explains the statement that backend actually runs.
func WithLexicalBackend(backend string) HarnessOption {
	return func(h *Harness) {
		h.bleveLexical = strings.EqualFold(backend, string(store.LexicalBackendBleve))
	}
}

// NewHarness creates a harness over a retriever and the datastore that
// backs it.
func NewHarness(retriever search.Retriever, planner Planner, opts ...HarnessOption) *Harness {
	h := &Harness{retriever: retriever, planner: planner}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes query once in mode and returns timings and the plan.
// QueryTime covers the retrieval path alone; TotalTime adds validation
// and plan capture.
func (h *Harness) Run(ctx context.Context, query string, mode search.Mode, n int) (*Report, error) {
	start := time.Now()

	res, err := h.retriever.Retrieve(ctx, search.RetrieveOptions{Query: query, Mode: mode, Limit: n})
	if err != nil {
		return nil, err
	}

	report := &Report{
		Query:        res.Query,
		Mode:         res.Mode,
		N:            res.Limit,
		QueryTime:    res.RetrievalTime,
		RowsReturned: len(res.Results),
		Degraded:     res.Degraded,
	}

	var plan []store.PlanRow
	if res.Mode != search.ModeVector {
		rows, err := h.lexicalPlan(ctx, res)
		if err != nil {
			return nil, err
		}
		report.addSteps("lexical", rows)
		plan = append(plan, rows...)
	}
	if res.Mode != search.ModeLexical && res.VectorCandidates > 0 {
		rows, err := h.planner.HydratePlan(ctx, resultIDs(res), store.Filters{})
		if err != nil {
			return nil, err
		}
		report.addSteps("vector", rows)
		plan = append(plan, rows...)
	}
	report.IndexBacked = IndexBacked(plan)

	report.TotalTime = time.Since(start)
	report.QueryTimeMS = ms(report.QueryTime)
	report.TotalTimeMS = ms(report.TotalTime)
	return report, nil
}

func (h *Harness) lexicalPlan(ctx context.Context, res *search.Retrieval) ([]store.PlanRow, error) {
	if h.bleveLexical {
		return h.planner.HydratePlan(ctx, resultIDs(res), store.Filters{})
	}
	return h.planner.LexicalPlan(ctx, store.LexicalQuery{Text: res.Query, Limit: res.Limit})
}

func (r *Report) addSteps(stage string, rows []store.PlanRow) {
	for _, row := range rows {
		r.Plan = append(r.Plan, PlanStep{Stage: stage, ID: row.ID, Parent: row.Parent, Detail: row.Detail})
	}
}

func resultIDs(res *search.Retrieval) []int64 {
	ids := make([]int64, len(res.Results))
	for i, r := range res.Results {
		ids[i] = r.ChunkID
	}
	return ids
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
