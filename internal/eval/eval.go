// Package eval measures retrieval quality against labelled query suites.
//
// A suite is a YAML file of queries, each listing the documents a good
// retrieval should surface. Cases run through a search.Retriever and are
// scored at document level: chunks are collapsed to their documents in
// rank order before recall@k, precision@k, hit rate, reciprocal rank and
// nDCG@k are computed.
//
// Suites are data, so relevance expectations change without a rebuild.
package eval

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/search"
)

// Defaults applied to suites that leave them unset.
const (
	DefaultK = 5
	DefaultN = 50
)

// Case is one labelled query. A case without expected documents is a
// negative case: it passes when retrieval does not error.
type Case struct {
	ID                string   `yaml:"id" json:"id"`
	Name              string   `yaml:"name,omitempty" json:"name,omitempty"`
	Query             string   `yaml:"query" json:"query"`
	Mode              string   `yaml:"mode,omitempty" json:"mode,omitempty"`
	N                 int      `yaml:"n,omitempty" json:"n,omitempty"`
	ExpectedDocuments []string `yaml:"expected_documents" json:"expected_documents"`
	Notes             string   `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Negative reports whether c has no relevance labels.
func (c Case) Negative() bool {
	return len(c.ExpectedDocuments) == 0
}

// Suite is a named set of cases with shared defaults.
type Suite struct {
	Name  string `yaml:"name" json:"name"`
	K     int    `yaml:"k" json:"k"`
	N     int    `yaml:"n" json:"n"`
	Mode  string `yaml:"mode" json:"mode"`
	Cases []Case `yaml:"cases" json:"cases"`
}

// LoadSuite reads a suite from a YAML file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rerrors.InputError(fmt.Sprintf("failed to read suite %s", path), err)
	}
	suite, err := ParseSuite(data)
	if err != nil {
		return nil, err
	}
	if suite.Name == "" {
		suite.Name = path
	}
	return suite, nil
}

// ParseSuite decodes and validates a YAML suite.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, rerrors.InputError("failed to parse suite YAML", err)
	}
	if len(s.Cases) == 0 {
		return nil, rerrors.InputError("suite has no cases", nil)
	}
	if s.K <= 0 {
		s.K = DefaultK
	}
	if s.N <= 0 {
		s.N = DefaultN
	}
	if _, err := search.ParseMode(s.Mode); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(s.Cases))
	for i, c := range s.Cases {
		if c.ID == "" {
			c.ID = fmt.Sprintf("case-%d", i+1)
			s.Cases[i].ID = c.ID
		}
		if seen[c.ID] {
			return nil, rerrors.InputError("duplicate case id "+c.ID, nil)
		}
		seen[c.ID] = true
		if c.Query == "" {
			return nil, rerrors.InputError("case "+c.ID+" has no query", nil)
		}
		if _, err := search.ParseMode(c.Mode); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Case     Case          `json:"case"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"-"`
	// DurationMS mirrors Duration for JSON output.
	DurationMS float64 `json:"duration_ms"`

	// Documents are the retrieved document IDs in rank order, one entry
	// per document.
	Documents []string `json:"documents"`

	// MatchedAt is the 0-based rank of the first expected document, or -1.
	MatchedAt int `json:"matched_at"`

	RecallAtK      float64 `json:"recall_at_k"`
	PrecisionAtK   float64 `json:"precision_at_k"`
	ReciprocalRank float64 `json:"reciprocal_rank"`
	NDCGAtK        float64 `json:"ndcg_at_k"`

	Error string `json:"error,omitempty"`
}

// SuiteReport aggregates a suite run. Means are over positive cases that
// did not error.
type SuiteReport struct {
	Name      string       `json:"name"`
	Timestamp time.Time    `json:"timestamp"`
	K         int          `json:"k"`
	Cases     []CaseResult `json:"cases"`

	Total  int `json:"total"`
	Passed int `json:"passed"`
	Errors int `json:"errors"`

	MeanRecallAtK    float64 `json:"mean_recall_at_k"`
	MeanPrecisionAtK float64 `json:"mean_precision_at_k"`
	HitRate          float64 `json:"hit_rate"`
	MRR              float64 `json:"mrr"`
	MeanNDCGAtK      float64 `json:"mean_ndcg_at_k"`
}

// Run executes every case in order. A case that fails to retrieve is
// recorded, not fatal; Run itself fails only when ctx ends.
func Run(ctx context.Context, retriever search.Retriever, suite *Suite) (*SuiteReport, error) {
	if suite == nil || len(suite.Cases) == 0 {
		return nil, rerrors.InputError("suite has no cases", nil)
	}
	k := suite.K
	if k <= 0 {
		k = DefaultK
	}

	report := &SuiteReport{Name: suite.Name, Timestamp: time.Now(), K: k}
	var scored int
	for _, c := range suite.Cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := runCase(ctx, retriever, suite, c, k)
		report.Cases = append(report.Cases, res)
		report.Total++
		if res.Passed {
			report.Passed++
		}
		if res.Error != "" {
			report.Errors++
			continue
		}
		if c.Negative() {
			continue
		}
		scored++
		report.MeanRecallAtK += res.RecallAtK
		report.MeanPrecisionAtK += res.PrecisionAtK
		report.MRR += res.ReciprocalRank
		report.MeanNDCGAtK += res.NDCGAtK
		if res.MatchedAt >= 0 {
			report.HitRate++
		}
	}
	if scored > 0 {
		n := float64(scored)
		report.MeanRecallAtK /= n
		report.MeanPrecisionAtK /= n
		report.MRR /= n
		report.MeanNDCGAtK /= n
		report.HitRate /= n
	}
	return report, nil
}

func runCase(ctx context.Context, retriever search.Retriever, suite *Suite, c Case, k int) CaseResult {
	result := CaseResult{Case: c, MatchedAt: -1}

	mode := c.Mode
	if mode == "" {
		mode = suite.Mode
	}
	n := c.N
	if n <= 0 {
		n = suite.N
	}
	if n <= 0 {
		n = DefaultN
	}

	start := time.Now()
	res, err := retriever.Retrieve(ctx, search.RetrieveOptions{
		Query: c.Query,
		Mode:  search.Mode(mode),
		Limit: n,
	})
	result.Duration = time.Since(start)
	result.DurationMS = float64(result.Duration.Microseconds()) / 1000
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Documents = documentRanking(res.Results)
	if c.Negative() {
		result.Passed = true
		return result
	}

	m := score(result.Documents, c.ExpectedDocuments, k)
	result.RecallAtK = m.recall
	result.PrecisionAtK = m.precision
	result.ReciprocalRank = m.rr
	result.NDCGAtK = m.ndcg
	result.MatchedAt = m.firstHit
	result.Passed = m.firstHit >= 0
	return result
}

// documentRanking collapses chunk results to document IDs, keeping each
// document at the rank of its best chunk.
func documentRanking(results []*search.FusedResult) []string {
	seen := make(map[string]bool, len(results))
	docs := make([]string, 0, len(results))
	for _, r := range results {
		if r.Chunk == nil || seen[r.Chunk.DocumentID] {
			continue
		}
		seen[r.Chunk.DocumentID] = true
		docs = append(docs, r.Chunk.DocumentID)
	}
	return docs
}

type metrics struct {
	recall    float64
	precision float64
	rr        float64
	ndcg      float64
	firstHit  int
}

// score computes binary-relevance metrics over the top k of ranked.
func score(ranked, expected []string, k int) metrics {
	relevant := make(map[string]bool, len(expected))
	for _, id := range expected {
		relevant[id] = true
	}
	top := ranked
	if len(top) > k {
		top = top[:k]
	}

	m := metrics{firstHit: -1}
	var hits int
	var dcg float64
	for i, id := range top {
		if !relevant[id] {
			continue
		}
		hits++
		dcg += 1 / math.Log2(float64(i+2))
		if m.firstHit < 0 {
			m.firstHit = i
			m.rr = 1 / float64(i+1)
		}
	}

	var idcg float64
	for i := range min(len(relevant), k) {
		idcg += 1 / math.Log2(float64(i+2))
	}

	if len(relevant) > 0 {
		m.recall = float64(hits) / float64(len(relevant))
	}
	m.precision = float64(hits) / float64(k)
	if idcg > 0 {
		m.ndcg = dcg / idcg
	}
	return m
}
