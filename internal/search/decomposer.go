package search

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
)

// DefaultMaxSubQueries caps a decomposition when the caller gives no max.
const DefaultMaxSubQueries = 4

// SubQuery is one facet of a decomposed question. Ordinal is 1-based and
// follows the order the generator produced.
type SubQuery struct {
	Ordinal int
	Text    string
}

// SubQueryGenerator produces candidate sub-queries for a question. It is an
// external capability and may fail or return nothing.
type SubQueryGenerator interface {
	Generate(ctx context.Context, question string, max int) ([]string, error)
}

// Decomposition is the outcome of Decompose. It always holds at least one
// sub-query.
type Decomposition struct {
	SubQueries []SubQuery

	// Fallback is set when the question itself is the only sub-query
	// because generation failed or produced nothing usable.
	Fallback bool

	// Err is the generator failure behind a fallback, if any.
	Err error
}

// Texts returns the sub-query strings in ordinal order.
func (d Decomposition) Texts() []string {
	out := make([]string, len(d.SubQueries))
	for i, sq := range d.SubQueries {
		out[i] = sq.Text
	}
	return out
}

// Decomposer sequences, deduplicates and caps the generator's output.
type Decomposer struct {
	generator SubQueryGenerator
}

// NewDecomposer creates a decomposer. A nil generator makes every question
// a single-query decomposition.
func NewDecomposer(generator SubQueryGenerator) *Decomposer {
	return &Decomposer{generator: generator}
}

// Decompose turns question into 1..max sub-queries. Sub-queries that
// normalize to the same string as an earlier one are dropped. Decompose
// never fails: a generator error or an empty result falls back to the
// question alone.
func (d *Decomposer) Decompose(ctx context.Context, question string, max int) Decomposition {
	question = strings.TrimSpace(question)
	if max <= 0 {
		max = DefaultMaxSubQueries
	}
	if d == nil || d.generator == nil || max == 1 {
		return Decomposition{SubQueries: []SubQuery{{Ordinal: 1, Text: question}}}
	}

	raw, err := d.generator.Generate(ctx, question, max)
	if err != nil {
		slog.Warn("decomposition_failed",
			slog.String("question", question),
			slog.String("error", err.Error()))
		return fallback(question, err)
	}

	subs := dedupSubQueries(raw, max)
	if len(subs) == 0 {
		slog.Debug("decomposition_empty", slog.String("question", question))
		return fallback(question, nil)
	}

	slog.Debug("multi_query_decomposition",
		slog.String("question", question),
		slog.Int("generated", len(raw)),
		slog.Int("sub_queries", len(subs)))
	return Decomposition{SubQueries: subs}
}

func fallback(question string, err error) Decomposition {
	return Decomposition{
		SubQueries: []SubQuery{{Ordinal: 1, Text: question}},
		Fallback:   true,
		Err:        err,
	}
}

// dedupSubQueries keeps the first occurrence of each normalized sub-query,
// skipping blanks, and stops at max.
func dedupSubQueries(raw []string, max int) []SubQuery {
	seen := make(map[string]struct{}, len(raw))
	out := make([]SubQuery, 0, min(len(raw), max))
	for _, text := range raw {
		if len(out) == max {
			break
		}
		key := normalizeQuery(text)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, SubQuery{Ordinal: len(out) + 1, Text: strings.TrimSpace(text)})
	}
	return out
}

// normalizeQuery lower-cases s, removes punctuation and collapses
// whitespace runs.
func normalizeQuery(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
