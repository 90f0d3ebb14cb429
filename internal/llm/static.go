package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Static is the offline provider. It splits compound questions on sentence
// and clause boundaries and answers extractively from the top passages.
type Static struct {
	// MaxPassages bounds how many passages the extractive answer quotes.
	MaxPassages int
}

// NewStatic creates the offline provider.
func NewStatic() *Static {
	return &Static{MaxPassages: 3}
}

// Generate splits question into its clauses. A question with one clause
// yields itself.
func (s *Static) Generate(ctx context.Context, question string, max int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parts := strings.FieldsFunc(question, func(r rune) bool {
		return r == '?' || r == ';' || r == '\n'
	})
	var out []string
	for _, p := range parts {
		for _, clause := range splitConjunction(p) {
			clause = strings.TrimFunc(clause, func(r rune) bool {
				return unicode.IsSpace(r) || unicode.IsPunct(r)
			})
			if len(strings.Fields(clause)) >= 2 {
				out = append(out, clause)
			}
		}
	}
	if len(out) == 0 {
		out = []string{strings.TrimSpace(question)}
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// splitConjunction splits ", and " and " and also " clauses, which mark
// distinct facets more reliably than a bare "and".
func splitConjunction(s string) []string {
	for _, sep := range []string{", and ", " and also ", ", or "} {
		if strings.Contains(s, sep) {
			var out []string
			for _, part := range strings.Split(s, sep) {
				out = append(out, splitConjunction(part)...)
			}
			return out
		}
	}
	return []string{s}
}

// Synthesize quotes the first sentence of each leading passage with its
// citation.
func (s *Static) Synthesize(ctx context.Context, question string, passages []Passage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(passages) == 0 {
		return "", fmt.Errorf("no passages to synthesize from")
	}

	limit := s.MaxPassages
	if limit <= 0 || limit > len(passages) {
		limit = len(passages)
	}
	lines := make([]string, 0, limit)
	for _, p := range passages[:limit] {
		lines = append(lines, fmt.Sprintf("%s [%d]", firstSentence(p.Text), p.Index))
	}
	return strings.Join(lines, "\n"), nil
}

// firstSentence returns text up to and including the first sentence
// terminator, capped at 300 bytes on a rune boundary.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		text = text[:i+1]
	}
	const maxLen = 300
	if len(text) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = strings.TrimSpace(text[:cut]) + "..."
	}
	return text
}

// Provider returns "static".
func (s *Static) Provider() string { return "static" }
