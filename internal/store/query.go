package store

import (
	"strings"
	"unicode"
)

// queryTerm is a word or a quoted phrase.
type queryTerm struct {
	text   string
	phrase bool
}

// parsedQuery is a conjunction of disjunctions, minus excluded terms.
type parsedQuery struct {
	groups   [][]queryTerm
	excluded []queryTerm
}

// Empty reports whether nothing positive is left to match. A query made of
// exclusions alone matches nothing.
func (p parsedQuery) Empty() bool {
	return len(p.groups) == 0
}

// terms flattens the positive terms in order.
func (p parsedQuery) terms() []queryTerm {
	var out []queryTerm
	for _, g := range p.groups {
		out = append(out, g...)
	}
	return out
}

// parseQuery reads user-style search input.
//
// With OperatorAnd it understands "quoted phrases", -exclusions and OR
// between two items; everything else is ANDed. With OperatorOr stop words
// are dropped and every remaining term is alternative to the others.
func parseQuery(text string, op Operator) parsedQuery {
	items := lexQuery(text)

	if op == OperatorOr {
		var group, all []queryTerm
		for _, it := range items {
			if it.or || it.negated {
				continue
			}
			all = append(all, it.term)
			if it.term.phrase || !isStopWord(it.term.text) {
				group = append(group, it.term)
			}
		}
		if len(group) == 0 {
			group = all
		}
		if len(group) == 0 {
			return parsedQuery{}
		}
		return parsedQuery{groups: [][]queryTerm{group}}
	}

	var p parsedQuery
	joinNext := false
	for _, it := range items {
		switch {
		case it.or:
			joinNext = len(p.groups) > 0
		case it.negated:
			p.excluded = append(p.excluded, it.term)
			joinNext = false
		case joinNext:
			last := len(p.groups) - 1
			p.groups[last] = append(p.groups[last], it.term)
			joinNext = false
		default:
			p.groups = append(p.groups, []queryTerm{it.term})
		}
	}
	return p
}

type queryItem struct {
	term    queryTerm
	negated bool
	or      bool
}

func lexQuery(text string) []queryItem {
	var items []queryItem
	rs := []rune(text)
	for i := 0; i < len(rs); {
		if unicode.IsSpace(rs[i]) {
			i++
			continue
		}

		negated := false
		if rs[i] == '-' && i+1 < len(rs) && !unicode.IsSpace(rs[i+1]) {
			negated = true
			i++
		}

		if rs[i] == '"' {
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				j++
			}
			phrase := strings.Join(strings.Fields(string(rs[i+1:min(j, len(rs))])), " ")
			if hasWordChar(phrase) {
				items = append(items, queryItem{term: queryTerm{text: phrase, phrase: true}, negated: negated})
			}
			i = j + 1
			continue
		}

		j := i
		for j < len(rs) && !unicode.IsSpace(rs[j]) && rs[j] != '"' {
			j++
		}
		word := string(rs[i:j])
		i = j

		if word == "OR" && !negated {
			items = append(items, queryItem{or: true})
			continue
		}
		word = strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word != "" {
			items = append(items, queryItem{term: queryTerm{text: word}, negated: negated})
		}
	}
	return items
}

func hasWordChar(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

// fts5 renders the query as an FTS5 MATCH expression. Every term is quoted
// so user punctuation never reaches the FTS5 parser.
func (p parsedQuery) fts5() string {
	if p.Empty() {
		return ""
	}
	parts := make([]string, len(p.groups))
	for i, g := range p.groups {
		if len(g) == 1 {
			parts[i] = quoteFTS(g[0].text)
			continue
		}
		alts := make([]string, len(g))
		for j, t := range g {
			alts[j] = quoteFTS(t.text)
		}
		parts[i] = "(" + strings.Join(alts, " OR ") + ")"
	}

	expr := strings.Join(parts, " AND ")
	if len(p.excluded) == 0 {
		return expr
	}
	var b strings.Builder
	b.WriteString("(" + expr + ")")
	for _, t := range p.excluded {
		b.WriteString(" NOT ")
		b.WriteString(quoteFTS(t.text))
	}
	return b.String()
}

func quoteFTS(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

var stopWords = buildStopWords(
	"a", "about", "an", "and", "are", "as", "at", "be", "been", "but", "by",
	"can", "did", "do", "does", "for", "from", "had", "has", "have", "how",
	"i", "if", "in", "into", "is", "it", "its", "of", "on", "or", "so",
	"that", "the", "their", "there", "these", "they", "this", "to", "was",
	"we", "were", "what", "when", "where", "which", "who", "why", "will",
	"with", "you",
)

func buildStopWords(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func isStopWord(w string) bool {
	_, ok := stopWords[strings.ToLower(w)]
	return ok
}
