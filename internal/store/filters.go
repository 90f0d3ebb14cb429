package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// FilterMode combines filter predicates.
type FilterMode string

const (
	// FilterAll requires every predicate to hold.
	FilterAll FilterMode = "all"
	// FilterAny requires at least one predicate to hold.
	FilterAny FilterMode = "any"
)

// Supported filter keys. Anything else is rejected.
const (
	FilterKeyFrom     = "from"
	FilterKeyTo       = "to"
	FilterKeySource   = "source"
	FilterKeyCategory = "category"
	FilterKeyMode     = "mode"
)

// Filters narrows retrieval to chunks whose document matches.
// The zero value matches everything.
type Filters struct {
	From       *time.Time
	To         *time.Time
	Sources    []string
	Categories []string
	Mode       FilterMode
}

// Empty reports whether no predicate is set.
func (f Filters) Empty() bool {
	return f.From == nil && f.To == nil && len(f.Sources) == 0 && len(f.Categories) == 0
}

// Applied lists the keys of the predicates that are set, sorted.
func (f Filters) Applied() []string {
	var keys []string
	if f.From != nil {
		keys = append(keys, FilterKeyFrom)
	}
	if f.To != nil {
		keys = append(keys, FilterKeyTo)
	}
	if len(f.Sources) > 0 {
		keys = append(keys, FilterKeySource)
	}
	if len(f.Categories) > 0 {
		keys = append(keys, FilterKeyCategory)
	}
	sort.Strings(keys)
	return keys
}

// Match evaluates the filters against a chunk's document metadata.
func (f Filters) Match(c *StoredChunk) bool {
	preds := f.predicates()
	if len(preds) == 0 {
		return true
	}
	anyOf := f.Mode == FilterAny
	for _, p := range preds {
		ok := p.match(c)
		if anyOf && ok {
			return true
		}
		if !anyOf && !ok {
			return false
		}
	}
	return !anyOf
}

// Validate checks the mode and the date range.
func (f Filters) Validate() error {
	switch f.Mode {
	case "", FilterAll, FilterAny:
	default:
		return rerrors.FilterError(FilterKeyMode, string(f.Mode), nil)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return rerrors.FilterError(FilterKeyFrom, f.From.Format(time.RFC3339),
			fmt.Errorf("from is after to (%s)", f.To.Format(time.RFC3339)))
	}
	return nil
}

// ParseFilters builds Filters from a loosely typed payload such as a JSON
// object or CLI flags. Values may be strings or lists of strings.
// Unknown keys fail with ERR_403_UNKNOWN_FILTER, bad values with
// ERR_402_INVALID_FILTER.
func ParseFilters(raw map[string]any) (Filters, error) {
	var f Filters
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := raw[key]
		switch key {
		case FilterKeyFrom, FilterKeyTo:
			s, ok := val.(string)
			if !ok {
				return Filters{}, rerrors.FilterError(key, fmt.Sprint(val), fmt.Errorf("expected a date string"))
			}
			t, err := ParseDate(s)
			if err != nil {
				return Filters{}, rerrors.FilterError(key, s, err)
			}
			if key == FilterKeyFrom {
				f.From = &t
			} else {
				end := endOfDay(s, t)
				f.To = &end
			}
		case FilterKeySource, FilterKeyCategory:
			vals, err := stringList(val)
			if err != nil {
				return Filters{}, rerrors.FilterError(key, fmt.Sprint(val), err)
			}
			if key == FilterKeySource {
				f.Sources = vals
			} else {
				f.Categories = vals
			}
		case FilterKeyMode:
			s, ok := val.(string)
			if !ok {
				return Filters{}, rerrors.FilterError(key, fmt.Sprint(val), fmt.Errorf("expected all or any"))
			}
			f.Mode = FilterMode(strings.ToLower(strings.TrimSpace(s)))
		default:
			return Filters{}, rerrors.New(rerrors.ErrCodeUnknownFilter,
				fmt.Sprintf("unknown filter %q (supported: from, to, source, category, mode)", key), nil).
				WithDetail("filter", key)
		}
	}

	if err := f.Validate(); err != nil {
		return Filters{}, err
	}
	return f, nil
}

// ParseDate accepts YYYY-MM-DD or RFC 3339.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	return t.UTC(), nil
}

// endOfDay makes a bare date upper bound inclusive of that whole day.
func endOfDay(raw string, t time.Time) time.Time {
	if len(strings.TrimSpace(raw)) == len(time.DateOnly) {
		return t.Add(24*time.Hour - time.Second)
	}
	return t
}

func stringList(v any) ([]string, error) {
	var out []string
	switch x := v.(type) {
	case string:
		out = []string{x}
	case []string:
		out = x
	case []any:
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected strings, got %T", e)
			}
			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("expected a string or list of strings, got %T", v)
	}

	var cleaned []string
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	return cleaned, nil
}

type predicate struct {
	sql   string
	args  []any
	match func(*StoredChunk) bool
}

// predicates returns one predicate per filter dimension. A date range is a
// single predicate.
func (f Filters) predicates() []predicate {
	var preds []predicate

	if f.From != nil || f.To != nil {
		var conds []string
		var args []any
		if f.From != nil {
			conds = append(conds, "documents.published_at >= ?")
			args = append(args, f.From.Unix())
		}
		if f.To != nil {
			conds = append(conds, "documents.published_at <= ?")
			args = append(args, f.To.Unix())
		}
		from, to := f.From, f.To
		preds = append(preds, predicate{
			sql:  "(" + strings.Join(conds, " AND ") + ")",
			args: args,
			match: func(c *StoredChunk) bool {
				if c.PublishedAt == nil {
					return false
				}
				if from != nil && c.PublishedAt.Before(*from) {
					return false
				}
				return to == nil || !c.PublishedAt.After(*to)
			},
		})
	}
	if len(f.Sources) > 0 {
		preds = append(preds, inPredicate("documents.source", f.Sources, func(c *StoredChunk) string { return c.Source }))
	}
	if len(f.Categories) > 0 {
		preds = append(preds, inPredicate("documents.category", f.Categories, func(c *StoredChunk) string { return c.Category }))
	}
	return preds
}

func inPredicate(column string, values []string, get func(*StoredChunk) string) predicate {
	args := make([]any, len(values))
	set := make(map[string]struct{}, len(values))
	for i, v := range values {
		args[i] = v
		set[v] = struct{}{}
	}
	return predicate{
		sql:  fmt.Sprintf("%s IN (%s)", column, placeholders(len(values))),
		args: args,
		match: func(c *StoredChunk) bool {
			_, ok := set[get(c)]
			return ok
		},
	}
}

// whereClause renders the filters as a SQL boolean expression over the
// documents table. Returns "" when no predicate is set.
func (f Filters) whereClause() (string, []any) {
	preds := f.predicates()
	if len(preds) == 0 {
		return "", nil
	}
	joiner := " AND "
	if f.Mode == FilterAny {
		joiner = " OR "
	}
	parts := make([]string, len(preds))
	var args []any
	for i, p := range preds {
		parts[i] = p.sql
		args = append(args, p.args...)
	}
	return "(" + strings.Join(parts, joiner) + ")", args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
