package store

import (
	"context"
	"database/sql"
	"strings"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// Search runs a ranked FTS5 query. Filters are part of the same statement,
// so they narrow the candidates before ORDER BY and LIMIT. Scores are the
// negated bm25() value: positive, higher is better. Ties go to the lower
// chunk ID.
func (s *SQLiteStore) Search(ctx context.Context, q LexicalQuery) ([]*LexicalResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := q.Filters.Validate(); err != nil {
		return nil, err
	}

	query, args, ok := lexicalSQL(q)
	if !ok {
		return []*LexicalResult{}, nil
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		if isFTSSyntaxError(err) {
			return []*LexicalResult{}, nil
		}
		return nil, rerrors.UnavailableError("lexical search failed", err)
	}
	defer rows.Close()

	var results []*LexicalResult
	for rows.Next() {
		var (
			c         StoredChunk
			published sql.NullInt64
			meta      string
			score     float64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ord, &c.TokenCount, &c.Text,
			&c.Title, &c.Source, &c.Category, &c.URL, &published, &meta, &score); err != nil {
			return nil, rerrors.UnavailableError("failed to read lexical result", err)
		}
		c.PublishedAt = timeOrNil(published)
		c.Metadata = decodeMetadata(meta)
		results = append(results, &LexicalResult{
			Chunk: &c,
			Score: score,
			Rank:  len(results) + 1,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, rerrors.UnavailableError("lexical search failed", err)
	}
	if results == nil {
		results = []*LexicalResult{}
	}
	return results, nil
}

// LexicalPlan returns the plan of the statement Search would run for q.
func (s *SQLiteStore) LexicalPlan(ctx context.Context, q LexicalQuery) ([]PlanRow, error) {
	query, args, ok := lexicalSQL(q)
	if !ok {
		return nil, nil
	}
	return s.Explain(ctx, query, args...)
}

// HydratePlan returns the plan of the primary-key lookup used to load
// vector hits.
func (s *SQLiteStore) HydratePlan(ctx context.Context, ids []int64, filters Filters) ([]PlanRow, error) {
	if len(ids) == 0 {
		ids = []int64{0}
	}
	query, args := hydrateSQL(ids, filters)
	return s.Explain(ctx, query, args...)
}

// lexicalSQL builds the search statement. ok is false when the query has
// nothing positive to match.
//
// CROSS JOIN pins the join order so the FTS index drives the lookup and
// chunks and documents are reached by key.
func lexicalSQL(q LexicalQuery) (string, []any, bool) {
	match := parseQuery(q.Text, q.Operator).fts5()
	if match == "" {
		return "", nil, false
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var b strings.Builder
	b.WriteString(chunkSelect)
	b.WriteString(`, -bm25(chunks_fts) AS score
	FROM chunks_fts
	CROSS JOIN chunks ON chunks.id = chunks_fts.rowid
	CROSS JOIN documents ON documents.id = chunks.document_id
	WHERE chunks_fts MATCH ?`)
	args := []any{match}

	if where, fargs := q.Filters.whereClause(); where != "" {
		b.WriteString(" AND ")
		b.WriteString(where)
		args = append(args, fargs...)
	}
	b.WriteString(`
	ORDER BY score DESC, chunks.id ASC
	LIMIT ?`)
	args = append(args, limit)
	return b.String(), args, true
}

func isFTSSyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5:") || strings.Contains(msg, "syntax error")
}
