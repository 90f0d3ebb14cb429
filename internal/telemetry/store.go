package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_stats (
	date TEXT NOT NULL,
	kind TEXT NOT NULL,
	queries INTEGER NOT NULL DEFAULT 0,
	zero_results INTEGER NOT NULL DEFAULT 0,
	degraded INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, kind)
);

CREATE TABLE IF NOT EXISTS query_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0,
	last_seen TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

CREATE TABLE IF NOT EXISTS query_latency (
	date TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);

CREATE TABLE IF NOT EXISTS empty_queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	kind TEXT NOT NULL,
	at TEXT NOT NULL
);
`

// DefaultEmptyQueryLimit bounds the persisted zero-result queries.
const DefaultEmptyQueryLimit = 100

// SQLiteSink persists telemetry in tables beside the recall datastore.
// It shares the caller's *sql.DB and never closes it.
type SQLiteSink struct {
	db         *sql.DB
	emptyLimit int
}

// NewSQLiteSink creates the telemetry tables if needed.
func NewSQLiteSink(ctx context.Context, db *sql.DB) (*SQLiteSink, error) {
	if db == nil {
		return nil, fmt.Errorf("telemetry: database is required")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteSink{db: db, emptyLimit: DefaultEmptyQueryLimit}, nil
}

// Save adds batch to the stored aggregates in one transaction.
func (s *SQLiteSink) Save(ctx context.Context, batch Batch) error {
	date := batch.Date
	if date == "" {
		date = time.Now().Format(time.DateOnly)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin telemetry transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for kind, c := range batch.Kinds {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_stats (date, kind, queries, zero_results, degraded)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(date, kind) DO UPDATE SET
				queries = queries + excluded.queries,
				zero_results = zero_results + excluded.zero_results,
				degraded = degraded + excluded.degraded`,
			date, string(kind), c.Queries, c.ZeroResults, c.Degraded); err != nil {
			return fmt.Errorf("save query stats: %w", err)
		}
	}

	for term, n := range batch.Terms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen)
			VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET
				count = count + excluded.count,
				last_seen = excluded.last_seen`,
			term, n, now); err != nil {
			return fmt.Errorf("save query terms: %w", err)
		}
	}

	for bucket, n := range batch.Latency {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_latency (date, bucket, count)
			VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
			date, string(bucket), n); err != nil {
			return fmt.Errorf("save query latency: %w", err)
		}
	}

	if len(batch.EmptyQueries) > 0 {
		for _, q := range batch.EmptyQueries {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO empty_queries (query, kind, at) VALUES (?, ?, ?)`,
				q.Query, string(q.Kind), q.At.UTC().Format(time.RFC3339)); err != nil {
				return fmt.Errorf("save empty query: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM empty_queries
			WHERE id NOT IN (SELECT id FROM empty_queries ORDER BY id DESC LIMIT ?)`,
			s.emptyLimit); err != nil {
			return fmt.Errorf("trim empty queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit telemetry: %w", err)
	}
	return nil
}

// Summary is the stored telemetry reported by status.
type Summary struct {
	Queries      int64                   `json:"queries"`
	ZeroResults  int64                   `json:"zero_results"`
	Degraded     int64                   `json:"degraded"`
	ByKind       map[Kind]int64          `json:"by_kind"`
	Latency      map[LatencyBucket]int64 `json:"latency"`
	TopTerms     []TermCount             `json:"top_terms,omitempty"`
	EmptyQueries []string                `json:"empty_queries,omitempty"`
}

// ZeroResultRate is the share of queries that returned nothing.
func (s *Summary) ZeroResultRate() float64 {
	if s.Queries == 0 {
		return 0
	}
	return float64(s.ZeroResults) / float64(s.Queries)
}

// Summary reads every stored aggregate, the top terms and the most recent
// zero-result queries, newest first.
func (s *SQLiteSink) Summary(ctx context.Context, top int) (*Summary, error) {
	sum := &Summary{
		ByKind:  make(map[Kind]int64),
		Latency: make(map[LatencyBucket]int64),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, SUM(queries), SUM(zero_results), SUM(degraded)
		FROM query_stats GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("read query stats: %w", err)
	}
	for rows.Next() {
		var (
			kind                    string
			queries, zero, degraded int64
		)
		if err := rows.Scan(&kind, &queries, &zero, &degraded); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan query stats: %w", err)
		}
		sum.ByKind[Kind(kind)] = queries
		sum.Queries += queries
		sum.ZeroResults += zero
		sum.Degraded += degraded
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT bucket, SUM(count) FROM query_latency GROUP BY bucket`)
	if err != nil {
		return nil, fmt.Errorf("read query latency: %w", err)
	}
	for rows.Next() {
		var (
			bucket string
			n      int64
		)
		if err := rows.Scan(&bucket, &n); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan query latency: %w", err)
		}
		sum.Latency[LatencyBucket(bucket)] = n
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	if top > 0 {
		rows, err = s.db.QueryContext(ctx, `SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, top)
		if err != nil {
			return nil, fmt.Errorf("read query terms: %w", err)
		}
		for rows.Next() {
			var tc TermCount
			if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan query terms: %w", err)
			}
			sum.TopTerms = append(sum.TopTerms, tc)
		}
		if err := closeRows(rows); err != nil {
			return nil, err
		}

		rows, err = s.db.QueryContext(ctx, `SELECT query FROM empty_queries ORDER BY id DESC LIMIT ?`, top)
		if err != nil {
			return nil, fmt.Errorf("read empty queries: %w", err)
		}
		for rows.Next() {
			var q string
			if err := rows.Scan(&q); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan empty queries: %w", err)
			}
			sum.EmptyQueries = append(sum.EmptyQueries, q)
		}
		if err := closeRows(rows); err != nil {
			return nil, err
		}
	}
	return sum, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("read telemetry: %w", err)
	}
	return nil
}
