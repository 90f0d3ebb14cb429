package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// State keys.
const (
	StateKeyEmbeddingModel = "embedding_model"
	StateKeyEmbeddingDims  = "embedding_dimensions"
)

// Config configures the SQLite datastore.
type Config struct {
	// Path of the database file. Its directory is created if needed.
	Path string

	// MaxOpenConns bounds the connection pool. Every retrieval call holds
	// one connection for the duration of a single statement.
	MaxOpenConns int

	// CacheMB is the per-connection page cache.
	CacheMB int
}

// SQLiteStore is the datastore. It owns documents, chunks, the FTS5
// lexical index and stored embeddings.
type SQLiteStore struct {
	mu      sync.RWMutex
	writeMu sync.Mutex // one writer; readers run concurrently under WAL
	db      *sql.DB
	path    string
	closed  bool
}

// Verify interface implementation at compile time
var _ LexicalIndex = (*SQLiteStore)(nil)

// Open opens or creates the datastore at cfg.Path.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, rerrors.New(rerrors.ErrCodeStoreOpen, "store path is required", nil)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.CacheMB <= 0 {
		cfg.CacheMB = 64
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreOpen, fmt.Sprintf("failed to create directory %s", dir), err)
	}

	// DSN pragmas apply to every pooled connection. Foreign keys must be on
	// for document deletes to cascade.
	pragmas := []string{
		"foreign_keys(1)",
		"journal_mode(WAL)",
		"busy_timeout(5000)",
		"synchronous(NORMAL)",
		fmt.Sprintf("cache_size(-%d)", cfg.CacheMB*1024),
		"temp_store(MEMORY)",
	}
	dsn := cfg.Path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreOpen, "failed to open database", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, rerrors.New(rerrors.ErrCodeStoreOpen, fmt.Sprintf("failed to open database %s", cfg.Path), err)
	}

	s := &SQLiteStore{db: db, path: cfg.Path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, rerrors.New(rerrors.ErrCodeStoreOpen, "failed to initialize schema", err)
	}

	slog.Debug("store_opened",
		slog.String("path", cfg.Path),
		slog.Int("max_open_conns", cfg.MaxOpenConns))
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		id           TEXT PRIMARY KEY,
		source       TEXT NOT NULL DEFAULT '',
		title        TEXT NOT NULL DEFAULT '',
		category     TEXT NOT NULL DEFAULT '',
		url          TEXT NOT NULL DEFAULT '',
		published_at INTEGER,
		metadata     TEXT NOT NULL DEFAULT '{}',
		text         TEXT NOT NULL,
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
	CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
	CREATE INDEX IF NOT EXISTS idx_documents_published ON documents(published_at);

	CREATE TABLE IF NOT EXISTS chunks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		ord         INTEGER NOT NULL,
		token_count INTEGER NOT NULL,
		text        TEXT NOT NULL,
		UNIQUE(document_id, ord)
	);

	-- External-content FTS5 index over chunks.text, kept in sync by triggers.
	-- porter folds plurals and inflections onto one stem.
	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		text,
		content='chunks',
		content_rowid='id',
		tokenize='porter unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.id, old.text);
	END;
	CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.id, old.text);
		INSERT INTO chunks_fts(rowid, text) VALUES (new.id, new.text);
	END;

	CREATE TABLE IF NOT EXISTS chunk_embeddings (
		chunk_id INTEGER PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		model    TEXT NOT NULL,
		dims     INTEGER NOT NULL,
		vector   BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion)
	return err
}

// DB exposes the pool to the benchmark harness and tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Ping checks that the datastore is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.db.PingContext(ctx); err != nil {
		return rerrors.UnavailableError("datastore unreachable", err)
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return rerrors.UnavailableError("datastore is closed", nil)
	}
	return nil
}

// GetState reads a key from the state table. Missing keys return "".
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return v, nil
}

// SetState writes a key to the state table.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return rerrors.New(rerrors.ErrCodeStoreWrite, fmt.Sprintf("failed to write state %s", key), err)
	}
	return nil
}

// Explain returns the physical plan SQLite chooses for query.
func (s *SQLiteStore) Explain(ctx context.Context, query string, args ...any) ([]PlanRow, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "EXPLAIN QUERY PLAN "+query, args...)
	if err != nil {
		return nil, rerrors.UnavailableError("explain failed", err)
	}
	defer rows.Close()

	var plan []PlanRow
	for rows.Next() {
		var r PlanRow
		var notUsed int
		if err := rows.Scan(&r.ID, &r.Parent, &notUsed, &r.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		plan = append(plan, r)
	}
	return plan, rows.Err()
}

// Stats counts documents, chunks and embeddings.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	st := &Stats{LexicalBackend: "sqlite"}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM chunk_embeddings)`).
		Scan(&st.Documents, &st.Chunks, &st.EmbeddedChunks)
	if err != nil {
		return nil, rerrors.UnavailableError("failed to read stats", err)
	}
	st.EmbeddingModel, _ = s.GetState(ctx, StateKeyEmbeddingModel)
	if dims, _ := s.GetState(ctx, StateKeyEmbeddingDims); dims != "" {
		_, _ = fmt.Sscanf(dims, "%d", &st.EmbeddingDims)
	}
	return st, nil
}

// Close checkpoints the WAL and closes the pool. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
