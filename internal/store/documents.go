package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

const chunkSelect = `SELECT chunks.id, chunks.document_id, chunks.ord, chunks.token_count, chunks.text,
	documents.title, documents.source, documents.category, documents.url,
	documents.published_at, documents.metadata`

// PutDocument writes a document and replaces all of its chunks in one
// transaction. Chunk ords must be 0..n-1. On failure nothing changes, so
// a document never ends up with a partial or gapped ord sequence.
func (s *SQLiteStore) PutDocument(ctx context.Context, doc Document, chunks []ChunkRecord) (*PutResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		return nil, rerrors.InputError("document id is required", nil)
	}
	for i, c := range chunks {
		if c.Ord != i {
			return nil, rerrors.InternalError(fmt.Sprintf("chunk ords must be contiguous from 0: position %d has ord %d", i, c.Ord), nil)
		}
	}

	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return nil, rerrors.InputError("metadata is not serializable", err)
	}
	if doc.Metadata == nil {
		meta = []byte("{}")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreWrite, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res := &PutResult{DocumentID: doc.ID}

	res.RemovedChunkIDs, err = chunkIDsTx(ctx, tx, doc.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id = ?)`, doc.ID).Scan(&res.Replaced); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreWrite, "failed to look up document", err)
	}
	if err := deleteChunksTx(ctx, tx, doc.ID); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, source, title, category, url, published_at, metadata, text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			title = excluded.title,
			category = excluded.category,
			url = excluded.url,
			published_at = excluded.published_at,
			metadata = excluded.metadata,
			text = excluded.text,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Source, doc.Title, doc.Category, doc.URL, unixOrNil(doc.PublishedAt), string(meta), doc.Text, now, now)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreWrite, "failed to write document", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (document_id, ord, token_count, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreWrite, "failed to prepare chunk insert", err)
	}
	defer stmt.Close()

	res.ChunkIDs = make([]int64, 0, len(chunks))
	for _, c := range chunks {
		r, err := stmt.ExecContext(ctx, doc.ID, c.Ord, c.TokenCount, c.Text)
		if err != nil {
			return nil, rerrors.New(rerrors.ErrCodeStoreWrite, fmt.Sprintf("failed to write chunk %d", c.Ord), err)
		}
		id, err := r.LastInsertId()
		if err != nil {
			return nil, rerrors.New(rerrors.ErrCodeStoreWrite, "failed to read chunk id", err)
		}
		res.ChunkIDs = append(res.ChunkIDs, id)
		res.TotalTokens += c.TokenCount
	}

	if err := tx.Commit(); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreWrite, "failed to commit document", err)
	}
	return res, nil
}

// DeleteDocument removes a document. Chunks, FTS rows and embeddings go
// with it. Returns the removed chunk IDs.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) ([]int64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreWrite, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := chunkIDsTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := deleteChunksTx(ctx, tx, id); err != nil {
		return nil, err
	}
	r, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreWrite, "failed to delete document", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return nil, rerrors.New(rerrors.ErrCodeDocumentNotFound, fmt.Sprintf("document %q not found", id), nil)
	}
	if err := tx.Commit(); err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreWrite, "failed to commit delete", err)
	}
	return ids, nil
}

// deleteChunksTx removes a document's chunks and their embeddings. The
// chunks_ad trigger keeps chunks_fts in step.
func deleteChunksTx(ctx context.Context, tx *sql.Tx, docID string) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunk_embeddings
		WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, docID); err != nil {
		return rerrors.New(rerrors.ErrCodeStoreWrite, "failed to delete embeddings", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
		return rerrors.New(rerrors.ErrCodeStoreWrite, "failed to delete chunks", err)
	}
	return nil
}

func chunkIDsTx(ctx context.Context, tx *sql.Tx, docID string) ([]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE document_id = ? ORDER BY ord`, docID)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeStoreWrite, "failed to list chunks", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetDocument returns one document.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var (
		d         Document
		published sql.NullInt64
		meta      string
		created   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, title, category, url, published_at, metadata, text, created_at
		FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.Source, &d.Title, &d.Category, &d.URL, &published, &meta, &d.Text, &created)
	if err == sql.ErrNoRows {
		return nil, rerrors.New(rerrors.ErrCodeDocumentNotFound, fmt.Sprintf("document %q not found", id), nil)
	}
	if err != nil {
		return nil, rerrors.UnavailableError("failed to read document", err)
	}
	d.PublishedAt = timeOrNil(published)
	d.Metadata = decodeMetadata(meta)
	d.CreatedAt = time.Unix(created, 0).UTC()
	return &d, nil
}

// GetChunks returns chunks in the order of ids. Unknown IDs are skipped.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []int64) ([]*StoredChunk, error) {
	byID, err := s.HydrateChunks(ctx, ids, Filters{})
	if err != nil {
		return nil, err
	}
	out := make([]*StoredChunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// HydrateChunks loads the chunks in ids that satisfy filters, keyed by ID.
// The lookup is by primary key.
func (s *SQLiteStore) HydrateChunks(ctx context.Context, ids []int64, filters Filters) (map[int64]*StoredChunk, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[int64]*StoredChunk{}, nil
	}

	query, args := hydrateSQL(ids, filters)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, rerrors.UnavailableError("failed to load chunks", err)
	}
	defer rows.Close()

	out := make(map[int64]*StoredChunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, rerrors.UnavailableError("failed to load chunks", err)
	}
	return out, nil
}

func hydrateSQL(ids []int64, filters Filters) (string, []any) {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	query := chunkSelect + `
	FROM chunks
	JOIN documents ON documents.id = chunks.document_id
	WHERE chunks.id IN (` + placeholders(len(ids)) + `)`
	if where, fargs := filters.whereClause(); where != "" {
		query += " AND " + where
		args = append(args, fargs...)
	}
	return query, args
}

// Neighbors returns the chunks of docID whose ord lies within window of ord,
// in ord order.
func (s *SQLiteStore) Neighbors(ctx context.Context, docID string, ord, window int) ([]*StoredChunk, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if window < 0 {
		window = 0
	}
	rows, err := s.db.QueryContext(ctx, chunkSelect+`
	FROM chunks
	JOIN documents ON documents.id = chunks.document_id
	WHERE chunks.document_id = ? AND chunks.ord BETWEEN ? AND ?
	ORDER BY chunks.ord`, docID, ord-window, ord+window)
	if err != nil {
		return nil, rerrors.UnavailableError("failed to load neighbours", err)
	}
	defer rows.Close()

	var out []*StoredChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DocumentChunks returns every chunk of a document in ord order.
func (s *SQLiteStore) DocumentChunks(ctx context.Context, docID string) ([]*StoredChunk, error) {
	return s.Neighbors(ctx, docID, 0, int(^uint32(0)>>1))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(r rowScanner) (*StoredChunk, error) {
	var (
		c         StoredChunk
		published sql.NullInt64
		meta      string
	)
	if err := r.Scan(&c.ID, &c.DocumentID, &c.Ord, &c.TokenCount, &c.Text,
		&c.Title, &c.Source, &c.Category, &c.URL, &published, &meta); err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	c.PublishedAt = timeOrNil(published)
	c.Metadata = decodeMetadata(meta)
	return &c, nil
}

func decodeMetadata(raw string) map[string]string {
	m := map[string]string{}
	if raw == "" {
		return m
	}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

// ForEachChunk streams every chunk in ID order with its filter fields.
func (s *SQLiteStore) ForEachChunk(ctx context.Context, fn func(ChunkText) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunks.id, chunks.document_id, chunks.text, documents.source, documents.category, documents.published_at
		FROM chunks
		JOIN documents ON documents.id = chunks.document_id
		ORDER BY chunks.id`)
	if err != nil {
		return rerrors.UnavailableError("failed to list chunks", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c ChunkText
		var published sql.NullInt64
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.Text, &c.Source, &c.Category, &published); err != nil {
			return fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.PublishedAt = timeOrNil(published)
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}
