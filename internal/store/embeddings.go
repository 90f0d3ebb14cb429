package store

import (
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/coder/hnsw"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// PutEmbeddings stores one vector per chunk, replacing earlier ones.
// All vectors in the store share one dimension; the first write fixes it.
func (s *SQLiteStore) PutEmbeddings(ctx context.Context, ids []int64, vectors [][]float32, model string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(ids) != len(vectors) {
		return rerrors.InternalError(fmt.Sprintf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors)), nil)
	}
	if len(ids) == 0 {
		return nil
	}

	dims := len(vectors[0])
	for _, v := range vectors {
		if len(v) != dims {
			return dimensionMismatch(dims, len(v))
		}
	}
	if existing, err := s.GetState(ctx, StateKeyEmbeddingDims); err != nil {
		return err
	} else if existing != "" && existing != strconv.Itoa(dims) {
		want, _ := strconv.Atoi(existing)
		return dimensionMismatch(want, dims)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rerrors.New(rerrors.ErrCodeStoreWrite, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunk_embeddings (chunk_id, model, dims, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET model = excluded.model, dims = excluded.dims, vector = excluded.vector`)
	if err != nil {
		return rerrors.New(rerrors.ErrCodeStoreWrite, "failed to prepare embedding insert", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, model, dims, encodeVector(vectors[i])); err != nil {
			return rerrors.New(rerrors.ErrCodeStoreWrite, fmt.Sprintf("failed to store embedding for chunk %d", id), err)
		}
	}
	for k, v := range map[string]string{
		StateKeyEmbeddingModel: model,
		StateKeyEmbeddingDims:  strconv.Itoa(dims),
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return rerrors.New(rerrors.ErrCodeStoreWrite, "failed to record embedding model", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return rerrors.New(rerrors.ErrCodeStoreWrite, "failed to commit embeddings", err)
	}
	return nil
}

// AllEmbeddings loads every stored vector, ordered by chunk ID. The vector
// index is rebuilt from this on startup.
func (s *SQLiteStore) AllEmbeddings(ctx context.Context) ([]int64, [][]float32, error) {
	if err := s.checkOpen(); err != nil {
		return nil, nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, vector FROM chunk_embeddings ORDER BY chunk_id`)
	if err != nil {
		return nil, nil, rerrors.UnavailableError("failed to load embeddings", err)
	}
	defer rows.Close()

	var ids []int64
	var vecs [][]float32
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		ids = append(ids, id)
		vecs = append(vecs, decodeVector(blob))
	}
	return ids, vecs, rows.Err()
}

// SearchEmbeddings scores the stored vectors of chunks that pass filters by
// exact cosine similarity and returns the top k, ties broken by chunk ID.
// The filters run in the WHERE clause, so a selective filter still yields
// every matching chunk up to k.
func (s *SQLiteStore) SearchEmbeddings(ctx context.Context, query []float32, k int, filters Filters) ([]*VectorResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if k <= 0 || len(query) == 0 {
		return []*VectorResult{}, nil
	}

	q := `SELECT chunk_embeddings.chunk_id, chunk_embeddings.vector
	FROM chunk_embeddings
	JOIN chunks ON chunks.id = chunk_embeddings.chunk_id
	JOIN documents ON documents.id = chunks.document_id`
	where, args := filters.whereClause()
	if where != "" {
		q += "\n\tWHERE " + where
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, rerrors.UnavailableError("failed to load filtered embeddings", err)
	}
	defer rows.Close()

	var out []*VectorResult
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		vec := decodeVector(blob)
		if len(vec) != len(query) {
			return nil, dimensionMismatch(len(vec), len(query))
		}
		d := hnsw.CosineDistance(query, vec)
		if math.IsNaN(float64(d)) {
			continue
		}
		out = append(out, &VectorResult{ChunkID: id, Distance: d, Similarity: 1 - d})
	}
	if err := rows.Err(); err != nil {
		return nil, rerrors.UnavailableError("failed to load filtered embeddings", err)
	}

	slices.SortFunc(out, func(a, b *VectorResult) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
	if len(out) > k {
		out = out[:k]
	}
	if out == nil {
		out = []*VectorResult{}
	}
	return out, nil
}

// ChunksWithoutEmbeddings returns up to limit chunks that have no vector yet.
// They stay lexical-only until embedded.
func (s *SQLiteStore) ChunksWithoutEmbeddings(ctx context.Context, limit int) ([]*StoredChunk, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, chunkSelect+`
	FROM chunks
	JOIN documents ON documents.id = chunks.document_id
	LEFT JOIN chunk_embeddings ON chunk_embeddings.chunk_id = chunks.id
	WHERE chunk_embeddings.chunk_id IS NULL
	ORDER BY chunks.id
	LIMIT ?`, limit)
	if err != nil {
		return nil, rerrors.UnavailableError("failed to list pending chunks", err)
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

func dimensionMismatch(want, got int) error {
	return rerrors.New(rerrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: expected %d, got %d", want, got), nil).
		WithSuggestion("Re-ingest with the embedding model the store was built with, or start a new store")
}

// encodeVector packs float32s little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
