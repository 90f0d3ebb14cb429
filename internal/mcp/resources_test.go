package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recall/internal/service"
)

func TestParseChunkURI(t *testing.T) {
	tests := []struct {
		uri      string
		want     int64
		wantCode int
	}{
		{"recall://chunk/42", 42, 0},
		{"recall://chunk/0", 0, ErrCodeInvalidParams},
		{"recall://chunk/-3", 0, ErrCodeInvalidParams},
		{"recall://chunk/abc", 0, ErrCodeInvalidParams},
		{"recall://document/42", 0, ErrCodeMethodNotFound},
		{"file:///etc/passwd", 0, ErrCodeMethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			id, err := parseChunkURI(tt.uri)

			if tt.wantCode != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, MapError(err).Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestServer_ReadChunk_ReturnsNeighbours(t *testing.T) {
	// Given: a backend holding chunk 5 between 4 and 6
	var got service.ExpandRequest
	backend := &MockBackend{ExpandFn: func(_ context.Context, req service.ExpandRequest) (*service.ExpandResponse, error) {
		got = req
		return &service.ExpandResponse{Chunks: []service.Chunk{
			sampleChunk(4, "ep-1", 0), sampleChunk(5, "ep-1", 1), sampleChunk(6, "ep-1", 2),
		}}, nil
	}}
	srv := newTestServer(t, backend)

	// When: the chunk resource is read
	res, err := srv.readChunk(context.Background(), "recall://chunk/5")

	// Then: the chunk and its neighbours come back as JSON
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, got.ChunkIDs)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "recall://chunk/5", res.Contents[0].URI)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)

	var body service.ExpandResponse
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &body))
	require.Len(t, body.Chunks, 3)
	assert.Equal(t, int64(5), body.Chunks[1].ChunkID)
}

func TestServer_ReadChunk_Missing(t *testing.T) {
	backend := &MockBackend{ExpandFn: func(_ context.Context, req service.ExpandRequest) (*service.ExpandResponse, error) {
		return &service.ExpandResponse{Chunks: []service.Chunk{}, Missing: req.ChunkIDs}, nil
	}}
	srv := newTestServer(t, backend)

	_, err := srv.readChunk(context.Background(), "recall://chunk/99")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "recall://chunk/99")
}
