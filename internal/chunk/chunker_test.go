package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func TestNewChunker_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{"overlap equals min", Params{MinTokens: 50, MaxTokens: 100, OverlapTokens: 50}},
		{"overlap above min", Params{MinTokens: 50, MaxTokens: 100, OverlapTokens: 60}},
		{"min above max", Params{MinTokens: 200, MaxTokens: 100, OverlapTokens: 10}},
		{"zero max", Params{MinTokens: 10, MaxTokens: 0, OverlapTokens: 1}},
		{"negative overlap", Params{MinTokens: 10, MaxTokens: 20, OverlapTokens: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewChunker(tt.params)

			assert.Nil(t, c)
			require.Error(t, err)
			assert.Equal(t, rerrors.ErrCodeChunkParams, rerrors.GetCode(err))
			assert.True(t, rerrors.IsFatal(err))
		})
	}
}

func TestChunks_ThousandTokens_TwoWindows(t *testing.T) {
	// Given a 1,000-token document and 400/800/50 windows
	c, err := NewChunker(DefaultParams())
	require.NoError(t, err)
	text := words(1000)
	require.Equal(t, 1000, CountTokens(text))

	// When chunking
	chunks := c.Split(text)

	// Then the second window starts 50 tokens before the first one ends
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Ord)
	assert.Equal(t, 1, chunks[1].Ord)
	assert.Equal(t, 800, chunks[0].TokenCount)
	assert.Equal(t, 750, chunks[1].StartToken)
	assert.Equal(t, 250, chunks[1].TokenCount)
	assert.Equal(t, text, Reconstruct(chunks))
}

func TestChunks_ShortDocument_SingleChunk(t *testing.T) {
	c, err := NewChunker(DefaultParams())
	require.NoError(t, err)
	text := "A short transcript, well under the minimum."

	chunks := c.Split(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, CountTokens(text), chunks[0].TokenCount)
}

func TestChunks_EmptyText_NoChunks(t *testing.T) {
	c, err := NewChunker(DefaultParams())
	require.NoError(t, err)

	assert.Empty(t, c.Split(""))
}

func TestChunks_OrdContiguousAndOverlapExact(t *testing.T) {
	p := Params{MinTokens: 20, MaxTokens: 30, OverlapTokens: 5}
	c, err := NewChunker(p)
	require.NoError(t, err)
	text := "Speaker one: so, the 2nd point is that neural networks generalise. " +
		strings.Repeat("Then we talked about retrieval, ranking & fusion! ", 12)

	chunks := c.Split(text)

	require.Greater(t, len(chunks), 2)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ord)
		assert.Equal(t, ch.EndToken-ch.StartToken, ch.TokenCount)
		assert.Equal(t, ch.TokenCount, CountTokens(ch.Text))
		if i > 0 {
			assert.Equal(t, chunks[i-1].EndToken-p.OverlapTokens, ch.StartToken, "chunk %d overlap", i)
		}
		if i < len(chunks)-1 {
			assert.Equal(t, p.MaxTokens, ch.TokenCount)
		}
	}
	assert.Equal(t, text, Reconstruct(chunks))
}

func TestChunks_Deterministic(t *testing.T) {
	c, err := NewChunker(Params{MinTokens: 10, MaxTokens: 25, OverlapTokens: 3})
	require.NoError(t, err)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)

	first := c.Split(text)
	second := c.Split(text)

	assert.Equal(t, first, second)
}

func TestChunks_StopEarly(t *testing.T) {
	c, err := NewChunker(Params{MinTokens: 10, MaxTokens: 20, OverlapTokens: 2})
	require.NoError(t, err)

	var seen int
	for range c.Chunks(words(500)) {
		seen++
		if seen == 3 {
			break
		}
	}

	assert.Equal(t, 3, seen)
}

func TestChunks_CountMatchesFormula(t *testing.T) {
	p := Params{MinTokens: 40, MaxTokens: 40, OverlapTokens: 10}
	c, err := NewChunker(p)
	require.NoError(t, err)

	for _, n := range []int{1, 39, 40, 41, 70, 71, 100, 1000} {
		chunks := c.Split(words(n))

		want := 1
		if n > p.MaxTokens {
			step := p.MaxTokens - p.OverlapTokens
			want = (n-p.OverlapTokens + step - 1) / step
		}
		assert.Len(t, chunks, want, "n=%d", n)
	}
}

func TestReconstruct_Empty(t *testing.T) {
	assert.Equal(t, "", Reconstruct(nil))
}
