package chunk

import (
	"fmt"
	"iter"
	"strings"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// Chunker produces token windows. It is immutable and safe for concurrent use.
type Chunker struct {
	params Params
}

// NewChunker validates params and returns a Chunker.
// It fails with ERR_103_CHUNK_PARAMS when overlap >= min or min > max.
func NewChunker(p Params) (*Chunker, error) {
	switch {
	case p.MinTokens <= 0 || p.MaxTokens <= 0 || p.OverlapTokens < 0:
		return nil, rerrors.New(rerrors.ErrCodeChunkParams,
			fmt.Sprintf("chunk sizes must be positive, got min=%d max=%d overlap=%d", p.MinTokens, p.MaxTokens, p.OverlapTokens), nil)
	case p.OverlapTokens >= p.MinTokens:
		return nil, rerrors.New(rerrors.ErrCodeChunkParams,
			fmt.Sprintf("overlap (%d) must be smaller than min (%d)", p.OverlapTokens, p.MinTokens), nil)
	case p.MinTokens > p.MaxTokens:
		return nil, rerrors.New(rerrors.ErrCodeChunkParams,
			fmt.Sprintf("min (%d) must not exceed max (%d)", p.MinTokens, p.MaxTokens), nil)
	}
	return &Chunker{params: p}, nil
}

// Params returns the window parameters.
func (c *Chunker) Params() Params {
	return c.params
}

// Chunks returns the windows of text in ord order.
//
// Windows hold MaxTokens tokens and each starts OverlapTokens before the end
// of the previous one. The last window holds whatever remains and may be
// shorter than MinTokens; a text shorter than MinTokens is a single window.
// Empty text yields nothing. The sequence is lazy and can be ranged over
// any number of times with identical results.
func (c *Chunker) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		spans := Tokenize(text)
		total := len(spans)
		if total == 0 {
			return
		}

		start := 0
		for ord := 0; ; ord++ {
			end := min(start+c.params.MaxTokens, total)
			ch := Chunk{
				Ord:        ord,
				TokenCount: end - start,
				StartToken: start,
				EndToken:   end,
				StartByte:  spans[start].Start,
				EndByte:    spans[end-1].End,
			}
			ch.Text = text[ch.StartByte:ch.EndByte]
			if !yield(ch) || end == total {
				return
			}
			start = end - c.params.OverlapTokens
		}
	}
}

// Split collects Chunks into a slice.
func (c *Chunker) Split(text string) []Chunk {
	var out []Chunk
	for ch := range c.Chunks(text) {
		out = append(out, ch)
	}
	return out
}

// Reconstruct concatenates chunks in ord order with the overlapping bytes
// of each chunk removed, reproducing the chunked text.
func Reconstruct(chunks []Chunk) string {
	var b strings.Builder
	covered := 0
	for _, ch := range chunks {
		if ch.EndByte <= covered {
			continue
		}
		skip := max(covered-ch.StartByte, 0)
		b.WriteString(ch.Text[skip:])
		covered = ch.EndByte
	}
	return b.String()
}
