// Package chunk splits cleaned transcript text into ordered, token-bounded,
// overlapping windows.
package chunk

// Chunk size defaults.
const (
	DefaultMinTokens     = 400
	DefaultMaxTokens     = 800
	DefaultOverlapTokens = 50
)

// Params bounds the token windows produced by a Chunker.
type Params struct {
	MinTokens     int
	MaxTokens     int
	OverlapTokens int
}

// DefaultParams returns the default window parameters.
func DefaultParams() Params {
	return Params{
		MinTokens:     DefaultMinTokens,
		MaxTokens:     DefaultMaxTokens,
		OverlapTokens: DefaultOverlapTokens,
	}
}

// Chunk is one token window of a document.
//
// Text is the exact byte span [StartByte, EndByte) of the source text, so
// adjacent chunks share the bytes of their overlapping tokens.
type Chunk struct {
	Ord        int
	Text       string
	TokenCount int

	// Token offsets, end exclusive.
	StartToken int
	EndToken   int

	// Byte offsets into the source text, end exclusive.
	StartByte int
	EndByte   int
}
