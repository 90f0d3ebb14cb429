package chunk

import (
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/segment"
)

// Span is the byte range of one token.
type Span struct {
	Start int
	End   int
}

// Tokenize splits text into tokens using Unicode word segmentation (UAX #29).
//
// Each word, number or punctuation segment is one token and absorbs the
// whitespace that follows it. Whitespace before the first token belongs to
// the first token. Spans therefore tile the input: concatenating them gives
// back text byte for byte, and identical input always yields identical spans.
func Tokenize(text string) []Span {
	if text == "" {
		return nil
	}

	seg := segment.NewWordSegmenterDirect([]byte(text))
	var spans []Span
	pos := 0
	for seg.Segment() {
		b := seg.Bytes()
		end := pos + len(b)
		if seg.Type() == segment.None && isSpace(b) {
			if len(spans) > 0 {
				spans[len(spans)-1].End = end
			}
			pos = end
			continue
		}
		start := pos
		if len(spans) == 0 {
			start = 0
		}
		spans = append(spans, Span{Start: start, End: end})
		pos = end
	}

	// The segmenter stops on invalid UTF-8; keep the remainder as one token.
	if pos < len(text) {
		if len(spans) == 0 {
			spans = append(spans, Span{Start: 0, End: len(text)})
		} else {
			spans = append(spans, Span{Start: pos, End: len(text)})
		}
	}
	return spans
}

// CountTokens returns the number of tokens in text.
func CountTokens(text string) int {
	return len(Tokenize(text))
}

func isSpace(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if !unicode.IsSpace(r) {
			return false
		}
		b = b[size:]
	}
	return true
}
