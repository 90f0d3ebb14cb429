package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"words", "neural networks", []string{"neural ", "networks"}},
		{"punctuation", "Hello, world!", []string{"Hello", ", ", "world", "!"}},
		{"leading space", "  hi there", []string{"  hi ", "there"}},
		{"numbers", "in 2024 we", []string{"in ", "2024 ", "we"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := Tokenize(tt.text)

			var got []string
			for _, s := range spans {
				got = append(got, tt.text[s.Start:s.End])
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenize_SpansTileInput(t *testing.T) {
	text := "Café déjà vu - 東京 is big;  really\tbig."

	spans := Tokenize(text)

	var b strings.Builder
	prev := 0
	for _, s := range spans {
		assert.Equal(t, prev, s.Start)
		b.WriteString(text[s.Start:s.End])
		prev = s.End
	}
	assert.Equal(t, text, b.String())
}

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  hello\nworld  ", "hello world"},
		{"a\\nb", "anb"},
		{"tabs\tand\r\n\nnewlines", "tabs and newlines"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Clean(tt.in), "Clean(%q)", tt.in)
	}
}
