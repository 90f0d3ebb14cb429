package chunk

import "strings"

// Clean normalizes transcript text before chunking: line breaks become
// spaces, backslashes are dropped, whitespace runs collapse to one space
// and the result is trimmed.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "\\", "")
	return strings.Join(strings.Fields(text), " ")
}
