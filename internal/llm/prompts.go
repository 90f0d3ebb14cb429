package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

const decomposeSystem = `You break research questions into search queries for a transcript search engine.
Each query must target one distinct facet of the question and be answerable from spoken transcripts.
Queries are short keyword phrases, not full sentences. Do not repeat facets.`

const decomposeTemplate = `Question: %s

Write between 1 and %d search queries that together cover the question.
Respond with JSON only: {"sub_queries": ["first query", "second query"]}`

const synthesizeSystem = `You answer questions using a knowledge base of transcripts.
Base your answer ONLY on the numbered passages provided.
Cite every claim with the passage number in square brackets, for example [2].
If the passages do not contain the answer, say so clearly.
Be concise and accurate.`

func decomposePrompt(question string, max int) string {
	return fmt.Sprintf(decomposeTemplate, question, max)
}

func synthesizePrompt(question string, passages []Passage) string {
	var b strings.Builder
	b.WriteString("Passages:\n\n")
	for _, p := range passages {
		title := p.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", p.Index, title, p.Text)
	}
	fmt.Fprintf(&b, "Question: %s", question)
	return b.String()
}

// parseSubQueries reads the decomposition response. It accepts the requested
// object, a bare JSON array, or an object wrapped in prose or a code fence.
func parseSubQueries(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)

	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		var obj struct {
			SubQueries []string `json:"sub_queries"`
			Queries    []string `json:"queries"`
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err == nil {
			if len(obj.SubQueries) > 0 {
				return obj.SubQueries, nil
			}
			return obj.Queries, nil
		}
	}

	if start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]"); start >= 0 && end > start {
		var list []string
		if err := json.Unmarshal([]byte(raw[start:end+1]), &list); err == nil {
			return list, nil
		}
	}
	return nil, fmt.Errorf("response is not a sub-query list: %.80q", raw)
}
