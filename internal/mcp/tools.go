package mcp

import (
	"fmt"

	"github.com/Aman-CERP/recall/internal/index"
	"github.com/Aman-CERP/recall/internal/service"
	"github.com/Aman-CERP/recall/internal/store"
)

// FilterInput narrows retrieval by document metadata.
type FilterInput struct {
	From     string   `json:"from,omitempty" jsonschema:"earliest publication date, YYYY-MM-DD or RFC3339"`
	To       string   `json:"to,omitempty" jsonschema:"latest publication date, inclusive of the whole day"`
	Source   []string `json:"source,omitempty" jsonschema:"source tags to match, e.g. a podcast name"`
	Category []string `json:"category,omitempty" jsonschema:"categories to match"`
	Mode     string   `json:"filter_mode,omitempty" jsonschema:"how filters combine: all (default) or any"`
}

// RetrieveInput defines the input schema for the retrieve tool.
type RetrieveInput struct {
	Query    string      `json:"query" jsonschema:"the search query; supports quoted phrases, OR and -term"`
	N        int         `json:"n,omitempty" jsonschema:"maximum number of chunks, default 50"`
	Mode     string      `json:"mode,omitempty" jsonschema:"lexical, vector or hybrid (default)"`
	Operator string      `json:"operator,omitempty" jsonschema:"and (default) requires every term; or matches any term"`
	Filters  FilterInput `json:"filters,omitempty" jsonschema:"metadata filters applied before ranking"`
}

// AnswerInput defines the input schema for the answer tool.
type AnswerInput struct {
	Question      string      `json:"question" jsonschema:"the question to answer from the transcripts"`
	MaxSubQueries int         `json:"max_sub_queries,omitempty" jsonschema:"upper bound on sub-queries, default 4"`
	N             int         `json:"n,omitempty" jsonschema:"maximum number of merged chunks, default 50"`
	Mode          string      `json:"mode,omitempty" jsonschema:"lexical, vector or hybrid (default)"`
	Operator      string      `json:"operator,omitempty" jsonschema:"and (default) or or"`
	NoSynthesis   bool        `json:"no_synthesis,omitempty" jsonschema:"return chunks only, without answer text"`
	Filters       FilterInput `json:"filters,omitempty" jsonschema:"metadata filters applied before ranking"`
}

// BenchmarkInput defines the input schema for the benchmark tool.
type BenchmarkInput struct {
	Query       string  `json:"query" jsonschema:"the query to time"`
	Mode        string  `json:"mode,omitempty" jsonschema:"lexical, vector or hybrid (default)"`
	N           int     `json:"n,omitempty" jsonschema:"result cap, default 50"`
	ThresholdMS float64 `json:"threshold_ms,omitempty" jsonschema:"latency threshold in milliseconds; negative disables the latency check"`
}

// ExpandInput defines the input schema for the expand tool.
type ExpandInput struct {
	ChunkIDs []int64 `json:"chunk_ids" jsonschema:"chunk IDs returned by retrieve or answer"`
	Window   int     `json:"window,omitempty" jsonschema:"neighbouring chunks to include on each side, default 1"`
}

// IngestInput defines the input schema for the ingest tool.
type IngestInput struct {
	ID          string            `json:"id,omitempty" jsonschema:"document ID; an existing document is replaced; generated when empty"`
	Title       string            `json:"title,omitempty" jsonschema:"document title"`
	Source      string            `json:"source,omitempty" jsonschema:"source tag, e.g. a podcast name"`
	Category    string            `json:"category,omitempty" jsonschema:"category"`
	URL         string            `json:"url,omitempty" jsonschema:"link to the original"`
	PublishedAt string            `json:"published_at,omitempty" jsonschema:"publication date, YYYY-MM-DD or RFC3339"`
	Metadata    map[string]string `json:"metadata,omitempty" jsonschema:"free-form metadata returned with every chunk"`
	Text        string            `json:"text" jsonschema:"the transcript text"`
	NoEmbed     bool              `json:"no_embed,omitempty" jsonschema:"store lexical-only, without embeddings"`
}

// StatusInput defines the input schema for the status tool (no parameters).
type StatusInput struct{}

// filters converts f to the map form the service parses.
func (f FilterInput) filters() map[string]any {
	m := make(map[string]any)
	if f.From != "" {
		m[store.FilterKeyFrom] = f.From
	}
	if f.To != "" {
		m[store.FilterKeyTo] = f.To
	}
	if len(f.Source) > 0 {
		m[store.FilterKeySource] = f.Source
	}
	if len(f.Category) > 0 {
		m[store.FilterKeyCategory] = f.Category
	}
	if f.Mode != "" {
		m[store.FilterKeyMode] = f.Mode
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func (in RetrieveInput) request() service.RetrieveRequest {
	return service.RetrieveRequest{
		Query:    in.Query,
		N:        in.N,
		Mode:     in.Mode,
		Filters:  in.Filters.filters(),
		Operator: in.Operator,
	}
}

func (in AnswerInput) request() service.AnswerRequest {
	return service.AnswerRequest{
		Question:      in.Question,
		MaxSubQueries: in.MaxSubQueries,
		N:             in.N,
		Mode:          in.Mode,
		Filters:       in.Filters.filters(),
		Operator:      in.Operator,
		NoSynthesis:   in.NoSynthesis,
	}
}

func (in IngestInput) request() (service.IngestRequest, error) {
	req := service.IngestRequest{
		DocumentInput: index.DocumentInput{
			ID:       in.ID,
			Title:    in.Title,
			Source:   in.Source,
			Category: in.Category,
			URL:      in.URL,
			Metadata: in.Metadata,
			Text:     in.Text,
		},
		NoEmbed: in.NoEmbed,
	}
	if in.PublishedAt != "" {
		t, err := store.ParseDate(in.PublishedAt)
		if err != nil {
			return req, NewInvalidParamsError(fmt.Sprintf("invalid published_at %q: use YYYY-MM-DD or RFC3339", in.PublishedAt))
		}
		req.PublishedAt = &t
	}
	return req, nil
}
