// Package llm provides the two language-model capabilities retrieval relies on:
// generating sub-queries for a question and synthesizing a cited answer from
// retrieved passages.
//
// Both are black boxes to the rest of recall. Providers (OpenAI, Anthropic)
// sit behind the Client interface; Guarded adds rate limiting, a per-call
// timeout and a circuit breaker so a dead endpoint fails fast into the
// callers' fallbacks. The static provider needs no network.
package llm

import "context"

// Request is one provider-agnostic completion request.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int

	// JSON asks the provider to return a single JSON object. Providers
	// without a JSON mode rely on the prompt alone.
	JSON bool
}

// Client performs completions against one provider.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Provider() string
	Model() string
}

// SubQueryGenerator produces sub-queries for a question. The result may be
// empty, contain near-duplicates or exceed max; callers sequence and cap it.
type SubQueryGenerator interface {
	Generate(ctx context.Context, question string, max int) ([]string, error)
}

// Passage is one retrieved chunk offered to synthesis. Index is the 1-based
// citation number the answer uses.
type Passage struct {
	Index int
	Title string
	Text  string
}

// Synthesizer writes an answer grounded in passages, citing them as [n].
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, passages []Passage) (string, error)
}
