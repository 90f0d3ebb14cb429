package llm

import (
	"context"
	"log/slog"
	"strings"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
)

// DefaultMaxTokens bounds completion length when none is configured.
const DefaultMaxTokens = 1024

// Generator implements SubQueryGenerator and Synthesizer over a Client.
type Generator struct {
	client    Client
	maxTokens int
}

// NewGenerator creates a generator. maxTokens <= 0 selects DefaultMaxTokens.
func NewGenerator(client Client, maxTokens int) *Generator {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Generator{client: client, maxTokens: maxTokens}
}

// Client returns the underlying client.
func (g *Generator) Client() Client {
	return g.client
}

// Generate asks the model for up to max sub-queries.
func (g *Generator) Generate(ctx context.Context, question string, max int) ([]string, error) {
	if max <= 0 {
		max = 1
	}
	raw, err := g.client.Complete(ctx, Request{
		System:    decomposeSystem,
		Prompt:    decomposePrompt(question, max),
		MaxTokens: min(g.maxTokens, 512),
		JSON:      true,
	})
	if err != nil {
		return nil, wrapCapability(rerrors.ErrCodeDecompositionFailed, "sub-query generation failed", err)
	}

	queries, err := parseSubQueries(raw)
	if err != nil {
		return nil, rerrors.New(rerrors.ErrCodeDecompositionFailed, "sub-query generation returned an unreadable response", err)
	}
	slog.Debug("sub_queries_generated",
		slog.String("provider", g.client.Provider()),
		slog.Int("count", len(queries)))
	return queries, nil
}

// Synthesize asks the model for an answer citing passages as [n].
func (g *Generator) Synthesize(ctx context.Context, question string, passages []Passage) (string, error) {
	if len(passages) == 0 {
		return "", rerrors.New(rerrors.ErrCodeSynthesisFailed, "no passages to synthesize from", nil)
	}
	raw, err := g.client.Complete(ctx, Request{
		System:    synthesizeSystem,
		Prompt:    synthesizePrompt(question, passages),
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		return "", wrapCapability(rerrors.ErrCodeSynthesisFailed, "answer synthesis failed", err)
	}

	answer := strings.TrimSpace(raw)
	if answer == "" {
		return "", rerrors.New(rerrors.ErrCodeSynthesisFailed, "answer synthesis returned no text", nil)
	}
	return answer, nil
}

// wrapCapability keeps unavailable and rate-limit codes from the provider
// layer and files everything else under code.
func wrapCapability(code, message string, err error) error {
	if rerrors.IsUnavailable(err) {
		return err
	}
	return rerrors.New(code, message, err)
}
