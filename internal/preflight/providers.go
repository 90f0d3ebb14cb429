package preflight

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Aman-CERP/recall/internal/embed"
	"github.com/Aman-CERP/recall/internal/llm"
)

// CheckFTS5 checks that the SQLite build can create the FTS5 table the
// lexical retriever uses.
func (c *Checker) CheckFTS5(ctx context.Context) CheckResult {
	result := CheckResult{Name: "sqlite_fts5", Required: true}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to open sqlite: %v", err)
		return result
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, `CREATE VIRTUAL TABLE probe USING fts5(text, tokenize='porter unicode61')`); err != nil {
		result.Status = StatusFail
		result.Message = "FTS5 is unavailable"
		result.Details = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckEmbeddings builds the configured embedder without calling it.
// Static embeddings work offline but carry no meaning, so they warn.
func (c *Checker) CheckEmbeddings() CheckResult {
	result := CheckResult{Name: "embeddings", Required: true}

	e, err := embed.NewEmbedder(c.cfg.Embeddings)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	defer func() { _ = e.Close() }()

	result.Message = fmt.Sprintf("%s (%d dimensions)", e.ModelName(), e.Dimensions())
	if e.ModelName() == embed.StaticModelName {
		result.Status = StatusWarn
		result.Details = "Static hash embeddings; set OPENAI_API_KEY for semantic vector retrieval"
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckLLM builds the decomposition and synthesis capabilities.
func (c *Checker) CheckLLM() CheckResult {
	result := CheckResult{Name: "llm", Required: true}

	caps, err := llm.New(c.cfg.LLM)
	if err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}

	result.Message = caps.Provider
	if caps.Model != "" && caps.Model != caps.Provider {
		result.Message += " (" + caps.Model + ")"
	}
	if caps.Provider == llm.ProviderStatic {
		result.Status = StatusWarn
		result.Details = "Offline clause splitting and extractive answers; set OPENAI_API_KEY or ANTHROPIC_API_KEY for model-backed answers"
		return result
	}
	result.Status = StatusPass
	return result
}
