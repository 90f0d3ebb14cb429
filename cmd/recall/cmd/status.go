package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/output"
	"github.com/Aman-CERP/recall/internal/service"
	"github.com/Aman-CERP/recall/internal/telemetry"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	var (
		repair bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show datastore counts and index consistency",
		Long: `Show document, chunk and embedding counts, the active providers,
whether the lexical and vector indexes agree with the datastore, and the
local query telemetry (disable with telemetry.disabled or RECALL_TELEMETRY=0).

--repair rebuilds indexes that disagree.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			svc, err := g.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			status, err := svc.Status(cmd.Context(), repair)
			if err != nil {
				return err
			}

			out := g.writer(cmd)
			if format == formatJSON {
				return out.JSON(status)
			}
			printStatus(out, svc.DataDir(), status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Rebuild inconsistent indexes")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json")

	return cmd
}

func printStatus(out *output.Writer, dataDir string, s *service.StatusResponse) {
	out.Header("recall status")
	out.KeyValue("data dir", dataDir)
	out.KeyValue("documents", s.Documents)
	out.KeyValue("chunks", s.Chunks)
	out.KeyValue("embedded", s.EmbeddedChunks)
	out.KeyValue("vector nodes", s.VectorNodes)
	out.KeyValue("lexical", s.LexicalBackend)
	out.KeyValue("embedder", s.Embedder)
	if s.EmbeddingModel != "" {
		out.KeyValue("stored model", s.EmbeddingModel)
	}
	if s.EmbeddingDims > 0 {
		out.KeyValue("dimensions", s.EmbeddingDims)
	}
	if c := s.EmbeddingCache; c != nil && c.Hits+c.Misses > 0 {
		out.KeyValue("embed cache", fmt.Sprintf("%d hits, %d misses", c.Hits, c.Misses))
	}
	llm := s.LLMProvider
	if s.LLMModel != "" {
		llm += " (" + s.LLMModel + ")"
	}
	out.KeyValue("llm", llm)
	out.Newline()

	switch {
	case s.Consistent && s.Repaired:
		out.Success("Indexes repaired")
	case s.Consistent:
		out.Success("Indexes consistent")
	default:
		for _, issue := range s.Inconsistencies {
			out.Warning(issue)
		}
		out.Status("", "Run 'recall status --repair' to rebuild")
	}
	if pending := s.Chunks - s.EmbeddedChunks; pending > 0 {
		out.Warningf("%d chunks without embeddings, run 'recall embed'", pending)
	}
	if s.Queries != nil && s.Queries.Queries > 0 {
		printQueries(out, s.Queries)
	}
}

func printQueries(out *output.Writer, q *telemetry.Summary) {
	out.Newline()
	out.Header("Queries")
	out.KeyValue("served", q.Queries)
	kinds := []telemetry.Kind{telemetry.KindLexical, telemetry.KindVector, telemetry.KindHybrid, telemetry.KindAnswer}
	for _, k := range kinds {
		if n := q.ByKind[k]; n > 0 {
			out.KeyValue(string(k), n)
		}
	}
	out.KeyValue("zero results", fmt.Sprintf("%d (%.1f%%)", q.ZeroResults, q.ZeroResultRate()*100))
	if q.Degraded > 0 {
		out.KeyValue("degraded", q.Degraded)
	}
	if len(q.TopTerms) > 0 {
		terms := make([]string, len(q.TopTerms))
		for i, t := range q.TopTerms {
			terms[i] = fmt.Sprintf("%s (%d)", t.Term, t.Count)
		}
		out.KeyValue("top terms", strings.Join(terms, ", "))
	}
	for _, e := range q.EmptyQueries {
		out.Dim(fmt.Sprintf("  no results: %q", e))
	}
}
