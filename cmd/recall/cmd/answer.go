package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/output"
	"github.com/Aman-CERP/recall/internal/service"
)

// answerOptions holds CLI flags for answer.
type answerOptions struct {
	maxSubQueries int
	n             int
	mode          string
	operator      string
	noSynthesis   bool
	format        string
	filters       filterOptions
}

func newAnswerCmd(g *globalOptions) *cobra.Command {
	var opts answerOptions

	cmd := &cobra.Command{
		Use:   "answer <question>",
		Short: "Answer a question from the corpus",
		Long: `Decompose a question into sub-queries, retrieve for each in parallel,
merge the results and synthesize a cited answer.

Without a configured language model the question is searched as a single
query. Use --no-synthesis to get the merged chunks only.

Examples:
  recall answer "How did deep learning change protein folding research?"
  recall answer "What do guests say about AGI timelines?" --max-sub-queries 3
  recall answer "compare RLHF and DPO" --no-synthesis --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnswer(cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVar(&opts.maxSubQueries, "max-sub-queries", 0, "Maximum sub-queries (default: multi_query.max_sub_queries)")
	cmd.Flags().IntVarP(&opts.n, "limit", "n", 0, "Chunks per sub-query (default: retrieval.default_n)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Retrieval mode: lexical, vector, hybrid")
	cmd.Flags().StringVar(&opts.operator, "operator", "", "Lexical term operator: and (default), or")
	cmd.Flags().BoolVar(&opts.noSynthesis, "no-synthesis", false, "Return merged chunks without answer text")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatText, "Output format: text, json")
	opts.filters.addFlags(cmd)

	return cmd
}

func runAnswer(cmd *cobra.Command, g *globalOptions, question string, opts answerOptions) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	svc, err := g.openService(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	resp, err := svc.Answer(cmd.Context(), service.AnswerRequest{
		Question:      question,
		MaxSubQueries: opts.maxSubQueries,
		N:             opts.n,
		Mode:          opts.mode,
		Operator:      opts.operator,
		NoSynthesis:   opts.noSynthesis,
		Filters:       opts.filters.filters(),
	})
	if err != nil {
		return err
	}

	out := g.writer(cmd)
	if opts.format == formatJSON {
		return out.JSON(resp)
	}
	printAnswer(out, resp)
	return nil
}

func printAnswer(out *output.Writer, resp *service.AnswerResponse) {
	out.Header(resp.Question)
	switch {
	case resp.Answer != "":
		_, _ = fmt.Fprintf(out.Out(), "%s\n\n", resp.Answer)
	case resp.SynthesisError != "":
		out.Warningf("No answer text: %s", resp.SynthesisError)
		out.Newline()
	}

	if resp.DecompositionFallback {
		out.Dim("Decomposition unavailable, searched the question as one query")
	} else {
		for _, sq := range resp.SubQueries {
			out.Dim(fmt.Sprintf("sub-query %d: %s", sq.Ordinal, sq.Text))
		}
	}
	for _, f := range resp.FailedSubQueries {
		out.Warningf("Sub-query %d failed: %s", f.Ordinal, f.Error)
	}
	out.Newline()

	if len(resp.Chunks) == 0 {
		out.Warning("No chunks found")
		return
	}
	for i, c := range resp.Chunks {
		printChunk(out, i+1, c.Chunk, fmt.Sprintf("sub-query %d", c.SubQuery))
	}
	out.Dim(fmt.Sprintf("%d chunks, %.1f ms", len(resp.Chunks), resp.LatencyMS))
}
