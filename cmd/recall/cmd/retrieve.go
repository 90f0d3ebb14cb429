package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/output"
	"github.com/Aman-CERP/recall/internal/service"
	"github.com/Aman-CERP/recall/internal/store"
)

// filterOptions holds the metadata filter flags shared by retrieve and answer.
type filterOptions struct {
	from       string
	to         string
	sources    []string
	categories []string
	mode       string
}

func (f *filterOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "Only documents published on or after this date")
	cmd.Flags().StringVar(&f.to, "to", "", "Only documents published on or before this date")
	cmd.Flags().StringSliceVar(&f.sources, "source", nil, "Only these sources (repeatable)")
	cmd.Flags().StringSliceVar(&f.categories, "category", nil, "Only these categories (repeatable)")
	cmd.Flags().StringVar(&f.mode, "filter-mode", "", "Combine filters with all (default) or any")
}

// filters returns the filter map, or nil when no filter flag was set.
func (f *filterOptions) filters() map[string]any {
	m := map[string]any{}
	if f.from != "" {
		m[store.FilterKeyFrom] = f.from
	}
	if f.to != "" {
		m[store.FilterKeyTo] = f.to
	}
	if len(f.sources) > 0 {
		m[store.FilterKeySource] = f.sources
	}
	if len(f.categories) > 0 {
		m[store.FilterKeyCategory] = f.categories
	}
	if len(m) == 0 {
		return nil
	}
	if f.mode != "" {
		m[store.FilterKeyMode] = f.mode
	}
	return m
}

// retrieveOptions holds CLI flags for retrieve.
type retrieveOptions struct {
	n        int
	mode     string
	operator string
	format   string
	filters  filterOptions
}

func newRetrieveCmd(g *globalOptions) *cobra.Command {
	var opts retrieveOptions

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Retrieve the chunks most relevant to a query",
		Long: `Retrieve chunks by lexical (BM25), vector or hybrid search.

Hybrid mode min-max normalizes both result lists and fuses them with the
configured weights.

Examples:
  recall retrieve "protein folding" -n 5
  recall retrieve "\"attention is all you need\" -rnn" --mode lexical
  recall retrieve "scaling laws" --from 2023-01-01 --source "Dwarkesh"
  recall retrieve "alignment" --category ai --category ethics --filter-mode any --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetrieve(cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.n, "limit", "n", 0, "Maximum number of chunks (default: retrieval.default_n)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid", "Retrieval mode: lexical, vector, hybrid")
	cmd.Flags().StringVar(&opts.operator, "operator", "", "Lexical term operator: and (default), or")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatText, "Output format: text, json")
	opts.filters.addFlags(cmd)

	return cmd
}

func runRetrieve(cmd *cobra.Command, g *globalOptions, query string, opts retrieveOptions) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	svc, err := g.openService(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	resp, err := svc.Retrieve(cmd.Context(), service.RetrieveRequest{
		Query:    query,
		N:        opts.n,
		Mode:     opts.mode,
		Operator: opts.operator,
		Filters:  opts.filters.filters(),
	})
	if err != nil {
		return err
	}

	out := g.writer(cmd)
	if opts.format == formatJSON {
		return out.JSON(resp)
	}
	printRetrieve(out, resp)
	return nil
}

func printRetrieve(out *output.Writer, resp *service.RetrieveResponse) {
	info := resp.QueryInfo
	if len(resp.Chunks) == 0 {
		out.Warningf("No chunks found for %q", info.Query)
		return
	}
	out.Header(fmt.Sprintf("Results for %q", info.Query))
	for _, d := range resp.Degraded {
		out.Warningf("Degraded: %s", d)
	}
	for i, c := range resp.Chunks {
		printChunk(out, i+1, c, "")
	}
	summary := fmt.Sprintf("%d of n=%d, %s mode, %.1f ms", info.ResultsReturned, info.N, info.Mode, resp.TimingMS.Total)
	if len(info.FiltersApplied) > 0 {
		summary += ", filtered by " + strings.Join(info.FiltersApplied, ", ")
	}
	out.Dim(summary)
}

// printChunk renders one chunk with its position, score and metadata.
func printChunk(out *output.Writer, num int, c service.Chunk, note string) {
	heading := fmt.Sprintf("[%d] %s #%d  chunk %d", num, c.DocID, c.Ord, c.ChunkID)
	if c.Score > 0 {
		heading += fmt.Sprintf("  score %.3f", c.Score)
	}
	if note != "" {
		heading += "  " + note
	}

	var meta []string
	for _, key := range []string{"title", "source", "category", "published_at"} {
		if v, ok := c.Metadata[key]; ok && v != "" {
			meta = append(meta, fmt.Sprintf("%s: %v", key, v))
		}
	}
	out.Chunk(heading, strings.Join(meta, " | "), c.Text)
}
