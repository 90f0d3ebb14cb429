package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/recall/internal/service"
)

// FormatRetrieveResults formats retrieved chunks as markdown.
func FormatRetrieveResults(resp *service.RetrieveResponse) string {
	if resp == nil || len(resp.Chunks) == 0 {
		query := ""
		if resp != nil {
			query = resp.QueryInfo.Query
		}
		return fmt.Sprintf("No chunks found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Results for \"%s\"\n\n", resp.QueryInfo.Query)
	fmt.Fprintf(&sb, "Found %s (%s mode, %.1f ms)", plural(len(resp.Chunks), "chunk"), resp.QueryInfo.Mode, resp.TimingMS.Total)
	if len(resp.QueryInfo.FiltersApplied) > 0 {
		fmt.Fprintf(&sb, ", filtered by %s", strings.Join(resp.QueryInfo.FiltersApplied, ", "))
	}
	sb.WriteString("\n\n")
	if len(resp.Degraded) > 0 {
		fmt.Fprintf(&sb, "**Degraded:** %s\n\n", strings.Join(resp.Degraded, "; "))
	}

	for i, c := range resp.Chunks {
		formatChunk(&sb, i+1, c, "")
	}
	return sb.String()
}

// FormatAnswer formats an answer, its sub-queries and cited chunks as
// markdown. Citation numbers match the chunk numbering.
func FormatAnswer(resp *service.AnswerResponse) string {
	if resp == nil {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Answer to \"%s\"\n\n", resp.Question)
	switch {
	case resp.Answer != "":
		sb.WriteString(resp.Answer)
		sb.WriteString("\n\n")
	case resp.SynthesisError != "":
		fmt.Fprintf(&sb, "_No answer text: %s_\n\n", resp.SynthesisError)
	}

	if resp.DecompositionFallback {
		sb.WriteString("**Sub-queries:** decomposition unavailable, searched the question as one query\n\n")
	} else {
		sb.WriteString("**Sub-queries:**\n")
		for _, sq := range resp.SubQueries {
			fmt.Fprintf(&sb, "%d. %s\n", sq.Ordinal, sq.Text)
		}
		sb.WriteString("\n")
	}
	if resp.Partial {
		failed := make([]string, len(resp.FailedSubQueries))
		for i, f := range resp.FailedSubQueries {
			failed[i] = fmt.Sprintf("%d (%s)", f.Ordinal, f.Error)
		}
		fmt.Fprintf(&sb, "**Partial results:** sub-queries %s failed\n\n", strings.Join(failed, ", "))
	}

	if len(resp.Chunks) == 0 {
		sb.WriteString("No chunks found.\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "### Sources (%s)\n\n", plural(len(resp.Chunks), "chunk"))
	for i, c := range resp.Chunks {
		formatChunk(&sb, i+1, c.Chunk, fmt.Sprintf("sub-query %d", c.SubQuery))
	}
	return sb.String()
}

// FormatBenchmark formats a benchmark verdict and its plan.
func FormatBenchmark(resp *service.BenchmarkResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	verdict := "PASS"
	if !resp.Passed {
		verdict = "FAIL"
	}
	fmt.Fprintf(&sb, "## Benchmark %s: \"%s\"\n\n", verdict, resp.Query)
	fmt.Fprintf(&sb, "- mode: %s, n: %d\n", resp.Mode, resp.N)
	fmt.Fprintf(&sb, "- query time: %.3f ms (threshold %.0f ms)\n", resp.QueryTimeMS, resp.ThresholdMS)
	fmt.Fprintf(&sb, "- rows returned: %d\n", resp.RowsReturned)
	fmt.Fprintf(&sb, "- index backed: %t\n", resp.IndexBacked)
	if resp.Failure != "" {
		fmt.Fprintf(&sb, "- failure: %s\n", resp.Failure)
	}
	if len(resp.Plan) > 0 {
		sb.WriteString("\n```\n")
		for _, step := range resp.Plan {
			fmt.Fprintf(&sb, "%s: %s\n", step.Stage, step.Detail)
		}
		sb.WriteString("```\n")
	}
	return sb.String()
}

// FormatExpand formats expanded chunks in document order.
func FormatExpand(resp *service.ExpandResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Expanded context (%s)\n\n", plural(len(resp.Chunks), "chunk"))
	if len(resp.Missing) > 0 {
		ids := make([]string, len(resp.Missing))
		for i, id := range resp.Missing {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(&sb, "**Missing chunk IDs:** %s\n\n", strings.Join(ids, ", "))
	}
	for i, c := range resp.Chunks {
		formatChunk(&sb, i+1, c, "")
	}
	return sb.String()
}

// formatChunk writes one chunk with its document, position and source.
func formatChunk(sb *strings.Builder, num int, c service.Chunk, note string) {
	fmt.Fprintf(sb, "### [%d] %s #%d (chunk %d", num, c.DocID, c.Ord, c.ChunkID)
	if c.Score > 0 {
		fmt.Fprintf(sb, ", score: %.2f", c.Score)
	}
	if note != "" {
		fmt.Fprintf(sb, ", %s", note)
	}
	sb.WriteString(")\n")

	var meta []string
	for _, key := range []string{"title", "source", "category", "published_at"} {
		if v, ok := c.Metadata[key]; ok {
			meta = append(meta, fmt.Sprintf("%s: %v", key, v))
		}
	}
	if len(meta) > 0 {
		fmt.Fprintf(sb, "_%s_\n", strings.Join(meta, " | "))
	}
	fmt.Fprintf(sb, "\n> %s\n\n", strings.ReplaceAll(c.Text, "\n", "\n> "))
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
