package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/bench"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/eval"
	"github.com/Aman-CERP/recall/internal/output"
	"github.com/Aman-CERP/recall/internal/service"
)

// errBenchmarkFailed makes a failing verdict exit non-zero.
var errBenchmarkFailed = errors.New("benchmark failed")

// benchmarkOptions holds CLI flags for benchmark.
type benchmarkOptions struct {
	mode        string
	n           int
	thresholdMS float64
	suite       string
	cpuProfile  string
	memProfile  string
	format      string
}

func newBenchmarkCmd(g *globalOptions) *cobra.Command {
	var opts benchmarkOptions

	cmd := &cobra.Command{
		Use:   "benchmark [query]",
		Short: "Time a query and check its plan",
		Long: `Run a query once under a stopwatch, capture its query plan and fail when
the plan scans the chunk table or the query exceeds the threshold.

With --suite, run an evaluation suite instead and report recall@k,
precision@k, MRR and nDCG@k.

Examples:
  recall benchmark "neural networks" --mode lexical --threshold-ms 20
  recall benchmark "protein folding" --cpu-profile cpu.out --mem-profile mem.out
  recall benchmark --suite testdata/suite.yaml --format json`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "lexical", "Retrieval mode: lexical, vector, hybrid")
	cmd.Flags().IntVarP(&opts.n, "limit", "n", 0, "Result count (default: benchmark.default_n)")
	cmd.Flags().Float64Var(&opts.thresholdMS, "threshold-ms", 0, "Latency threshold in ms; negative disables it (default: benchmark.threshold_ms)")
	cmd.Flags().StringVar(&opts.suite, "suite", "", "Evaluation suite YAML file")
	cmd.Flags().StringVar(&opts.cpuProfile, "cpu-profile", "", "Write a CPU profile to file")
	cmd.Flags().StringVar(&opts.memProfile, "mem-profile", "", "Write a heap profile to file")
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatText, "Output format: text, json")

	return cmd
}

func runBenchmark(cmd *cobra.Command, g *globalOptions, query string, opts benchmarkOptions) (err error) {
	if err := checkFormat(opts.format); err != nil {
		return err
	}
	if opts.suite == "" && strings.TrimSpace(query) == "" {
		return rerrors.InputError("benchmark needs a query or --suite", nil)
	}

	svc, err := g.openService(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	profile := &bench.Profile{CPUPath: opts.cpuProfile, HeapPath: opts.memProfile}
	if err := profile.Start(); err != nil {
		return err
	}
	defer func() {
		if stopErr := profile.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()

	out := g.writer(cmd)
	if opts.suite != "" {
		report, err := svc.BenchmarkSuite(cmd.Context(), opts.suite)
		if err != nil {
			return err
		}
		if opts.format == formatJSON {
			return out.JSON(report)
		}
		printSuite(out, report)
		return nil
	}

	resp, err := svc.Benchmark(cmd.Context(), service.BenchmarkRequest{
		Query:       query,
		Mode:        opts.mode,
		N:           opts.n,
		ThresholdMS: opts.thresholdMS,
	})
	if err != nil {
		return err
	}
	if opts.format == formatJSON {
		if err := out.JSON(resp); err != nil {
			return err
		}
	} else {
		printBenchmark(out, resp)
	}
	if !resp.Passed {
		return fmt.Errorf("%w: %s", errBenchmarkFailed, resp.Failure)
	}
	return nil
}

func printBenchmark(out *output.Writer, resp *service.BenchmarkResponse) {
	out.Header(fmt.Sprintf("Benchmark %q", resp.Query))
	out.KeyValue("mode", resp.Mode)
	out.KeyValue("n", resp.N)
	out.KeyValue("query time", fmt.Sprintf("%.3f ms", resp.QueryTimeMS))
	out.KeyValue("total time", fmt.Sprintf("%.3f ms", resp.TotalTimeMS))
	out.KeyValue("threshold", fmt.Sprintf("%.0f ms", resp.ThresholdMS))
	out.KeyValue("rows returned", resp.RowsReturned)
	out.KeyValue("index backed", resp.IndexBacked)
	for _, d := range resp.Degraded {
		out.Warningf("Degraded: %s", d)
	}

	plan := make([]string, len(resp.Plan))
	for i, step := range resp.Plan {
		plan[i] = fmt.Sprintf("%s: %s", step.Stage, step.Detail)
	}
	out.Code(strings.Join(plan, "\n"))

	if resp.Passed {
		out.Success("PASS")
	} else {
		out.Errorf("FAIL: %s", resp.Failure)
	}
}

func printSuite(out *output.Writer, report *eval.SuiteReport) {
	out.Header(fmt.Sprintf("Suite %s (k=%d)", report.Name, report.K))
	for _, c := range report.Cases {
		switch {
		case c.Error != "":
			out.Errorf("%s: %s", c.Case.ID, c.Error)
		case c.Passed && c.Case.Negative():
			out.Successf("%s: no expected documents, %.1f ms", c.Case.ID, c.DurationMS)
		case c.Passed:
			out.Successf("%s: rank %d, %.1f ms", c.Case.ID, c.MatchedAt+1, c.DurationMS)
		default:
			out.Warningf("%s: expected document not in top %d", c.Case.ID, report.K)
		}
	}
	out.Newline()
	out.KeyValue("passed", fmt.Sprintf("%d/%d", report.Passed, report.Total))
	out.KeyValue("errors", report.Errors)
	out.KeyValue("recall@k", fmt.Sprintf("%.3f", report.MeanRecallAtK))
	out.KeyValue("precision@k", fmt.Sprintf("%.3f", report.MeanPrecisionAtK))
	out.KeyValue("hit rate", fmt.Sprintf("%.3f", report.HitRate))
	out.KeyValue("MRR", fmt.Sprintf("%.3f", report.MRR))
	out.KeyValue("nDCG@k", fmt.Sprintf("%.3f", report.MeanNDCGAtK))
}
