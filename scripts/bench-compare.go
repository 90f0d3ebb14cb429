//go:build ignore

// Package main compares two evaluation suite reports and flags regressions.
// Usage:
//
//	recall benchmark --suite suite.yaml --format json > current.json
//	go run scripts/bench-compare.go current.json baseline.json
//
// A quality metric that drops by more than -quality, a mean case latency
// that grows by more than -latency, or a case that passed in the baseline
// and fails now is a regression.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/Aman-CERP/recall/internal/eval"
)

var (
	outputJSON    = flag.Bool("json", false, "Output results as JSON")
	qualityDrop   = flag.Float64("quality", 0.05, "Allowed absolute drop in a quality metric")
	latencyGrowth = flag.Float64("latency", 0.20, "Allowed relative growth in mean case latency")
	failOnRegress = flag.Bool("fail", true, "Exit with code 1 on regression")
)

// Metric is one compared value.
type Metric struct {
	Name        string  `json:"name"`
	Current     float64 `json:"current"`
	Baseline    float64 `json:"baseline"`
	Delta       float64 `json:"delta"`
	IsRegressed bool    `json:"is_regressed"`
}

// Report is the comparison outcome.
type Report struct {
	Suite          string   `json:"suite"`
	Metrics        []Metric `json:"metrics"`
	NewlyFailing   []string `json:"newly_failing,omitempty"`
	NewlyPassing   []string `json:"newly_passing,omitempty"`
	RegressionSeen bool     `json:"regression_seen"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <current.json> <baseline.json>\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	current, err := load(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	baseline, err := load(flag.Arg(1))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	report := compare(current, baseline)
	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	} else {
		printReport(report)
	}
	if report.RegressionSeen && *failOnRegress {
		os.Exit(1)
	}
}

func load(path string) (*eval.SuiteReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var r eval.SuiteReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &r, nil
}

func compare(current, baseline *eval.SuiteReport) *Report {
	report := &Report{Suite: current.Name}

	quality := []struct {
		name     string
		cur, old float64
	}{
		{"recall@k", current.MeanRecallAtK, baseline.MeanRecallAtK},
		{"precision@k", current.MeanPrecisionAtK, baseline.MeanPrecisionAtK},
		{"hit_rate", current.HitRate, baseline.HitRate},
		{"mrr", current.MRR, baseline.MRR},
		{"ndcg@k", current.MeanNDCGAtK, baseline.MeanNDCGAtK},
	}
	for _, q := range quality {
		m := Metric{Name: q.name, Current: q.cur, Baseline: q.old, Delta: q.cur - q.old}
		m.IsRegressed = m.Delta < -*qualityDrop
		report.Metrics = append(report.Metrics, m)
	}

	cur, old := meanDuration(current), meanDuration(baseline)
	lat := Metric{Name: "mean_case_ms", Current: cur, Baseline: old, Delta: cur - old}
	lat.IsRegressed = old > 0 && (cur-old)/old > *latencyGrowth
	report.Metrics = append(report.Metrics, lat)

	passedBefore := make(map[string]bool, len(baseline.Cases))
	for _, c := range baseline.Cases {
		passedBefore[c.Case.ID] = c.Passed
	}
	for _, c := range current.Cases {
		before, ok := passedBefore[c.Case.ID]
		switch {
		case !ok:
		case before && !c.Passed:
			report.NewlyFailing = append(report.NewlyFailing, c.Case.ID)
		case !before && c.Passed:
			report.NewlyPassing = append(report.NewlyPassing, c.Case.ID)
		}
	}
	sort.Strings(report.NewlyFailing)
	sort.Strings(report.NewlyPassing)

	report.RegressionSeen = len(report.NewlyFailing) > 0
	for _, m := range report.Metrics {
		if m.IsRegressed {
			report.RegressionSeen = true
		}
	}
	return report
}

func meanDuration(r *eval.SuiteReport) float64 {
	if len(r.Cases) == 0 {
		return 0
	}
	var total float64
	for _, c := range r.Cases {
		total += c.DurationMS
	}
	return total / float64(len(r.Cases))
}

func printReport(r *Report) {
	fmt.Printf("Suite %s\n\n", r.Suite)
	for _, m := range r.Metrics {
		mark := " "
		if m.IsRegressed {
			mark = "!"
		}
		fmt.Printf("%s %-14s %10.3f  (baseline %.3f, %+.3f)\n", mark, m.Name, m.Current, m.Baseline, m.Delta)
	}
	for _, id := range r.NewlyFailing {
		fmt.Printf("! %s now fails\n", id)
	}
	for _, id := range r.NewlyPassing {
		fmt.Printf("  %s now passes\n", id)
	}
	fmt.Println()
	if r.RegressionSeen {
		fmt.Println("REGRESSION")
		return
	}
	fmt.Println("OK")
}
