package service

import (
	"context"
	"time"

	"github.com/Aman-CERP/recall/internal/eval"
	"github.com/Aman-CERP/recall/internal/search"
	"github.com/Aman-CERP/recall/internal/validate"
)

// Benchmark runs query once under a stopwatch, captures its plan and
// checks it against the regression guard.
func (s *Service) Benchmark(ctx context.Context, req BenchmarkRequest) (*BenchmarkResponse, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	mode, err := search.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	n := req.N
	if n == 0 {
		n = s.cfg.Benchmark.DefaultN
	}
	threshold := req.ThresholdMS
	if threshold == 0 {
		threshold = s.cfg.Benchmark.ThresholdMS
	}

	report, err := s.harness.Run(ctx, req.Query, mode, n)
	if err != nil {
		return nil, err
	}

	resp := &BenchmarkResponse{Report: *report, ThresholdMS: max(threshold, 0), Passed: true}
	limit := time.Duration(threshold * float64(time.Millisecond))
	if err := report.Assert(limit); err != nil {
		resp.Passed = false
		resp.Failure = err.Error()
	}
	return resp, nil
}

// BenchmarkSuite runs the evaluation suite at path against the engine.
func (s *Service) BenchmarkSuite(ctx context.Context, path string) (*eval.SuiteReport, error) {
	suite, err := eval.LoadSuite(path)
	if err != nil {
		return nil, err
	}
	return eval.Run(ctx, s.engine, suite)
}
