package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"paper-trader-go/internal/market"
	"paper-trader-go/internal/metrics"
	"paper-trader-go/internal/strategy"
)

// Span is an inclusive time range covering Ticks timestamps.
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Ticks int       `json:"ticks"`
}

// Contains reports whether t lies within the span.
func (s Span) Contains(t time.Time) bool {
	return !t.Before(s.Start) && !t.After(s.End)
}

// Window is one train/test split of a walk-forward analysis.
type Window struct {
	Index int  `json:"index"`
	Train Span `json:"train"`
	Test  Span `json:"test"`
}

// Partition splits the distinct timestamps of bars into contiguous windows of
// train ticks followed by test ticks, advancing by step ticks. A step of zero
// advances by the test length so test ranges never overlap.
func Partition(bars []market.Bar, train, test, step int) ([]Window, error) {
	if train <= 0 || test <= 0 || step < 0 {
		return nil, fmt.Errorf("invalid walk-forward sizes train=%d test=%d step=%d", train, test, step)
	}
	if step == 0 {
		step = test
	}
	times := timestamps(bars)
	var windows []Window
	for i := 0; i+train+test <= len(times); i += step {
		windows = append(windows, Window{
			Index: len(windows),
			Train: Span{Start: times[i], End: times[i+train-1], Ticks: train},
			Test:  Span{Start: times[i+train], End: times[i+train+test-1], Ticks: test},
		})
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("%d ticks are too few for train=%d test=%d", len(times), train, test)
	}
	return windows, nil
}

func timestamps(bars []market.Bar) []time.Time {
	all := make([]time.Time, len(bars))
	for i, b := range bars {
		all[i] = b.Time
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })
	var out []time.Time
	for _, t := range all {
		if n := len(out); n == 0 || !out[n-1].Equal(t) {
			out = append(out, t)
		}
	}
	return out
}

func slice(bars []market.Bar, span Span) []market.Bar {
	var out []market.Bar
	for _, b := range bars {
		if span.Contains(b.Time) {
			out = append(out, b)
		}
	}
	return out
}

// Candidate is one strategy configuration under evaluation. Build must return
// a fresh instance each call because strategies keep per-run state.
type Candidate struct {
	Name   string                            `json:"name"`
	Params strategy.Params                   `json:"params"`
	Build  func() (strategy.Strategy, error) `json:"-"`
}

// Candidates expands a parameter grid into candidates of the named built-in strategy.
func Candidates(name string, base strategy.Params, grid map[string][]float64, sizing strategy.Sizing) []Candidate {
	var out []Candidate
	for _, p := range strategy.Grid(grid) {
		params := base.With(p)
		out = append(out, Candidate{
			Name:   name,
			Params: params,
			Build:  func() (strategy.Strategy, error) { return strategy.New(name, params, sizing) },
		})
	}
	return out
}

// WalkForwardOptions configures a walk-forward analysis.
type WalkForwardOptions struct {
	Train       int
	Test        int
	Step        int
	Objective   metrics.Objective
	Concurrency int
}

// WindowResult is the outcome of one window.
type WindowResult struct {
	Window     Window          `json:"window"`
	Best       string          `json:"best"`
	Params     strategy.Params `json:"params"`
	TrainScore float64         `json:"train_score"`
	TestScore  float64         `json:"test_score"`
	Train      metrics.Report  `json:"train"`
	Test       *Result         `json:"test"`
}

// WalkForwardReport lists window results in window order.
type WalkForwardReport struct {
	Objective     metrics.Objective `json:"objective"`
	Windows       []WindowResult    `json:"windows"`
	MeanTestScore float64           `json:"mean_test_score"`
}

// WalkForward optimises candidates on every train range and replays the best
// on the following test range. Windows run concurrently; each replay is
// sequential.
func (e *Engine) WalkForward(ctx context.Context, bars []market.Bar, candidates []Candidate, opts WalkForwardOptions) (*WalkForwardReport, error) {
	if len(candidates) == 0 {
		return nil, errors.New("walk-forward needs at least one candidate")
	}
	windows, err := Partition(bars, opts.Train, opts.Test, opts.Step)
	if err != nil {
		return nil, err
	}
	if opts.Objective == "" {
		opts.Objective = metrics.ObjectiveSharpe
	}

	results := make([]WindowResult, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			res, err := e.runWindow(gctx, w, bars, candidates, opts.Objective)
			if err != nil {
				return fmt.Errorf("window %d: %w", w.Index, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &WalkForwardReport{Objective: opts.Objective, Windows: results}
	for _, r := range results {
		report.MeanTestScore += r.TestScore
	}
	report.MeanTestScore /= float64(len(results))
	e.logger.Info("Walk-forward complete",
		zap.Int("windows", len(results)),
		zap.String("objective", string(opts.Objective)),
		zap.Float64("mean_test_score", report.MeanTestScore))
	return report, nil
}

func (e *Engine) runWindow(ctx context.Context, w Window, bars []market.Bar, candidates []Candidate, objective metrics.Objective) (WindowResult, error) {
	train := slice(bars, w.Train)
	best, bestScore := -1, math.Inf(-1)
	var bestReport metrics.Report
	for i, c := range candidates {
		strat, err := c.Build()
		if err != nil {
			return WindowResult{}, err
		}
		res, err := e.RunFor(ctx, train, strat)
		if err != nil {
			return WindowResult{}, err
		}
		// Ties keep the earlier candidate.
		if score := comparable(res.Metrics.Score(objective)); best < 0 || score > bestScore {
			best, bestScore, bestReport = i, score, res.Metrics
		}
	}

	strat, err := candidates[best].Build()
	if err != nil {
		return WindowResult{}, err
	}
	test, err := e.RunFor(ctx, slice(bars, w.Test), strat)
	if err != nil {
		return WindowResult{}, err
	}
	e.logger.Debug("Walk-forward window done",
		zap.Int("window", w.Index),
		zap.String("params", candidates[best].Params.String()),
		zap.Float64("train_score", bestScore))
	return WindowResult{
		Window:     w,
		Best:       candidates[best].Name,
		Params:     candidates[best].Params,
		TrainScore: bestScore,
		TestScore:  comparable(test.Metrics.Score(objective)),
		Train:      bestReport,
		Test:       test,
	}, nil
}

func comparable(score float64) float64 {
	if math.IsNaN(score) {
		return math.Inf(-1)
	}
	return score
}
