package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"paper-trader-go/internal/backtest"
	"paper-trader-go/internal/feed"
	"paper-trader-go/internal/market"
	"paper-trader-go/internal/metrics"
	"paper-trader-go/internal/models"
	"paper-trader-go/internal/strategy"
	"paper-trader-go/internal/trader"
)

var strategyFlag = &cli.StringFlag{
	Name:  "strategy",
	Usage: "override strategy.name (" + strings.Join(strategy.Names(), ", ") + ")",
}

var persistFlag = &cli.BoolFlag{
	Name:  "persist",
	Usage: "store the run in the configured database",
}

var labelFlag = &cli.StringFlag{
	Name:  "label",
	Usage: "free-form label stored with the run",
}

var backtestCommand = &cli.Command{
	Name:   "backtest",
	Usage:  "replay the configured history through a strategy",
	Flags:  []cli.Flag{strategyFlag, persistFlag, labelFlag, &cli.BoolFlag{Name: "montecarlo", Usage: "resample the closed trades"}},
	Action: runBacktest,
}

var walkForwardCommand = &cli.Command{
	Name:   "walkforward",
	Usage:  "optimise on rolling train windows and replay the best parameters out of sample",
	Flags:  []cli.Flag{strategyFlag, persistFlag},
	Action: runWalkForward,
}

var paperCommand = &cli.Command{
	Name:   "paper",
	Usage:  "paper trade live Binance klines and serve the order API",
	Flags:  []cli.Flag{strategyFlag, &cli.StringFlag{Name: "name", Usage: "session name"}},
	Action: runPaper,
}

type backtestSummary struct {
	RunID       string                     `json:"run_id"`
	Strategy    string                     `json:"strategy"`
	Start       time.Time                  `json:"start"`
	End         time.Time                  `json:"end"`
	Ticks       int                        `json:"ticks"`
	Completed   bool                       `json:"completed"`
	FinalEquity decimal.Decimal            `json:"final_equity"`
	Rejections  int                        `json:"rejections"`
	Metrics     metrics.Report             `json:"metrics"`
	MonteCarlo  *backtest.MonteCarloReport `json:"monte_carlo,omitempty"`
}

func summarize(res *backtest.Result) backtestSummary {
	return backtestSummary{
		RunID:       res.RunID.String(),
		Strategy:    res.Strategy,
		Start:       res.Start,
		End:         res.End,
		Ticks:       res.Ticks,
		Completed:   res.Completed,
		FinalEquity: res.FinalEquity,
		Rejections:  len(res.Rejections),
		Metrics:     res.Metrics,
	}
}

func runBacktest(c *cli.Context) error {
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.close()
	ctx := c.Context

	tf, err := market.ParseTimeframe(s.cfg.Backtest.Timeframe)
	if err != nil {
		return err
	}
	src, instruments, err := s.history(ctx, tf)
	if err != nil {
		return err
	}
	strat, err := s.strategy()
	if err != nil {
		return err
	}
	engine, err := s.engine(tf, instruments)
	if err != nil {
		return err
	}

	res, runErr := engine.Run(ctx, src, strat)
	if res == nil {
		return runErr
	}
	summary := summarize(res)

	if c.Bool("montecarlo") {
		mc, err := backtest.MonteCarlo(res.TradeReturns(), s.cfg.Backtest.InitialCash, backtest.MonteCarloOptions{
			Iterations: s.cfg.MonteCarlo.Iterations,
			Seed:       s.cfg.MonteCarlo.Seed,
		})
		switch {
		case errors.Is(err, backtest.ErrNoTrades):
			s.log.Warn("Skipping Monte Carlo without closed trades")
		case err != nil:
			return err
		default:
			summary.MonteCarlo = &mc
		}
	}

	if s.cfg.Backtest.Persist || c.Bool("persist") {
		store, err := s.store()
		if err != nil {
			return err
		}
		if err := store.SaveResult(context.WithoutCancel(ctx), models.ModeBacktest, c.String("label"), res); err != nil {
			return err
		}
		s.log.Info("Run stored", zap.String("run_id", summary.RunID))
	}

	if err := printJSON(summary); err != nil {
		return err
	}
	return runErr
}

type windowSummary struct {
	Index       int             `json:"index"`
	Train       backtest.Span   `json:"train"`
	Test        backtest.Span   `json:"test"`
	Best        string          `json:"best"`
	Params      strategy.Params `json:"params"`
	TrainScore  float64         `json:"train_score"`
	TestScore   float64         `json:"test_score"`
	TestRunID   string          `json:"test_run_id"`
	TestMetrics metrics.Report  `json:"test_metrics"`
}

func runWalkForward(c *cli.Context) error {
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.close()
	ctx := c.Context

	tf, err := market.ParseTimeframe(s.cfg.Backtest.Timeframe)
	if err != nil {
		return err
	}
	src, instruments, err := s.history(ctx, tf)
	if err != nil {
		return err
	}
	bars, err := feed.Collect(ctx, src)
	if closeErr := src.Close(); closeErr != nil {
		s.log.Warn("Failed to close feed", zap.Error(closeErr))
	}
	if err != nil {
		return err
	}
	s.log.Info("History loaded", zap.Int("bars", len(bars)))

	engine, err := s.engine(tf, instruments)
	if err != nil {
		return err
	}
	wf := s.cfg.WalkForward
	candidates := backtest.Candidates(s.cfg.Strategy.Name, strategy.Params(s.cfg.Strategy.Params), wf.Grid, s.cfg.Strategy.Sizing())
	report, err := engine.WalkForward(ctx, bars, candidates, backtest.WalkForwardOptions{
		Train:       wf.TrainBars,
		Test:        wf.TestBars,
		Step:        wf.StepBars,
		Objective:   metrics.Objective(wf.Objective),
		Concurrency: wf.Concurrency,
	})
	if err != nil {
		return err
	}

	if s.cfg.Backtest.Persist || c.Bool("persist") {
		store, err := s.store()
		if err != nil {
			return err
		}
		for _, w := range report.Windows {
			label := fmt.Sprintf("window %d", w.Window.Index)
			if err := store.SaveResult(context.WithoutCancel(ctx), models.ModeWalkForward, label, w.Test); err != nil {
				return err
			}
		}
	}

	out := struct {
		Objective     metrics.Objective `json:"objective"`
		MeanTestScore float64           `json:"mean_test_score"`
		Candidates    int               `json:"candidates"`
		Windows       []windowSummary   `json:"windows"`
	}{Objective: report.Objective, MeanTestScore: report.MeanTestScore, Candidates: len(candidates)}
	for _, w := range report.Windows {
		out.Windows = append(out.Windows, windowSummary{
			Index:       w.Window.Index,
			Train:       w.Window.Train,
			Test:        w.Window.Test,
			Best:        w.Best,
			Params:      w.Params,
			TrainScore:  w.TrainScore,
			TestScore:   w.TestScore,
			TestRunID:   w.Test.RunID.String(),
			TestMetrics: w.Test.Metrics,
		})
	}
	return printJSON(out)
}

func runPaper(c *cli.Context) error {
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.close()
	ctx := c.Context

	paper := s.cfg.Paper
	tf, err := market.ParseTimeframe(paper.Timeframe)
	if err != nil {
		return fmt.Errorf("paper.timeframe: %w", err)
	}
	symbols := paper.Symbols
	if len(symbols) == 0 {
		symbols = s.cfg.Backtest.Symbols
	}
	if len(symbols) == 0 {
		return errors.New("paper.symbols must not be empty")
	}

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	instruments, err := client.GetInstruments(ctx, symbols)
	if err != nil {
		return err
	}
	store, err := s.store()
	if err != nil {
		return err
	}
	strat, err := s.strategy()
	if err != nil {
		return err
	}

	stream := feed.NewStream(feed.StreamURL(s.cfg.Binance.Testnet, symbols, tf.SourceInterval), s.log)
	defer stream.Close()

	engine, err := trader.NewEngine(trader.Config{
		Name:         c.String("name"),
		Symbols:      symbols,
		Timeframe:    tf,
		InitialCash:  decimal.NewFromFloat(paper.InitialCash),
		Limits:       s.cfg.Risk.Limits(),
		Execution:    s.cfg.Execution.Simulator(),
		Instruments:  instruments,
		RiskFreeRate: s.cfg.Backtest.RiskFreeRate,
	}, stream, strat, store, s.log)
	if err != nil {
		return err
	}

	if paper.WarmupBars > 0 {
		// The bar opening at the aligned current time is still forming.
		end := tf.Align(time.Now().UTC())
		start := end.Add(-time.Duration(paper.WarmupBars) * tf.Duration)
		bars, err := feed.Collect(ctx, feed.NewHistories(client, symbols, tf, start, end, s.log))
		if err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
		engine.Warmup(bars)
	}

	if err := stream.Start(ctx); err != nil {
		return err
	}

	api := trader.NewAPIServer(engine, s.cfg.Server.Port, s.log)
	api.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := api.Stop(shutdownCtx); err != nil {
			s.log.Error("API server shutdown failed", zap.Error(err))
		}
	}()

	err = engine.Run(ctx)
	s.log.Info("Paper session has been shut down.", zap.String("session", engine.Name))
	return err
}
