package backtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-trader-go/internal/execution"
	"paper-trader-go/internal/feed"
	"paper-trader-go/internal/market"
	"paper-trader-go/internal/metrics"
	"paper-trader-go/internal/orders"
	"paper-trader-go/internal/portfolio"
	"paper-trader-go/internal/risk"
	"paper-trader-go/internal/strategy"
)

// Config is the static setup of a replay.
type Config struct {
	InitialCash  decimal.Decimal              `json:"initial_cash"`
	Timeframe    market.Timeframe             `json:"timeframe"`
	Limits       risk.Limits                  `json:"limits"`
	Execution    execution.Config             `json:"execution"`
	Instruments  map[string]market.Instrument `json:"instruments,omitempty"`
	RiskFreeRate float64                      `json:"risk_free_rate"`
	AllowGaps    bool                         `json:"allow_gaps"`
}

// Engine replays bar feeds through a strategy. It holds no run state, so one
// Engine may serve concurrent runs.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// NewEngine checks cfg once so individual runs cannot fail on configuration.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	if !cfg.InitialCash.IsPositive() {
		return nil, errors.New("initial cash must be positive")
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	if _, err := execution.New(cfg.Execution, zap.NewNop()); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, logger: logger.Named("backtest")}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// run is the mutable state of one replay.
type run struct {
	logger   *zap.Logger
	mgr      *orders.Manager
	sim      *execution.Simulator
	strat    strategy.Strategy
	result   *Result
	outcomes []strategy.Outcome
	pending  *market.Bar
}

// Run replays f through strat until the feed is exhausted, ctx is cancelled or
// the feed reports bad data. Bars sharing a timestamp form one tick.
func (e *Engine) Run(ctx context.Context, f feed.Feed, strat strategy.Strategy) (*Result, error) {
	r, err := e.newRun(strat)
	if err != nil {
		return nil, err
	}
	src := feed.Validate(f, feed.ValidateOptions{Interval: e.cfg.Timeframe.Duration, AllowGaps: e.cfg.AllowGaps})
	defer func() {
		if err := src.Close(); err != nil {
			r.logger.Warn("Failed to close feed", zap.Error(err))
		}
	}()

	r.logger.Info("Starting backtest", zap.String("strategy", strat.Name()), zap.String("timeframe", e.cfg.Timeframe.Key))
	for {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("Backtest cancelled", zap.Int("ticks", r.result.Ticks), zap.Error(err))
			return e.finish(r, "run cancelled"), err
		}
		at, bars, err := r.nextTick(ctx, src)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, market.ErrData) {
				r.logger.Error("Aborting backtest on bad data", zap.Error(err))
			}
			return e.finish(r, "run aborted"), err
		}
		r.step(at, bars)
	}

	res := e.finish(r, "end of data")
	res.Completed = true
	r.logger.Info("Backtest complete",
		zap.Int("ticks", res.Ticks),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("total_return", res.Metrics.TotalReturn),
		zap.Float64("sharpe", res.Metrics.Sharpe))
	return res, nil
}

func (e *Engine) newRun(strat strategy.Strategy) (*run, error) {
	id := uuid.New()
	logger := e.logger.With(zap.String("run_id", id.String()))

	sim, err := execution.New(e.cfg.Execution, logger)
	if err != nil {
		return nil, err
	}
	riskEngine, err := risk.NewEngine(e.cfg.Limits, logger)
	if err != nil {
		return nil, err
	}
	mgr, err := orders.NewManager(orders.Config{
		Portfolio:   portfolio.New(e.cfg.InitialCash),
		Risk:        riskEngine,
		Fees:        sim,
		Instruments: e.cfg.Instruments,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &run{
		logger: logger,
		mgr:    mgr,
		sim:    sim,
		strat:  strat,
		result: &Result{RunID: id, Strategy: strat.Name(), Config: e.cfg},
	}, nil
}

// nextTick reads every bar of the next timestamp. The first bar of the
// following tick is held back for the next call.
func (r *run) nextTick(ctx context.Context, src feed.Feed) (time.Time, []market.Bar, error) {
	var bars []market.Bar
	if r.pending != nil {
		bars = append(bars, *r.pending)
		r.pending = nil
	}
	for {
		bar, err := src.Next(ctx)
		if errors.Is(err, io.EOF) && len(bars) > 0 {
			return bars[0].Time, bars, nil
		}
		if err != nil {
			return time.Time{}, nil, err
		}
		if len(bars) > 0 && !bar.Time.Equal(bars[0].Time) {
			r.pending = &bar
			return bars[0].Time, bars, nil
		}
		bars = append(bars, bar)
	}
}

// step runs one tick: marks, fills, risk state, strategy, equity sample.
func (r *run) step(at time.Time, bars []market.Bar) {
	r.mgr.BeginTick(at, bars)
	fills := r.mgr.MatchBars(bars, r.sim)
	r.mgr.Observe(at, bars)

	tick := strategy.Tick{
		Time:      at,
		Bars:      make(map[string]market.Bar, len(bars)),
		Portfolio: r.mgr.Snapshot(),
		Open:      r.mgr.Open(),
		Outcomes:  r.outcomes,
	}
	for _, b := range bars {
		tick.Bars[b.Symbol] = b
	}

	r.outcomes = nil
	decision, err := r.strat.OnTick(tick)
	if err != nil {
		r.logger.Warn("Strategy failed on tick", zap.Time("time", at), zap.Error(err))
	} else if !decision.Empty() {
		var rejected []Rejection
		r.outcomes, rejected = Route(r.mgr, at, decision)
		r.result.Rejections = append(r.result.Rejections, rejected...)
	}

	snap := r.mgr.Snapshot()
	r.result.EquityCurve = append(r.result.EquityCurve, portfolio.EquityPoint{Time: at, Equity: snap.Equity, Cash: snap.Cash})
	if r.result.Ticks == 0 {
		r.result.Start = at
	}
	r.result.End = at
	r.result.Ticks++

	if len(fills) > 0 {
		r.logger.Debug("Tick filled orders", zap.Time("time", at), zap.Int("fills", len(fills)))
	}
}

// Route sends a decision to the order manager, cancellations first, and
// reports one outcome per request. Refused submissions are also returned as
// rejections.
func Route(mgr *orders.Manager, at time.Time, d strategy.Decision) ([]strategy.Outcome, []Rejection) {
	var (
		out      []strategy.Outcome
		rejected []Rejection
	)
	record := func(tag string, err error, legs ...orders.Order) {
		ids := make([]orders.ID, len(legs))
		for i, o := range legs {
			ids[i] = o.ID
		}
		if err != nil {
			rejected = append(rejected, Rejection{Time: at, Tag: tag, OrderIDs: ids, Reason: err.Error()})
		}
		out = append(out, outcome(tag, ids, legs[0].Status, err))
	}

	for _, id := range d.Cancels {
		o, err := mgr.Cancel(id)
		out = append(out, outcome(o.Tag, []orders.ID{id}, o.Status, err))
	}
	for _, req := range d.Orders {
		o, err := mgr.Submit(req)
		record(req.Tag, err, o)
	}
	for _, req := range d.OCOs {
		legs, err := mgr.SubmitOCO(req)
		record(req.First.Tag, err, legs[:]...)
	}
	for _, req := range d.Brackets {
		legs, err := mgr.SubmitBracket(req)
		record(req.Entry.Tag, err, legs[:]...)
	}
	return out, rejected
}

func outcome(tag string, ids []orders.ID, status orders.Status, err error) strategy.Outcome {
	o := strategy.Outcome{Tag: tag, OrderIDs: ids, Status: status}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// finish expires what is still working and derives the report.
func (e *Engine) finish(r *run, reason string) *Result {
	r.mgr.ExpireAll(reason)

	res := r.result
	res.FinalEquity = r.mgr.Equity()
	res.Trades = r.mgr.Trades()
	res.Fills = r.mgr.Fills()
	res.Orders = r.mgr.Orders()
	res.Positions = r.mgr.Positions()
	res.Metrics = metrics.Compute(res.EquityCurve, res.Trades, e.cfg.RiskFreeRate, e.cfg.Timeframe.PeriodsPerYear())
	return res
}

// RunFor is Run over an in-memory bar set, used by walk-forward windows.
func (e *Engine) RunFor(ctx context.Context, bars []market.Bar, strat strategy.Strategy) (*Result, error) {
	res, err := e.Run(ctx, feed.NewSlice(bars), strat)
	if err != nil {
		return res, fmt.Errorf("replay %s: %w", strat.Name(), err)
	}
	return res, nil
}
