package trader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-trader-go/internal/backtest"
	"paper-trader-go/internal/execution"
	"paper-trader-go/internal/feed"
	"paper-trader-go/internal/market"
	"paper-trader-go/internal/metrics"
	"paper-trader-go/internal/models"
	"paper-trader-go/internal/orders"
	"paper-trader-go/internal/portfolio"
	"paper-trader-go/internal/risk"
	"paper-trader-go/internal/strategy"
)

// Config is the static setup of a paper session.
type Config struct {
	Name         string
	Symbols      []string
	Timeframe    market.Timeframe
	InitialCash  decimal.Decimal
	Limits       risk.Limits
	Execution    execution.Config
	Instruments  map[string]market.Instrument
	RiskFreeRate float64
}

// Recorder persists what a session produces.
type Recorder interface {
	SaveTrade(ctx context.Context, runID string, t portfolio.TradeLogEntry, simulation bool) error
	SaveResult(ctx context.Context, mode, label string, res *backtest.Result) error
}

// Engine runs a strategy against a live bar feed on a simulated account.
// Orders may also be submitted and cancelled concurrently through the API.
type Engine struct {
	UUID      string
	Name      string
	StartTime time.Time

	logger   *zap.Logger
	cfg      Config
	feed     feed.Feed
	strategy strategy.Strategy
	mgr      *orders.Manager
	sim      *execution.Simulator
	recorder Recorder

	mu           sync.RWMutex
	curve        portfolio.EquityCurve
	ticks        int
	lastBar      time.Time
	lastBySymbol map[string]time.Time
	outcomes     []strategy.Outcome
	rejections   []backtest.Rejection
	recorded     int
	running      bool
}

// NewEngine creates a paper-trading engine. recorder may be nil.
func NewEngine(cfg Config, src feed.Feed, strat strategy.Strategy, recorder Recorder, logger *zap.Logger) (*Engine, error) {
	if !cfg.InitialCash.IsPositive() {
		return nil, errors.New("paper initial cash must be positive")
	}
	id := uuid.NewString()
	logger = logger.Named("trader").With(zap.String("session", id))

	sim, err := execution.New(cfg.Execution, logger)
	if err != nil {
		return nil, err
	}
	riskEngine, err := risk.NewEngine(cfg.Limits, logger)
	if err != nil {
		return nil, err
	}
	mgr, err := orders.NewManager(orders.Config{
		Portfolio:   portfolio.New(cfg.InitialCash),
		Risk:        riskEngine,
		Fees:        sim,
		Instruments: cfg.Instruments,
	}, logger)
	if err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = "paper-" + id[:8]
	}
	return &Engine{
		UUID:     id,
		Name:     name,
		logger:   logger,
		cfg:      cfg,
		feed:     src,
		strategy: strat,
		mgr:      mgr,
		sim:      sim,
		recorder: recorder,

		lastBySymbol: make(map[string]time.Time),
	}, nil
}

// Warmup primes the strategy with historical bars. Its decisions are
// discarded because the account did not exist yet.
func (e *Engine) Warmup(bars []market.Bar) {
	for _, bar := range bars {
		snap := e.mgr.Snapshot()
		tick := strategy.Tick{Time: bar.Time, Bars: map[string]market.Bar{bar.Symbol: bar}, Portfolio: snap}
		if _, err := e.strategy.OnTick(tick); err != nil {
			e.logger.Warn("Strategy failed during warmup", zap.Time("time", bar.Time), zap.Error(err))
		}
	}
	e.logger.Info("Strategy warmed up", zap.Int("bars", len(bars)))
}

// Run processes closed bars until ctx is cancelled or the feed ends. Each bar
// is one tick. Working orders are expired and the session is recorded on exit.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.StartTime = time.Now()
	e.running = true
	e.mu.Unlock()

	e.logger.Info("Starting paper session",
		zap.String("strategy", e.strategy.Name()),
		zap.Strings("symbols", e.cfg.Symbols),
		zap.String("timeframe", e.cfg.Timeframe.Key))

	var runErr error
	for {
		bar, err := e.feed.Next(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if err != nil {
			runErr = fmt.Errorf("paper feed: %w", err)
			e.logger.Error("Stopping paper session on feed error", zap.Error(err))
			break
		}
		err = bar.Validate()
		if err == nil {
			err = e.process(ctx, bar)
		}
		if err != nil {
			runErr = fmt.Errorf("paper feed: %w", err)
			e.logger.Error("Stopping paper session on bad data", zap.Error(err))
			break
		}
	}

	e.stop(context.WithoutCancel(ctx))
	return runErr
}

// process runs the tick protocol for one closed bar. A repeat of the last
// bar of a symbol, as sent again after a reconnect, is dropped; an earlier
// bar is market.ErrData.
func (e *Engine) process(ctx context.Context, bar market.Bar) error {
	e.mu.Lock()
	if last, seen := e.lastBySymbol[bar.Symbol]; seen && !bar.Time.After(last) {
		e.mu.Unlock()
		if bar.Time.Equal(last) {
			e.logger.Warn("Dropping repeated bar", zap.String("symbol", bar.Symbol), zap.Time("time", bar.Time))
			return nil
		}
		return fmt.Errorf("%w: bar %s@%s arrived after %s", market.ErrData, bar.Symbol,
			bar.Time.Format(time.RFC3339), last.Format(time.RFC3339))
	}
	e.lastBySymbol[bar.Symbol] = bar.Time
	// Sample once per timestamp, after every symbol of it has been processed.
	if e.ticks > 0 && bar.Time.After(e.lastBar) {
		e.sampleLocked(e.lastBar)
	}
	outcomes := e.outcomes
	e.mu.Unlock()

	bars := []market.Bar{bar}
	e.mgr.BeginTick(bar.Time, bars)
	fills := e.mgr.MatchBars(bars, e.sim)
	e.mgr.Observe(bar.Time, bars)
	for _, f := range fills {
		e.logger.Info("Order filled",
			zap.Uint64("order_id", f.OrderID),
			zap.String("symbol", f.Symbol),
			zap.String("side", string(f.Side)),
			zap.String("quantity", f.Quantity.String()),
			zap.String("price", f.Price.String()))
	}

	tick := strategy.Tick{
		Time:      bar.Time,
		Bars:      map[string]market.Bar{bar.Symbol: bar},
		Portfolio: e.mgr.Snapshot(),
		Open:      e.mgr.Open(),
		Outcomes:  outcomes,
	}
	var (
		next     []strategy.Outcome
		rejected []backtest.Rejection
	)
	decision, err := e.strategy.OnTick(tick)
	if err != nil {
		e.logger.Warn("Strategy failed on tick", zap.Time("time", bar.Time), zap.Error(err))
	} else if !decision.Empty() {
		next, rejected = backtest.Route(e.mgr, bar.Time, decision)
	}

	e.mu.Lock()
	e.outcomes = next
	e.rejections = append(e.rejections, rejected...)
	e.ticks++
	if bar.Time.After(e.lastBar) {
		e.lastBar = bar.Time
	}
	e.mu.Unlock()

	e.recordTrades(ctx)
	return nil
}

// sampleLocked appends an equity sample for the timestamp that just completed.
func (e *Engine) sampleLocked(at time.Time) {
	snap := e.mgr.Snapshot()
	e.curve = append(e.curve, portfolio.EquityPoint{Time: at, Equity: snap.Equity, Cash: snap.Cash})
}

func (e *Engine) recordTrades(ctx context.Context) {
	trades := e.mgr.Trades()
	e.mu.Lock()
	fresh := trades[e.recorded:]
	e.recorded = len(trades)
	e.mu.Unlock()

	for _, t := range fresh {
		e.logger.Info("Trade closed",
			zap.String("symbol", t.Symbol),
			zap.String("net_pnl", t.NetPnL.String()),
			zap.Duration("holding", t.Holding))
		if e.recorder == nil {
			continue
		}
		if err := e.recorder.SaveTrade(ctx, e.UUID, t, false); err != nil {
			e.logger.Error("Failed to save trade record to database", zap.Error(err))
		}
	}
}

func (e *Engine) stop(ctx context.Context) {
	n := e.mgr.ExpireAll("session stopped")
	e.mu.Lock()
	if e.ticks > 0 {
		e.sampleLocked(e.lastBar)
	}
	e.running = false
	ticks := e.ticks
	e.mu.Unlock()
	e.logger.Info("Stopping paper session", zap.Int("ticks", ticks), zap.Int("expired", n))

	if e.recorder == nil {
		return
	}
	res := e.Result()
	// Trades were recorded as they closed.
	res.Trades = nil
	if err := e.recorder.SaveResult(ctx, models.ModePaper, e.Name, res); err != nil {
		e.logger.Error("Failed to save paper session", zap.Error(err))
	}
}

// Submit places an order on the session account.
func (e *Engine) Submit(req orders.Request) (orders.Order, error) {
	return e.mgr.Submit(req)
}

// SubmitOCO places an OCO pair on the session account.
func (e *Engine) SubmitOCO(req orders.OCORequest) ([2]orders.Order, error) {
	return e.mgr.SubmitOCO(req)
}

// SubmitBracket places a bracket group on the session account.
func (e *Engine) SubmitBracket(req orders.BracketRequest) ([3]orders.Order, error) {
	return e.mgr.SubmitBracket(req)
}

// Cancel cancels a working order.
func (e *Engine) Cancel(id orders.ID) (orders.Order, error) {
	return e.mgr.Cancel(id)
}

// Preview checks an order without placing it.
func (e *Engine) Preview(req orders.Request) error {
	return e.mgr.Preview(req)
}

// Order looks up one order.
func (e *Engine) Order(id orders.ID) (orders.Order, bool) {
	return e.mgr.Order(id)
}

// Orders lists all orders, or only working ones.
func (e *Engine) Orders(openOnly bool) []orders.Order {
	if openOnly {
		return e.mgr.Open()
	}
	return e.mgr.Orders()
}

// Portfolio returns a snapshot of the session account.
func (e *Engine) Portfolio() portfolio.Snapshot {
	return e.mgr.Snapshot()
}

// Status is the session summary served by the API.
type Status struct {
	UUID       string          `json:"uuid"`
	Name       string          `json:"name"`
	Strategy   string          `json:"strategy"`
	StartTime  string          `json:"start_time"`
	Uptime     string          `json:"uptime"`
	Running    bool            `json:"running"`
	Ticks      int             `json:"ticks"`
	LastBar    time.Time       `json:"last_bar"`
	Equity     decimal.Decimal `json:"equity"`
	Cash       decimal.Decimal `json:"cash"`
	OpenOrders int             `json:"open_orders"`
	Halted     bool            `json:"halted"`
	Rejections int             `json:"rejections"`
}

// Status reports the current state of the session.
func (e *Engine) Status() Status {
	snap := e.mgr.Snapshot()
	state := e.mgr.RiskState()
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Status{
		UUID:       e.UUID,
		Name:       e.Name,
		Strategy:   e.strategy.Name(),
		Running:    e.running,
		Ticks:      e.ticks,
		LastBar:    e.lastBar,
		Equity:     snap.Equity,
		Cash:       snap.Cash,
		OpenOrders: len(e.mgr.Open()),
		Halted:     state.Halted(),
		Rejections: len(e.rejections),
	}
	if !e.StartTime.IsZero() {
		s.StartTime = e.StartTime.Format(time.RFC3339)
		s.Uptime = time.Since(e.StartTime).Truncate(time.Second).String()
	}
	return s
}

// Result summarises the session in the same shape as a backtest.
func (e *Engine) Result() *backtest.Result {
	e.mu.RLock()
	curve := append(portfolio.EquityCurve(nil), e.curve...)
	res := &backtest.Result{
		Strategy:    e.strategy.Name(),
		Ticks:       e.ticks,
		Rejections:  append([]backtest.Rejection(nil), e.rejections...),
		EquityCurve: curve,
		Config: backtest.Config{
			InitialCash:  e.cfg.InitialCash,
			Timeframe:    e.cfg.Timeframe,
			Limits:       e.cfg.Limits,
			Execution:    e.cfg.Execution,
			Instruments:  e.cfg.Instruments,
			RiskFreeRate: e.cfg.RiskFreeRate,
		},
	}
	e.mu.RUnlock()

	if id, err := uuid.Parse(e.UUID); err == nil {
		res.RunID = id
	}
	if len(curve) > 0 {
		res.Start, res.End = curve[0].Time, curve[len(curve)-1].Time
	}
	res.FinalEquity = e.mgr.Equity()
	res.Trades = e.mgr.Trades()
	res.Fills = e.mgr.Fills()
	res.Orders = e.mgr.Orders()
	res.Positions = e.mgr.Positions()
	res.Metrics = metrics.Compute(curve, res.Trades, e.cfg.RiskFreeRate, e.cfg.Timeframe.PeriodsPerYear())
	return res
}
