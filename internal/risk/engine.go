package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-trader-go/internal/market"
	"paper-trader-go/internal/portfolio"
)

// Rule names the check that produced a decision.
type Rule string

const (
	RuleNone         Rule = ""
	RuleDailyLoss    Rule = "daily_loss_halt"
	RuleDrawdown     Rule = "drawdown_halt"
	RulePositionSize Rule = "max_position_size"
	RuleRiskPerTrade Rule = "max_risk_per_trade"
	RuleVaR          Rule = "max_portfolio_var"
	RuleNoEquity     Rule = "no_equity"
)

// Request is the risk-relevant view of an order.
// Price is the expected entry price; StopPrice is the protective stop, zero if none.
type Request struct {
	Symbol    string
	Side      market.Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	StopPrice decimal.Decimal
	Time      time.Time
}

// Decision is the outcome of a risk check.
type Decision struct {
	Allowed bool
	Rule    Rule
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(rule Rule, format string, args ...any) Decision {
	return Decision{Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Engine evaluates orders against static limits. Check never mutates its
// inputs, so it may run concurrently against a consistent snapshot.
type Engine struct {
	limits Limits
	logger *zap.Logger
}

// NewEngine creates a risk engine with validated limits.
func NewEngine(limits Limits, logger *zap.Logger) (*Engine, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Engine{limits: limits, logger: logger.Named("risk")}, nil
}

// Limits returns the configured limits.
func (e *Engine) Limits() Limits { return e.limits }

// Check evaluates req against the portfolio snapshot and run state.
// Halts block every new order; exposure checks only apply to orders that
// increase the held quantity.
func (e *Engine) Check(req Request, snap portfolio.Snapshot, state *RunState) Decision {
	equity := snap.Equity
	if !equity.IsPositive() {
		return deny(RuleNoEquity, "equity %s is not positive", equity)
	}

	if state != nil {
		if d := e.checkHalts(req, equity, state); !d.Allowed {
			return d
		}
	}

	current := snap.Quantity(req.Symbol)
	post := current.Add(req.Side.Sign().Mul(req.Quantity))
	if post.Abs().LessThanOrEqual(current.Abs()) {
		return allow()
	}

	price := req.Price
	if !price.IsPositive() {
		if mark, ok := snap.Price(req.Symbol); ok {
			price = mark
		}
	}

	if e.limits.MaxPositionSize > 0 && price.IsPositive() {
		size := post.Abs().Mul(price).Div(equity)
		if size.GreaterThan(decimal.NewFromFloat(e.limits.MaxPositionSize)) {
			return deny(RulePositionSize, "position in %s would be %s of equity, limit %v",
				req.Symbol, size.StringFixed(4), e.limits.MaxPositionSize)
		}
	}

	if e.limits.MaxRiskPerTrade > 0 && req.StopPrice.IsPositive() && price.IsPositive() {
		risked := req.Quantity.Mul(price.Sub(req.StopPrice).Abs()).Div(equity)
		if risked.GreaterThan(decimal.NewFromFloat(e.limits.MaxRiskPerTrade)) {
			return deny(RuleRiskPerTrade, "trade risks %s of equity, limit %v",
				risked.StringFixed(4), e.limits.MaxRiskPerTrade)
		}
	}

	if e.limits.MaxPortfolioVaR > 0 && state != nil {
		v, ok := portfolioVaR(req.Symbol, post, price, snap, state, e.limits.VaRConfidence)
		if ok && v > e.limits.MaxPortfolioVaR {
			return deny(RuleVaR, "portfolio VaR(%v) would be %.4f of equity, limit %v",
				e.limits.VaRConfidence, v, e.limits.MaxPortfolioVaR)
		}
	}
	return allow()
}

func (e *Engine) checkHalts(req Request, equity decimal.Decimal, state *RunState) Decision {
	if e.limits.MaxDailyLoss > 0 {
		dayStart, halted := state.dayBaseline(req.Time)
		if halted {
			return deny(RuleDailyLoss, "daily loss limit reached on %s, trading halted until next day", state.Day)
		}
		if dayStart.IsPositive() {
			loss := dayStart.Sub(equity).Div(dayStart)
			if loss.GreaterThanOrEqual(decimal.NewFromFloat(e.limits.MaxDailyLoss)) {
				return deny(RuleDailyLoss, "day loss %s reached limit %v", loss.StringFixed(4), e.limits.MaxDailyLoss)
			}
		}
	}
	if e.limits.MaxDrawdown > 0 {
		if state.DrawdownHalted {
			return deny(RuleDrawdown, "drawdown limit %v reached, trading halted", e.limits.MaxDrawdown)
		}
		if dd := state.Drawdown(equity); dd.GreaterThanOrEqual(decimal.NewFromFloat(e.limits.MaxDrawdown)) {
			return deny(RuleDrawdown, "drawdown %s reached limit %v", dd.StringFixed(4), e.limits.MaxDrawdown)
		}
	}
	return allow()
}

// Observe advances state to time at with the post-tick equity and closes.
// It rolls the day, tracks the peak and raises halt flags. Positions are
// never touched here.
func (e *Engine) Observe(state *RunState, at time.Time, equity decimal.Decimal, bars []market.Bar) {
	day := at.UTC().Format(dayLayout)
	if state.Day == "" {
		state.Day = day
	} else if day > state.Day {
		if state.DailyHalted {
			e.logger.Info("Daily halt lifted at day boundary", zap.String("day", day))
		}
		state.Day = day
		state.DayStartEquity = state.LastEquity
		state.DailyHalted = false
	}

	for _, bar := range bars {
		state.recordClose(bar.Symbol, bar.Close.InexactFloat64())
	}

	if equity.GreaterThan(state.PeakEquity) {
		state.PeakEquity = equity
	}
	state.LastEquity = equity

	if e.limits.MaxDailyLoss > 0 && !state.DailyHalted && state.DayStartEquity.IsPositive() {
		loss := state.DayStartEquity.Sub(equity).Div(state.DayStartEquity)
		if loss.GreaterThanOrEqual(decimal.NewFromFloat(e.limits.MaxDailyLoss)) {
			state.DailyHalted = true
			e.logger.Warn("Daily loss limit reached, halting new orders",
				zap.String("day", day),
				zap.String("day_start_equity", state.DayStartEquity.String()),
				zap.String("equity", equity.String()),
				zap.Float64("limit", e.limits.MaxDailyLoss))
		}
	}
	if e.limits.MaxDrawdown > 0 && !state.DrawdownHalted {
		dd := state.Drawdown(equity)
		if dd.GreaterThanOrEqual(decimal.NewFromFloat(e.limits.MaxDrawdown)) {
			state.DrawdownHalted = true
			e.logger.Warn("Drawdown limit reached, halting new orders",
				zap.String("peak_equity", state.PeakEquity.String()),
				zap.String("equity", equity.String()),
				zap.String("drawdown", dd.StringFixed(4)),
				zap.Float64("limit", e.limits.MaxDrawdown))
		}
	}
}
