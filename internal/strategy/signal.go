package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"paper-trader-go/internal/market"
	"paper-trader-go/internal/orders"
	"paper-trader-go/internal/risk"
)

// Signal is the directional output of an indicator rule.
type Signal int

const (
	Hold Signal = iota
	Enter
	Exit
)

// Sizing controls how entry signals are turned into orders.
type Sizing struct {
	// Fraction of equity committed per entry.
	Fraction float64
	// RiskPerTrade sizes entries by their stop distance when set together
	// with StopLossPct. Fraction still caps the notional.
	RiskPerTrade  float64
	StopLossPct   float64
	TakeProfitPct float64
	QuantityStep  decimal.Decimal
}

// DefaultSizing commits a tenth of equity per trade in whole units.
func DefaultSizing() Sizing {
	return Sizing{Fraction: 0.1, QuantityStep: decimal.NewFromInt(1)}
}

func (s Sizing) validate() error {
	if s.Fraction <= 0 || s.Fraction > 1 {
		return fmt.Errorf("sizing fraction must be within (0, 1], got %v", s.Fraction)
	}
	if s.StopLossPct < 0 || s.StopLossPct >= 1 || s.TakeProfitPct < 0 {
		return fmt.Errorf("invalid stop-loss %v or take-profit %v", s.StopLossPct, s.TakeProfitPct)
	}
	return nil
}

type rule func(closes []float64) Signal

// signalStrategy turns a close-series rule into long-only entries and exits.
// It keeps one bounded close history per symbol.
type signalStrategy struct {
	name    string
	need    int
	window  int
	rule    rule
	sizing  Sizing
	history map[string][]float64
}

func newSignalStrategy(name string, need int, r rule, sizing Sizing) *signalStrategy {
	window := need * 4
	if window < 100 {
		window = 100
	}
	return &signalStrategy{name: name, need: need, window: window, rule: r, sizing: sizing, history: make(map[string][]float64)}
}

func (s *signalStrategy) Name() string { return s.name }

func (s *signalStrategy) push(symbol string, close float64) []float64 {
	series := append(s.history[symbol], close)
	if len(series) > s.window {
		series = series[len(series)-s.window:]
	}
	s.history[symbol] = series
	return series
}

func (s *signalStrategy) OnTick(t Tick) (Decision, error) {
	var dec Decision
	for _, symbol := range t.Symbols() {
		bar := t.Bars[symbol]
		closes := s.push(symbol, bar.Close.InexactFloat64())
		if len(closes) < s.need {
			continue
		}
		held := t.Portfolio.Quantity(symbol)
		pending := t.OpenFor(symbol)

		switch s.rule(closes) {
		case Enter:
			if !held.IsZero() || len(pending) > 0 {
				continue
			}
			if err := s.enter(&dec, t, bar); err != nil {
				return Decision{}, err
			}
		case Exit:
			if !held.IsPositive() {
				continue
			}
			dec.Cancels = append(dec.Cancels, cancellable(pending)...)
			dec.Orders = append(dec.Orders, orders.Request{
				Symbol:   symbol,
				Side:     market.Sell,
				Kind:     orders.Market,
				Quantity: held,
				Tag:      s.name + ":exit",
			})
		}
	}
	return dec, nil
}

func (s *signalStrategy) enter(dec *Decision, t Tick, bar market.Bar) error {
	price := bar.Close
	qty := t.Portfolio.Equity.Mul(decimal.NewFromFloat(s.sizing.Fraction)).Div(price)
	stop := price.Mul(decimal.NewFromFloat(1 - s.sizing.StopLossPct))
	if s.sizing.RiskPerTrade > 0 && s.sizing.StopLossPct > 0 {
		sized, err := risk.FixedFractionalQuantity(t.Portfolio.Equity, s.sizing.RiskPerTrade, price, stop)
		if err != nil {
			return err
		}
		qty = decimal.Min(qty, sized)
	}
	if step := s.sizing.QuantityStep; step.IsPositive() {
		qty = qty.Div(step).Floor().Mul(step)
	}
	if !qty.IsPositive() {
		return nil
	}

	entry := orders.Request{Symbol: bar.Symbol, Side: market.Buy, Kind: orders.Market, Quantity: qty, Tag: s.name + ":entry"}
	if s.sizing.StopLossPct <= 0 || s.sizing.TakeProfitPct <= 0 {
		dec.Orders = append(dec.Orders, entry)
		return nil
	}
	dec.Brackets = append(dec.Brackets, orders.BracketRequest{
		Entry: entry,
		StopLoss: orders.Request{
			Symbol: bar.Symbol, Side: market.Sell, Kind: orders.StopLoss, Quantity: qty,
			StopPrice: stop.Round(8), Tag: s.name + ":stop",
		},
		TakeProfit: orders.Request{
			Symbol: bar.Symbol, Side: market.Sell, Kind: orders.Limit, Quantity: qty,
			LimitPrice: price.Mul(decimal.NewFromFloat(1 + s.sizing.TakeProfitPct)).Round(8), Tag: s.name + ":take",
		},
	})
	return nil
}

// cancellable picks one order per linked group, since cancelling a leg
// already cancels its siblings.
func cancellable(pending []orders.Order) []orders.ID {
	seen := make(map[orders.ID]bool)
	var out []orders.ID
	for _, o := range pending {
		if seen[o.ID] {
			continue
		}
		out = append(out, o.ID)
		for _, id := range o.LinkedOrderIDs {
			seen[id] = true
		}
	}
	return out
}
