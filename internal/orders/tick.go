package orders

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paper-trader-go/internal/market"
	"paper-trader-go/internal/portfolio"
	"paper-trader-go/internal/risk"
)

// Execution is a simulated match of one order against one bar. A zero
// Quantity with Triggered set records a stop-limit trigger without a fill.
type Execution struct {
	OrderID    ID
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Reference  decimal.Decimal
	Commission decimal.Decimal
	Slippage   decimal.Decimal
	Triggered  bool
}

// Matcher turns the orders eligible on a bar into executions.
type Matcher interface {
	Match(bar market.Bar, eligible []Order) []Execution
}

// BeginTick advances simulated time and marks positions to the tick's closes.
func (m *Manager) BeginTick(at time.Time, bars []market.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = at
	m.book.MarkToMarket(bars)
}

// MatchBars matches eligible orders against every bar of a tick, then moves
// trailing stops with each bar's close.
func (m *Manager) MatchBars(bars []market.Bar, matcher Matcher) []portfolio.Fill {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := append([]market.Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })

	var fills []portfolio.Fill
	for _, bar := range sorted {
		if eligible := m.eligible(bar); len(eligible) > 0 {
			fills = append(fills, m.applyExecutions(bar, matcher.Match(bar, eligible))...)
		}
		m.trail(bar)
	}
	return fills
}

// ApplyExecutions applies executions produced for bar. Executions for orders
// that stopped working earlier in the same batch are dropped, so an OCO pair
// can never fill both legs.
func (m *Manager) ApplyExecutions(bar market.Bar, execs []Execution) []portfolio.Fill {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyExecutions(bar, execs)
}

// Observe feeds post-fill equity into the run's risk state.
func (m *Manager) Observe(at time.Time, bars []market.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.risk.Observe(m.state, at, m.book.Equity(), bars)
}

// ExpireAll expires every order still working, dormant bracket legs included.
func (m *Manager) ExpireAll(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	at := m.timestamp()
	n := 0
	for _, id := range m.open {
		o := m.orders[id]
		if err := o.transition(StatusExpired, at); err != nil {
			continue
		}
		o.Reason = reason
		n++
	}
	m.open = m.open[:0]
	if n > 0 {
		m.logger.Info("Expired working orders", zap.Int("count", n), zap.String("reason", reason))
	}
	return n
}

// Working lists orders that may match a bar of symbol opening at barTime.
func (m *Manager) Working(symbol string, barTime time.Time) []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eligible(market.Bar{Symbol: symbol, Time: barTime})
}

func (m *Manager) eligible(bar market.Bar) []Order {
	var out []Order
	for _, id := range m.open {
		if o := m.orders[id]; o.EligibleFor(bar) {
			out = append(out, o.clone())
		}
	}
	return out
}

func (m *Manager) applyExecutions(bar market.Bar, execs []Execution) []portfolio.Fill {
	var fills []portfolio.Fill
	for _, ex := range execs {
		o, ok := m.orders[ex.OrderID]
		if !ok || !o.Active() {
			m.logger.Debug("Dropping execution for inactive order", zap.Uint64("id", uint64(ex.OrderID)))
			continue
		}
		if ex.Triggered && o.Kind == StopLimit && !o.Triggered {
			o.Triggered = true
			o.UpdatedAt = bar.Time
		}
		qty := decimal.Min(ex.Quantity, o.Remaining())
		if !qty.IsPositive() {
			continue
		}

		fill := portfolio.Fill{
			OrderID:    uint64(o.ID),
			Symbol:     o.Symbol,
			Side:       o.Side,
			Quantity:   qty,
			Price:      ex.Price,
			Commission: ex.Commission,
			Slippage:   ex.Slippage,
			Time:       bar.Time,
		}
		if err := m.book.ApplyFill(fill); err != nil {
			m.reject(o, fmt.Errorf("%w: %v", ErrInsufficientFunds, err))
			m.cancelSiblings(o, fmt.Sprintf("linked order %d rejected", o.ID), bar.Time)
			if len(o.ChildIDs) > 0 {
				m.settleEntry(o, bar.Time)
			}
			continue
		}
		fills = append(fills, fill)

		filled := o.FilledQty.Add(qty)
		o.AvgFillPrice = o.AvgFillPrice.Mul(o.FilledQty).Add(ex.Price.Mul(qty)).Div(filled)
		o.FilledQty = filled
		status := StatusPartiallyFilled
		if !filled.LessThan(o.Quantity) {
			status = StatusFilled
		}
		if err := o.transition(status, bar.Time); err != nil {
			m.logger.Error("Fill on non-working order", zap.Object("order", o), zap.Error(err))
			continue
		}
		m.logger.Info("Order filled",
			zap.Uint64("id", uint64(o.ID)),
			zap.String("symbol", o.Symbol),
			zap.String("side", string(o.Side)),
			zap.String("quantity", qty.String()),
			zap.String("price", ex.Price.String()),
			zap.String("status", string(status)),
		)

		m.cancelSiblings(o, fmt.Sprintf("linked order %d filled", o.ID), bar.Time)
		if status == StatusFilled {
			m.removeOpen(o.ID)
			if len(o.ChildIDs) > 0 {
				m.settleEntry(o, bar.Time)
			}
		}
	}
	return fills
}

// trail ratchets trailing stops toward the market. Water marks only move in
// the order's favour so the stop never loosens.
func (m *Manager) trail(bar market.Bar) {
	for _, id := range m.open {
		o := m.orders[id]
		if o.Kind != TrailingStop || !o.Active() || o.Symbol != bar.Symbol {
			continue
		}
		moved := (o.Side == market.Sell && bar.Close.GreaterThan(o.WaterMark)) ||
			(o.Side == market.Buy && bar.Close.LessThan(o.WaterMark))
		if !moved {
			continue
		}
		o.WaterMark = bar.Close
		o.StopPrice = o.TrailingStopPrice()
		o.UpdatedAt = bar.Time
	}
}

// Order returns a copy of one order.
func (m *Manager) Order(id ID) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.clone(), true
}

// Orders returns every order ever issued, by ID.
func (m *Manager) Orders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Open returns working orders, dormant bracket legs included.
func (m *Manager) Open() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Order, 0, len(m.open))
	for _, id := range m.open {
		out = append(out, m.orders[id].clone())
	}
	return out
}

// Snapshot returns a detached view of the account.
func (m *Manager) Snapshot() portfolio.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.book.Snapshot()
	if snap.Time.IsZero() {
		snap.Time = m.timestamp()
	}
	return snap
}

// RiskState returns a copy of the run's risk state.
func (m *Manager) RiskState() *risk.RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Trades returns the completed round trips.
func (m *Manager) Trades() []portfolio.TradeLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.Trades()
}

// Fills returns every fill applied so far.
func (m *Manager) Fills() []portfolio.Fill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.Fills()
}

// Equity returns the current mark-to-market equity.
func (m *Manager) Equity() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.Equity()
}

// Positions returns the non-flat positions.
func (m *Manager) Positions() []portfolio.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.Positions()
}
