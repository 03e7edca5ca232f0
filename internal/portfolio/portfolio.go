package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"paper-trader-go/internal/market"
)

var (
	// ErrInsufficientCash is returned when a buy fill costs more than the available cash.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrInsufficientPosition is returned when a sell fill exceeds the held quantity.
	// The account is cash-only, so positions never go short.
	ErrInsufficientPosition = errors.New("insufficient position")
	// ErrInvalidFill is returned for fills with non-positive quantity or price.
	ErrInvalidFill = errors.New("invalid fill")
)

// Portfolio tracks cash, positions and round trips. It is not safe for
// concurrent use; the order manager serializes every mutation.
type Portfolio struct {
	initialCash decimal.Decimal
	cash        decimal.Decimal
	positions   map[string]*Position
	marks       map[string]decimal.Decimal
	trips       map[string]*TradeLogEntry
	trades      []TradeLogEntry
	fills       []Fill
	updatedAt   time.Time
}

// New creates a portfolio holding only cash.
func New(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*Position),
		marks:       make(map[string]decimal.Decimal),
		trips:       make(map[string]*TradeLogEntry),
	}
}

// Cash returns the free cash balance.
func (p *Portfolio) Cash() decimal.Decimal { return p.cash }

// InitialCash returns the starting balance.
func (p *Portfolio) InitialCash() decimal.Decimal { return p.initialCash }

// Equity is cash plus the marked value of every position.
func (p *Portfolio) Equity() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.MarketValue())
	}
	return equity
}

// Position returns a copy of the position for symbol.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Mark returns the latest mark price for symbol.
func (p *Portfolio) Mark(symbol string) (decimal.Decimal, bool) {
	price, ok := p.marks[symbol]
	return price, ok
}

// MarkToMarket revalues the positions touched by bars at their close.
func (p *Portfolio) MarkToMarket(bars []market.Bar) {
	for _, bar := range bars {
		p.marks[bar.Symbol] = bar.Close
		if pos, ok := p.positions[bar.Symbol]; ok {
			pos.LastPrice = bar.Close
			pos.UnrealizedPnL = bar.Close.Sub(pos.AvgEntryPrice).Mul(pos.Quantity)
		}
		if bar.Time.After(p.updatedAt) {
			p.updatedAt = bar.Time
		}
	}
}

// ApplyFill books a fill: cash moves by notional and commission, the position
// and the open round trip are updated, and a closed round trip is appended
// to the trade log.
func (p *Portfolio) ApplyFill(f Fill) error {
	if !f.Quantity.IsPositive() || !f.Price.IsPositive() || f.Commission.IsNegative() {
		return fmt.Errorf("%w: qty=%s price=%s commission=%s", ErrInvalidFill, f.Quantity, f.Price, f.Commission)
	}
	if !f.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidFill, f.Side)
	}

	pos, ok := p.positions[f.Symbol]
	if !ok {
		pos = &Position{Symbol: f.Symbol}
	}
	if _, marked := p.marks[f.Symbol]; !marked {
		p.marks[f.Symbol] = f.Price
	}
	pos.LastPrice = p.marks[f.Symbol]

	ref := FillRef{OrderID: f.OrderID, Quantity: f.Quantity, Price: f.Price, Time: f.Time}
	switch f.Side {
	case market.Buy:
		cost := f.Notional().Add(f.Commission)
		if cost.GreaterThan(p.cash) {
			return fmt.Errorf("%w: need %s, have %s", ErrInsufficientCash, cost, p.cash)
		}
		trip := p.trips[f.Symbol]
		if trip == nil {
			trip = &TradeLogEntry{Symbol: f.Symbol, EquityAtOpen: p.Equity(), OpenedAt: f.Time}
			p.trips[f.Symbol] = trip
		}
		p.cash = p.cash.Sub(cost)
		newQty := pos.Quantity.Add(f.Quantity)
		pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(pos.Quantity).Add(f.Notional()).Div(newQty)
		pos.Quantity = newQty
		trip.Entries = append(trip.Entries, ref)
		trip.Commission = trip.Commission.Add(f.Commission)
	case market.Sell:
		if f.Quantity.GreaterThan(pos.Quantity) {
			return fmt.Errorf("%w: sell %s %s, hold %s", ErrInsufficientPosition, f.Quantity, f.Symbol, pos.Quantity)
		}
		pnl := f.Price.Sub(pos.AvgEntryPrice).Mul(f.Quantity)
		p.cash = p.cash.Add(f.Notional()).Sub(f.Commission)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.Quantity = pos.Quantity.Sub(f.Quantity)
		if trip := p.trips[f.Symbol]; trip != nil {
			trip.Exits = append(trip.Exits, ref)
			trip.GrossPnL = trip.GrossPnL.Add(pnl)
			trip.Commission = trip.Commission.Add(f.Commission)
			if pos.Quantity.IsZero() {
				p.closeTrip(trip, f.Time)
				delete(p.trips, f.Symbol)
			}
		}
		if pos.Quantity.IsZero() {
			pos.AvgEntryPrice = decimal.Zero
		}
	}

	pos.Commission = pos.Commission.Add(f.Commission)
	pos.UnrealizedPnL = pos.LastPrice.Sub(pos.AvgEntryPrice).Mul(pos.Quantity)
	p.positions[f.Symbol] = pos
	p.fills = append(p.fills, f)
	if f.Time.After(p.updatedAt) {
		p.updatedAt = f.Time
	}
	return nil
}

func (p *Portfolio) closeTrip(trip *TradeLogEntry, at time.Time) {
	entryQty, entryNotional := sumRefs(trip.Entries)
	exitQty, exitNotional := sumRefs(trip.Exits)
	trip.Quantity = entryQty
	if entryQty.IsPositive() {
		trip.AvgEntryPrice = entryNotional.Div(entryQty)
	}
	if exitQty.IsPositive() {
		trip.AvgExitPrice = exitNotional.Div(exitQty)
	}
	trip.NetPnL = trip.GrossPnL.Sub(trip.Commission)
	trip.ClosedAt = at
	trip.Holding = at.Sub(trip.OpenedAt)
	p.trades = append(p.trades, *trip)
}

func sumRefs(refs []FillRef) (qty, notional decimal.Decimal) {
	for _, r := range refs {
		qty = qty.Add(r.Quantity)
		notional = notional.Add(r.Quantity.Mul(r.Price))
	}
	return qty, notional
}

// Trades returns the closed round trips in closing order.
func (p *Portfolio) Trades() []TradeLogEntry {
	out := make([]TradeLogEntry, len(p.trades))
	copy(out, p.trades)
	return out
}

// Fills returns every booked fill in booking order.
func (p *Portfolio) Fills() []Fill {
	out := make([]Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

// Positions returns the non-flat positions sorted by symbol.
func (p *Portfolio) Positions() []Position {
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		if !pos.Flat() {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Snapshot returns a detached copy suitable for risk checks and strategies.
func (p *Portfolio) Snapshot() Snapshot {
	snap := Snapshot{
		Time:      p.updatedAt,
		Cash:      p.cash,
		Equity:    p.Equity(),
		Positions: make(map[string]Position, len(p.positions)),
		Marks:     make(map[string]decimal.Decimal, len(p.marks)),
	}
	for symbol, pos := range p.positions {
		if !pos.Flat() {
			snap.Positions[symbol] = *pos
		}
	}
	for symbol, price := range p.marks {
		snap.Marks[symbol] = price
	}
	return snap
}
