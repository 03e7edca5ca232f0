package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"paper-trader-go/internal/market"
)

// Fill is one execution against an order. Slippage is the per-unit adverse
// price difference against the simulator's reference price.
type Fill struct {
	OrderID    uint64          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       market.Side     `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Slippage   decimal.Decimal `json:"slippage"`
	Time       time.Time       `json:"time"`
}

// Notional is quantity times price, before commission.
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

// Position is the holding in one symbol. It only changes through fills and marks.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	LastPrice     decimal.Decimal `json:"last_price"`
	Commission    decimal.Decimal `json:"commission"`
}

// MarketValue is the position valued at its last mark.
func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.LastPrice)
}

// Flat reports whether the position holds nothing.
func (p Position) Flat() bool {
	return p.Quantity.IsZero()
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity"`
	Cash   decimal.Decimal `json:"cash"`
}

// EquityCurve is the ordered, append-only equity history of a run.
type EquityCurve []EquityPoint

// Values returns the equity samples as float64 for analytics.
func (c EquityCurve) Values() []float64 {
	out := make([]float64, len(c))
	for i, p := range c {
		out[i] = p.Equity.InexactFloat64()
	}
	return out
}

// Last returns the most recent sample.
func (c EquityCurve) Last() (EquityPoint, bool) {
	if len(c) == 0 {
		return EquityPoint{}, false
	}
	return c[len(c)-1], true
}

// FillRef points at one fill taking part in a round trip.
type FillRef struct {
	OrderID  uint64          `json:"order_id"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Time     time.Time       `json:"time"`
}

// TradeLogEntry is a closed round trip: the position went from flat to
// non-flat and back to flat.
type TradeLogEntry struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	AvgExitPrice  decimal.Decimal `json:"avg_exit_price"`
	GrossPnL      decimal.Decimal `json:"gross_pnl"`
	Commission    decimal.Decimal `json:"commission"`
	NetPnL        decimal.Decimal `json:"net_pnl"`
	EquityAtOpen  decimal.Decimal `json:"equity_at_open"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      time.Time       `json:"closed_at"`
	Holding       time.Duration   `json:"holding"`
	Entries       []FillRef       `json:"entries"`
	Exits         []FillRef       `json:"exits"`
}

// Return is the net P&L relative to the equity held when the trip opened.
func (t TradeLogEntry) Return() float64 {
	if !t.EquityAtOpen.IsPositive() {
		return 0
	}
	return t.NetPnL.Div(t.EquityAtOpen).InexactFloat64()
}

// Won reports whether the trip closed with a positive net result.
func (t TradeLogEntry) Won() bool {
	return t.NetPnL.IsPositive()
}

// Snapshot is a consistent, detached copy of the portfolio.
type Snapshot struct {
	Time      time.Time                  `json:"time"`
	Cash      decimal.Decimal            `json:"cash"`
	Equity    decimal.Decimal            `json:"equity"`
	Positions map[string]Position        `json:"positions"`
	Marks     map[string]decimal.Decimal `json:"marks"`
}

// Quantity returns the held quantity for symbol, zero if none.
func (s Snapshot) Quantity(symbol string) decimal.Decimal {
	if p, ok := s.Positions[symbol]; ok {
		return p.Quantity
	}
	return decimal.Zero
}

// Price returns the last mark for symbol.
func (s Snapshot) Price(symbol string) (decimal.Decimal, bool) {
	price, ok := s.Marks[symbol]
	if !ok || !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}
