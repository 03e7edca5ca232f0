package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrData marks feed data that cannot be replayed safely: out-of-order,
// duplicated, malformed or missing bars.
var ErrData = errors.New("market data error")

// Side is the direction of an order or fill.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Opposite returns the side that closes a position opened by s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == Sell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Bar is one OHLCV candle. Time is the bar open time and drives the replay clock.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Time      time.Time       `json:"time"`
}

// Validate checks the OHLC envelope of the bar.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: bar without symbol at %s", ErrData, b.Time.Format(time.RFC3339))
	}
	if b.Time.IsZero() {
		return fmt.Errorf("%w: bar %s without timestamp", ErrData, b.Symbol)
	}
	if !b.Low.IsPositive() {
		return fmt.Errorf("%w: bar %s@%s has non-positive low %s", ErrData, b.Symbol, b.Time.Format(time.RFC3339), b.Low)
	}
	if b.High.LessThan(b.Low) ||
		b.Open.GreaterThan(b.High) || b.Open.LessThan(b.Low) ||
		b.Close.GreaterThan(b.High) || b.Close.LessThan(b.Low) {
		return fmt.Errorf("%w: bar %s@%s has inconsistent OHLC o=%s h=%s l=%s c=%s",
			ErrData, b.Symbol, b.Time.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("%w: bar %s@%s has negative volume", ErrData, b.Symbol, b.Time.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether price lies within [Low, High].
func (b Bar) Contains(price decimal.Decimal) bool {
	return b.Low.LessThanOrEqual(price) && price.LessThanOrEqual(b.High)
}
