package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidSizing is returned when a sizing input cannot produce a quantity.
var ErrInvalidSizing = errors.New("invalid sizing input")

// KellyFraction returns edge/odds bounded to [0, maxFraction].
func KellyFraction(edge, odds, maxFraction float64) float64 {
	if odds <= 0 {
		return 0
	}
	f := edge / odds
	if f < 0 {
		return 0
	}
	if f > maxFraction {
		return maxFraction
	}
	return f
}

// FixedFractionalQuantity sizes a trade so that hitting the stop loses
// riskPerTrade of equity. The share quantity is rounded down.
func FixedFractionalQuantity(equity decimal.Decimal, riskPerTrade float64, entry, stop decimal.Decimal) (decimal.Decimal, error) {
	if !equity.IsPositive() || riskPerTrade <= 0 {
		return decimal.Zero, fmt.Errorf("%w: equity %s, risk per trade %v", ErrInvalidSizing, equity, riskPerTrade)
	}
	perShare := entry.Sub(stop).Abs()
	if !perShare.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: entry %s equals stop %s", ErrInvalidSizing, entry, stop)
	}
	risked := equity.Mul(decimal.NewFromFloat(riskPerTrade))
	return risked.Div(perShare).Floor(), nil
}

// MaxAffordable caps a quantity by the position size limit and the cash balance.
func (e *Engine) MaxAffordable(equity, cash, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	budget := cash
	if e.limits.MaxPositionSize > 0 {
		budget = decimal.Min(budget, equity.Mul(decimal.NewFromFloat(e.limits.MaxPositionSize)))
	}
	if budget.IsNegative() {
		return decimal.Zero
	}
	return budget.Div(price).Floor()
}
