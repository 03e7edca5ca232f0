package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Instrument carries the lot-size rules of a tradable symbol.
// A zero StepSize means any quantity precision is accepted.
type Instrument struct {
	Symbol   string
	StepSize decimal.Decimal
	MinQty   decimal.Decimal
}

// RoundQuantity floors quantity to the instrument step size.
// It returns an error when the rounded quantity falls below MinQty.
func (i Instrument) RoundQuantity(quantity decimal.Decimal) (decimal.Decimal, error) {
	if quantity.LessThan(i.MinQty) {
		return decimal.Zero, fmt.Errorf("quantity %s is less than minQty %s for symbol %s", quantity, i.MinQty, i.Symbol)
	}
	floored := quantity
	if i.StepSize.IsPositive() {
		floored = quantity.Div(i.StepSize).Floor().Mul(i.StepSize)
	}
	if floored.LessThan(i.MinQty) || !floored.IsPositive() {
		return decimal.Zero, fmt.Errorf("formatted quantity %s is less than minQty %s for symbol %s", floored, i.MinQty, i.Symbol)
	}
	return floored, nil
}

// Check reports whether quantity already satisfies the lot-size rules.
func (i Instrument) Check(quantity decimal.Decimal) error {
	if quantity.LessThan(i.MinQty) {
		return fmt.Errorf("quantity %s is less than minQty %s", quantity, i.MinQty)
	}
	if i.StepSize.IsPositive() && !quantity.Mod(i.StepSize).IsZero() {
		return fmt.Errorf("quantity %s is not a multiple of step size %s", quantity, i.StepSize)
	}
	return nil
}
