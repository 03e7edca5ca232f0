package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"paper-trader-go/internal/market"
)

var hundred = decimal.NewFromInt(100)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Validate checks the field rules of a single request. Lot-size rules are
// applied when instrument is non-nil.
func Validate(req Request, instrument *market.Instrument) error {
	if req.Symbol == "" {
		return invalid("symbol is required")
	}
	if !req.Side.Valid() {
		return invalid("unknown side %q", req.Side)
	}
	if !req.Quantity.IsPositive() {
		return invalid("quantity must be positive, got %s", req.Quantity)
	}
	if req.LimitPrice.IsNegative() || req.StopPrice.IsNegative() {
		return invalid("prices must not be negative")
	}
	if req.Kind != TrailingStop && (!req.TrailOffset.IsZero() || req.TrailPercent) {
		return invalid("trail offset is only valid on %s orders", TrailingStop)
	}

	hasLimit, hasStop := req.LimitPrice.IsPositive(), req.StopPrice.IsPositive()
	switch req.Kind {
	case Market:
		if hasLimit || hasStop {
			return invalid("market order must not carry limit or stop price")
		}
	case Limit:
		if !hasLimit || hasStop {
			return invalid("limit order requires a limit price and no stop price")
		}
	case StopLoss:
		if !hasStop || hasLimit {
			return invalid("stop order requires a stop price and no limit price")
		}
	case StopLimit:
		if !hasStop || !hasLimit {
			return invalid("stop-limit order requires both stop and limit prices")
		}
	case TrailingStop:
		if hasStop || hasLimit {
			return invalid("trailing stop must not carry a fixed stop or limit price")
		}
		if req.TrailOffset.IsNegative() {
			return invalid("trail offset must not be negative")
		}
		if req.TrailPercent && req.TrailOffset.GreaterThanOrEqual(hundred) {
			return invalid("trail percent must be below 100, got %s", req.TrailOffset)
		}
	default:
		return invalid("unknown order kind %q", req.Kind)
	}

	if instrument != nil {
		if err := instrument.Check(req.Quantity); err != nil {
			return invalid("%s", err)
		}
	}
	return nil
}

func validateOCO(req OCORequest) error {
	if req.First.Symbol != req.Second.Symbol {
		return invalid("oco legs must share a symbol, got %s and %s", req.First.Symbol, req.Second.Symbol)
	}
	if req.First.Kind == Market || req.Second.Kind == Market {
		return invalid("oco legs must be conditional orders")
	}
	return nil
}

// validateBracket checks the group shape. ref is the expected entry price.
func validateBracket(req BracketRequest, ref decimal.Decimal) error {
	entry, stop, take := req.Entry, req.StopLoss, req.TakeProfit
	if entry.Kind == TrailingStop {
		return invalid("bracket entry must not be a trailing stop")
	}
	exit := entry.Side.Opposite()
	if stop.Symbol != entry.Symbol || take.Symbol != entry.Symbol {
		return invalid("bracket legs must share the entry symbol")
	}
	if stop.Side != exit || take.Side != exit {
		return invalid("bracket exits must be on the %s side", exit)
	}
	if stop.Kind != StopLoss && stop.Kind != TrailingStop {
		return invalid("bracket stop-loss must be %s or %s", StopLoss, TrailingStop)
	}
	if take.Kind != Limit {
		return invalid("bracket take-profit must be a %s order", Limit)
	}
	if !stop.Quantity.Equal(entry.Quantity) || !take.Quantity.Equal(entry.Quantity) {
		return invalid("bracket exits must match the entry quantity")
	}
	if stop.Kind == StopLoss {
		if entry.Side == market.Buy && !(stop.StopPrice.LessThan(ref) && ref.LessThan(take.LimitPrice)) {
			return invalid("long bracket requires stop %s < entry %s < take-profit %s", stop.StopPrice, ref, take.LimitPrice)
		}
		if entry.Side == market.Sell && !(take.LimitPrice.LessThan(ref) && ref.LessThan(stop.StopPrice)) {
			return invalid("short bracket requires take-profit %s < entry %s < stop %s", take.LimitPrice, ref, stop.StopPrice)
		}
	}
	return nil
}
