package risk

import (
	"errors"
	"fmt"
)

// Limits are the static risk settings of a run. A zero fraction disables
// the corresponding check.
type Limits struct {
	MaxRiskPerTrade float64
	MaxPositionSize float64
	MaxDailyLoss    float64
	MaxPortfolioVaR float64
	VaRConfidence   float64
	VaRLookback     int
	MaxDrawdown     float64
}

// DefaultLimits mirrors the defaults of the configuration file.
func DefaultLimits() Limits {
	return Limits{
		MaxRiskPerTrade: 0.02,
		MaxPositionSize: 0.25,
		MaxDailyLoss:    0.05,
		MaxPortfolioVaR: 0.10,
		VaRConfidence:   0.95,
		VaRLookback:     100,
		MaxDrawdown:     0.20,
	}
}

var errInvalidLimits = errors.New("invalid risk limits")

// Validate rejects fractions outside [0, 1] and VaR settings that cannot be evaluated.
func (l Limits) Validate() error {
	fractions := []struct {
		name  string
		value float64
	}{
		{"max_risk_per_trade", l.MaxRiskPerTrade},
		{"max_position_size", l.MaxPositionSize},
		{"max_daily_loss", l.MaxDailyLoss},
		{"max_portfolio_var", l.MaxPortfolioVaR},
		{"max_drawdown", l.MaxDrawdown},
	}
	for _, f := range fractions {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("%w: %s must be within [0, 1], got %v", errInvalidLimits, f.name, f.value)
		}
	}
	if l.MaxPortfolioVaR > 0 {
		if l.VaRConfidence <= 0.5 || l.VaRConfidence >= 1 {
			return fmt.Errorf("%w: var_confidence must be within (0.5, 1), got %v", errInvalidLimits, l.VaRConfidence)
		}
		if l.VaRLookback < 2 {
			return fmt.Errorf("%w: var_lookback must be at least 2, got %d", errInvalidLimits, l.VaRLookback)
		}
	}
	return nil
}
