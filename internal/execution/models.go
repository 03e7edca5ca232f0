package execution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"paper-trader-go/internal/market"
)

var bpsDenominator = decimal.NewFromInt(10000)

// SlippageModel returns the adverse per-unit price move for filling quantity
// at reference on bar.
type SlippageModel interface {
	Slippage(reference, quantity decimal.Decimal, bar market.Bar) decimal.Decimal
}

// FixedBPS slips every fill by a constant number of basis points.
type FixedBPS struct {
	BPS decimal.Decimal
}

func (m FixedBPS) Slippage(reference, _ decimal.Decimal, _ market.Bar) decimal.Decimal {
	return reference.Mul(m.BPS).Div(bpsDenominator)
}

// VolumeImpact grows slippage with the share of bar volume taken, capped at MaxBPS.
type VolumeImpact struct {
	BaseBPS   decimal.Decimal
	ImpactBPS decimal.Decimal
	MaxBPS    decimal.Decimal
}

func (m VolumeImpact) Slippage(reference, quantity decimal.Decimal, bar market.Bar) decimal.Decimal {
	bps := m.BaseBPS
	if bar.Volume.IsPositive() {
		bps = bps.Add(m.ImpactBPS.Mul(quantity).Div(bar.Volume))
	} else {
		bps = m.MaxBPS
	}
	if m.MaxBPS.IsPositive() && bps.GreaterThan(m.MaxBPS) {
		bps = m.MaxBPS
	}
	return reference.Mul(bps).Div(bpsDenominator)
}

// Commission is a flat per-order fee plus a per-unit fee plus a rate on notional.
type Commission struct {
	PerOrder decimal.Decimal
	PerUnit  decimal.Decimal
	Rate     decimal.Decimal
}

// Commission implements orders.FeeModel.
func (c Commission) Commission(quantity, price decimal.Decimal) decimal.Decimal {
	return c.PerOrder.
		Add(c.PerUnit.Mul(quantity)).
		Add(c.Rate.Mul(quantity).Mul(price))
}

// LiquidityModel bounds the quantity one bar can absorb across all orders.
type LiquidityModel interface {
	Capacity(bar market.Bar) (decimal.Decimal, bool)
}

// Unlimited fills any quantity.
type Unlimited struct{}

func (Unlimited) Capacity(market.Bar) (decimal.Decimal, bool) { return decimal.Zero, false }

// VolumeCap lets a bar fill at most Fraction of its volume.
type VolumeCap struct {
	Fraction decimal.Decimal
}

func (m VolumeCap) Capacity(bar market.Bar) (decimal.Decimal, bool) {
	return bar.Volume.Mul(m.Fraction), true
}

// Slippage and liquidity model names accepted in configuration.
const (
	SlippageFixedBPS  = "fixed_bps"
	SlippageVolume    = "volume"
	LiquidityInfinite = "unlimited"
	LiquidityVolume   = "volume_cap"
)

// Config selects and parametrises the simulator models.
type Config struct {
	SlippageModel     string
	SlippageBPS       float64
	ImpactBPS         float64
	MaxSlippageBPS    float64
	CommissionFlat    float64
	CommissionPerUnit float64
	CommissionRate    float64
	LiquidityModel    string
	MaxVolumeFraction float64
}

func (c Config) slippage() (SlippageModel, error) {
	switch c.SlippageModel {
	case "", SlippageFixedBPS:
		return FixedBPS{BPS: decimal.NewFromFloat(c.SlippageBPS)}, nil
	case SlippageVolume:
		return VolumeImpact{
			BaseBPS:   decimal.NewFromFloat(c.SlippageBPS),
			ImpactBPS: decimal.NewFromFloat(c.ImpactBPS),
			MaxBPS:    decimal.NewFromFloat(c.MaxSlippageBPS),
		}, nil
	}
	return nil, fmt.Errorf("unknown slippage model %q", c.SlippageModel)
}

func (c Config) liquidity() (LiquidityModel, error) {
	switch c.LiquidityModel {
	case "", LiquidityInfinite:
		return Unlimited{}, nil
	case LiquidityVolume:
		if c.MaxVolumeFraction <= 0 || c.MaxVolumeFraction > 1 {
			return nil, fmt.Errorf("max volume fraction must be within (0, 1], got %v", c.MaxVolumeFraction)
		}
		return VolumeCap{Fraction: decimal.NewFromFloat(c.MaxVolumeFraction)}, nil
	}
	return nil, fmt.Errorf("unknown liquidity model %q", c.LiquidityModel)
}
