package risk

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"paper-trader-go/internal/metrics"
	"paper-trader-go/internal/portfolio"
)

// HistoricalVaR returns the loss fraction at the (1-confidence) percentile of
// returns using the nearest-rank method. Gains yield zero.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)
	if loss := -metrics.Percentile(sorted, 1-confidence); loss > 0 {
		return loss
	}
	return 0
}

// portfolioVaR evaluates historical VaR for the position set after the
// symbol's quantity becomes postQty. ok is false when there is not enough
// history to form a distribution.
func portfolioVaR(symbol string, postQty, price decimal.Decimal, snap portfolio.Snapshot, state *RunState, confidence float64) (float64, bool) {
	values := make(map[string]float64, len(snap.Positions)+1)
	for sym, pos := range snap.Positions {
		values[sym] = pos.MarketValue().InexactFloat64()
	}
	values[symbol] = postQty.Mul(price).InexactFloat64()

	symbols := make([]string, 0, len(values))
	for sym := range values {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	series := make(map[string][]float64, len(symbols))
	n := math.MaxInt
	for _, sym := range symbols {
		r := state.Returns(sym)
		if len(r) == 0 {
			continue
		}
		series[sym] = r
		if len(r) < n {
			n = len(r)
		}
	}
	if len(series) == 0 || n < 2 {
		return 0, false
	}

	equity := snap.Equity.InexactFloat64()
	if equity <= 0 {
		return 0, false
	}
	pnl := make([]float64, n)
	for _, sym := range symbols {
		r, ok := series[sym]
		if !ok {
			continue
		}
		offset := len(r) - n
		for t := 0; t < n; t++ {
			pnl[t] += values[sym] * r[offset+t]
		}
	}
	for t := range pnl {
		pnl[t] /= equity
	}
	return HistoricalVaR(pnl, confidence), true
}
