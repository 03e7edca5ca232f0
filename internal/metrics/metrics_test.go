package metrics

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader-go/internal/portfolio"
)

func trade(pnl string) portfolio.TradeLogEntry {
	return portfolio.TradeLogEntry{Symbol: "AAPL", NetPnL: decimal.RequireFromString(pnl), Commission: decimal.NewFromInt(1)}
}

func curve(values ...float64) portfolio.EquityCurve {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make(portfolio.EquityCurve, len(values))
	for i, v := range values {
		out[i] = portfolio.EquityPoint{Time: start.AddDate(0, 0, i), Equity: decimal.NewFromFloat(v)}
	}
	return out
}

func TestSampleStandardDeviation(t *testing.T) {
	assert.InDelta(t, 2.138, SampleStandardDeviation([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 0.001)
	assert.Zero(t, SampleStandardDeviation([]float64{1}))
	assert.Zero(t, ArithmeticAverage(nil))
}

func TestPeriodReturns(t *testing.T) {
	returns := PeriodReturns([]float64{100, 110, 99})

	assert.Len(t, returns, 2)
	assert.InDelta(t, 0.1, returns[0], 1e-12)
	assert.InDelta(t, -0.1, returns[1], 1e-12)
	assert.Nil(t, PeriodReturns([]float64{100}))
}

func TestSharpe(t *testing.T) {
	returns := []float64{0.01, 0.02, -0.01, 0.03}
	mean := ArithmeticAverage(returns)
	sd := SampleStandardDeviation(returns)

	assert.InDelta(t, mean/sd*math.Sqrt(252), Sharpe(returns, 0, 252), 1e-9)
	assert.Less(t, Sharpe(returns, 0.05, 252), Sharpe(returns, 0, 252))
	assert.Zero(t, Sharpe([]float64{0.01, 0.01}, 0, 252), "zero deviation")
	assert.Zero(t, Sharpe(nil, 0, 252))
}

func TestSortino(t *testing.T) {
	returns := []float64{0.02, -0.01, 0.03, -0.02}
	downside := math.Sqrt((0.01*0.01 + 0.02*0.02) / 4)

	assert.InDelta(t, ArithmeticAverage(returns)/downside*math.Sqrt(365), Sortino(returns, 0, 365), 1e-9)
	assert.Zero(t, Sortino([]float64{0.01, 0.02}, 0, 365), "no downside")
}

func TestMaxDrawdown(t *testing.T) {
	testCases := []struct {
		name     string
		equity   []float64
		expected float64
	}{
		{name: "Monotonic", equity: []float64{100, 101, 102}, expected: 0},
		{name: "Single trough", equity: []float64{100, 120, 90, 110}, expected: 0.25},
		{name: "Later deeper trough", equity: []float64{100, 80, 150, 75}, expected: 0.5},
		{name: "Empty", equity: nil, expected: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, MaxDrawdown(tc.equity), 1e-12)
		})
	}
}

func TestTradeStatistics(t *testing.T) {
	trades := []portfolio.TradeLogEntry{trade("30"), trade("-10"), trade("20"), trade("-5")}

	assert.InDelta(t, 0.5, WinRate(trades), 1e-12)
	assert.InDelta(t, 50.0/15.0, ProfitFactor(trades), 1e-12)
	assert.True(t, math.IsInf(ProfitFactor([]portfolio.TradeLogEntry{trade("5")}), 1))
	assert.Zero(t, ProfitFactor([]portfolio.TradeLogEntry{trade("-5")}))
	assert.Zero(t, WinRate(nil))
}

func TestCAGR(t *testing.T) {
	// Doubling over two years of yearly samples is about 41.4% a year.
	assert.InDelta(t, math.Sqrt2-1, CAGR([]float64{100, 130, 200}, 1), 1e-12)
	assert.InDelta(t, 1.0, TotalReturn([]float64{100, 130, 200}), 1e-12)
	assert.Zero(t, CAGR([]float64{100}, 1))
}

func TestCompute(t *testing.T) {
	// Arrange
	c := curve(10000, 10100, 10050, 10200)
	trades := []portfolio.TradeLogEntry{trade("150"), trade("-50")}

	// Act
	report := Compute(c, trades, 0, 252)

	// Assert
	assert.Equal(t, 10000.0, report.StartEquity)
	assert.Equal(t, 10200.0, report.EndEquity)
	assert.InDelta(t, 0.02, report.TotalReturn, 1e-12)
	assert.Equal(t, 3, report.Periods)
	assert.Equal(t, 2, report.Trades)
	assert.Equal(t, 1, report.Wins)
	assert.Equal(t, 1, report.Losses)
	assert.InDelta(t, 100.0, report.NetPnL, 1e-12)
	assert.InDelta(t, 2.0, report.Commission, 1e-12)
	assert.InDelta(t, 3.0, report.ProfitFactor, 1e-12)
	assert.True(t, report.HasProfitFactor())
	assert.InDelta(t, 50.0/10100.0, report.MaxDrawdown, 1e-12)
	assert.Positive(t, report.Sharpe)

	again := Compute(c, trades, 0, 252)
	assert.Equal(t, report, again, "metrics are deterministic")
}

func TestScore(t *testing.T) {
	r := Report{Sharpe: 1, Sortino: 2, TotalReturn: 3, CAGR: 4}

	assert.Equal(t, 1.0, r.Score(ObjectiveSharpe))
	assert.Equal(t, 2.0, r.Score(ObjectiveSortino))
	assert.Equal(t, 3.0, r.Score(ObjectiveTotalReturn))
	assert.Equal(t, 4.0, r.Score(ObjectiveCAGR))
	assert.Equal(t, 1.0, r.Score("unknown"))
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	assert.Equal(t, 1.0, Percentile(sorted, 0.05))
	assert.Equal(t, 5.0, Percentile(sorted, 0.5))
	assert.Equal(t, 10.0, Percentile(sorted, 0.95))
	assert.Zero(t, Percentile(nil, 0.5))

	twenty := make([]float64, 20)
	for i := range twenty {
		twenty[i] = float64(i + 1)
	}
	assert.Equal(t, 1.0, Percentile(twenty, 1-0.95))
	assert.Equal(t, 2.0, Percentile(twenty, 1-0.90))
}

func TestReportJSON_ProfitFactor(t *testing.T) {
	tests := []struct {
		name   string
		factor float64
		want   string
	}{
		{"finite", 2.5, `"profit_factor":2.5`},
		{"no losses", math.Inf(1), `"profit_factor":null`},
		{"undefined", math.NaN(), `"profit_factor":null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(Report{Sharpe: 1.25, ProfitFactor: tt.factor})

			require.NoError(t, err)
			assert.Contains(t, string(raw), tt.want)
			assert.Contains(t, string(raw), `"sharpe":1.25`)
		})
	}
}
