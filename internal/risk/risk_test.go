package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-trader-go/internal/market"
	"paper-trader-go/internal/portfolio"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var day1 = time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC)

func cashSnapshot(equity string) portfolio.Snapshot {
	return portfolio.Snapshot{
		Cash:      d(equity),
		Equity:    d(equity),
		Positions: map[string]portfolio.Position{},
		Marks:     map[string]decimal.Decimal{"AAPL": d("50")},
	}
}

func newTestEngine(t *testing.T, limits Limits) *Engine {
	t.Helper()
	e, err := NewEngine(limits, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestFixedFractionalQuantity(t *testing.T) {
	qty, err := FixedFractionalQuantity(d("100000"), 0.008, d("50"), d("48"))
	require.NoError(t, err)
	assert.True(t, d("400").Equal(qty), "got %s", qty)

	qty, err = FixedFractionalQuantity(d("10000"), 0.01, d("33"), d("30"))
	require.NoError(t, err)
	assert.True(t, d("33").Equal(qty), "floor(100/3) = 33, got %s", qty)

	_, err = FixedFractionalQuantity(d("10000"), 0.01, d("30"), d("30"))
	assert.ErrorIs(t, err, ErrInvalidSizing)
	_, err = FixedFractionalQuantity(decimal.Zero, 0.01, d("31"), d("30"))
	assert.ErrorIs(t, err, ErrInvalidSizing)
}

func TestKellyFraction(t *testing.T) {
	testCases := []struct {
		name     string
		edge     float64
		odds     float64
		max      float64
		expected float64
	}{
		{name: "Within bounds", edge: 0.1, odds: 1, max: 0.25, expected: 0.1},
		{name: "Capped at max", edge: 0.6, odds: 1, max: 0.25, expected: 0.25},
		{name: "Negative edge", edge: -0.2, odds: 2, max: 0.25, expected: 0},
		{name: "Zero odds", edge: 0.2, odds: 0, max: 0.25, expected: 0},
		{name: "Odds scale", edge: 0.2, odds: 2, max: 0.5, expected: 0.1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, KellyFraction(tc.edge, tc.odds, tc.max), 1e-12)
		})
	}
}

func TestHistoricalVaR(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, -0.05, 0.00, 0.02, -0.01, 0.04, -0.03, 0.01,
		0.02, -0.04, 0.01, 0.00, 0.03, -0.02, 0.01, 0.02, -0.01, 0.05}
	// nearest rank for 95% of 20 samples is the lowest return
	assert.InDelta(t, 0.05, HistoricalVaR(returns, 0.95), 1e-12)
	// 90%: second lowest
	assert.InDelta(t, 0.04, HistoricalVaR(returns, 0.90), 1e-12)
	assert.Equal(t, 0.0, HistoricalVaR([]float64{0.01, 0.02}, 0.95))
	assert.Equal(t, 0.0, HistoricalVaR(nil, 0.95))
}

func TestHistoricalVaR_RankIsExact(t *testing.T) {
	returns := make([]float64, 20)
	for i := range returns {
		returns[i] = 0.01
	}
	returns[3], returns[11] = -0.10, -0.02

	// 1-0.95 is not exactly 0.05, the rank must still be the single worst return
	assert.InDelta(t, 0.10, HistoricalVaR(returns, 0.95), 1e-12)
	assert.InDelta(t, 0.02, HistoricalVaR(returns, 0.90), 1e-12)
}

func TestLimitsValidate(t *testing.T) {
	assert.NoError(t, DefaultLimits().Validate())

	bad := DefaultLimits()
	bad.MaxDailyLoss = 1.5
	assert.Error(t, bad.Validate())

	bad = DefaultLimits()
	bad.VaRConfidence = 1
	assert.Error(t, bad.Validate())

	bad = DefaultLimits()
	bad.VaRLookback = 1
	assert.Error(t, bad.Validate())

	disabled := Limits{}
	assert.NoError(t, disabled.Validate())
}

func TestCheck_DrawdownHalt(t *testing.T) {
	e := newTestEngine(t, Limits{MaxDrawdown: 0.10})
	state := NewRunState(d("120000"), 10)

	e.Observe(state, day1, d("107000"), nil)
	assert.True(t, state.DrawdownHalted)
	assert.InDelta(t, 0.1083, state.Drawdown(d("107000")).InexactFloat64(), 1e-4)

	dec := e.Check(Request{Symbol: "AAPL", Side: market.Buy, Quantity: d("1"), Price: d("50"), Time: day1}, cashSnapshot("107000"), state)
	assert.False(t, dec.Allowed)
	assert.Equal(t, RuleDrawdown, dec.Rule)

	// a fresh state with the same peak still rejects from the snapshot alone
	fresh := NewRunState(d("120000"), 10)
	dec = e.Check(Request{Symbol: "AAPL", Side: market.Buy, Quantity: d("1"), Price: d("50"), Time: day1}, cashSnapshot("107000"), fresh)
	assert.False(t, dec.Allowed)
	assert.Equal(t, RuleDrawdown, dec.Rule)
}

func TestCheck_DailyLossHaltResetsNextDay(t *testing.T) {
	e := newTestEngine(t, Limits{MaxDailyLoss: 0.05})
	state := NewRunState(d("100000"), 10)
	e.Observe(state, day1, d("100000"), nil)
	e.Observe(state, day1.Add(time.Hour), d("94000"), nil)
	require.True(t, state.DailyHalted)

	req := Request{Symbol: "AAPL", Side: market.Buy, Quantity: d("1"), Price: d("50"), Time: day1.Add(2 * time.Hour)}
	// equity recovered intraday, the halt still holds for the rest of the day
	dec := e.Check(req, cashSnapshot("99000"), state)
	assert.False(t, dec.Allowed)
	assert.Equal(t, RuleDailyLoss, dec.Rule)

	// sells are blocked too
	sell := req
	sell.Side = market.Sell
	assert.False(t, e.Check(sell, cashSnapshot("99000"), state).Allowed)

	nextDay := req
	nextDay.Time = day1.Add(24 * time.Hour)
	dec = e.Check(nextDay, cashSnapshot("94000"), state)
	assert.True(t, dec.Allowed, dec.Reason)

	e.Observe(state, nextDay.Time, d("94000"), nil)
	assert.False(t, state.DailyHalted)
	assert.True(t, d("94000").Equal(state.DayStartEquity))
}

func TestCheck_PositionSizeAndRiskPerTrade(t *testing.T) {
	e := newTestEngine(t, Limits{MaxPositionSize: 0.25, MaxRiskPerTrade: 0.01})
	state := NewRunState(d("100000"), 10)
	snap := cashSnapshot("100000")

	dec := e.Check(Request{Symbol: "AAPL", Side: market.Buy, Quantity: d("500"), Price: d("50"), Time: day1}, snap, state)
	assert.True(t, dec.Allowed, dec.Reason)

	dec = e.Check(Request{Symbol: "AAPL", Side: market.Buy, Quantity: d("501"), Price: d("50"), Time: day1}, snap, state)
	assert.False(t, dec.Allowed)
	assert.Equal(t, RulePositionSize, dec.Rule)

	// 400 * (50-47) = 1200 > 1% of 100000
	dec = e.Check(Request{Symbol: "AAPL", Side: market.Buy, Quantity: d("400"), Price: d("50"), StopPrice: d("47"), Time: day1}, snap, state)
	assert.False(t, dec.Allowed)
	assert.Equal(t, RuleRiskPerTrade, dec.Rule)

	// market orders fall back to the mark
	dec = e.Check(Request{Symbol: "AAPL", Side: market.Buy, Quantity: d("600"), Time: day1}, snap, state)
	assert.Equal(t, RulePositionSize, dec.Rule)
}

func TestCheck_ReducingOrdersSkipExposureChecks(t *testing.T) {
	e := newTestEngine(t, Limits{MaxPositionSize: 0.01})
	snap := portfolio.Snapshot{
		Cash:      d("50000"),
		Equity:    d("100000"),
		Positions: map[string]portfolio.Position{"AAPL": {Symbol: "AAPL", Quantity: d("1000"), LastPrice: d("50")}},
		Marks:     map[string]decimal.Decimal{"AAPL": d("50")},
	}
	dec := e.Check(Request{Symbol: "AAPL", Side: market.Sell, Quantity: d("100"), Price: d("50"), Time: day1}, snap, NewRunState(d("100000"), 10))
	assert.True(t, dec.Allowed, dec.Reason)
}

func TestCheck_VaRBlocksNewExposure(t *testing.T) {
	e := newTestEngine(t, Limits{MaxPortfolioVaR: 0.02, VaRConfidence: 0.95, VaRLookback: 20})
	state := NewRunState(d("100000"), 20)
	price := 100.0
	for i := 0; i < 21; i++ {
		// alternating +10% / -10% moves
		if i%2 == 0 {
			price *= 1.1
		} else {
			price *= 0.9
		}
		bar := market.Bar{Symbol: "AAPL", Close: decimal.NewFromFloat(price), Time: day1.Add(time.Duration(i) * time.Minute)}
		e.Observe(state, bar.Time, d("100000"), []market.Bar{bar})
	}
	snap := cashSnapshot("100000")
	snap.Marks["AAPL"] = decimal.NewFromFloat(price)

	// 10% of equity in a name that drops 10% per bar gives ~1% VaR
	small := e.Check(Request{Symbol: "AAPL", Side: market.Buy, Quantity: decimal.NewFromFloat(10000 / price).Floor(), Time: day1}, snap, state)
	assert.True(t, small.Allowed, small.Reason)

	large := e.Check(Request{Symbol: "AAPL", Side: market.Buy, Quantity: decimal.NewFromFloat(50000 / price).Floor(), Time: day1}, snap, state)
	assert.False(t, large.Allowed)
	assert.Equal(t, RuleVaR, large.Rule)
}

func TestCheck_CheckDoesNotMutateState(t *testing.T) {
	e := newTestEngine(t, DefaultLimits())
	state := NewRunState(d("100000"), 10)
	e.Observe(state, day1, d("100000"), nil)
	before := *state

	e.Check(Request{Symbol: "AAPL", Side: market.Buy, Quantity: d("10"), Price: d("50"), Time: day1.Add(48 * time.Hour)}, cashSnapshot("50000"), state)

	assert.Equal(t, before.Day, state.Day)
	assert.True(t, before.DayStartEquity.Equal(state.DayStartEquity))
	assert.Equal(t, before.DailyHalted, state.DailyHalted)
	assert.Equal(t, before.DrawdownHalted, state.DrawdownHalted)
}

func TestMaxAffordable(t *testing.T) {
	e := newTestEngine(t, Limits{MaxPositionSize: 0.1})
	assert.True(t, d("200").Equal(e.MaxAffordable(d("100000"), d("50000"), d("50"))))
	assert.True(t, d("100").Equal(e.MaxAffordable(d("100000"), d("5000"), d("50"))))
	assert.True(t, e.MaxAffordable(d("100000"), d("5000"), decimal.Zero).IsZero())
}
