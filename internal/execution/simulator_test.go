package execution

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-trader-go/internal/market"
	"paper-trader-go/internal/orders"
	"paper-trader-go/internal/portfolio"
	"paper-trader-go/internal/risk"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(open, high, low, close, volume string) market.Bar {
	return market.Bar{Symbol: "BTCUSDT", Open: d(open), High: d(high), Low: d(low), Close: d(close), Volume: d(volume), Time: t0}
}

func order(id orders.ID, side market.Side, kind orders.Kind, qty string) orders.Order {
	return orders.Order{ID: id, Symbol: "BTCUSDT", Side: side, Kind: kind, Quantity: d(qty), Status: orders.StatusAccepted}
}

func fixed(bps string) *Simulator {
	return NewWithModels(FixedBPS{BPS: d(bps)}, Commission{}, Unlimited{}, zap.NewNop())
}

func TestMatch_MarketFillsAtOpenWithSlippage(t *testing.T) {
	sim := fixed("10")
	b := bar("100", "101", "99", "100", "1000")

	execs := sim.Match(b, []orders.Order{
		order(1, market.Buy, orders.Market, "1"),
		order(2, market.Sell, orders.Market, "1"),
	})

	require.Len(t, execs, 2)
	assert.True(t, d("100.1").Equal(execs[0].Price), "buy pays up: %s", execs[0].Price)
	assert.True(t, d("99.9").Equal(execs[1].Price), "sell gives up: %s", execs[1].Price)
	assert.True(t, d("0.1").Equal(execs[0].Slippage))
	assert.True(t, d("100").Equal(execs[0].Reference))
}

func TestMatch_SlippageStaysInsideBar(t *testing.T) {
	sim := fixed("50")
	execs := sim.Match(bar("100", "100.2", "99", "100", "1000"), []orders.Order{order(1, market.Buy, orders.Market, "1")})
	require.Len(t, execs, 1)
	assert.True(t, d("100.2").Equal(execs[0].Price))
}

func TestMatch_LimitRequiresPriceInRange(t *testing.T) {
	sim := fixed("10")
	buy := order(1, market.Buy, orders.Limit, "2")
	buy.LimitPrice = d("100")

	execs := sim.Match(bar("100.2", "100.5", "99.5", "100.1", "1000"), []orders.Order{buy})
	require.Len(t, execs, 1)
	assert.True(t, d("100").Equal(execs[0].Price), "limits fill at the limit without slippage")
	assert.True(t, execs[0].Slippage.IsZero())

	assert.Empty(t, sim.Match(bar("101", "102", "100.5", "101", "1000"), []orders.Order{buy}))
}

func TestMatch_StopGapFillsAtOpen(t *testing.T) {
	sim := fixed("0")
	stop := order(1, market.Sell, orders.StopLoss, "1")
	stop.StopPrice = d("95")

	assert.Empty(t, sim.Match(bar("100", "101", "96", "97", "1000"), []orders.Order{stop}))

	execs := sim.Match(bar("97", "98", "94", "95", "1000"), []orders.Order{stop})
	require.Len(t, execs, 1)
	assert.True(t, d("95").Equal(execs[0].Price))

	execs = sim.Match(bar("90", "92", "88", "91", "1000"), []orders.Order{stop})
	require.Len(t, execs, 1)
	assert.True(t, d("90").Equal(execs[0].Price), "a gap through the stop fills at the worse open")

	buyStop := order(2, market.Buy, orders.StopLoss, "1")
	buyStop.StopPrice = d("105")
	execs = sim.Match(bar("108", "110", "107", "109", "1000"), []orders.Order{buyStop})
	require.Len(t, execs, 1)
	assert.True(t, d("108").Equal(execs[0].Price))
}

func TestMatch_StopLimitTriggerWithoutFill(t *testing.T) {
	sim := fixed("0")
	o := order(1, market.Sell, orders.StopLimit, "1")
	o.StopPrice = d("95")
	o.LimitPrice = d("96")

	execs := sim.Match(bar("94", "94.5", "93", "94", "1000"), []orders.Order{o})
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Triggered)
	assert.True(t, execs[0].Quantity.IsZero())

	o.Triggered = true
	execs = sim.Match(bar("95", "96.5", "94", "96", "1000"), []orders.Order{o})
	require.Len(t, execs, 1)
	assert.True(t, d("96").Equal(execs[0].Price))
	assert.True(t, d("1").Equal(execs[0].Quantity))
}

func TestMatch_VolumeCapSharesBar(t *testing.T) {
	sim := NewWithModels(FixedBPS{}, Commission{}, VolumeCap{Fraction: d("0.1")}, zap.NewNop())

	execs := sim.Match(bar("100", "101", "99", "100", "100"), []orders.Order{
		order(1, market.Buy, orders.Market, "8"),
		order(2, market.Buy, orders.Market, "8"),
	})

	require.Len(t, execs, 2)
	assert.True(t, d("8").Equal(execs[0].Quantity))
	assert.True(t, d("2").Equal(execs[1].Quantity))
}

func TestMatch_OrdersByDistanceFromOpen(t *testing.T) {
	sim := fixed("0")
	stop := order(1, market.Sell, orders.StopLoss, "1")
	stop.StopPrice = d("95")
	take := order(2, market.Sell, orders.Limit, "1")
	take.LimitPrice = d("101")

	execs := sim.Match(bar("100", "102", "94", "99", "1000"), []orders.Order{stop, take})

	require.Len(t, execs, 2)
	assert.Equal(t, orders.ID(2), execs[0].OrderID)
	assert.Equal(t, orders.ID(1), execs[1].OrderID)
}

func TestCommission(t *testing.T) {
	c := Commission{PerOrder: d("1"), PerUnit: d("0.01"), Rate: d("0.001")}
	assert.True(t, d("2.1").Equal(c.Commission(d("10"), d("100"))))
}

func TestVolumeImpactIsCapped(t *testing.T) {
	m := VolumeImpact{BaseBPS: d("5"), ImpactBPS: d("100"), MaxBPS: d("20")}
	b := bar("100", "101", "99", "100", "1000")

	assert.True(t, d("0.06").Equal(m.Slippage(d("100"), d("10"), b)))
	assert.True(t, d("0.2").Equal(m.Slippage(d("100"), d("900"), b)))
}

func TestNew_RejectsUnknownModels(t *testing.T) {
	_, err := New(Config{SlippageModel: "quadratic"}, zap.NewNop())
	assert.Error(t, err)
	_, err = New(Config{LiquidityModel: LiquidityVolume, MaxVolumeFraction: 1.5}, zap.NewNop())
	assert.Error(t, err)

	sim, err := New(Config{SlippageModel: SlippageVolume, SlippageBPS: 1, ImpactBPS: 10, MaxSlippageBPS: 50,
		CommissionRate: 0.001, LiquidityModel: LiquidityVolume, MaxVolumeFraction: 0.25}, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, d("0.1").Equal(sim.Commission(d("1"), d("100"))))
}

func TestSimulatorDrivesManager(t *testing.T) {
	// Arrange
	engine, err := risk.NewEngine(risk.Limits{}, zap.NewNop())
	require.NoError(t, err)
	sim := fixed("0")
	m, err := orders.NewManager(orders.Config{Portfolio: portfolio.New(d("10000")), Risk: engine, Fees: sim}, zap.NewNop())
	require.NoError(t, err)
	run := func(b market.Bar) {
		bars := []market.Bar{b}
		m.BeginTick(b.Time, bars)
		m.MatchBars(bars, sim)
	}

	first := bar("100", "100", "100", "100", "1000")
	run(first)
	o, err := m.Submit(orders.Request{Symbol: "BTCUSDT", Side: market.Buy, Kind: orders.StopLimit,
		Quantity: d("1"), StopPrice: d("105"), LimitPrice: d("104")})
	require.NoError(t, err)

	// Act: the stop triggers while price is above the limit, then comes back
	triggering := bar("104.5", "107", "104.5", "106", "1000")
	triggering.Time = t0.Add(time.Hour)
	run(triggering)
	got, _ := m.Order(o.ID)
	require.True(t, got.Triggered)
	require.Equal(t, orders.StatusAccepted, got.Status)

	retrace := bar("105", "105", "103", "104", "1000")
	retrace.Time = t0.Add(2 * time.Hour)
	run(retrace)

	// Assert
	got, _ = m.Order(o.ID)
	assert.Equal(t, orders.StatusFilled, got.Status)
	assert.True(t, d("104").Equal(got.AvgFillPrice))
}

func TestVolumeCapPartialStopKeepsProtection(t *testing.T) {
	// Arrange
	engine, err := risk.NewEngine(risk.Limits{}, zap.NewNop())
	require.NoError(t, err)
	sim := NewWithModels(FixedBPS{}, Commission{}, VolumeCap{Fraction: d("0.5")}, zap.NewNop())
	m, err := orders.NewManager(orders.Config{Portfolio: portfolio.New(d("10000")), Risk: engine, Fees: sim}, zap.NewNop())
	require.NoError(t, err)
	run := func(b market.Bar, hours int) {
		b.Time = t0.Add(time.Duration(hours) * time.Hour)
		bars := []market.Bar{b}
		m.BeginTick(b.Time, bars)
		m.MatchBars(bars, sim)
	}
	leg := func(kind orders.Kind) orders.Request {
		return orders.Request{Symbol: "BTCUSDT", Side: market.Sell, Kind: kind, Quantity: d("10")}
	}

	run(bar("100", "100", "100", "100", "1000"), 0)
	stop, take := leg(orders.StopLoss), leg(orders.Limit)
	stop.StopPrice, take.LimitPrice = d("95"), d("110")
	group, err := m.SubmitBracket(orders.BracketRequest{
		Entry:      orders.Request{Symbol: "BTCUSDT", Side: market.Buy, Kind: orders.Market, Quantity: d("10")},
		StopLoss:   stop,
		TakeProfit: take,
	})
	require.NoError(t, err)
	run(bar("100", "100", "100", "100", "1000"), 1)

	// Act: the stop is hit on a thin bar
	run(bar("96", "97", "94", "95", "8"), 2)

	// Assert
	gotStop, _ := m.Order(group[1].ID)
	gotTake, _ := m.Order(group[2].ID)
	assert.Equal(t, orders.StatusPartiallyFilled, gotStop.Status)
	assert.True(t, d("4").Equal(gotStop.FilledQty))
	assert.Equal(t, orders.StatusCancelled, gotTake.Status)
	assert.True(t, d("6").Equal(m.Snapshot().Quantity("BTCUSDT")))
	require.Len(t, m.Open(), 1)
	assert.Equal(t, group[1].ID, m.Open()[0].ID)
}
