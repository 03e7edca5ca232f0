package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader-go/internal/market"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(symbol, close string, at time.Time) market.Bar {
	c := d(close)
	return market.Bar{Symbol: symbol, Open: c, High: c, Low: c, Close: c, Volume: d("1000"), Time: at}
}

func TestApplyFill_BuyDeductsCashAndCommission(t *testing.T) {
	p := New(d("10000"))
	err := p.ApplyFill(Fill{OrderID: 1, Symbol: "AAPL", Side: market.Buy, Quantity: d("10"), Price: d("100"), Commission: d("1.5"), Time: t0})
	require.NoError(t, err)

	assert.True(t, d("8998.5").Equal(p.Cash()), "cash %s", p.Cash())
	pos, ok := p.Position("AAPL")
	require.True(t, ok)
	assert.True(t, d("10").Equal(pos.Quantity))
	assert.True(t, d("100").Equal(pos.AvgEntryPrice))
	assert.True(t, d("9998.5").Equal(p.Equity()))
}

func TestApplyFill_RejectsOverspendAndShort(t *testing.T) {
	p := New(d("500"))
	err := p.ApplyFill(Fill{Symbol: "AAPL", Side: market.Buy, Quantity: d("10"), Price: d("100"), Time: t0})
	assert.ErrorIs(t, err, ErrInsufficientCash)
	assert.True(t, d("500").Equal(p.Cash()))

	err = p.ApplyFill(Fill{Symbol: "AAPL", Side: market.Sell, Quantity: d("1"), Price: d("100"), Time: t0})
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	err = p.ApplyFill(Fill{Symbol: "AAPL", Side: market.Buy, Quantity: d("0"), Price: d("100"), Time: t0})
	assert.ErrorIs(t, err, ErrInvalidFill)
	assert.Empty(t, p.Fills())
}

func TestMarkToMarket(t *testing.T) {
	p := New(d("10000"))
	require.NoError(t, p.ApplyFill(Fill{Symbol: "AAPL", Side: market.Buy, Quantity: d("10"), Price: d("100"), Time: t0}))

	p.MarkToMarket([]market.Bar{bar("AAPL", "110", t0.Add(time.Hour))})

	pos, _ := p.Position("AAPL")
	assert.True(t, d("100").Equal(pos.UnrealizedPnL))
	assert.True(t, d("10100").Equal(p.Equity()))

	snap := p.Snapshot()
	price, ok := snap.Price("AAPL")
	assert.True(t, ok)
	assert.True(t, d("110").Equal(price))
	assert.True(t, d("10").Equal(snap.Quantity("AAPL")))
	assert.True(t, snap.Quantity("MSFT").IsZero())
}

func TestRoundTripTradeLog(t *testing.T) {
	p := New(d("10000"))
	require.NoError(t, p.ApplyFill(Fill{OrderID: 1, Symbol: "AAPL", Side: market.Buy, Quantity: d("10"), Price: d("100"), Commission: d("1"), Time: t0}))
	require.NoError(t, p.ApplyFill(Fill{OrderID: 2, Symbol: "AAPL", Side: market.Buy, Quantity: d("10"), Price: d("110"), Commission: d("1"), Time: t0.Add(time.Hour)}))
	require.NoError(t, p.ApplyFill(Fill{OrderID: 3, Symbol: "AAPL", Side: market.Sell, Quantity: d("5"), Price: d("120"), Commission: d("1"), Time: t0.Add(2 * time.Hour)}))
	assert.Empty(t, p.Trades(), "trip still open")

	require.NoError(t, p.ApplyFill(Fill{OrderID: 4, Symbol: "AAPL", Side: market.Sell, Quantity: d("15"), Price: d("100"), Commission: d("1"), Time: t0.Add(4 * time.Hour)}))

	trades := p.Trades()
	require.Len(t, trades, 1)
	trip := trades[0]
	// avg entry 105: (120-105)*5 + (100-105)*15 = 75 - 75 = 0
	assert.True(t, d("105").Equal(trip.AvgEntryPrice))
	assert.True(t, d("105").Equal(trip.AvgExitPrice))
	assert.True(t, trip.GrossPnL.IsZero())
	assert.True(t, d("4").Equal(trip.Commission))
	assert.True(t, d("-4").Equal(trip.NetPnL))
	assert.True(t, d("20").Equal(trip.Quantity))
	assert.Equal(t, 4*time.Hour, trip.Holding)
	assert.Len(t, trip.Entries, 2)
	assert.Len(t, trip.Exits, 2)
	assert.False(t, trip.Won())
	assert.InDelta(t, -0.0004, trip.Return(), 1e-12)

	pos, _ := p.Position("AAPL")
	assert.True(t, pos.Flat())
	assert.True(t, pos.AvgEntryPrice.IsZero())
	assert.True(t, d("9996").Equal(p.Cash()))
	assert.Empty(t, p.Positions())
}

func TestSnapshotIsDetached(t *testing.T) {
	p := New(d("1000"))
	require.NoError(t, p.ApplyFill(Fill{Symbol: "AAPL", Side: market.Buy, Quantity: d("1"), Price: d("100"), Time: t0}))
	snap := p.Snapshot()
	snap.Positions["AAPL"] = Position{Symbol: "AAPL", Quantity: d("99")}
	snap.Marks["AAPL"] = d("1")

	pos, _ := p.Position("AAPL")
	assert.True(t, d("1").Equal(pos.Quantity))
	mark, _ := p.Mark("AAPL")
	assert.True(t, d("100").Equal(mark))
}

func TestEquityCurveValues(t *testing.T) {
	curve := EquityCurve{{Time: t0, Equity: d("100")}, {Time: t0.Add(time.Hour), Equity: d("110.5")}}
	assert.Equal(t, []float64{100, 110.5}, curve.Values())
	last, ok := curve.Last()
	assert.True(t, ok)
	assert.True(t, d("110.5").Equal(last.Equity))
	_, ok = EquityCurve{}.Last()
	assert.False(t, ok)
}
