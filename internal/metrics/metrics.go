package metrics

import (
	"encoding/json"
	"math"

	"paper-trader-go/internal/portfolio"
)

// PeriodReturns turns an equity series into simple per-period returns.
func PeriodReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] <= 0 {
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

// Sharpe is the mean excess return over the sample deviation of returns,
// annualised by the square root of periodsPerYear. riskFree is annual.
func Sharpe(returns []float64, riskFree, periodsPerYear float64) float64 {
	sd := SampleStandardDeviation(returns)
	if sd == 0 {
		return 0
	}
	excess := ArithmeticAverage(returns) - PeriodRate(riskFree, periodsPerYear)
	return excess / sd * math.Sqrt(periodsPerYear)
}

// Sortino is Sharpe with the downside deviation below the risk-free rate.
func Sortino(returns []float64, riskFree, periodsPerYear float64) float64 {
	rf := PeriodRate(riskFree, periodsPerYear)
	dd := DownsideDeviation(returns, rf)
	if dd == 0 {
		return 0
	}
	return (ArithmeticAverage(returns) - rf) / dd * math.Sqrt(periodsPerYear)
}

// MaxDrawdown is the largest peak-to-trough fall as a fraction of the peak.
func MaxDrawdown(equity []float64) float64 {
	var peak, worst float64
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// WinRate is the share of trades that closed with a positive net result.
func WinRate(trades []portfolio.TradeLogEntry) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.Won() {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

// ProfitFactor is gross profit over gross loss. It is +Inf when there are
// winners and no losers and 0 when there are no winners.
func ProfitFactor(trades []portfolio.TradeLogEntry) float64 {
	var profit, loss float64
	for _, t := range trades {
		pnl := t.NetPnL.InexactFloat64()
		if pnl > 0 {
			profit += pnl
		} else {
			loss -= pnl
		}
	}
	if loss == 0 {
		if profit > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return profit / loss
}

// TotalReturn is the relative change from the first to the last equity value.
func TotalReturn(equity []float64) float64 {
	if len(equity) < 2 || equity[0] <= 0 {
		return 0
	}
	return equity[len(equity)-1]/equity[0] - 1
}

// CAGR annualises the total return over len(equity)-1 periods.
func CAGR(equity []float64, periodsPerYear float64) float64 {
	n := float64(len(equity) - 1)
	if n <= 0 || periodsPerYear <= 0 || equity[0] <= 0 || equity[len(equity)-1] <= 0 {
		return 0
	}
	return math.Pow(equity[len(equity)-1]/equity[0], periodsPerYear/n) - 1
}

// Report is the summary of a run.
type Report struct {
	StartEquity  float64 `json:"start_equity"`
	EndEquity    float64 `json:"end_equity"`
	TotalReturn  float64 `json:"total_return"`
	CAGR         float64 `json:"cagr"`
	Sharpe       float64 `json:"sharpe"`
	Sortino      float64 `json:"sortino"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"-"`
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	NetPnL       float64 `json:"net_pnl"`
	Commission   float64 `json:"commission"`
	Periods      int     `json:"periods"`
}

// HasProfitFactor reports whether ProfitFactor is finite.
func (r Report) HasProfitFactor() bool {
	return !math.IsInf(r.ProfitFactor, 0) && !math.IsNaN(r.ProfitFactor)
}

// FiniteProfitFactor returns ProfitFactor, or nil when it is unbounded.
func (r Report) FiniteProfitFactor() *float64 {
	if !r.HasProfitFactor() {
		return nil
	}
	pf := r.ProfitFactor
	return &pf
}

// MarshalJSON writes profit_factor as null when it is unbounded, which plain
// JSON numbers cannot express.
func (r Report) MarshalJSON() ([]byte, error) {
	type plain Report
	return json.Marshal(struct {
		plain
		ProfitFactor *float64 `json:"profit_factor"`
	}{plain: plain(r), ProfitFactor: r.FiniteProfitFactor()})
}

// Compute derives the report from a finished equity curve and trade log.
func Compute(curve portfolio.EquityCurve, trades []portfolio.TradeLogEntry, riskFree, periodsPerYear float64) Report {
	equity := curve.Values()
	returns := PeriodReturns(equity)
	r := Report{
		TotalReturn:  TotalReturn(equity),
		CAGR:         CAGR(equity, periodsPerYear),
		Sharpe:       Sharpe(returns, riskFree, periodsPerYear),
		Sortino:      Sortino(returns, riskFree, periodsPerYear),
		MaxDrawdown:  MaxDrawdown(equity),
		WinRate:      WinRate(trades),
		ProfitFactor: ProfitFactor(trades),
		Trades:       len(trades),
		Periods:      len(returns),
	}
	if len(equity) > 0 {
		r.StartEquity = equity[0]
		r.EndEquity = equity[len(equity)-1]
	}
	for _, t := range trades {
		if t.Won() {
			r.Wins++
		} else {
			r.Losses++
		}
		r.NetPnL += t.NetPnL.InexactFloat64()
		r.Commission += t.Commission.InexactFloat64()
	}
	return r
}

// Objective names a report field used to rank candidates.
type Objective string

const (
	ObjectiveSharpe      Objective = "sharpe"
	ObjectiveSortino     Objective = "sortino"
	ObjectiveTotalReturn Objective = "total_return"
	ObjectiveCAGR        Objective = "cagr"
)

// Score returns the value of objective in r. Unknown objectives fall back to Sharpe.
func (r Report) Score(objective Objective) float64 {
	switch objective {
	case ObjectiveSortino:
		return r.Sortino
	case ObjectiveTotalReturn:
		return r.TotalReturn
	case ObjectiveCAGR:
		return r.CAGR
	}
	return r.Sharpe
}
