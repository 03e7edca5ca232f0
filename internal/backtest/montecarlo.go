package backtest

import (
	"errors"
	"math/rand"
	"sort"

	"paper-trader-go/internal/metrics"
)

// ErrNoTrades is returned when there is nothing to resample.
var ErrNoTrades = errors.New("no closed trades to resample")

// MonteCarloOptions configures trade-sequence resampling. The same seed always
// yields the same distribution.
type MonteCarloOptions struct {
	Iterations int
	Seed       int64
}

// MonteCarloReport summarises the distribution of terminal equity.
type MonteCarloReport struct {
	Iterations        int       `json:"iterations"`
	Trades            int       `json:"trades"`
	Seed              int64     `json:"seed"`
	InitialEquity     float64   `json:"initial_equity"`
	Mean              float64   `json:"mean"`
	Median            float64   `json:"median"`
	P5                float64   `json:"p5"`
	P95               float64   `json:"p95"`
	ProbabilityOfLoss float64   `json:"probability_of_loss"`
	WorstDrawdown     float64   `json:"worst_drawdown"`
	Terminal          []float64 `json:"-"`
}

// MonteCarlo draws len(returns) trade returns with replacement per iteration
// and compounds them from initial equity.
func MonteCarlo(returns []float64, initial float64, opts MonteCarloOptions) (MonteCarloReport, error) {
	if opts.Iterations <= 0 {
		return MonteCarloReport{}, errors.New("monte carlo iterations must be positive")
	}
	if initial <= 0 {
		return MonteCarloReport{}, errors.New("monte carlo initial equity must be positive")
	}
	if len(returns) == 0 {
		return MonteCarloReport{}, ErrNoTrades
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	terminal := make([]float64, opts.Iterations)
	path := make([]float64, len(returns)+1)
	report := MonteCarloReport{Iterations: opts.Iterations, Trades: len(returns), Seed: opts.Seed, InitialEquity: initial}
	losses := 0
	for i := range terminal {
		equity := initial
		path[0] = equity
		for j := range returns {
			equity *= 1 + returns[rng.Intn(len(returns))]
			path[j+1] = equity
		}
		terminal[i] = equity
		if equity < initial {
			losses++
		}
		if dd := metrics.MaxDrawdown(path); dd > report.WorstDrawdown {
			report.WorstDrawdown = dd
		}
	}

	report.Mean = metrics.ArithmeticAverage(terminal)
	report.ProbabilityOfLoss = float64(losses) / float64(len(terminal))
	sorted := append([]float64(nil), terminal...)
	sort.Float64s(sorted)
	report.Median = median(sorted)
	report.P5 = metrics.Percentile(sorted, 0.05)
	report.P95 = metrics.Percentile(sorted, 0.95)
	report.Terminal = terminal
	return report, nil
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
