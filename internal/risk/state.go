package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

const dayLayout = "2006-01-02"

// RunState holds the running counters the checks depend on. It is threaded
// explicitly through the engine and the replay loop; the daily part resets at
// each UTC calendar day boundary of the bar timestamps.
type RunState struct {
	Day            string          `json:"day"`
	DayStartEquity decimal.Decimal `json:"day_start_equity"`
	PeakEquity     decimal.Decimal `json:"peak_equity"`
	LastEquity     decimal.Decimal `json:"last_equity"`
	DailyHalted    bool            `json:"daily_halted"`
	DrawdownHalted bool            `json:"drawdown_halted"`

	lookback int
	closes   map[string][]float64
}

// NewRunState seeds the state with the starting equity.
func NewRunState(initialEquity decimal.Decimal, lookback int) *RunState {
	if lookback < 2 {
		lookback = 2
	}
	return &RunState{
		DayStartEquity: initialEquity,
		PeakEquity:     initialEquity,
		LastEquity:     initialEquity,
		lookback:       lookback,
		closes:         make(map[string][]float64),
	}
}

// Halted reports whether any halt flag is raised for the current day.
func (s *RunState) Halted() bool {
	return s.DailyHalted || s.DrawdownHalted
}

// Drawdown is the fractional distance of equity below the running peak.
func (s *RunState) Drawdown(equity decimal.Decimal) decimal.Decimal {
	peak := decimal.Max(s.PeakEquity, equity)
	if !peak.IsPositive() {
		return decimal.Zero
	}
	return peak.Sub(equity).Div(peak)
}

// Returns yields the trailing close-to-close returns recorded for symbol.
func (s *RunState) Returns(symbol string) []float64 {
	closes := s.closes[symbol]
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// dayBaseline returns the day-start equity and daily halt flag as they apply
// at time at, accounting for a day rollover not yet observed.
func (s *RunState) dayBaseline(at time.Time) (decimal.Decimal, bool) {
	if at.IsZero() || s.Day == "" {
		return s.DayStartEquity, s.DailyHalted
	}
	if day := at.UTC().Format(dayLayout); day > s.Day {
		return s.LastEquity, false
	}
	return s.DayStartEquity, s.DailyHalted
}

func (s *RunState) recordClose(symbol string, close float64) {
	series := append(s.closes[symbol], close)
	if len(series) > s.lookback+1 {
		series = series[len(series)-s.lookback-1:]
	}
	s.closes[symbol] = series
}

// Clone returns a deep copy, used for read-only checks outside the writer lock.
func (s *RunState) Clone() *RunState {
	out := *s
	out.closes = make(map[string][]float64, len(s.closes))
	for symbol, series := range s.closes {
		out.closes[symbol] = append([]float64(nil), series...)
	}
	return &out
}
