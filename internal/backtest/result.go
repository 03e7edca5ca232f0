package backtest

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paper-trader-go/internal/metrics"
	"paper-trader-go/internal/orders"
	"paper-trader-go/internal/portfolio"
)

// Rejection records a request the order manager refused.
type Rejection struct {
	Time     time.Time   `json:"time"`
	Tag      string      `json:"tag,omitempty"`
	OrderIDs []orders.ID `json:"order_ids"`
	Reason   string      `json:"reason"`
}

// Result bundles everything a run produced. A cancelled or failed run still
// returns a Result that is consistent up to its last complete tick.
type Result struct {
	RunID       uuid.UUID                 `json:"run_id"`
	Strategy    string                    `json:"strategy"`
	Config      Config                    `json:"config"`
	Start       time.Time                 `json:"start"`
	End         time.Time                 `json:"end"`
	Ticks       int                       `json:"ticks"`
	FinalEquity decimal.Decimal           `json:"final_equity"`
	EquityCurve portfolio.EquityCurve     `json:"equity_curve"`
	Trades      []portfolio.TradeLogEntry `json:"trades"`
	Fills       []portfolio.Fill          `json:"fills"`
	Orders      []orders.Order            `json:"orders"`
	Rejections  []Rejection               `json:"rejections"`
	Positions   []portfolio.Position      `json:"positions"`
	Metrics     metrics.Report            `json:"metrics"`
	Completed   bool                      `json:"completed"`
}

// TradeReturns lists the return on equity of every closed trade in order.
func (r *Result) TradeReturns() []float64 {
	out := make([]float64, len(r.Trades))
	for i, t := range r.Trades {
		out[i] = t.Return()
	}
	return out
}
