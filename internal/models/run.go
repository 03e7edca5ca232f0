package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Run modes.
const (
	ModeBacktest    = "backtest"
	ModeWalkForward = "walkforward"
	ModePaper       = "paper"
)

// Run is one persisted replay or paper session with its summary metrics.
// ProfitFactor is nil when it is unbounded.
type Run struct {
	ID           string          `json:"id" gorm:"primaryKey;size:36"`
	Mode         string          `json:"mode" gorm:"index"`
	Strategy     string          `json:"strategy"`
	Label        string          `json:"label,omitempty"`
	Timeframe    string          `json:"timeframe"`
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	Ticks        int             `json:"ticks"`
	InitialCash  decimal.Decimal `json:"initial_cash" gorm:"type:numeric"`
	FinalEquity  decimal.Decimal `json:"final_equity" gorm:"type:numeric"`
	TotalReturn  float64         `json:"total_return"`
	CAGR         float64         `json:"cagr"`
	Sharpe       float64         `json:"sharpe"`
	Sortino      float64         `json:"sortino"`
	MaxDrawdown  float64         `json:"max_drawdown"`
	WinRate      float64         `json:"win_rate"`
	ProfitFactor *float64        `json:"profit_factor"`
	Trades       int             `json:"trades"`
	Rejections   int             `json:"rejections"`
	Completed    bool            `json:"completed"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Order is the final state of one order of a run.
type Order struct {
	ID           uint            `json:"-" gorm:"primaryKey"`
	RunID        string          `json:"run_id" gorm:"index;size:36"`
	OrderID      uint64          `json:"order_id"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Kind         string          `json:"kind"`
	Contingency  string          `json:"contingency,omitempty"`
	Quantity     decimal.Decimal `json:"quantity" gorm:"type:numeric"`
	LimitPrice   decimal.Decimal `json:"limit_price" gorm:"type:numeric"`
	StopPrice    decimal.Decimal `json:"stop_price" gorm:"type:numeric"`
	TrailOffset  decimal.Decimal `json:"trail_offset" gorm:"type:numeric"`
	TrailPercent bool            `json:"trail_percent"`
	Status       string          `json:"status" gorm:"index"`
	FilledQty    decimal.Decimal `json:"filled_qty" gorm:"type:numeric"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price" gorm:"type:numeric"`
	ParentID     uint64          `json:"parent_id,omitempty"`
	LinkedIDs    string          `json:"linked_ids,omitempty"`
	Tag          string          `json:"tag,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	PlacedAt     time.Time       `json:"placed_at"`
	ChangedAt    time.Time       `json:"changed_at"`
}

// Fill is one execution of a run.
type Fill struct {
	ID         uint            `json:"-" gorm:"primaryKey"`
	RunID      string          `json:"run_id" gorm:"index;size:36"`
	OrderID    uint64          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity" gorm:"type:numeric"`
	Price      decimal.Decimal `json:"price" gorm:"type:numeric"`
	Commission decimal.Decimal `json:"commission" gorm:"type:numeric"`
	Slippage   decimal.Decimal `json:"slippage" gorm:"type:numeric"`
	Time       time.Time       `json:"time"`
}

// EquityPoint is one equity curve sample of a run.
type EquityPoint struct {
	ID     uint            `json:"-" gorm:"primaryKey"`
	RunID  string          `json:"run_id" gorm:"index;size:36"`
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity" gorm:"type:numeric"`
	Cash   decimal.Decimal `json:"cash" gorm:"type:numeric"`
}

// All lists every model for migration.
func All() []any {
	return []any{&Run{}, &Order{}, &Fill{}, &EquityPoint{}, &Trade{}}
}
