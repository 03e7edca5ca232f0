package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Trade represents a closed round trip in the database. Profit is the net
// result after commission. IsSimulation marks trades from historical replays
// as opposed to a live paper session.
type Trade struct {
	gorm.Model
	RunID         string          `json:"run_id" gorm:"index"`
	Symbol        string          `json:"symbol" gorm:"index"`
	Quantity      decimal.Decimal `json:"quantity" gorm:"type:numeric"`
	EntryPrice    decimal.Decimal `json:"entry_price" gorm:"type:numeric"`
	ExitPrice     decimal.Decimal `json:"exit_price" gorm:"type:numeric"`
	Commission    decimal.Decimal `json:"commission" gorm:"type:numeric"`
	Profit        float64         `json:"profit"`
	Return        float64         `json:"return"`
	OpenedAt      time.Time       `json:"opened_at"`
	ClosedAt      time.Time       `json:"closed_at"`
	Timestamp     int64           `json:"timestamp"` // close time, unix ms
	IsSimulation  bool            `json:"is_simulation"`
	HoldingPeriod time.Duration   `json:"holding_period"`
}
