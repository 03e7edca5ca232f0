package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"paper-trader-go/internal/backtest"
	"paper-trader-go/internal/models"
	"paper-trader-go/internal/orders"
	"paper-trader-go/internal/portfolio"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

const batchSize = 500

// Store persists run results and serves them back for reporting.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open, migrated database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SaveResult writes a run with its orders, fills, equity curve and trades in
// one transaction.
func (s *Store) SaveResult(ctx context.Context, mode, label string, res *backtest.Result) error {
	runID := res.RunID.String()
	run := RunRecord(mode, label, res)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("save run %s: %w", runID, err)
		}

		records := make([]models.Order, len(res.Orders))
		for i, o := range res.Orders {
			records[i] = OrderRecord(runID, o)
		}
		if err := createAll(tx, records); err != nil {
			return fmt.Errorf("save orders of %s: %w", runID, err)
		}

		fills := make([]models.Fill, len(res.Fills))
		for i, f := range res.Fills {
			fills[i] = FillRecord(runID, f)
		}
		if err := createAll(tx, fills); err != nil {
			return fmt.Errorf("save fills of %s: %w", runID, err)
		}

		points := make([]models.EquityPoint, len(res.EquityCurve))
		for i, p := range res.EquityCurve {
			points[i] = models.EquityPoint{RunID: runID, Time: p.Time, Equity: p.Equity, Cash: p.Cash}
		}
		if err := createAll(tx, points); err != nil {
			return fmt.Errorf("save equity of %s: %w", runID, err)
		}

		trades := make([]models.Trade, len(res.Trades))
		for i, t := range res.Trades {
			trades[i] = TradeRecord(runID, t, mode != models.ModePaper)
		}
		if err := createAll(tx, trades); err != nil {
			return fmt.Errorf("save trades of %s: %w", runID, err)
		}
		return nil
	})
}

func createAll[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, batchSize).Error
}

// SaveTrade records one closed trade as it happens.
func (s *Store) SaveTrade(ctx context.Context, runID string, t portfolio.TradeLogEntry, simulation bool) error {
	record := TradeRecord(runID, t, simulation)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("save trade of %s: %w", runID, err)
	}
	return nil
}

// Runs lists runs, newest first. A mode of "" matches every mode.
func (s *Store) Runs(ctx context.Context, mode string, limit int) ([]models.Run, error) {
	q := s.db.WithContext(ctx).Order("created_at desc")
	if mode != "" {
		q = q.Where("mode = ?", mode)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []models.Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Run loads one run.
func (s *Store) Run(ctx context.Context, id string) (models.Run, error) {
	var run models.Run
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return run, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// Equity returns the equity curve of a run in time order.
func (s *Store) Equity(ctx context.Context, runID string) ([]models.EquityPoint, error) {
	var points []models.EquityPoint
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("time asc").Find(&points).Error
	return points, err
}

// Orders returns the final orders of a run by order ID.
func (s *Store) Orders(ctx context.Context, runID string) ([]models.Order, error) {
	var out []models.Order
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("order_id asc").Find(&out).Error
	return out, err
}

// Fills returns the fills of a run in execution order.
func (s *Store) Fills(ctx context.Context, runID string) ([]models.Fill, error) {
	var out []models.Fill
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id asc").Find(&out).Error
	return out, err
}

// Trades returns closed trades, most recent first. A runID of "" matches every run.
func (s *Store) Trades(ctx context.Context, runID string) ([]models.Trade, error) {
	q := s.db.WithContext(ctx).Order("timestamp desc")
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	var trades []models.Trade
	err := q.Find(&trades).Error
	return trades, err
}

// RunRecord summarises a result for the runs table.
func RunRecord(mode, label string, res *backtest.Result) models.Run {
	m := res.Metrics
	return models.Run{
		ID:           res.RunID.String(),
		Mode:         mode,
		Strategy:     res.Strategy,
		Label:        label,
		Timeframe:    res.Config.Timeframe.Key,
		Start:        res.Start,
		End:          res.End,
		Ticks:        res.Ticks,
		InitialCash:  res.Config.InitialCash,
		FinalEquity:  res.FinalEquity,
		TotalReturn:  m.TotalReturn,
		CAGR:         m.CAGR,
		Sharpe:       m.Sharpe,
		Sortino:      m.Sortino,
		MaxDrawdown:  m.MaxDrawdown,
		WinRate:      m.WinRate,
		Trades:       m.Trades,
		Rejections:   len(res.Rejections),
		Completed:    res.Completed,
		ProfitFactor: m.FiniteProfitFactor(),
	}
}

// OrderRecord flattens an order. Linked IDs are stored comma separated.
func OrderRecord(runID string, o orders.Order) models.Order {
	linked := make([]string, len(o.LinkedOrderIDs))
	for i, id := range o.LinkedOrderIDs {
		linked[i] = strconv.FormatUint(uint64(id), 10)
	}
	return models.Order{
		RunID:        runID,
		OrderID:      uint64(o.ID),
		Symbol:       o.Symbol,
		Side:         string(o.Side),
		Kind:         string(o.Kind),
		Contingency:  string(o.Contingency),
		Quantity:     o.Quantity,
		LimitPrice:   o.LimitPrice,
		StopPrice:    o.StopPrice,
		TrailOffset:  o.TrailOffset,
		TrailPercent: o.TrailPercent,
		Status:       string(o.Status),
		FilledQty:    o.FilledQty,
		AvgFillPrice: o.AvgFillPrice,
		ParentID:     uint64(o.ParentID),
		LinkedIDs:    strings.Join(linked, ","),
		Tag:          o.Tag,
		Reason:       o.Reason,
		PlacedAt:     o.CreatedAt,
		ChangedAt:    o.UpdatedAt,
	}
}

// FillRecord flattens a fill.
func FillRecord(runID string, f portfolio.Fill) models.Fill {
	return models.Fill{
		RunID:      runID,
		OrderID:    f.OrderID,
		Symbol:     f.Symbol,
		Side:       string(f.Side),
		Quantity:   f.Quantity,
		Price:      f.Price,
		Commission: f.Commission,
		Slippage:   f.Slippage,
		Time:       f.Time,
	}
}

// TradeRecord flattens a closed round trip.
func TradeRecord(runID string, t portfolio.TradeLogEntry, simulation bool) models.Trade {
	return models.Trade{
		RunID:         runID,
		Symbol:        t.Symbol,
		Quantity:      t.Quantity,
		EntryPrice:    t.AvgEntryPrice,
		ExitPrice:     t.AvgExitPrice,
		Commission:    t.Commission,
		Profit:        t.NetPnL.InexactFloat64(),
		Return:        t.Return(),
		OpenedAt:      t.OpenedAt,
		ClosedAt:      t.ClosedAt,
		Timestamp:     t.ClosedAt.UnixMilli(),
		IsSimulation:  simulation,
		HoldingPeriod: t.Holding,
	}
}
