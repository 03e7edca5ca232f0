package feed

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"paper-trader-go/internal/market"
)

// KlineSource fetches historical candles. The Binance REST client implements it.
type KlineSource interface {
	GetKlines(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]market.Bar, error)
}

const defaultPageSize = 1000

// History pages through a KlineSource for one symbol between start and end.
type History struct {
	source    KlineSource
	symbol    string
	timeframe market.Timeframe
	cursor    time.Time
	end       time.Time
	pageSize  int
	page      []market.Bar
	done      bool
	logger    *zap.Logger
}

// NewHistory returns a feed of closed klines opening in [start, end).
func NewHistory(source KlineSource, symbol string, tf market.Timeframe, start, end time.Time, logger *zap.Logger) *History {
	return &History{
		source:    source,
		symbol:    symbol,
		timeframe: tf,
		cursor:    start,
		end:       end,
		pageSize:  defaultPageSize,
		logger:    logger.Named("history").With(zap.String("symbol", symbol)),
	}
}

// NewHistories builds one merged feed over several symbols.
func NewHistories(source KlineSource, symbols []string, tf market.Timeframe, start, end time.Time, logger *zap.Logger) Feed {
	feeds := make([]Feed, len(symbols))
	for i, symbol := range symbols {
		feeds[i] = NewHistory(source, symbol, tf, start, end, logger)
	}
	return Merge(feeds...)
}

func (h *History) Next(ctx context.Context) (market.Bar, error) {
	for len(h.page) == 0 {
		if h.done || !h.cursor.Before(h.end) {
			return market.Bar{}, io.EOF
		}
		if err := h.fetch(ctx); err != nil {
			return market.Bar{}, err
		}
	}
	bar := h.page[0]
	h.page = h.page[1:]
	return bar, nil
}

func (h *History) fetch(ctx context.Context) error {
	bars, err := h.source.GetKlines(ctx, h.symbol, h.timeframe.SourceInterval, h.cursor, h.end.Add(-time.Millisecond), h.pageSize)
	if err != nil {
		return fmt.Errorf("failed to fetch klines for %s: %w", h.symbol, err)
	}
	h.logger.Debug("Fetched kline page", zap.Time("from", h.cursor), zap.Int("count", len(bars)))
	if len(bars) == 0 {
		h.done = true
		return nil
	}
	for _, bar := range bars {
		if !bar.Time.Before(h.cursor) && bar.Time.Before(h.end) {
			bar.Timeframe = h.timeframe.Key
			h.page = append(h.page, bar)
		}
	}
	next := bars[len(bars)-1].Time.Add(h.timeframe.Duration)
	if !next.After(h.cursor) {
		h.done = true
	}
	h.cursor = next
	if len(bars) < h.pageSize {
		h.done = true
	}
	return nil
}

func (h *History) Close() error { return nil }
