package feed

import (
	"context"
	"errors"
	"io"
	"time"

	"paper-trader-go/internal/market"
)

// Feed yields bars in time order. Next returns io.EOF once the feed is exhausted.
type Feed interface {
	Next(ctx context.Context) (market.Bar, error)
	Close() error
}

// Slice replays bars held in memory.
type Slice struct {
	bars []market.Bar
	pos  int
}

// NewSlice returns a feed over bars in the given order.
func NewSlice(bars []market.Bar) *Slice {
	return &Slice{bars: append([]market.Bar(nil), bars...)}
}

func (s *Slice) Next(ctx context.Context) (market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return market.Bar{}, err
	}
	if s.pos >= len(s.bars) {
		return market.Bar{}, io.EOF
	}
	bar := s.bars[s.pos]
	s.pos++
	return bar, nil
}

func (s *Slice) Close() error { return nil }

// Collect drains f into memory.
func Collect(ctx context.Context, f Feed) ([]market.Bar, error) {
	var bars []market.Bar
	for {
		bar, err := f.Next(ctx)
		if errors.Is(err, io.EOF) {
			return bars, nil
		}
		if err != nil {
			return bars, err
		}
		bars = append(bars, bar)
	}
}

type between struct {
	feed       Feed
	start, end time.Time
}

// Between yields only the bars of f opening within [start, end). A zero end
// leaves the range open.
func Between(f Feed, start, end time.Time) Feed {
	return &between{feed: f, start: start, end: end}
}

func (b *between) Next(ctx context.Context) (market.Bar, error) {
	for {
		bar, err := b.feed.Next(ctx)
		if err != nil {
			return bar, err
		}
		if bar.Time.Before(b.start) {
			continue
		}
		if !b.end.IsZero() && !bar.Time.Before(b.end) {
			return market.Bar{}, io.EOF
		}
		return bar, nil
	}
}

func (b *between) Close() error { return b.feed.Close() }
