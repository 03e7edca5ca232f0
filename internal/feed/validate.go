package feed

import (
	"context"
	"fmt"
	"time"

	"paper-trader-go/internal/market"
)

// ValidateOptions tunes the data checks. A zero Interval disables gap detection.
type ValidateOptions struct {
	Interval  time.Duration
	AllowGaps bool
}

type validated struct {
	feed   Feed
	opts   ValidateOptions
	last   map[string]time.Time
	latest time.Time
}

// Validate wraps f so malformed, duplicate, out-of-order or missing bars
// surface as market.ErrData.
func Validate(f Feed, opts ValidateOptions) Feed {
	return &validated{feed: f, opts: opts, last: make(map[string]time.Time)}
}

func (v *validated) Next(ctx context.Context) (market.Bar, error) {
	bar, err := v.feed.Next(ctx)
	if err != nil {
		return bar, err
	}
	if err := bar.Validate(); err != nil {
		return market.Bar{}, err
	}
	stamp := bar.Time.Format(time.RFC3339)
	if bar.Time.Before(v.latest) {
		return market.Bar{}, fmt.Errorf("%w: bar %s@%s arrived after %s", market.ErrData, bar.Symbol, stamp, v.latest.Format(time.RFC3339))
	}
	if prev, seen := v.last[bar.Symbol]; seen {
		if !bar.Time.After(prev) {
			return market.Bar{}, fmt.Errorf("%w: duplicate bar %s@%s", market.ErrData, bar.Symbol, stamp)
		}
		if v.opts.Interval > 0 && !v.opts.AllowGaps && bar.Time.Sub(prev) > v.opts.Interval {
			return market.Bar{}, fmt.Errorf("%w: gap in %s between %s and %s", market.ErrData, bar.Symbol, prev.Format(time.RFC3339), stamp)
		}
	}
	v.last[bar.Symbol] = bar.Time
	v.latest = bar.Time
	return bar, nil
}

func (v *validated) Close() error { return v.feed.Close() }
