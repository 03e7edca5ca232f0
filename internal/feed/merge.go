package feed

import (
	"context"
	"errors"
	"io"

	"paper-trader-go/internal/market"
)

type head struct {
	bar  market.Bar
	ok   bool
	done bool
}

// merged interleaves several time-ordered feeds by (time, symbol). Ties on
// both keys resolve to the feed listed first so the order is reproducible.
type merged struct {
	feeds []Feed
	heads []head
}

// Merge combines feeds into one time-ordered feed.
func Merge(feeds ...Feed) Feed {
	if len(feeds) == 1 {
		return feeds[0]
	}
	return &merged{feeds: feeds, heads: make([]head, len(feeds))}
}

func (m *merged) Next(ctx context.Context) (market.Bar, error) {
	best := -1
	for i := range m.feeds {
		h := &m.heads[i]
		if h.done {
			continue
		}
		if !h.ok {
			bar, err := m.feeds[i].Next(ctx)
			if errors.Is(err, io.EOF) {
				h.done = true
				continue
			}
			if err != nil {
				return market.Bar{}, err
			}
			h.bar, h.ok = bar, true
		}
		if best < 0 || before(h.bar, m.heads[best].bar) {
			best = i
		}
	}
	if best < 0 {
		return market.Bar{}, io.EOF
	}
	m.heads[best].ok = false
	return m.heads[best].bar, nil
}

func before(a, b market.Bar) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	return a.Symbol < b.Symbol
}

func (m *merged) Close() error {
	var errs []error
	for _, f := range m.feeds {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
