package strategy

import (
	"sort"
	"time"

	"paper-trader-go/internal/market"
	"paper-trader-go/internal/orders"
	"paper-trader-go/internal/portfolio"
)

// Tick is everything a strategy may see at one timestamp. It only holds bars
// up to and including Time.
type Tick struct {
	Time      time.Time
	Bars      map[string]market.Bar
	Portfolio portfolio.Snapshot
	Open      []orders.Order
	Outcomes  []Outcome
}

// Symbols returns the symbols of the tick in sorted order.
func (t Tick) Symbols() []string {
	out := make([]string, 0, len(t.Bars))
	for symbol := range t.Bars {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// OpenFor returns the working orders of symbol.
func (t Tick) OpenFor(symbol string) []orders.Order {
	var out []orders.Order
	for _, o := range t.Open {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

// Outcome reports what happened to one request of the previous decision.
type Outcome struct {
	Tag      string        `json:"tag,omitempty"`
	OrderIDs []orders.ID   `json:"order_ids"`
	Status   orders.Status `json:"status"`
	Error    string        `json:"error,omitempty"`
}

// Decision is the set of requests a strategy emits for one tick. Cancels are
// processed before new orders.
type Decision struct {
	Orders   []orders.Request
	OCOs     []orders.OCORequest
	Brackets []orders.BracketRequest
	Cancels  []orders.ID
}

// Empty reports whether the decision requests nothing.
func (d Decision) Empty() bool {
	return len(d.Orders) == 0 && len(d.OCOs) == 0 && len(d.Brackets) == 0 && len(d.Cancels) == 0
}

// Strategy is the single extension point of a run. OnTick is called once per
// tick after fills; the requests it returns become eligible on the next tick.
type Strategy interface {
	Name() string
	OnTick(tick Tick) (Decision, error)
}
