package strategy

import (
	"fmt"
	"sort"
	"strings"
)

// Params are the numeric tuning knobs of a built-in strategy.
type Params map[string]float64

// Float returns the value of key or def when unset.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Int returns the value of key truncated to an int, or def when unset.
func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok {
		return int(v)
	}
	return def
}

// With returns a copy of p overridden by other.
func (p Params) With(other Params) Params {
	out := make(Params, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// String renders params in key order, stable across runs.
func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, ",")
}

// Grid expands a parameter grid into every combination, in key then value order.
func Grid(grid map[string][]float64) []Params {
	keys := make([]string, 0, len(grid))
	for k := range grid {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []Params{{}}
	for _, k := range keys {
		var next []Params
		for _, base := range out {
			for _, v := range grid[k] {
				next = append(next, base.With(Params{k: v}))
			}
		}
		if len(next) > 0 {
			out = next
		}
	}
	return out
}
