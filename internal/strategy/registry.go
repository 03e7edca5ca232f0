package strategy

import (
	"fmt"
	"sort"
)

// Factory builds a strategy from its parameters.
type Factory func(params Params, sizing Sizing) (Strategy, error)

var registry = map[string]Factory{
	"ma_crossover": NewMACrossover,
	"rsi":          NewRSI,
	"macd":         NewMACD,
	"bollinger":    NewBollinger,
}

// New builds the named built-in strategy.
func New(name string, params Params, sizing Sizing) (Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q, available: %v", name, Names())
	}
	if err := sizing.validate(); err != nil {
		return nil, err
	}
	return factory(params, sizing)
}

// Names lists the registered strategies.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
