package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"
)

func crossedAbove(prevA, prevB, a, b float64) bool { return prevA <= prevB && a > b }
func crossedBelow(prevA, prevB, a, b float64) bool { return prevA >= prevB && a < b }

// NewMACrossover enters when the fast SMA crosses above the slow SMA and
// exits on the opposite cross.
func NewMACrossover(params Params, sizing Sizing) (Strategy, error) {
	fast, slow := params.Int("fast", 10), params.Int("slow", 30)
	if fast < 2 || slow <= fast {
		return nil, fmt.Errorf("ma_crossover requires 2 <= fast < slow, got fast=%d slow=%d", fast, slow)
	}
	return newSignalStrategy("ma_crossover", slow+1, func(closes []float64) Signal {
		f, s := talib.Sma(closes, fast), talib.Sma(closes, slow)
		n := len(closes) - 1
		switch {
		case crossedAbove(f[n-1], s[n-1], f[n], s[n]):
			return Enter
		case crossedBelow(f[n-1], s[n-1], f[n], s[n]):
			return Exit
		}
		return Hold
	}, sizing), nil
}

// NewRSI enters when RSI falls below oversold and exits above overbought.
func NewRSI(params Params, sizing Sizing) (Strategy, error) {
	period := params.Int("period", 14)
	oversold, overbought := params.Float("oversold", 30), params.Float("overbought", 70)
	if period < 2 || oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("rsi requires period >= 2 and 0 < oversold < overbought < 100")
	}
	return newSignalStrategy("rsi", period+1, func(closes []float64) Signal {
		series := talib.Rsi(closes, period)
		v := series[len(series)-1]
		switch {
		case v < oversold:
			return Enter
		case v > overbought:
			return Exit
		}
		return Hold
	}, sizing), nil
}

// NewMACD trades the sign changes of the MACD histogram.
func NewMACD(params Params, sizing Sizing) (Strategy, error) {
	fast, slow, signal := params.Int("fast", 12), params.Int("slow", 26), params.Int("signal", 9)
	if fast < 2 || slow <= fast || signal < 1 {
		return nil, fmt.Errorf("macd requires 2 <= fast < slow and signal >= 1")
	}
	return newSignalStrategy("macd", slow+signal+1, func(closes []float64) Signal {
		_, _, hist := talib.Macd(closes, fast, slow, signal)
		n := len(hist) - 1
		switch {
		case hist[n-1] <= 0 && hist[n] > 0:
			return Enter
		case hist[n-1] >= 0 && hist[n] < 0:
			return Exit
		}
		return Hold
	}, sizing), nil
}

// NewBollinger buys closes below the lower band and sells above the upper band.
func NewBollinger(params Params, sizing Sizing) (Strategy, error) {
	period, width := params.Int("period", 20), params.Float("width", 2)
	if period < 2 || width <= 0 {
		return nil, fmt.Errorf("bollinger requires period >= 2 and width > 0")
	}
	return newSignalStrategy("bollinger", period, func(closes []float64) Signal {
		upper, _, lower := talib.BBands(closes, period, width, width, talib.SMA)
		n := len(closes) - 1
		switch {
		case closes[n] < lower[n]:
			return Enter
		case closes[n] > upper[n]:
			return Exit
		}
		return Hold
	}, sizing), nil
}
