package metrics

import "math"

// ArithmeticAverage divides the sum of values by their count.
func ArithmeticAverage(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStandardDeviation uses the n-1 denominator.
func SampleStandardDeviation(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}
	mean := ArithmeticAverage(values)
	var combined float64
	for _, v := range values {
		combined += (v - mean) * (v - mean)
	}
	return math.Sqrt(combined / float64(len(values)-1))
}

// DownsideDeviation is the root mean square of returns below target, taken
// over all periods.
func DownsideDeviation(values []float64, target float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var squared float64
	for _, v := range values {
		if v < target {
			squared += (v - target) * (v - target)
		}
	}
	return math.Sqrt(squared / float64(len(values)))
}

// PeriodRate converts an annual rate into the equivalent compounded rate per period.
func PeriodRate(annual, periodsPerYear float64) float64 {
	if periodsPerYear <= 0 || annual == 0 {
		return 0
	}
	return math.Pow(1+annual, 1/periodsPerYear) - 1
}

// rankTolerance absorbs float error in p*n, e.g. (1-0.95)*20 = 1.0000000000000009.
const rankTolerance = 1e-9

// Percentile returns the nearest-rank percentile p in [0, 1] of sorted.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted))-rankTolerance)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
