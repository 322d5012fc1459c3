package features

import (
	"math"
	"sort"
)

// MinutesPerYear annualizes per-minute volatility.
const MinutesPerYear = 365 * 24 * 60

// LogReturns computes r_t = ln(p_t / p_{t-1}).
// It returns a slice of length len(prices)-1, or nil if insufficient data.
// Non-positive prices produce a 0 return.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// PctChanges computes (p_t - p_{t-1}) / p_{t-1}, with 0 when the previous value is 0.
func PctChanges(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		out = append(out, Finite(safeDiv(values[i]-values[i-1], values[i-1])))
	}
	return out
}

// Diffs computes v_t - v_{t-1}.
func Diffs(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		out = append(out, values[i]-values[i-1])
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := Mean(values)
	acc := 0.0
	for _, v := range values {
		acc += (v - m) * (v - m)
	}
	return math.Sqrt(acc / float64(len(values)))
}

// AnnualizedVolatility scales the population stdev of log returns by sqrt(periodsPerYear).
func AnnualizedVolatility(logReturns []float64, periodsPerYear float64) float64 {
	return StdDev(logReturns) * math.Sqrt(periodsPerYear)
}

// EWMA returns the last value of an adjusted exponentially weighted mean with the given span,
// i.e. weights (1-alpha)^i over the series from newest to oldest, alpha = 2/(span+1).
func EWMA(values []float64, span float64) float64 {
	if len(values) == 0 || span < 1 {
		return 0
	}
	alpha := 2 / (span + 1)
	decay := 1 - alpha
	num, den, w := 0.0, 0.0, 1.0
	for i := len(values) - 1; i >= 0; i-- {
		num += w * values[i]
		den += w
		w *= decay
	}
	return Finite(safeDiv(num, den))
}

// Pearson returns the correlation of x and y, or 0 when undefined.
func Pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}
	mx, my := Mean(x), Mean(y)
	var sxy, sxx, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	return Finite(sxy / math.Sqrt(sxx*syy))
}

// Percentile returns the q-th percentile (0..100) using linear interpolation between
// closest ranks.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	q = math.Max(0, math.Min(100, q))
	rank := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// MinMax returns the smallest and largest values.
func MinMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// Finite maps NaN and ±Inf to 0.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
