package ta

import (
	"math"

	"futures-bot/internal/types"
)

// Every function in this package is pure and never fails. Below its minimum
// sample size a function returns the fallback documented on it.

func last(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals))
}

// SMA is the mean of the trailing n values. Fallback: last value (0 if empty).
func SMA(vals []float64, n int) float64 {
	if n <= 0 || len(vals) < n {
		return last(vals)
	}
	return mean(vals[len(vals)-n:])
}

// EMA seeds with the SMA of the first period values and then applies
// ema = (price-ema)*2/(period+1) + ema. Fallback: last value (0 if empty).
func EMA(vals []float64, period int) float64 {
	if period <= 0 || len(vals) < period {
		return last(vals)
	}
	ema := mean(vals[:period])
	k := 2.0 / float64(period+1)
	for _, p := range vals[period:] {
		ema = (p-ema)*k + ema
	}
	return ema
}

// EMASeries returns the EMA value at every index from period-1 onward.
func EMASeries(vals []float64, period int) []float64 {
	if period <= 0 || len(vals) < period {
		return nil
	}
	out := make([]float64, 0, len(vals)-period+1)
	ema := mean(vals[:period])
	out = append(out, ema)
	k := 2.0 / float64(period+1)
	for _, p := range vals[period:] {
		ema = (p-ema)*k + ema
		out = append(out, ema)
	}
	return out
}

// StdDev is the population standard deviation of the trailing n values. Fallback: 0.
func StdDev(vals []float64, n int) float64 {
	if n <= 0 || len(vals) < n {
		return 0
	}
	m := SMA(vals, n)
	s := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		d := vals[i] - m
		s += d * d
	}
	return math.Sqrt(s / float64(n))
}

// ZScore of the last value against the trailing n window. Fallback: 0.
func ZScore(vals []float64, n int) float64 {
	if n <= 1 || len(vals) < n {
		return 0
	}
	sd := StdDev(vals, n)
	if sd == 0 {
		return 0
	}
	return (last(vals) - SMA(vals, n)) / sd
}

// LinRegSlope is the least-squares slope over the trailing n values (per sample). Fallback: 0.
func LinRegSlope(vals []float64, n int) float64 {
	if n < 2 || len(vals) < n {
		return 0
	}
	window := vals[len(vals)-n:]
	return slope(window)
}

func slope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sx, sy, sxy, sxx float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}

// LinRegSlopePct expresses the slope as a percentage of the window mean per sample.
func LinRegSlopePct(vals []float64, n int) float64 {
	if n < 2 || len(vals) < n {
		return 0
	}
	m := SMA(vals, n)
	if m == 0 {
		return 0
	}
	return LinRegSlope(vals, n) / m * 100
}

// Returns converts a price series to simple returns.
func Returns(vals []float64) []float64 {
	if len(vals) < 2 {
		return nil
	}
	out := make([]float64, 0, len(vals)-1)
	for i := 1; i < len(vals); i++ {
		if vals[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, vals[i]/vals[i-1]-1)
	}
	return out
}

// Correlation is the Pearson coefficient over the aligned tails of a and b. Fallback: 0.
func Correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a, b = a[len(a)-n:], b[len(b)-n:]
	ma, mb := mean(a), mean(b)
	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}

func Closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func Volumes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// HighestHigh and LowestLow scan the trailing n bars (all bars if n exceeds the length).
func HighestHigh(bars []types.Bar, n int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if n <= 0 || n > len(bars) {
		n = len(bars)
	}
	hh := bars[len(bars)-n].High
	for _, b := range bars[len(bars)-n:] {
		hh = math.Max(hh, b.High)
	}
	return hh
}

func LowestLow(bars []types.Bar, n int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if n <= 0 || n > len(bars) {
		n = len(bars)
	}
	ll := bars[len(bars)-n].Low
	for _, b := range bars[len(bars)-n:] {
		ll = math.Min(ll, b.Low)
	}
	return ll
}
