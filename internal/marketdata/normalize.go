package marketdata

import (
	"math"
	"sort"

	"futures-bot/internal/types"
)

// Normalize orders bars by open time, keeps the last copy of a repeated
// timestamp and drops bars that cannot be real prints.
func Normalize(bars []types.Bar) []types.Bar {
	out := make([]types.Bar, 0, len(bars))
	for _, b := range bars {
		if valid(b) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })

	n := 0
	for i := range out {
		if n > 0 && out[n-1].Ts == out[i].Ts {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

func valid(b types.Bar) bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if b.Close <= 0 || b.Low <= 0 || b.Volume < 0 {
		return false
	}
	return b.High >= b.Low && b.High >= math.Max(b.Open, b.Close) && b.Low <= math.Min(b.Open, b.Close)
}
