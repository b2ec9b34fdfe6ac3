package pattern

import (
	"math"
	"sort"

	"futures-bot/internal/types"
)

const (
	// PivotWindow bars on each side must be strictly below a pivot high (above a pivot low).
	PivotWindow = 5
	// ClusterTolerance groups pivots whose prices lie within 2% of the cluster mean.
	ClusterTolerance = 0.02
)

type Pivot struct {
	Index int     `json:"index"`
	Price float64 `json:"price"`
}

func isPivotHigh(bars []types.Bar, i, left, right int) bool {
	if i-left < 0 || i+right >= len(bars) {
		return false
	}
	for j := i - left; j <= i+right; j++ {
		if j != i && bars[j].High >= bars[i].High {
			return false
		}
	}
	return true
}

func isPivotLow(bars []types.Bar, i, left, right int) bool {
	if i-left < 0 || i+right >= len(bars) {
		return false
	}
	for j := i - left; j <= i+right; j++ {
		if j != i && bars[j].Low <= bars[i].Low {
			return false
		}
	}
	return true
}

// Pivots returns swing highs and lows in index order. A pivot needs a full
// window of bars on both sides, so the last `right` bars never qualify.
func Pivots(bars []types.Bar, left, right int) (highs, lows []Pivot) {
	for i := left; i+right < len(bars); i++ {
		if isPivotHigh(bars, i, left, right) {
			highs = append(highs, Pivot{Index: i, Price: bars[i].High})
		}
		if isPivotLow(bars, i, left, right) {
			lows = append(lows, Pivot{Index: i, Price: bars[i].Low})
		}
	}
	return highs, lows
}

type LevelKind string

const (
	Support    LevelKind = "support"
	Resistance LevelKind = "resistance"
)

type Level struct {
	Price   float64   `json:"price"`
	Touches int       `json:"touches"`
	Kind    LevelKind `json:"kind"`
}

// SupportResistance clusters every pivot (highs and lows alike) at the given
// tolerance and ranks the clusters by touch count, strongest first. Levels at
// or below the last close are support; the rest are resistance.
func SupportResistance(bars []types.Bar, tolerance float64) []Level {
	highs, lows := Pivots(bars, PivotWindow, PivotWindow)
	prices := make([]float64, 0, len(highs)+len(lows))
	for _, p := range highs {
		prices = append(prices, p.Price)
	}
	for _, p := range lows {
		prices = append(prices, p.Price)
	}
	if len(prices) == 0 {
		return nil
	}
	sort.Float64s(prices)

	type cluster struct {
		sum float64
		n   int
	}
	var clusters []cluster
	for _, p := range prices {
		if k := len(clusters) - 1; k >= 0 {
			m := clusters[k].sum / float64(clusters[k].n)
			if m != 0 && math.Abs(p-m)/m <= tolerance {
				clusters[k].sum += p
				clusters[k].n++
				continue
			}
		}
		clusters = append(clusters, cluster{sum: p, n: 1})
	}

	lastClose := bars[len(bars)-1].Close
	levels := make([]Level, 0, len(clusters))
	for _, c := range clusters {
		lv := Level{Price: c.sum / float64(c.n), Touches: c.n, Kind: Resistance}
		if lv.Price <= lastClose {
			lv.Kind = Support
		}
		levels = append(levels, lv)
	}
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].Touches > levels[j].Touches })
	return levels
}

// NearestLevels returns the closest support below and resistance above price (0 when absent).
func NearestLevels(levels []Level, price float64) (support, resistance float64) {
	for _, lv := range levels {
		if lv.Price <= price && lv.Price > support {
			support = lv.Price
		}
		if lv.Price > price && (resistance == 0 || lv.Price < resistance) {
			resistance = lv.Price
		}
	}
	return support, resistance
}
