package pattern

import (
	"math"

	"futures-bot/internal/ta"
	"futures-bot/internal/types"
)

const (
	minChartBars = 2*PivotWindow + 10

	// MinHSConfidence discards weak head-and-shoulders candidates.
	MinHSConfidence = 0.6
	// MinReversalDepth is the trough (peak) depth a double or triple formation needs, as a fraction.
	MinReversalDepth = 0.03
	// MinHeadProminence is how far the head must clear the nearer shoulder, as a fraction of the head.
	MinHeadProminence = 0.03

	shoulderTolerance = 0.05
)

func lastN(ps []Pivot, n int) []Pivot {
	if len(ps) < n {
		return nil
	}
	return ps[len(ps)-n:]
}

// extremeBetween returns the lowest low (low=true) or highest high between two
// bar indices, exclusive.
func extremeBetween(bars []types.Bar, from, to int, low bool) float64 {
	if to-from < 2 {
		return math.NaN()
	}
	v := bars[from+1].High
	if low {
		v = bars[from+1].Low
	}
	for i := from + 1; i < to; i++ {
		if low {
			v = math.Min(v, bars[i].Low)
		} else {
			v = math.Max(v, bars[i].High)
		}
	}
	return v
}

func relDiff(a, b float64) float64 {
	m := math.Max(math.Abs(a), math.Abs(b))
	if m == 0 {
		return 0
	}
	return math.Abs(a-b) / m
}

// hsScore rates a three-peak formation: shoulder symmetry, head prominence and neckline flatness.
func hsScore(left, head, right, neck1, neck2 float64) float64 {
	sym := 1 - relDiff(left, right)/shoulderTolerance
	prom := 0.0
	if head != 0 {
		prom = math.Min(math.Abs(head-left), math.Abs(head-right)) / math.Abs(head) / MinReversalDepth
	}
	flat := 1 - relDiff(neck1, neck2)/shoulderTolerance
	return clamp01(0.4*clamp01(sym) + 0.3*clamp01(prom) + 0.3*clamp01(flat))
}

// hsShape gates a three-pivot formation before it is scored: shoulders
// within 2*ClusterTolerance of each other and a head at least
// MinHeadProminence beyond both.
func hsShape(left, head, right float64) bool {
	if head == 0 || relDiff(left, right) > 2*ClusterTolerance {
		return false
	}
	return math.Min(math.Abs(head-left), math.Abs(head-right))/math.Abs(head) >= MinHeadProminence
}

func DetectHeadAndShoulders(bars []types.Bar) (Pattern, bool) {
	if len(bars) < minChartBars {
		return Pattern{}, false
	}
	highs, _ := Pivots(bars, PivotWindow, PivotWindow)
	p := lastN(highs, 3)
	if p == nil || p[1].Price <= p[0].Price || p[1].Price <= p[2].Price {
		return Pattern{}, false
	}
	if !hsShape(p[0].Price, p[1].Price, p[2].Price) {
		return Pattern{}, false
	}
	t1 := extremeBetween(bars, p[0].Index, p[1].Index, true)
	t2 := extremeBetween(bars, p[1].Index, p[2].Index, true)
	if math.IsNaN(t1) || math.IsNaN(t2) {
		return Pattern{}, false
	}
	conf := hsScore(p[0].Price, p[1].Price, p[2].Price, t1, t2)
	if conf < MinHSConfidence {
		return Pattern{}, false
	}
	neck := (t1 + t2) / 2
	return Pattern{
		Type:       HeadAndShoulders,
		Direction:  ta.SignalBearish,
		Confidence: conf,
		Target:     neck - (p[1].Price - neck),
		Completed:  bars[len(bars)-1].Close < neck,
	}, true
}

func DetectInverseHeadAndShoulders(bars []types.Bar) (Pattern, bool) {
	if len(bars) < minChartBars {
		return Pattern{}, false
	}
	_, lows := Pivots(bars, PivotWindow, PivotWindow)
	p := lastN(lows, 3)
	if p == nil || p[1].Price >= p[0].Price || p[1].Price >= p[2].Price {
		return Pattern{}, false
	}
	if !hsShape(p[0].Price, p[1].Price, p[2].Price) {
		return Pattern{}, false
	}
	t1 := extremeBetween(bars, p[0].Index, p[1].Index, false)
	t2 := extremeBetween(bars, p[1].Index, p[2].Index, false)
	if math.IsNaN(t1) || math.IsNaN(t2) {
		return Pattern{}, false
	}
	conf := hsScore(p[0].Price, p[1].Price, p[2].Price, t1, t2)
	if conf < MinHSConfidence {
		return Pattern{}, false
	}
	neck := (t1 + t2) / 2
	return Pattern{
		Type:       InverseHeadAndShoulders,
		Direction:  ta.SignalBullish,
		Confidence: conf,
		Target:     neck + (neck - p[1].Price),
		Completed:  bars[len(bars)-1].Close > neck,
	}, true
}

// multiTop matches n pivot highs within ClusterTolerance of their mean with
// every intervening trough at least MinReversalDepth below it.
func multiTop(bars []types.Bar, n int, kind Type) (Pattern, bool) {
	if len(bars) < minChartBars {
		return Pattern{}, false
	}
	highs, _ := Pivots(bars, PivotWindow, PivotWindow)
	p := lastN(highs, n)
	if p == nil {
		return Pattern{}, false
	}
	peak := 0.0
	for _, x := range p {
		peak += x.Price
	}
	peak /= float64(n)
	maxDiff := 0.0
	for _, x := range p {
		maxDiff = math.Max(maxDiff, relDiff(x.Price, peak))
	}
	if maxDiff > ClusterTolerance {
		return Pattern{}, false
	}
	trough := math.Inf(1)
	minDepth := math.Inf(1)
	for i := 0; i+1 < n; i++ {
		t := extremeBetween(bars, p[i].Index, p[i+1].Index, true)
		if math.IsNaN(t) {
			return Pattern{}, false
		}
		trough = math.Min(trough, t)
		minDepth = math.Min(minDepth, (peak-t)/peak)
	}
	if minDepth < MinReversalDepth {
		return Pattern{}, false
	}
	conf := clamp01(0.5*(1-maxDiff/ClusterTolerance) + 0.5*math.Min(1, minDepth/(2*MinReversalDepth)))
	return Pattern{
		Type:       kind,
		Direction:  ta.SignalBearish,
		Confidence: conf,
		Target:     trough - (peak - trough),
		Completed:  bars[len(bars)-1].Close < trough,
	}, true
}

func multiBottom(bars []types.Bar, n int, kind Type) (Pattern, bool) {
	if len(bars) < minChartBars {
		return Pattern{}, false
	}
	_, lows := Pivots(bars, PivotWindow, PivotWindow)
	p := lastN(lows, n)
	if p == nil {
		return Pattern{}, false
	}
	base := 0.0
	for _, x := range p {
		base += x.Price
	}
	base /= float64(n)
	maxDiff := 0.0
	for _, x := range p {
		maxDiff = math.Max(maxDiff, relDiff(x.Price, base))
	}
	if maxDiff > ClusterTolerance || base <= 0 {
		return Pattern{}, false
	}
	ceiling := math.Inf(-1)
	minDepth := math.Inf(1)
	for i := 0; i+1 < n; i++ {
		t := extremeBetween(bars, p[i].Index, p[i+1].Index, false)
		if math.IsNaN(t) {
			return Pattern{}, false
		}
		ceiling = math.Max(ceiling, t)
		minDepth = math.Min(minDepth, (t-base)/base)
	}
	if minDepth < MinReversalDepth {
		return Pattern{}, false
	}
	conf := clamp01(0.5*(1-maxDiff/ClusterTolerance) + 0.5*math.Min(1, minDepth/(2*MinReversalDepth)))
	return Pattern{
		Type:       kind,
		Direction:  ta.SignalBullish,
		Confidence: conf,
		Target:     ceiling + (ceiling - base),
		Completed:  bars[len(bars)-1].Close > ceiling,
	}, true
}

func DetectDoubleTop(bars []types.Bar) (Pattern, bool)    { return multiTop(bars, 2, DoubleTop) }
func DetectTripleTop(bars []types.Bar) (Pattern, bool)    { return multiTop(bars, 3, TripleTop) }
func DetectDoubleBottom(bars []types.Bar) (Pattern, bool) { return multiBottom(bars, 2, DoubleBottom) }
func DetectTripleBottom(bars []types.Bar) (Pattern, bool) { return multiBottom(bars, 3, TripleBottom) }
