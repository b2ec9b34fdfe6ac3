package pattern

import (
	"math"

	"futures-bot/internal/ta"
	"futures-bot/internal/types"
)

const (
	// flatSlope is the per-bar slope, in percent of price, below which a line counts as flat.
	flatSlope = 0.02

	geometryPivots = 4

	flagPoleBars = 10
	flagBars     = 10
	minPoleMove  = 0.05
)

// fitLine is an ordinary least-squares fit of pivot prices against bar index.
func fitLine(ps []Pivot) (slope, intercept float64) {
	n := float64(len(ps))
	var sx, sy, sxy, sxx float64
	for _, p := range ps {
		x := float64(p.Index)
		sx += x
		sy += p.Price
		sxy += x * p.Price
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, sy / n
	}
	slope = (n*sxy - sx*sy) / den
	intercept = (sy - slope*sx) / n
	return slope, intercept
}

type boundary struct {
	slopePct float64
	at       func(i int) float64
}

func trendLine(ps []Pivot) boundary {
	s, c := fitLine(ps)
	m := 0.0
	for _, p := range ps {
		m += p.Price
	}
	m /= float64(len(ps))
	b := boundary{at: func(i int) float64 { return s*float64(i) + c }}
	if m != 0 {
		b.slopePct = s / m * 100
	}
	return b
}

func (b boundary) flat() bool    { return math.Abs(b.slopePct) < flatSlope }
func (b boundary) rising() bool  { return b.slopePct >= flatSlope }
func (b boundary) falling() bool { return b.slopePct <= -flatSlope }

// channel fits upper and lower boundaries through the most recent pivots.
func channel(bars []types.Bar) (upper, lower boundary, ok bool) {
	if len(bars) < minChartBars {
		return boundary{}, boundary{}, false
	}
	highs, lows := Pivots(bars, PivotWindow, PivotWindow)
	if len(highs) < 2 || len(lows) < 2 {
		return boundary{}, boundary{}, false
	}
	if len(highs) > geometryPivots {
		highs = highs[len(highs)-geometryPivots:]
	}
	if len(lows) > geometryPivots {
		lows = lows[len(lows)-geometryPivots:]
	}
	return trendLine(highs), trendLine(lows), true
}

// breakout reports the direction in which the last close left the channel, if any.
func breakout(bars []types.Bar, upper, lower boundary) string {
	i := len(bars) - 1
	c := bars[i].Close
	switch {
	case c > upper.at(i):
		return ta.SignalBullish
	case c < lower.at(i):
		return ta.SignalBearish
	default:
		return ta.SignalNeutral
	}
}

// DetectTriangle classifies converging pivot boundaries. The target projects the
// widest height of the triangle from the breakout side.
func DetectTriangle(bars []types.Bar) (Pattern, bool) {
	upper, lower, ok := channel(bars)
	if !ok {
		return Pattern{}, false
	}
	var p Pattern
	switch {
	case upper.flat() && lower.rising():
		p = Pattern{Type: AscendingTriangle, Direction: ta.SignalBullish}
	case upper.falling() && lower.flat():
		p = Pattern{Type: DescendingTriangle, Direction: ta.SignalBearish}
	case upper.falling() && lower.rising():
		p = Pattern{Type: SymmetricalTriangle, Direction: ta.SignalNeutral}
	default:
		return Pattern{}, false
	}

	start := len(bars) - 1 - 2*geometryPivots*PivotWindow
	if start < 0 {
		start = 0
	}
	i := len(bars) - 1
	height := upper.at(start) - lower.at(start)
	if height <= 0 || upper.at(i) <= lower.at(i) {
		return Pattern{}, false
	}
	narrowing := 1 - (upper.at(i)-lower.at(i))/height

	dir := breakout(bars, upper, lower)
	p.Completed = dir != ta.SignalNeutral
	if p.Direction == ta.SignalNeutral {
		p.Direction = dir
	}
	switch p.Direction {
	case ta.SignalBullish:
		p.Target = upper.at(i) + height
	case ta.SignalBearish:
		p.Target = lower.at(i) - height
	}
	p.Confidence = clamp01(0.5 + 0.5*narrowing)
	if p.Completed {
		p.Confidence = clamp01(p.Confidence + 0.1)
	}
	return p, true
}

// DetectRectangle matches two flat, parallel boundaries at least 1% apart.
func DetectRectangle(bars []types.Bar) (Pattern, bool) {
	upper, lower, ok := channel(bars)
	if !ok || !upper.flat() || !lower.flat() {
		return Pattern{}, false
	}
	i := len(bars) - 1
	top, bottom := upper.at(i), lower.at(i)
	if bottom <= 0 || (top-bottom)/bottom < 0.01 {
		return Pattern{}, false
	}
	height := top - bottom
	dir := breakout(bars, upper, lower)
	p := Pattern{Type: Rectangle, Direction: dir, Completed: dir != ta.SignalNeutral}
	switch dir {
	case ta.SignalBullish:
		p.Target = top + height
	case ta.SignalBearish:
		p.Target = bottom - height
	}
	flatness := 1 - (math.Abs(upper.slopePct)+math.Abs(lower.slopePct))/(2*flatSlope)
	p.Confidence = clamp01(0.4 + 0.4*clamp01(flatness))
	if p.Completed {
		p.Confidence = clamp01(p.Confidence + 0.2)
	}
	return p, true
}

// DetectFlag looks for a sharp pole followed by a tight counter-trend drift.
// The target projects the pole from the last close.
func DetectFlag(bars []types.Bar) (Pattern, bool) {
	if len(bars) < flagPoleBars+flagBars+1 {
		return Pattern{}, false
	}
	n := len(bars)
	flag := bars[n-flagBars:]
	poleStart := bars[n-flagBars-flagPoleBars-1].Close
	poleEnd := bars[n-flagBars-1].Close
	if poleStart <= 0 {
		return Pattern{}, false
	}
	move := (poleEnd - poleStart) / poleStart
	if math.Abs(move) < minPoleMove {
		return Pattern{}, false
	}

	closes := ta.Closes(flag)
	drift := ta.LinRegSlopePct(closes, len(closes))
	rangePct := (ta.HighestHigh(flag, 0) - ta.LowestLow(flag, 0)) / poleEnd
	pole := math.Abs(poleEnd - poleStart)
	if rangePct > math.Abs(move)/2 {
		return Pattern{}, false
	}
	last := flag[len(flag)-1].Close
	tightness := 1 - rangePct/(math.Abs(move)/2)

	if move > 0 && drift <= flatSlope {
		return Pattern{
			Type:       BullFlag,
			Direction:  ta.SignalBullish,
			Confidence: clamp01(0.5 + 0.5*tightness),
			Target:     last + pole,
			Completed:  last > ta.HighestHigh(flag[:len(flag)-1], 0),
		}, true
	}
	if move < 0 && drift >= -flatSlope {
		return Pattern{
			Type:       BearFlag,
			Direction:  ta.SignalBearish,
			Confidence: clamp01(0.5 + 0.5*tightness),
			Target:     last - pole,
			Completed:  last < ta.LowestLow(flag[:len(flag)-1], 0),
		}, true
	}
	return Pattern{}, false
}
