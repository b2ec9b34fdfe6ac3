// Package pattern recognises chart and candlestick formations on OHLCV bars.
package pattern

import (
	"math"
	"sort"

	"futures-bot/internal/ta"
	"futures-bot/internal/types"
)

type Type string

const (
	HeadAndShoulders        Type = "head_and_shoulders"
	InverseHeadAndShoulders Type = "inverse_head_and_shoulders"
	DoubleTop               Type = "double_top"
	DoubleBottom            Type = "double_bottom"
	TripleTop               Type = "triple_top"
	TripleBottom            Type = "triple_bottom"
	AscendingTriangle       Type = "ascending_triangle"
	DescendingTriangle      Type = "descending_triangle"
	SymmetricalTriangle     Type = "symmetrical_triangle"
	BullFlag                Type = "bull_flag"
	BearFlag                Type = "bear_flag"
	Rectangle               Type = "rectangle"
	BullishEngulfing        Type = "bullish_engulfing"
	BearishEngulfing        Type = "bearish_engulfing"
	Hammer                  Type = "hammer"
	ShootingStar            Type = "shooting_star"
	Doji                    Type = "doji"
	MorningStar             Type = "morning_star"
	EveningStar             Type = "evening_star"
	ThreeWhiteSoldiers      Type = "three_white_soldiers"
	ThreeBlackCrows         Type = "three_black_crows"
)

// Pattern is one recognised formation. Direction uses the ta signal strings
// (bullish, bearish, neutral). Target is 0 when the formation carries no price objective.
type Pattern struct {
	Type       Type    `json:"type"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Target     float64 `json:"target,omitempty"`
	Completed  bool    `json:"completed"`
}

// Detector inspects the tail of a bar series.
type Detector func(bars []types.Bar) (Pattern, bool)

var detectors = []Detector{
	DetectHeadAndShoulders,
	DetectInverseHeadAndShoulders,
	DetectDoubleTop,
	DetectDoubleBottom,
	DetectTripleTop,
	DetectTripleBottom,
	DetectTriangle,
	DetectRectangle,
	DetectFlag,
	DetectEngulfing,
	DetectHammer,
	DetectShootingStar,
	DetectDoji,
	DetectMorningStar,
	DetectEveningStar,
	DetectThreeWhiteSoldiers,
	DetectThreeBlackCrows,
}

// Detect runs every detector and returns the matches ordered by confidence.
func Detect(bars []types.Bar) []Pattern {
	var out []Pattern
	for _, d := range detectors {
		if p, ok := d(bars); ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// Bias sums the confidence of bullish and bearish matches.
func Bias(patterns []Pattern) (bullish, bearish float64) {
	for _, p := range patterns {
		switch p.Direction {
		case ta.SignalBullish:
			bullish += p.Confidence
		case ta.SignalBearish:
			bearish += p.Confidence
		}
	}
	return bullish, bearish
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
