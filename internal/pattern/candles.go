package pattern

import (
	"math"

	"futures-bot/internal/ta"
	"futures-bot/internal/types"
)

// Candlestick formations carry no price target and are complete on the bar that forms them.

const trendLookback = 5

func body(b types.Bar) float64      { return math.Abs(b.Close - b.Open) }
func span(b types.Bar) float64      { return b.High - b.Low }
func upperWick(b types.Bar) float64 { return b.High - math.Max(b.Open, b.Close) }
func lowerWick(b types.Bar) float64 { return math.Min(b.Open, b.Close) - b.Low }
func bullish(b types.Bar) bool      { return b.Close > b.Open }
func bearish(b types.Bar) bool      { return b.Close < b.Open }

// priorTrend compares the close before the last bar against the close trendLookback bars earlier.
func priorTrend(bars []types.Bar) string {
	n := len(bars)
	if n < trendLookback+2 {
		return ta.SignalNeutral
	}
	then, now := bars[n-2-trendLookback].Close, bars[n-2].Close
	switch {
	case now > then:
		return ta.SignalBullish
	case now < then:
		return ta.SignalBearish
	default:
		return ta.SignalNeutral
	}
}

func candle(kind Type, dir string, conf float64) Pattern {
	return Pattern{Type: kind, Direction: dir, Confidence: clamp01(conf), Completed: true}
}

func DetectEngulfing(bars []types.Bar) (Pattern, bool) {
	if len(bars) < 2 {
		return Pattern{}, false
	}
	prev, cur := bars[len(bars)-2], bars[len(bars)-1]
	pb, cb := body(prev), body(cur)
	if pb == 0 || cb <= pb {
		return Pattern{}, false
	}
	conf := 0.5 + 0.5*math.Min(1, cb/pb-1)
	switch {
	case bearish(prev) && bullish(cur) && cur.Open <= prev.Close && cur.Close >= prev.Open:
		return candle(BullishEngulfing, ta.SignalBullish, conf), true
	case bullish(prev) && bearish(cur) && cur.Open >= prev.Close && cur.Close <= prev.Open:
		return candle(BearishEngulfing, ta.SignalBearish, conf), true
	}
	return Pattern{}, false
}

// DetectHammer needs a prior decline and a lower wick at least twice the body.
func DetectHammer(bars []types.Bar) (Pattern, bool) {
	if len(bars) < trendLookback+2 || priorTrend(bars) != ta.SignalBearish {
		return Pattern{}, false
	}
	b := bars[len(bars)-1]
	bd := body(b)
	if bd == 0 || lowerWick(b) < 2*bd || upperWick(b) > bd*0.5 {
		return Pattern{}, false
	}
	return candle(Hammer, ta.SignalBullish, 0.4+0.1*math.Min(4, lowerWick(b)/bd)), true
}

func DetectShootingStar(bars []types.Bar) (Pattern, bool) {
	if len(bars) < trendLookback+2 || priorTrend(bars) != ta.SignalBullish {
		return Pattern{}, false
	}
	b := bars[len(bars)-1]
	bd := body(b)
	if bd == 0 || upperWick(b) < 2*bd || lowerWick(b) > bd*0.5 {
		return Pattern{}, false
	}
	return candle(ShootingStar, ta.SignalBearish, 0.4+0.1*math.Min(4, upperWick(b)/bd)), true
}

func DetectDoji(bars []types.Bar) (Pattern, bool) {
	if len(bars) < 1 {
		return Pattern{}, false
	}
	b := bars[len(bars)-1]
	r := span(b)
	if r == 0 || body(b) > 0.1*r {
		return Pattern{}, false
	}
	return candle(Doji, ta.SignalNeutral, 0.5-body(b)/r*2), true
}

// star matches a long first candle, a small middle body and a third candle
// closing beyond the midpoint of the first.
func star(bars []types.Bar, morning bool) bool {
	if len(bars) < 3 {
		return false
	}
	a, b, c := bars[len(bars)-3], bars[len(bars)-2], bars[len(bars)-1]
	if span(a) == 0 || body(a) < 0.6*span(a) || body(b) > 0.3*body(a) {
		return false
	}
	mid := (a.Open + a.Close) / 2
	if morning {
		return bearish(a) && bullish(c) && c.Close > mid
	}
	return bullish(a) && bearish(c) && c.Close < mid
}

func DetectMorningStar(bars []types.Bar) (Pattern, bool) {
	if !star(bars, true) {
		return Pattern{}, false
	}
	return candle(MorningStar, ta.SignalBullish, 0.7), true
}

func DetectEveningStar(bars []types.Bar) (Pattern, bool) {
	if !star(bars, false) {
		return Pattern{}, false
	}
	return candle(EveningStar, ta.SignalBearish, 0.7), true
}

// soldiers matches three same-colour candles with solid bodies, each closing
// further in the trend direction and opening inside the previous body.
func soldiers(bars []types.Bar, up bool) bool {
	if len(bars) < 3 {
		return false
	}
	tail := bars[len(bars)-3:]
	for i, b := range tail {
		if span(b) == 0 || body(b) < 0.5*span(b) {
			return false
		}
		if up != bullish(b) || (!up && !bearish(b)) {
			return false
		}
		if i == 0 {
			continue
		}
		p := tail[i-1]
		lo, hi := math.Min(p.Open, p.Close), math.Max(p.Open, p.Close)
		if b.Open < lo || b.Open > hi {
			return false
		}
		if up && b.Close <= p.Close || !up && b.Close >= p.Close {
			return false
		}
	}
	return true
}

func DetectThreeWhiteSoldiers(bars []types.Bar) (Pattern, bool) {
	if !soldiers(bars, true) {
		return Pattern{}, false
	}
	return candle(ThreeWhiteSoldiers, ta.SignalBullish, 0.75), true
}

func DetectThreeBlackCrows(bars []types.Bar) (Pattern, bool) {
	if !soldiers(bars, false) {
		return Pattern{}, false
	}
	return candle(ThreeBlackCrows, ta.SignalBearish, 0.75), true
}
