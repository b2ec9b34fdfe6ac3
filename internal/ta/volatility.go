package ta

import (
	"math"

	"futures-bot/internal/types"
)

type Bands struct {
	Upper    float64 `json:"upper"`
	Middle   float64 `json:"middle"`
	Lower    float64 `json:"lower"`
	Width    float64 `json:"width"`     // (upper-lower)/middle
	PercentB float64 `json:"percent_b"` // 0 at lower band, 1 at upper band
}

// Bollinger bands around SMA(period) at k standard deviations.
// Fallback: middle = last price, bands at +/-2% of it.
func Bollinger(closes []float64, period int, k float64) Bands {
	if period <= 0 || len(closes) < period {
		p := last(closes)
		b := Bands{Upper: p * 1.02, Middle: p, Lower: p * 0.98, PercentB: 0.5}
		if p != 0 {
			b.Width = 0.04
		}
		return b
	}
	mid := SMA(closes, period)
	sd := StdDev(closes, period)
	b := Bands{Upper: mid + k*sd, Middle: mid, Lower: mid - k*sd, PercentB: 0.5}
	if mid != 0 {
		b.Width = (b.Upper - b.Lower) / mid
	}
	if b.Upper != b.Lower {
		b.PercentB = (last(closes) - b.Lower) / (b.Upper - b.Lower)
	}
	return b
}

// TrueRange = max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(cur, prev types.Bar) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ATR is the mean true range over the trailing period.
// Fallback: mean high-low range of whatever bars exist (0 if none).
func ATR(bars []types.Bar, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if period <= 0 || len(bars) < period+1 {
		s := 0.0
		for _, b := range bars {
			s += b.High - b.Low
		}
		return s / float64(len(bars))
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += TrueRange(bars[i], bars[i-1])
	}
	return sum / float64(period)
}

// ATRPercent is ATR relative to the last close, in percent.
func ATRPercent(bars []types.Bar, period int) float64 {
	if len(bars) == 0 || bars[len(bars)-1].Close == 0 {
		return 0
	}
	return ATR(bars, period) / bars[len(bars)-1].Close * 100
}

type SARResult struct {
	SAR     float64 `json:"sar"`
	Uptrend bool    `json:"uptrend"`
}

// ParabolicSAR runs the stop-and-reverse recurrence. The acceleration factor
// grows by step on every new extreme and never exceeds maxAF.
// Fallback: the last bar's low (uptrend) when fewer than 2 bars.
func ParabolicSAR(bars []types.Bar, step, maxAF float64) SARResult {
	if len(bars) == 0 {
		return SARResult{}
	}
	if len(bars) < 2 {
		return SARResult{SAR: bars[0].Low, Uptrend: true}
	}
	up := bars[1].Close >= bars[0].Close
	af := step
	var sar, ep float64
	if up {
		sar, ep = bars[0].Low, bars[1].High
	} else {
		sar, ep = bars[0].High, bars[1].Low
	}
	for i := 2; i < len(bars); i++ {
		b := bars[i]
		sar += af * (ep - sar)
		if up {
			sar = math.Min(sar, math.Min(bars[i-1].Low, bars[i-2].Low))
			if b.Low < sar {
				up = false
				sar, ep, af = ep, b.Low, step
			} else if b.High > ep {
				ep = b.High
				af = math.Min(af+step, maxAF)
			}
		} else {
			sar = math.Max(sar, math.Max(bars[i-1].High, bars[i-2].High))
			if b.High > sar {
				up = true
				sar, ep, af = ep, b.High, step
			} else if b.Low < ep {
				ep = b.Low
				af = math.Min(af+step, maxAF)
			}
		}
	}
	return SARResult{SAR: sar, Uptrend: up}
}
