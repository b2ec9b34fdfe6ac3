package ta

import (
	"futures-bot/internal/types"
)

const (
	SignalBullish = "bullish"
	SignalBearish = "bearish"
	SignalNeutral = "neutral"
)

func moneyFlowMultiplier(b types.Bar) float64 {
	rng := b.High - b.Low
	if rng == 0 {
		return 0
	}
	return ((b.Close - b.Low) - (b.High - b.Close)) / rng
}

// CMF is the Chaikin money flow over the trailing period. Fallback: 0.
func CMF(bars []types.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}
	var mfv, vol float64
	for _, b := range bars[len(bars)-period:] {
		mfv += moneyFlowMultiplier(b) * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		return 0
	}
	return mfv / vol
}

// CMFSignal classifies a CMF value with a +/-0.05 dead band.
func CMFSignal(cmf float64) string {
	switch {
	case cmf > 0.05:
		return SignalBullish
	case cmf < -0.05:
		return SignalBearish
	default:
		return SignalNeutral
	}
}

// OBVSeries is the cumulative on-balance volume; nil below 2 bars.
func OBVSeries(bars []types.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			out[i] = out[i-1] + bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			out[i] = out[i-1] - bars[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// OBV is the final on-balance volume value. Fallback: 0.
func OBV(bars []types.Bar) float64 {
	return last(OBVSeries(bars))
}

// ADSeries is the cumulative accumulation/distribution line; nil below 2 bars.
func ADSeries(bars []types.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, len(bars))
	acc := 0.0
	for i, b := range bars {
		acc += moneyFlowMultiplier(b) * b.Volume
		out[i] = acc
	}
	return out
}

// AD is the final accumulation/distribution value. Fallback: 0.
func AD(bars []types.Bar) float64 {
	return last(ADSeries(bars))
}

// FlowSignal compares a cumulative series now against lookback samples ago.
func FlowSignal(series []float64, lookback int) string {
	if lookback <= 0 || len(series) <= lookback {
		return SignalNeutral
	}
	now, then := series[len(series)-1], series[len(series)-1-lookback]
	switch {
	case now > then:
		return SignalBullish
	case now < then:
		return SignalBearish
	default:
		return SignalNeutral
	}
}

type VolumeBucket struct {
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
	Volume float64 `json:"volume"`
}

type VolumeProfile struct {
	Buckets       []VolumeBucket `json:"buckets"`
	POC           float64        `json:"poc"`
	ValueAreaLow  float64        `json:"value_area_low"`
	ValueAreaHigh float64        `json:"value_area_high"`
}

// valueAreaShare is the fraction of total volume the value area must cover.
const valueAreaShare = 0.70

// BuildVolumeProfile buckets each bar's volume at its typical price. The POC is
// the bucket with the most volume; the value area expands outward from the POC,
// one neighbour at a time towards the heavier side, until it covers 70% of volume.
func BuildVolumeProfile(bars []types.Bar, buckets int) VolumeProfile {
	if len(bars) == 0 || buckets <= 0 {
		return VolumeProfile{}
	}
	lo, hi := LowestLow(bars, 0), HighestHigh(bars, 0)
	if hi == lo {
		total := 0.0
		for _, b := range bars {
			total += b.Volume
		}
		return VolumeProfile{
			Buckets:       []VolumeBucket{{Low: lo, High: hi, Volume: total}},
			POC:           lo,
			ValueAreaLow:  lo,
			ValueAreaHigh: hi,
		}
	}

	step := (hi - lo) / float64(buckets)
	vp := VolumeProfile{Buckets: make([]VolumeBucket, buckets)}
	for i := range vp.Buckets {
		vp.Buckets[i].Low = lo + step*float64(i)
		vp.Buckets[i].High = lo + step*float64(i+1)
	}
	total := 0.0
	for _, b := range bars {
		tp := (b.High + b.Low + b.Close) / 3
		idx := int((tp - lo) / step)
		if idx >= buckets {
			idx = buckets - 1
		}
		if idx < 0 {
			idx = 0
		}
		vp.Buckets[idx].Volume += b.Volume
		total += b.Volume
	}

	poc := 0
	for i, bk := range vp.Buckets {
		if bk.Volume > vp.Buckets[poc].Volume {
			poc = i
		}
	}

	lowIdx, highIdx := poc, poc
	acc := vp.Buckets[poc].Volume
	target := total * valueAreaShare
	for acc < target && (lowIdx > 0 || highIdx < buckets-1) {
		up, down := -1.0, -1.0
		if highIdx < buckets-1 {
			up = vp.Buckets[highIdx+1].Volume
		}
		if lowIdx > 0 {
			down = vp.Buckets[lowIdx-1].Volume
		}
		if up >= down {
			highIdx++
			acc += up
		} else {
			lowIdx--
			acc += down
		}
	}

	vp.POC = (vp.Buckets[poc].Low + vp.Buckets[poc].High) / 2
	vp.ValueAreaLow = vp.Buckets[lowIdx].Low
	vp.ValueAreaHigh = vp.Buckets[highIdx].High
	return vp
}
