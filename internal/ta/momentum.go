package ta

import (
	"math"

	"futures-bot/internal/types"
)

// RSI over the trailing period deltas. Fallback: 50 when fewer than period+1
// values or when the window has no movement; 100 when there are no losses.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if gain == 0 && loss == 0 {
		return 50
	}
	if loss == 0 {
		return 100
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100 - 100/(1+rs)
}

type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD builds the MACD line from EMA(fast)-EMA(slow) evaluated on every prefix
// ending at index slow-1 or later; the signal is the EMA of that line.
// Fallback: zero result when fewer than slow+signal values.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal {
		return MACDResult{}
	}
	line := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		prefix := closes[:i+1]
		line = append(line, EMA(prefix, fast)-EMA(prefix, slow))
	}
	m := line[len(line)-1]
	s := EMA(line, signal)
	return MACDResult{MACD: m, Signal: s, Histogram: m - s}
}

type StochResult struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

// Stochastic %K over kPeriod with %D as the SMA of the last dPeriod %K values.
// Fallback: 50/50; a zero-range window yields 50.
func Stochastic(bars []types.Bar, kPeriod, dPeriod int) StochResult {
	if kPeriod <= 0 || dPeriod <= 0 || len(bars) < kPeriod+dPeriod-1 {
		return StochResult{K: 50, D: 50}
	}
	ks := make([]float64, 0, dPeriod)
	for j := 0; j < dPeriod; j++ {
		end := len(bars) - dPeriod + j + 1
		window := bars[end-kPeriod : end]
		hh, ll := HighestHigh(window, 0), LowestLow(window, 0)
		if hh == ll {
			ks = append(ks, 50)
			continue
		}
		ks = append(ks, 100*(window[len(window)-1].Close-ll)/(hh-ll))
	}
	return StochResult{K: ks[len(ks)-1], D: mean(ks)}
}

// WilliamsR ranges from -100 (at the low) to 0 (at the high). Fallback: -50.
func WilliamsR(bars []types.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return -50
	}
	hh, ll := HighestHigh(bars, period), LowestLow(bars, period)
	if hh == ll {
		return -50
	}
	return -100 * (hh - bars[len(bars)-1].Close) / (hh - ll)
}

type ADXResult struct {
	ADX     float64 `json:"adx"`
	PlusDI  float64 `json:"plus_di"`
	MinusDI float64 `json:"minus_di"`
}

// ADX uses Wilder smoothing. Fallback: zero result below 2*period+1 bars.
func ADX(bars []types.Bar, period int) ADXResult {
	n := len(bars)
	if period <= 0 || n < 2*period+1 {
		return ADXResult{}
	}
	trs := make([]float64, n-1)
	plus := make([]float64, n-1)
	minus := make([]float64, n-1)
	for i := 1; i < n; i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > down && up > 0 {
			plus[i-1] = up
		}
		if down > up && down > 0 {
			minus[i-1] = down
		}
		trs[i-1] = TrueRange(bars[i], bars[i-1])
	}

	var smTR, smP, smM float64
	for i := 0; i < period; i++ {
		smTR += trs[i]
		smP += plus[i]
		smM += minus[i]
	}
	p := float64(period)
	di := func() (float64, float64, float64) {
		if smTR == 0 {
			return 0, 0, 0
		}
		pdi := 100 * smP / smTR
		mdi := 100 * smM / smTR
		if pdi+mdi == 0 {
			return pdi, mdi, 0
		}
		return pdi, mdi, 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	}

	pdi, mdi, dx := di()
	dxs := []float64{dx}
	for i := period; i < n-1; i++ {
		smTR = smTR - smTR/p + trs[i]
		smP = smP - smP/p + plus[i]
		smM = smM - smM/p + minus[i]
		pdi, mdi, dx = di()
		dxs = append(dxs, dx)
	}

	adx := mean(dxs[:period])
	for _, d := range dxs[period:] {
		adx = (adx*(p-1) + d) / p
	}
	return ADXResult{ADX: adx, PlusDI: pdi, MinusDI: mdi}
}
