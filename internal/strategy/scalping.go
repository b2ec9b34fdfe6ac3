package strategy

import (
	"fmt"

	"futures-bot/internal/ta"
	"futures-bot/internal/types"
)

const (
	ScalpingName = "scalping"

	ScalpTimeframe types.Timeframe = "1m"
	// MinScalpQuality is the weighted six-factor score a scalp needs.
	MinScalpQuality = 0.7

	scalpFast      = 5
	scalpSlow      = 10
	crossLookback  = 3
	flowBars       = 5
	minScalpATRPct = 0.03
	maxScalpATRPct = 0.5
)

// Scalping trades EMA(5/10) crosses on one-minute bars. Six weighted factors
// (EMA cross, stochastic, RSI, order flow, volume, volatility) form a quality
// score in [0,1]; below 0.7 it holds.
//
// Rubric: ema_cross 25, stochastic 15, rsi 15, order_flow 20, volume 15, volatility 10.
type Scalping struct {
	base
}

func NewScalping() *Scalping {
	return &Scalping{base{name: ScalpingName, timeframe: ScalpTimeframe, minBars: 30, stopATR: 1, targetATR: 1.6}}
}

// orderFlow is the volume-weighted position of each close within its bar
// range over the last n bars: 1 means closes at the highs, 0 at the lows.
func orderFlow(bars []types.Bar, n int) float64 {
	if len(bars) < n {
		n = len(bars)
	}
	var num, den float64
	for _, b := range bars[len(bars)-n:] {
		rng := b.High - b.Low
		if rng <= 0 || b.Volume <= 0 {
			continue
		}
		num += (b.Close - b.Low) / rng * b.Volume
		den += b.Volume
	}
	if den == 0 {
		return 0.5
	}
	return num / den
}

// crossedWithin reports whether fast crossed slow within the last k bars.
func crossedWithin(closes []float64, k int) bool {
	fast := ta.EMASeries(closes, scalpFast)
	slow := ta.EMASeries(closes, scalpSlow)
	if len(slow) < k+1 {
		return false
	}
	// align tails
	fast = fast[len(fast)-len(slow):]
	sign := func(i int) bool { return fast[i] > slow[i] }
	end := len(slow) - 1
	for i := end; i > end-k && i > 0; i-- {
		if sign(i) != sign(i-1) {
			return true
		}
	}
	return false
}

func (s *Scalping) Evaluate(snap *types.MarketSnapshot) types.Signal {
	if !s.CanEvaluate(snap) {
		return s.insufficient(snap)
	}
	bars := s.bars(snap)
	closes := ta.Closes(bars)
	price := closes[len(closes)-1]

	fast, slow := ta.EMA(closes, scalpFast), ta.EMA(closes, scalpSlow)
	if fast == slow {
		return hold(s.name, snap, "EMA5 equals EMA10")
	}
	long := fast > slow
	dir := types.Sell
	if long {
		dir = types.Buy
	}

	stoch := ta.Stochastic(bars, ta.StochK, ta.StochD)
	rsi := ta.RSI(closes, ta.RSIPeriod)
	flow := orderFlow(bars, flowBars)
	vols := ta.Volumes(bars)
	volAvg := ta.SMA(vols[:len(vols)-1], ta.VolumeAvgPeriod)
	atrPct := ta.ATRPercent(bars, ta.ATRPeriod)

	crossScore := 0.7
	if crossedWithin(closes, crossLookback) {
		crossScore = 1
	}
	k, d, r, f := stoch.K, stoch.D, rsi, flow
	if !long {
		k, d, r, f = 100-k, 100-d, 100-r, 1-f
	}
	var stochScore float64
	switch {
	case k <= 20:
		stochScore = 1
	case k < 50 && k > d:
		stochScore = 0.7
	case k < 80:
		stochScore = 0.4
	}
	var rsiScore float64
	switch {
	case r <= 30:
		rsiScore = 1
	case r >= 40 && r <= 60:
		rsiScore = 0.6
	case r < 70:
		rsiScore = 0.3
	}
	var flowScore float64
	switch {
	case f >= 0.6:
		flowScore = 1
	case f >= 0.5:
		flowScore = 0.5
	}
	var volScore float64
	switch {
	case volAvg <= 0:
		volScore = 0.5
	case vols[len(vols)-1] >= 1.2*volAvg:
		volScore = 1
	case vols[len(vols)-1] >= volAvg:
		volScore = 0.6
	}
	volatility := boolScore(atrPct >= minScalpATRPct && atrPct <= maxScalpATRPct)

	rb := rubric{
		{Name: "ema_cross", Weight: 25, Score: crossScore, Note: fmt.Sprintf("EMA5 %.4f vs EMA10 %.4f", fast, slow)},
		{Name: "stochastic", Weight: 15, Score: stochScore, Note: fmt.Sprintf("%%K %.1f %%D %.1f", stoch.K, stoch.D)},
		{Name: "rsi", Weight: 15, Score: rsiScore, Note: fmt.Sprintf("RSI %.1f", rsi)},
		{Name: "order_flow", Weight: 20, Score: flowScore, Note: fmt.Sprintf("close position %.2f", flow)},
		{Name: "volume", Weight: 15, Score: volScore, Note: fmt.Sprintf("volume %.2f vs avg %.2f", vols[len(vols)-1], volAvg)},
		{Name: "volatility", Weight: 10, Score: volatility, Note: fmt.Sprintf("ATR %.3f%%", atrPct)},
	}
	quality := rb.total() / 100
	if quality < MinScalpQuality {
		return hold(s.name, snap, append([]string{fmt.Sprintf("scalp quality %.2f below %.2f", quality, MinScalpQuality)}, rb.reasons()...)...)
	}

	sig := types.Signal{
		Strategy:   s.name,
		Symbol:     snap.Symbol,
		Direction:  dir,
		Strength:   quality * 100,
		Confidence: quality * 100,
		Reasons:    rb.reasons(),
		Metadata:   rb.metadata(),
	}
	sig.Metadata["quality"] = quality
	return finish(sig, s, snap, price)
}
