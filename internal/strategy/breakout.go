package strategy

import (
	"fmt"
	"math"

	"futures-bot/internal/pattern"
	"futures-bot/internal/ta"
	"futures-bot/internal/types"
)

const (
	BreakoutName = "breakout"

	consolidationBars = 20
	// MaxConsolidationRangePct bounds the high-low range of a consolidation.
	MaxConsolidationRangePct = 4.0
	// SqueezeWidth is the Bollinger width (fraction of the middle band) that counts as a squeeze.
	SqueezeWidth = 0.04
	// MinConfirmations of the five breakout confirmations must hold.
	MinConfirmations = 3

	volumeSpikeRatio  = 1.5
	atrExpansionRatio = 1.2
	minBreakMarginPct = 0.2
	levelTolerancePct = 0.5
)

// Breakout trades a close beyond a consolidation range. It needs a tight range
// (or a Bollinger squeeze) and at least three of: volume spike, ATR expansion,
// squeeze release, a level touched repeatedly, a clean break margin.
//
// Rubric: volume 25, atr_expansion 20, squeeze_release 20, level 15, margin 20.
type Breakout struct {
	base
}

func NewBreakout() *Breakout {
	return &Breakout{base{name: BreakoutName, minBars: consolidationBars + 11, stopATR: 1.5, targetATR: 3}}
}

func (s *Breakout) Evaluate(snap *types.MarketSnapshot) types.Signal {
	if !s.CanEvaluate(snap) {
		return s.insufficient(snap)
	}
	bars := s.bars(snap)
	n := len(bars)
	last := bars[n-1]
	window := bars[n-1-consolidationBars : n-1]

	hh, ll := ta.HighestHigh(window, 0), ta.LowestLow(window, 0)
	if ll <= 0 {
		return hold(s.name, snap, "invalid price range")
	}
	rangePct := (hh - ll) / ll * 100
	prior := ta.Bollinger(ta.Closes(bars[:n-1]), ta.BollingerPeriod, ta.BollingerK)
	squeezed := prior.Width > 0 && prior.Width < SqueezeWidth
	if rangePct >= MaxConsolidationRangePct && !squeezed {
		return hold(s.name, snap, fmt.Sprintf("no consolidation: range %.2f%%, band width %.3f", rangePct, prior.Width))
	}

	var dir types.Direction
	var level, margin float64
	switch {
	case last.Close > hh:
		dir, level, margin = types.Buy, hh, (last.Close-hh)/hh*100
	case last.Close < ll:
		dir, level, margin = types.Sell, ll, (ll-last.Close)/ll*100
	default:
		return hold(s.name, snap, fmt.Sprintf("inside range %.4f-%.4f (%.2f%%)", ll, hh, rangePct))
	}

	volAvg := ta.SMA(ta.Volumes(window), consolidationBars)
	windowATR := ta.ATR(bars[:n-1], ta.ATRPeriod)
	tr := ta.TrueRange(last, bars[n-2])
	now := ta.Bollinger(ta.Closes(bars), ta.BollingerPeriod, ta.BollingerK)
	touches := levelTouches(window, level, dir == types.Buy)
	if sr := pattern.SupportResistance(bars[:n-1], pattern.ClusterTolerance); len(sr) > 0 {
		for _, lv := range sr {
			if math.Abs(lv.Price-level)/level*100 <= levelTolerancePct && lv.Touches > touches {
				touches = lv.Touches
			}
		}
	}

	confirms := []struct {
		ok bool
		f  Factor
	}{
		{last.Volume >= volumeSpikeRatio*volAvg && volAvg > 0, Factor{Name: "volume", Weight: 25,
			Note: fmt.Sprintf("volume %.2f vs avg %.2f", last.Volume, volAvg)}},
		{windowATR > 0 && tr >= atrExpansionRatio*windowATR, Factor{Name: "atr_expansion", Weight: 20,
			Note: fmt.Sprintf("true range %.4f vs ATR %.4f", tr, windowATR)}},
		{now.Width > prior.Width && (squeezed || prior.Width < SqueezeWidth*1.5), Factor{Name: "squeeze_release", Weight: 20,
			Note: fmt.Sprintf("band width %.4f -> %.4f", prior.Width, now.Width)}},
		{touches >= 2, Factor{Name: "level", Weight: 15, Note: fmt.Sprintf("level %.4f touched %d times", level, touches)}},
		{margin >= minBreakMarginPct, Factor{Name: "margin", Weight: 20, Note: fmt.Sprintf("break margin %.2f%%", margin)}},
	}

	r := make(rubric, 0, len(confirms))
	count := 0
	for _, c := range confirms {
		if c.ok {
			c.f.Score = 1
			count++
		}
		r = append(r, c.f)
	}
	if count < MinConfirmations {
		return hold(s.name, snap, append([]string{fmt.Sprintf("only %d/5 breakout confirmations", count)}, r.reasons()...)...)
	}

	strength := r.total()
	sig := types.Signal{
		Strategy:   s.name,
		Symbol:     snap.Symbol,
		Direction:  dir,
		Strength:   strength,
		Confidence: clamp(strength*(0.6+0.1*float64(count)), 0, 100),
		Reasons:    append([]string{fmt.Sprintf("%d/5 confirmations, range %.2f%%", count, rangePct)}, r.reasons()...),
		Metadata:   r.metadata(),
	}
	sig.Metadata["range_high"] = hh
	sig.Metadata["range_low"] = ll
	return finish(sig, s, snap, last.Close)
}

// levelTouches counts bars whose high (resistance) or low (support) came within
// levelTolerancePct of level.
func levelTouches(bars []types.Bar, level float64, resistance bool) int {
	n := 0
	for _, b := range bars {
		p := b.Low
		if resistance {
			p = b.High
		}
		if math.Abs(p-level)/level*100 <= levelTolerancePct {
			n++
		}
	}
	return n
}
