package strategy

import (
	"fmt"
	"math"

	"futures-bot/internal/ta"
	"futures-bot/internal/types"
)

const (
	MeanReversionName = "mean_reversion"

	// RangingSlopePct is the largest regression slope (percent of price per bar)
	// still treated as a ranging market.
	RangingSlopePct = 0.15
)

// MeanReversion fades Bollinger %B, RSI and z-score extremes, but only in
// ranging regimes. The target reaches at least the middle band.
//
// Rubric: bollinger 35, rsi 30, zscore 25, regime 10.
type MeanReversion struct {
	base
}

func NewMeanReversion() *MeanReversion {
	return &MeanReversion{base{name: MeanReversionName, minBars: 30, stopATR: 1.5, targetATR: 2.5}}
}

func (s *MeanReversion) Evaluate(snap *types.MarketSnapshot) types.Signal {
	if !s.CanEvaluate(snap) {
		return s.insufficient(snap)
	}
	bars := s.bars(snap)
	price := lastClose(bars)

	slopePct := s.indicator(snap, "slope_pct", func(b []types.Bar) float64 {
		return ta.LinRegSlopePct(ta.Closes(b), ta.SlopePeriod)
	})
	if math.Abs(slopePct) > RangingSlopePct {
		return hold(s.name, snap, fmt.Sprintf("trending regime: slope %.3f%%/bar exceeds %.2f%%", slopePct, RangingSlopePct))
	}

	pb := s.indicator(snap, "bb_percent_b", func(b []types.Bar) float64 {
		return ta.Bollinger(ta.Closes(b), ta.BollingerPeriod, ta.BollingerK).PercentB
	})
	rsi := s.indicator(snap, "rsi", func(b []types.Bar) float64 { return ta.RSI(ta.Closes(b), ta.RSIPeriod) })
	z := s.indicator(snap, "zscore", func(b []types.Bar) float64 { return ta.ZScore(ta.Closes(b), ta.ZScorePeriod) })

	regime := 1 - math.Abs(slopePct)/RangingSlopePct
	long := rubric{
		{Name: "bollinger", Weight: 35, Score: bandScore(pb), Note: fmt.Sprintf("%%B %.2f", pb)},
		{Name: "rsi", Weight: 30, Score: oversoldScore(rsi), Note: fmt.Sprintf("RSI %.1f", rsi)},
		{Name: "zscore", Weight: 25, Score: zScore(-z), Note: fmt.Sprintf("z %.2f", z)},
		{Name: "regime", Weight: 10, Score: regime, Note: fmt.Sprintf("slope %.3f%%/bar", slopePct)},
	}
	short := rubric{
		{Name: "bollinger", Weight: 35, Score: bandScore(1 - pb), Note: fmt.Sprintf("%%B %.2f", pb)},
		{Name: "rsi", Weight: 30, Score: oversoldScore(100 - rsi), Note: fmt.Sprintf("RSI %.1f", rsi)},
		{Name: "zscore", Weight: 25, Score: zScore(z), Note: fmt.Sprintf("z %.2f", z)},
		{Name: "regime", Weight: 10, Score: regime, Note: fmt.Sprintf("slope %.3f%%/bar", slopePct)},
	}

	r, dir := long, types.Buy
	if short.total() > long.total() {
		r, dir = short, types.Sell
	}
	strength := r.total()
	if strength < MinSignalStrength {
		return hold(s.name, snap, append([]string{fmt.Sprintf("no stretched extreme: score %.1f below %.0f", strength, MinSignalStrength)}, r.reasons()...)...)
	}

	sig := types.Signal{
		Strategy:   s.name,
		Symbol:     snap.Symbol,
		Direction:  dir,
		Strength:   strength,
		Confidence: strength * (0.7 + 0.3*regime),
		Reasons:    r.reasons(),
		Metadata:   r.metadata(),
	}
	return finish(sig, s, snap, price)
}

// TakeProfit takes the farther of the middle band and the ATR multiple so the
// reward never drops below the ATR-based risk/reward.
func (s *MeanReversion) TakeProfit(entry float64, side types.Side, snap *types.MarketSnapshot) float64 {
	mid := s.indicator(snap, "bb_middle", func(b []types.Bar) float64 { return ta.SMA(ta.Closes(b), ta.BollingerPeriod) })
	atrTarget := s.base.TakeProfit(entry, side, snap)
	if side == types.Long && mid > entry {
		return math.Max(mid, atrTarget)
	}
	if side == types.Short && mid < entry && mid > 0 {
		return math.Min(mid, atrTarget)
	}
	return atrTarget
}

// bandScore: %B at or below 0 scores 1, fading to 0 at 0.2.
func bandScore(pb float64) float64 {
	return clamp((0.2-pb)/0.2, 0, 1)
}

// oversoldScore: RSI 30 or less scores 1, fading to 0 at 40.
func oversoldScore(rsi float64) float64 {
	return clamp((40-rsi)/10, 0, 1)
}

// zScore: 2 standard deviations or more scores 1, fading to 0 at 1.
func zScore(z float64) float64 {
	return clamp(z-1, 0, 1)
}
