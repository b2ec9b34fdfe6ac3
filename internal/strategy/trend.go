package strategy

import (
	"fmt"

	"futures-bot/internal/ta"
	"futures-bot/internal/types"
)

const (
	TrendFollowingName = "trend_following"

	// MinADX is the trend strength below which TrendFollowing stands aside.
	MinADX = 25.0
	// MinSignalStrength is the rubric total an actionable signal needs.
	MinSignalStrength = 50.0
)

// TrendFollowing trades EMA(9/21) crosses in trending markets (ADX above 25)
// confirmed by the MACD histogram and a majority of higher timeframes.
//
// Rubric: ema_alignment 20, adx 20, macd 15, higher_timeframes 20, rsi 15, volume 10.
type TrendFollowing struct {
	base
}

func NewTrendFollowing() *TrendFollowing {
	return &TrendFollowing{base{name: TrendFollowingName, minBars: 50, stopATR: 1.5, targetATR: 3}}
}

func (s *TrendFollowing) emas(snap *types.MarketSnapshot, tf types.Timeframe) (fast, slow float64) {
	fast, okF := snap.Indicator(tf, "ema_fast")
	slow, okS := snap.Indicator(tf, "ema_slow")
	if okF && okS {
		return fast, slow
	}
	closes := ta.Closes(snap.BarsFor(tf))
	return ta.EMA(closes, ta.EMAFastPeriod), ta.EMA(closes, ta.EMASlowPeriod)
}

// higherTimeframeVote counts higher timeframes whose EMAs agree and disagree with dir.
func (s *TrendFollowing) higherTimeframeVote(snap *types.MarketSnapshot, dir types.Direction) (agree, against int) {
	for _, tf := range snap.Timeframes {
		if tf == s.tf(snap) || len(snap.BarsFor(tf)) < ta.EMASlowPeriod {
			continue
		}
		fast, slow := s.emas(snap, tf)
		switch {
		case fast > slow && dir == types.Buy, fast < slow && dir == types.Sell:
			agree++
		case fast != slow:
			against++
		}
	}
	return agree, against
}

func (s *TrendFollowing) Evaluate(snap *types.MarketSnapshot) types.Signal {
	if !s.CanEvaluate(snap) {
		return s.insufficient(snap)
	}
	bars := s.bars(snap)
	price := lastClose(bars)
	fast, slow := s.emas(snap, s.tf(snap))

	var dir types.Direction
	switch {
	case fast > slow:
		dir = types.Buy
	case fast < slow:
		dir = types.Sell
	default:
		return hold(s.name, snap, "fast and slow EMA are equal")
	}

	adx := s.indicator(snap, "adx", func(b []types.Bar) float64 { return ta.ADX(b, ta.ADXPeriod).ADX })
	if adx < MinADX {
		return hold(s.name, snap, fmt.Sprintf("ADX %.1f below %.0f: no trend", adx, MinADX))
	}

	agree, against := s.higherTimeframeVote(snap, dir)
	if against > agree {
		return hold(s.name, snap, fmt.Sprintf("higher timeframes disagree (%d against, %d for)", against, agree))
	}

	hist := s.indicator(snap, "macd_hist", func(b []types.Bar) float64 {
		return ta.MACD(ta.Closes(b), ta.MACDFast, ta.MACDSlow, ta.MACDSignal).Histogram
	})
	rsi := s.indicator(snap, "rsi", func(b []types.Bar) float64 { return ta.RSI(ta.Closes(b), ta.RSIPeriod) })
	volAvg := s.indicator(snap, "volume_avg", func(b []types.Bar) float64 { return ta.SMA(ta.Volumes(b), ta.VolumeAvgPeriod) })
	vol := bars[len(bars)-1].Volume

	long := dir == types.Buy
	r := rubric{
		{Name: "ema_alignment", Weight: 20, Score: emaAlignment(long, price, fast),
			Note: fmt.Sprintf("EMA%d %.4f vs EMA%d %.4f, price %.4f", ta.EMAFastPeriod, fast, ta.EMASlowPeriod, slow, price)},
		{Name: "adx", Weight: 20, Score: 0.5 + (adx-MinADX)/30, Note: fmt.Sprintf("ADX %.1f", adx)},
		{Name: "macd", Weight: 15, Score: boolScore(long && hist > 0 || !long && hist < 0), Note: fmt.Sprintf("histogram %.4f", hist)},
		{Name: "higher_timeframes", Weight: 20, Score: voteScore(agree, against), Note: fmt.Sprintf("%d agree, %d against", agree, against)},
		{Name: "rsi", Weight: 15, Score: trendRSIScore(long, rsi), Note: fmt.Sprintf("RSI %.1f", rsi)},
		{Name: "volume", Weight: 10, Score: ratioScore(vol, volAvg), Note: fmt.Sprintf("volume %.2f vs avg %.2f", vol, volAvg)},
	}

	strength := r.total()
	if strength < MinSignalStrength {
		return hold(s.name, snap, append([]string{fmt.Sprintf("trend score %.1f below %.0f", strength, MinSignalStrength)}, r.reasons()...)...)
	}
	confidence := strength
	if r[2].Score == 0 {
		confidence *= 0.85
	}

	sig := types.Signal{
		Strategy:   s.name,
		Symbol:     snap.Symbol,
		Direction:  dir,
		Strength:   strength,
		Confidence: confidence,
		Reasons:    r.reasons(),
		Metadata:   r.metadata(),
	}
	return finish(sig, s, snap, price)
}

func emaAlignment(long bool, price, fast float64) float64 {
	if long && price >= fast || !long && price <= fast {
		return 1
	}
	return 0.5
}

func trendRSIScore(long bool, rsi float64) float64 {
	if !long {
		rsi = 100 - rsi
	}
	switch {
	case rsi >= 50 && rsi <= 70:
		return 1
	case rsi > 70 && rsi <= 80:
		return 0.4
	case rsi >= 40 && rsi < 50:
		return 0.3
	default:
		return 0
	}
}

func voteScore(agree, against int) float64 {
	if agree+against == 0 {
		return 0.5
	}
	return float64(agree) / float64(agree+against)
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func ratioScore(v, avg float64) float64 {
	if avg <= 0 {
		return 0.5
	}
	return clamp(v/avg, 0, 1)
}
