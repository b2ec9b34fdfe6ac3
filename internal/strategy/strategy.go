// Package strategy turns a MarketSnapshot into trading Signals.
//
// Every strategy scores its setup with a weighted rubric whose factor weights
// sum to 100. A strategy never fails: when data is missing or the setup does
// not clear its bar it returns a HOLD signal whose reasons say why.
package strategy

import (
	"fmt"
	"math"

	"futures-bot/internal/risk"
	"futures-bot/internal/ta"
	"futures-bot/internal/types"
)

type Strategy interface {
	Name() string
	// RequiredTimeframes lists timeframes the strategy needs besides the snapshot's primary.
	RequiredTimeframes() []types.Timeframe
	CanEvaluate(snap *types.MarketSnapshot) bool
	Evaluate(snap *types.MarketSnapshot) types.Signal
	PositionSize(snap *types.MarketSnapshot, balance float64) float64
	StopLoss(entry float64, side types.Side, snap *types.MarketSnapshot) float64
	TakeProfit(entry float64, side types.Side, snap *types.MarketSnapshot) float64
}

// Factor is one rubric line. Score is in [0,1]; the contribution is Weight*Score.
type Factor struct {
	Name   string
	Weight float64
	Score  float64
	Note   string
}

type rubric []Factor

func (r rubric) total() float64 {
	s := 0.0
	for _, f := range r {
		s += f.Weight * clamp(f.Score, 0, 1)
	}
	return clamp(s, 0, 100)
}

func (r rubric) reasons() []string {
	out := make([]string, 0, len(r))
	for _, f := range r {
		out = append(out, fmt.Sprintf("%s %.1f/%.0f: %s", f.Name, f.Weight*clamp(f.Score, 0, 1), f.Weight, f.Note))
	}
	return out
}

func (r rubric) metadata() map[string]any {
	m := make(map[string]any, len(r))
	for _, f := range r {
		m["factor_"+f.Name] = math.Round(f.Weight*clamp(f.Score, 0, 1)*100) / 100
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func hold(name string, snap *types.MarketSnapshot, reasons ...string) types.Signal {
	return types.Signal{
		Strategy:  name,
		Symbol:    snap.Symbol,
		Direction: types.Hold,
		Reasons:   reasons,
	}
}

// base carries the ATR-multiple exits and sizing shared by every strategy.
type base struct {
	name      string
	timeframe types.Timeframe // "" means the snapshot's primary timeframe
	minBars   int
	stopATR   float64
	targetATR float64
}

func (b base) Name() string { return b.name }

func (b base) RequiredTimeframes() []types.Timeframe {
	if b.timeframe == "" {
		return nil
	}
	return []types.Timeframe{b.timeframe}
}

func (b base) tf(snap *types.MarketSnapshot) types.Timeframe {
	if b.timeframe != "" {
		return b.timeframe
	}
	return snap.Primary()
}

func (b base) bars(snap *types.MarketSnapshot) []types.Bar {
	return snap.BarsFor(b.tf(snap))
}

func (b base) CanEvaluate(snap *types.MarketSnapshot) bool {
	return snap != nil && len(b.bars(snap)) >= b.minBars
}

func (b base) insufficient(snap *types.MarketSnapshot) types.Signal {
	return hold(b.name, snap, fmt.Sprintf("insufficient data: need %d bars on %s, have %d",
		b.minBars, b.tf(snap), len(b.bars(snap))))
}

// indicator reads a precomputed value from the snapshot, computing it when absent.
func (b base) indicator(snap *types.MarketSnapshot, name string, compute func([]types.Bar) float64) float64 {
	if v, ok := snap.Indicator(b.tf(snap), name); ok {
		return v
	}
	return compute(b.bars(snap))
}

func (b base) atr(snap *types.MarketSnapshot) float64 {
	return b.indicator(snap, "atr", func(bars []types.Bar) float64 { return ta.ATR(bars, ta.ATRPeriod) })
}

func (b base) StopLoss(entry float64, side types.Side, snap *types.MarketSnapshot) float64 {
	d := b.stopATR * b.atr(snap)
	if side == types.Short {
		return entry + d
	}
	return entry - d
}

func (b base) TakeProfit(entry float64, side types.Side, snap *types.MarketSnapshot) float64 {
	d := b.targetATR * b.atr(snap)
	if side == types.Short {
		return entry - d
	}
	return entry + d
}

// PositionSize risks the configured share of balance between the last close and the stop.
func (b base) PositionSize(snap *types.MarketSnapshot, balance float64) float64 {
	entry := lastClose(b.bars(snap))
	stop := b.StopLoss(entry, types.Long, snap)
	return risk.PositionSize(balance, snap.Risk.RiskPerTradePct, entry, stop)
}

func lastClose(bars []types.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Close
}

// leverageFor maps confidence to leverage: one step per 25 points, capped at max.
func leverageFor(confidence float64, max int) int {
	lev := 1 + int(confidence/25)
	if max > 0 && lev > max {
		lev = max
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}

// finish fills the price levels and sizing of an actionable signal.
// exits carries the Stop/Target methods of the concrete strategy so overrides apply.
func finish(sig types.Signal, exits Strategy, snap *types.MarketSnapshot, entry float64) types.Signal {
	side := types.SideFor(sig.Direction)
	sig.EntryPrice = entry
	sig.StopLoss = exits.StopLoss(entry, side, snap)
	sig.TakeProfit = exits.TakeProfit(entry, side, snap)
	sig.RiskRewardRatio = risk.RiskReward(entry, sig.StopLoss, sig.TakeProfit)
	sig.RecommendedLeverage = leverageFor(sig.Confidence, snap.Risk.MaxLeverage)
	sig.PositionSize = risk.PositionSize(snap.AccountBalance, snap.Risk.RiskPerTradePct, entry, sig.StopLoss)
	return sig
}
