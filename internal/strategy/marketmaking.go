package strategy

import (
	"fmt"
	"math"

	"futures-bot/internal/ta"
	"futures-bot/internal/types"
)

const (
	MarketMakingName = "market_making"

	// MaxMakingATRPct is the volatility (ATR as percent of price) above which quoting stops.
	MaxMakingATRPct = 3.0
	// MinLiquidityRatio is the last-bar to average volume ratio below which the book is too thin.
	MinLiquidityRatio = 0.5
	// InventorySkewThreshold is the net exposure share at which the quote leans toward unwinding.
	InventorySkewThreshold = 0.2

	baseSpreadPct    = 0.05
	meanRevertZScore = 1.0
)

// MarketMaking quotes around the mid price and takes the side that unwinds
// inventory, or fades a one-sigma deviation when flat. The spread widens with
// volatility, trend and inventory skew.
//
// Rubric: volatility 30, liquidity 25, inventory 25, spread 20.
type MarketMaking struct {
	base
}

func NewMarketMaking() *MarketMaking {
	return &MarketMaking{base{name: MarketMakingName, minBars: 30, stopATR: 1, targetATR: 2}}
}

// Quote is a two-sided price around mid.
type Quote struct {
	Mid       float64
	Bid       float64
	Ask       float64
	SpreadPct float64
}

// inventorySkew is the signed margin exposure of open positions in the symbol
// as a share of balance: positive when net long. Clamped to [-1,1].
func inventorySkew(snap *types.MarketSnapshot) float64 {
	if snap.AccountBalance <= 0 {
		return 0
	}
	var net float64
	for _, t := range snap.OpenPositions {
		if t.Symbol != snap.Symbol || t.Status != types.TradeOpen {
			continue
		}
		lev := float64(t.Leverage)
		if lev < 1 {
			lev = 1
		}
		m := t.EntryPrice * t.Quantity / lev
		if t.Side == types.Short {
			m = -m
		}
		net += m
	}
	return clamp(net/snap.AccountBalance, -1, 1)
}

// quote centres on the mid of the last bar and widens the base spread by
// volatility, trend slope and inventory skew.
func quote(last types.Bar, atrPct, slopePct, skew float64) Quote {
	mid := (last.High + last.Low) / 2
	if mid <= 0 {
		mid = last.Close
	}
	spread := baseSpreadPct * (1 + atrPct + math.Abs(slopePct)*10 + math.Abs(skew))
	half := mid * spread / 100 / 2
	// lean the whole quote against inventory
	shift := -skew * half
	return Quote{Mid: mid, Bid: mid - half + shift, Ask: mid + half + shift, SpreadPct: spread}
}

func (s *MarketMaking) Evaluate(snap *types.MarketSnapshot) types.Signal {
	if !s.CanEvaluate(snap) {
		return s.insufficient(snap)
	}
	bars := s.bars(snap)
	last := bars[len(bars)-1]

	atrPct := ta.ATRPercent(bars, ta.ATRPeriod)
	if atrPct > MaxMakingATRPct {
		return hold(s.name, snap, fmt.Sprintf("too volatile to quote: ATR %.2f%% above %.1f%%", atrPct, MaxMakingATRPct))
	}
	volAvg := s.indicator(snap, "volume_avg", func(b []types.Bar) float64 { return ta.SMA(ta.Volumes(b), ta.VolumeAvgPeriod) })
	liquidity := 0.0
	if volAvg > 0 {
		liquidity = last.Volume / volAvg
	}
	if liquidity < MinLiquidityRatio {
		return hold(s.name, snap, fmt.Sprintf("low liquidity: volume %.2fx average", liquidity))
	}

	slopePct := s.indicator(snap, "slope_pct", func(b []types.Bar) float64 {
		return ta.LinRegSlopePct(ta.Closes(b), ta.SlopePeriod)
	})
	z := s.indicator(snap, "zscore", func(b []types.Bar) float64 { return ta.ZScore(ta.Closes(b), ta.ZScorePeriod) })
	skew := inventorySkew(snap)
	q := quote(last, atrPct, slopePct, skew)

	var dir types.Direction
	var why string
	switch {
	case skew >= InventorySkewThreshold:
		dir, why = types.Sell, fmt.Sprintf("unwind long inventory (skew %.2f)", skew)
	case skew <= -InventorySkewThreshold:
		dir, why = types.Buy, fmt.Sprintf("unwind short inventory (skew %.2f)", skew)
	case z <= -meanRevertZScore:
		dir, why = types.Buy, fmt.Sprintf("bid below mean (z %.2f)", z)
	case z >= meanRevertZScore:
		dir, why = types.Sell, fmt.Sprintf("offer above mean (z %.2f)", z)
	default:
		return hold(s.name, snap, fmt.Sprintf("flat inventory and price at mean (z %.2f); quote %.4f/%.4f", z, q.Bid, q.Ask))
	}

	invScore := math.Abs(skew) / 0.5
	if math.Abs(skew) < InventorySkewThreshold {
		invScore = clamp(math.Abs(z)-meanRevertZScore, 0, 1)*0.5 + 0.5
	}
	r := rubric{
		{Name: "volatility", Weight: 30, Score: 1 - atrPct/MaxMakingATRPct, Note: fmt.Sprintf("ATR %.2f%%", atrPct)},
		{Name: "liquidity", Weight: 25, Score: liquidity, Note: fmt.Sprintf("volume %.2fx average", liquidity)},
		{Name: "inventory", Weight: 25, Score: invScore, Note: why},
		{Name: "spread", Weight: 20, Score: clamp(1-(q.SpreadPct-baseSpreadPct)/(4*baseSpreadPct), 0, 1),
			Note: fmt.Sprintf("spread %.3f%%", q.SpreadPct)},
	}
	strength := r.total()
	if strength < MinSignalStrength {
		return hold(s.name, snap, append([]string{fmt.Sprintf("quoting score %.1f below %.0f", strength, MinSignalStrength)}, r.reasons()...)...)
	}

	entry := q.Bid
	if dir == types.Sell {
		entry = q.Ask
	}
	sig := types.Signal{
		Strategy:   s.name,
		Symbol:     snap.Symbol,
		Direction:  dir,
		Strength:   strength,
		Confidence: strength * 0.9,
		Reasons:    append([]string{why}, r.reasons()...),
		Metadata:   r.metadata(),
	}
	sig.Metadata["bid"] = q.Bid
	sig.Metadata["ask"] = q.Ask
	sig.Metadata["spread_pct"] = q.SpreadPct
	sig.Metadata["inventory_skew"] = skew
	return finish(sig, s, snap, entry)
}
