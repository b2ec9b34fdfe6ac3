package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"futures-bot/internal/pattern"
	"futures-bot/internal/types"
)

// SourceStrategies marks decisions produced by the arbiter rather than an AI oracle.
const SourceStrategies = "strategies"

// Arbiter runs a set of strategies and folds their signals into one Decision.
type Arbiter struct {
	strategies []Strategy
	now        func() time.Time
}

func NewArbiter(strategies ...Strategy) *Arbiter {
	return &Arbiter{strategies: strategies, now: time.Now}
}

func (a *Arbiter) Strategies() []Strategy { return a.strategies }

// Signals evaluates every strategy. Strategies whose data is missing still
// contribute a HOLD with the reason.
func (a *Arbiter) Signals(snap *types.MarketSnapshot) []types.Signal {
	out := make([]types.Signal, 0, len(a.strategies))
	for _, s := range a.strategies {
		out = append(out, s.Evaluate(snap))
	}
	return out
}

// Decide evaluates all strategies and combines the result.
func (a *Arbiter) Decide(snap *types.MarketSnapshot) (types.Decision, []types.Signal) {
	sigs := a.Signals(snap)
	return a.Combine(snap, sigs), sigs
}

// Combine picks the direction with the largest summed strength*confidence.
// Weight on the opposite side scales the confidence down by its share of the
// total. The most confident signal of the winning side supplies prices.
func (a *Arbiter) Combine(snap *types.MarketSnapshot, sigs []types.Signal) types.Decision {
	d := types.Decision{
		ID:                 uuid.NewString(),
		Symbol:             snap.Symbol,
		TimeframesAnalyzed: snap.Timeframes,
		MarketConditions:   MarketConditions(snap),
		Direction:          types.Hold,
		Source:             SourceStrategies,
		AnalyzedAt:         a.now().UTC(),
	}

	weights := map[types.Direction]float64{}
	best := map[types.Direction]types.Signal{}
	var holds []string
	for _, s := range sigs {
		if s.Direction != types.Buy && s.Direction != types.Sell {
			if len(s.Reasons) > 0 {
				holds = append(holds, s.Strategy+": "+s.Reasons[0])
			}
			continue
		}
		weights[s.Direction] += s.Strength * s.Confidence
		if b, ok := best[s.Direction]; !ok || s.Confidence > b.Confidence {
			best[s.Direction] = s
		}
	}

	total := weights[types.Buy] + weights[types.Sell]
	if total == 0 {
		d.Reasoning = "no actionable signal"
		if len(holds) > 0 {
			d.Reasoning += ": " + strings.Join(holds, "; ")
		}
		return d
	}

	win, lose := types.Buy, types.Sell
	if weights[types.Sell] > weights[types.Buy] {
		win, lose = types.Sell, types.Buy
	}
	if weights[win] == weights[lose] {
		d.Reasoning = fmt.Sprintf("BUY and SELL signals cancel out (weight %.0f each)", weights[win])
		return d
	}

	lead := best[win]
	conflict := weights[lose] / total
	d.Direction = win
	d.Confidence = clamp(lead.Confidence*(1-conflict), 0, 100)
	d.EntryPrice = lead.EntryPrice
	d.RecommendedStopLoss = lead.StopLoss
	d.RecommendedTakeProfit = lead.TakeProfit
	d.RecommendedLeverage = leverageFor(d.Confidence, snap.Risk.MaxLeverage)
	if lead.RecommendedLeverage > 0 && lead.RecommendedLeverage < d.RecommendedLeverage {
		d.RecommendedLeverage = lead.RecommendedLeverage
	}

	var agreeing []string
	for _, s := range sigs {
		if s.Direction == win {
			agreeing = append(agreeing, s.Strategy)
		}
	}
	sort.Strings(agreeing)
	var b strings.Builder
	fmt.Fprintf(&b, "%s led by %s (strength %.1f, confidence %.1f)", win, lead.Strategy, lead.Strength, lead.Confidence)
	if len(agreeing) > 1 {
		fmt.Fprintf(&b, "; agreeing: %s", strings.Join(agreeing, ", "))
	}
	if conflict > 0 {
		fmt.Fprintf(&b, "; %.0f%% opposing weight", conflict*100)
	}
	for _, r := range lead.Reasons {
		b.WriteString("; ")
		b.WriteString(r)
	}
	d.Reasoning = b.String()
	d.MarketConditions["signal_weight_buy"] = weights[types.Buy]
	d.MarketConditions["signal_weight_sell"] = weights[types.Sell]
	return d
}

// MarketConditions summarises the primary timeframe for the Decision record.
func MarketConditions(snap *types.MarketSnapshot) map[string]any {
	mc := map[string]any{"price": snap.LastClose()}
	tf := snap.Primary()
	for _, k := range []string{"atr", "adx", "rsi", "bb_width", "slope_pct"} {
		if v, ok := snap.Indicator(tf, k); ok {
			mc[k] = v
		}
	}
	pats := pattern.Detect(snap.BarsFor(tf))
	if len(pats) > 0 {
		names := make([]string, 0, len(pats))
		for _, p := range pats {
			names = append(names, string(p.Type))
		}
		mc["patterns"] = names
		bull, bear := pattern.Bias(pats)
		mc["pattern_bias_bullish"] = bull
		mc["pattern_bias_bearish"] = bear
	}
	return mc
}
