package risk

import (
	"math"

	"futures-bot/internal/types"
)

// PositionSize returns the quantity that loses riskPct percent of balance if
// price travels from entry to stop:
//
//	qty = balance * riskPct / 100 / |entry - stop|
//
// It returns 0 when entry == stop or any input is non-positive.
func PositionSize(balance, riskPct, entry, stop float64) float64 {
	dist := math.Abs(entry - stop)
	if balance <= 0 || riskPct <= 0 || entry <= 0 || dist == 0 {
		return 0
	}
	return balance * riskPct / 100 / dist
}

// MarginPct is the margin a position ties up (notional / leverage) as a percentage of balance.
func MarginPct(entry, qty float64, leverage int, balance float64) float64 {
	if balance <= 0 {
		return 0
	}
	if leverage < 1 {
		leverage = 1
	}
	return entry * qty / float64(leverage) / balance * 100
}

// RiskPct is the loss at the stop as a percentage of balance.
func RiskPct(entry, stop, qty, balance float64) float64 {
	if balance <= 0 {
		return 0
	}
	return math.Abs(entry-stop) * qty / balance * 100
}

// RiskReward is the distance to target over the distance to stop (0 when undefined).
func RiskReward(entry, stop, target float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(target-entry) / risk
}

func tradeMarginPct(t types.Trade, balance float64) float64 {
	return MarginPct(t.EntryPrice, t.Quantity, t.Leverage, balance)
}

// tradeRiskPct treats a position without a stop as risking its full margin.
func tradeRiskPct(t types.Trade, balance float64) float64 {
	if t.StopLoss <= 0 {
		return tradeMarginPct(t, balance)
	}
	return RiskPct(t.EntryPrice, t.StopLoss, t.Quantity, balance)
}
