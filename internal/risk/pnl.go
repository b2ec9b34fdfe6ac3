package risk

import (
	"github.com/shopspring/decimal"

	"futures-bot/internal/types"
)

// PnL of closing a position at exit:
//
//	pnl    = (exit - entry) * qty * leverage
//	pnlPct = (exit - entry) / entry * 100
//
// Both are negated for SHORT. Arithmetic runs in decimal so the booked
// figures do not carry float noise; pnl keeps 8 places, pnlPct 4.
func PnL(side types.Side, entry, exit, qty float64, leverage int) (pnl, pnlPct float64) {
	if leverage < 1 {
		leverage = 1
	}
	e := decimal.NewFromFloat(entry)
	move := decimal.NewFromFloat(exit).Sub(e)
	if side == types.Short {
		move = move.Neg()
	}
	pnl = move.Mul(decimal.NewFromFloat(qty)).Mul(decimal.NewFromInt(int64(leverage))).Round(8).InexactFloat64()
	if e.IsZero() {
		return pnl, 0
	}
	pnlPct = move.Div(e).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
	return pnl, pnlPct
}

// TradePnL applies PnL to a stored trade.
func TradePnL(t types.Trade, exit float64) (float64, float64) {
	return PnL(t.Side, t.EntryPrice, exit, t.Quantity, t.Leverage)
}
