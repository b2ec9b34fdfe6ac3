package eod

import "github.com/shopspring/decimal"

// aggRow accumulates one symbol's closed trades for a UTC day.
type aggRow struct {
	Symbol      string
	Trades      int
	Wins        int
	Losses      int
	Longs       int
	Shorts      int
	GrossProfit decimal.Decimal
	GrossLoss   decimal.Decimal
}

func (r *aggRow) realized() decimal.Decimal { return r.GrossProfit.Add(r.GrossLoss) }

func (r *aggRow) winRate() float64 {
	if r.Trades == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Trades) * 100
}
