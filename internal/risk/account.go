package risk

import (
	"context"
	"math"
	"time"

	"futures-bot/internal/errs"
)

type BalanceSource interface {
	AccountBalance(ctx context.Context) (float64, error)
}

// History is the persisted account history the gate reads.
type History interface {
	PeakEquity(ctx context.Context) (float64, error)
	RealizedPnLSince(ctx context.Context, since time.Time) (float64, error)
}

// LoadAccount reads the live balance and today's realised PnL (UTC day).
// The peak never sits below the current balance.
func LoadAccount(ctx context.Context, bal BalanceSource, hist History, now time.Time) (Account, error) {
	const op = "risk.LoadAccount"
	balance, err := bal.AccountBalance(ctx)
	if err != nil {
		if errs.KindOf(err) == "" {
			err = errs.E(errs.KindExchange, op, err)
		}
		return Account{}, err
	}
	peak, err := hist.PeakEquity(ctx)
	if err != nil {
		return Account{}, err
	}
	day := now.UTC().Truncate(24 * time.Hour)
	pnl, err := hist.RealizedPnLSince(ctx, day)
	if err != nil {
		return Account{}, err
	}
	return Account{
		Balance:          balance,
		Equity:           balance,
		PeakEquity:       math.Max(peak, balance),
		RealizedPnLToday: pnl,
	}, nil
}
