package marketdata

import (
	"context"

	"golang.org/x/sync/errgroup"

	"futures-bot/internal/errs"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
	"futures-bot/internal/ta"
	"futures-bot/internal/types"
)

// DefaultLimit is the number of bars requested per timeframe.
const DefaultLimit = 200

// Fetcher pulls bars from the exchange into the cache.
type Fetcher struct {
	exchange interfaces.Exchange
	cache    *Cache
	limit    int
}

func NewFetcher(exchange interfaces.Exchange, cache *Cache, limit int) *Fetcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Fetcher{exchange: exchange, cache: cache, limit: limit}
}

func (f *Fetcher) Cache() *Cache { return f.cache }

// Fetch refreshes every timeframe of symbol in parallel. Timeframes that fail
// keep their previous entry; the first error is returned.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, tfs []types.Timeframe) error {
	const op = "marketdata.Fetch"
	var g errgroup.Group
	for _, tf := range tfs {
		g.Go(func() error {
			raw, err := f.exchange.OHLCV(ctx, symbol, tf, f.limit)
			if err != nil {
				if errs.KindOf(err) == "" {
					err = errs.E(errs.KindExchange, op, err)
				}
				logger.Warn(ctx, "OHLCV fetch failed", "symbol", symbol, "timeframe", string(tf), "error", err.Error())
				return err
			}
			bars := Normalize(raw)
			if len(bars) == 0 {
				return errs.Newf(errs.KindDataUnavailable, op, "exchange returned no usable bars for %s %s", symbol, tf)
			}
			f.cache.Put(symbol, tf, bars)
			logger.Debug(ctx, "Bars cached", "symbol", symbol, "timeframe", string(tf), "bars", len(bars), "dropped", len(raw)-len(bars))
			return nil
		})
	}
	return g.Wait()
}

// Account supplies the portfolio fields of a snapshot.
type Account struct {
	Balance       float64
	OpenPositions []types.Trade
	Risk          types.RiskConfig
}

// BuildSnapshot builds a MarketSnapshot from cached bars, computing indicators per
// timeframe. The first timeframe is the primary one. Any cold or stale
// timeframe fails the whole snapshot with DataUnavailable.
func BuildSnapshot(cache *Cache, symbol string, tfs []types.Timeframe, acct Account) (*types.MarketSnapshot, error) {
	if len(tfs) == 0 {
		return nil, errs.New(errs.KindValidation, "marketdata.Snapshot", "no timeframes")
	}
	snap := &types.MarketSnapshot{
		Symbol:         symbol,
		Timeframes:     append([]types.Timeframe(nil), tfs...),
		Bars:           make(map[types.Timeframe][]types.Bar, len(tfs)),
		Indicators:     make(map[types.Timeframe]types.IndicatorSet, len(tfs)),
		OpenPositions:  acct.OpenPositions,
		AccountBalance: acct.Balance,
		Risk:           acct.Risk,
	}
	for _, tf := range tfs {
		bars, err := cache.Get(symbol, tf)
		if err != nil {
			return nil, err
		}
		snap.Bars[tf] = bars
		snap.Indicators[tf] = ta.Compute(bars)
	}
	return snap, nil
}
