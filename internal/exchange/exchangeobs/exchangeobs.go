package exchangeobs

import (
	"context"

	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
	"futures-bot/internal/trace"
	"futures-bot/internal/types"
)

// observableExchange wraps an Exchange with spans and logs.
type observableExchange struct {
	exchange interfaces.Exchange
}

var _ interfaces.Exchange = (*observableExchange)(nil)

// Wrap wraps an exchange with observability middleware
func Wrap(exchange interfaces.Exchange) interfaces.Exchange {
	return &observableExchange{exchange: exchange}
}

func (o *observableExchange) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.CurrentPrice")
	defer span.End()

	price, err := o.exchange.CurrentPrice(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch price", err, "symbol", symbol)
		return 0, err
	}
	logger.DebugSkip(ctx, 1, "Price fetched", "symbol", symbol, "price", price)
	return price, nil
}

func (o *observableExchange) OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.OHLCV")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching bars", "symbol", symbol, "timeframe", string(tf), "limit", limit)

	bars, err := o.exchange.OHLCV(ctx, symbol, tf, limit)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch bars", err, "symbol", symbol, "timeframe", string(tf))
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Bars fetched", "symbol", symbol, "timeframe", string(tf), "count", len(bars))
	return bars, nil
}

func (o *observableExchange) AccountBalance(ctx context.Context) (float64, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.AccountBalance")
	defer span.End()

	bal, err := o.exchange.AccountBalance(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch balance", err)
		return 0, err
	}
	logger.DebugSkip(ctx, 1, "Balance fetched", "balance", bal)
	return bal, nil
}

// PlaceMarketOrder places an order with observability
func (o *observableExchange) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty float64, leverage int) (types.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.PlaceMarketOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing market order",
		"symbol", symbol,
		"side", string(side),
		"qty", qty,
		"leverage", leverage,
	)

	res, err := o.exchange.PlaceMarketOrder(ctx, symbol, side, qty, leverage)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", symbol,
			"side", string(side),
			"qty", qty,
		)
		return types.OrderResult{}, err
	}

	logger.InfoSkip(ctx, 1, "Order placed successfully",
		"symbol", symbol,
		"order_id", res.OrderID,
		"avg_price", res.AvgPrice,
		"filled_qty", res.FilledQty,
	)
	return res, nil
}

func (o *observableExchange) ClosePosition(ctx context.Context, symbol string, side types.Side, qty float64) (types.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "exchange.ClosePosition")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Closing position", "symbol", symbol, "side", string(side), "qty", qty)

	res, err := o.exchange.ClosePosition(ctx, symbol, side, qty)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to close position", err, "symbol", symbol, "side", string(side))
		return types.OrderResult{}, err
	}

	logger.InfoSkip(ctx, 1, "Position closed",
		"symbol", symbol,
		"order_id", res.OrderID,
		"avg_price", res.AvgPrice,
	)
	return res, nil
}
