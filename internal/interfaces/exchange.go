package interfaces

import (
	"context"

	"futures-bot/internal/types"
)

// Exchange is a USD-margined perpetual futures venue.
type Exchange interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error)
	AccountBalance(ctx context.Context) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty float64, leverage int) (types.OrderResult, error)
	ClosePosition(ctx context.Context, symbol string, side types.Side, qty float64) (types.OrderResult, error)
}
