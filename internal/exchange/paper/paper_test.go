package paper

import (
	"context"
	"math"
	"strings"
	"testing"

	"futures-bot/internal/errs"
	"futures-bot/internal/types"
)

type staticMarket map[string]float64

func (m staticMarket) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return m[symbol], nil
}

func (m staticMarket) OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	return []types.Bar{{Ts: 1, Open: m[symbol], High: m[symbol], Low: m[symbol], Close: m[symbol]}}, nil
}

func TestRoundTripRealisesPnL(t *testing.T) {
	m := staticMarket{"BTCUSDT": 50000}
	ex := New(m, Config{StartingBalance: 10000})
	ctx := context.Background()

	res, err := ex.PlaceMarketOrder(ctx, "BTCUSDT", types.Long, 0.2, 3)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if !strings.HasPrefix(res.OrderID, "paper-") || res.AvgPrice != 50000 || res.FilledQty != 0.2 {
		t.Errorf("Expected paper fill at 50000, got %+v", res)
	}
	if qty, entry := ex.Position("BTCUSDT", types.Long); qty != 0.2 || entry != 50000 {
		t.Errorf("Expected position 0.2 @ 50000, got %f @ %f", qty, entry)
	}

	m["BTCUSDT"] = 52000
	if _, err := ex.ClosePosition(ctx, "BTCUSDT", types.Long, 0.2); err != nil {
		t.Fatalf("close: %v", err)
	}
	bal, _ := ex.AccountBalance(ctx)
	if math.Abs(bal-11200) > 1e-6 {
		t.Errorf("Expected balance 11200, got %f", bal)
	}
	if qty, _ := ex.Position("BTCUSDT", types.Long); qty != 0 {
		t.Errorf("Expected flat, got %f", qty)
	}
}

func TestShortWithSlippageAndFees(t *testing.T) {
	m := staticMarket{"ETHUSDT": 3000}
	ex := New(m, Config{StartingBalance: 10000, SlippageBps: 10, FeeRate: 0.001})
	ctx := context.Background()

	res, err := ex.PlaceMarketOrder(ctx, "ETHUSDT", types.Short, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.AvgPrice-2997) > 1e-9 {
		t.Errorf("Expected sell fill 2997, got %f", res.AvgPrice)
	}
	bal, _ := ex.AccountBalance(ctx)
	if math.Abs(bal-(10000-2.997)) > 1e-9 {
		t.Errorf("Expected opening fee deducted, got %f", bal)
	}

	m["ETHUSDT"] = 2800
	out, err := ex.ClosePosition(ctx, "ETHUSDT", types.Short, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(out.AvgPrice-2802.8) > 1e-9 {
		t.Errorf("Expected buy-back fill 2802.8, got %f", out.AvgPrice)
	}
	// (2997 - 2802.8) * 1 * 2 = 388.4, less both fees
	bal, _ = ex.AccountBalance(ctx)
	want := 10000 - 2.997 + 388.4 - 2.8028
	if math.Abs(bal-want) > 1e-6 {
		t.Errorf("Expected balance %f, got %f", want, bal)
	}
}

func TestRejections(t *testing.T) {
	ex := New(staticMarket{"BTCUSDT": 50000}, Config{StartingBalance: 10000})
	ctx := context.Background()

	if _, err := ex.PlaceMarketOrder(ctx, "BTCUSDT", types.Long, 1, 1); !errs.Is(err, errs.KindExchange) {
		t.Errorf("Expected insufficient margin ExchangeError, got %v", err)
	}
	if _, err := ex.PlaceMarketOrder(ctx, "BTCUSDT", types.Long, 0, 1); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected ValidationFailure, got %v", err)
	}
	if _, err := ex.ClosePosition(ctx, "BTCUSDT", types.Short, 1); !errs.Is(err, errs.KindExchange) {
		t.Errorf("Expected ExchangeError closing a missing position, got %v", err)
	}
	if _, err := ex.PlaceMarketOrder(ctx, "NOPRICE", types.Long, 1, 1); !errs.Is(err, errs.KindExchange) {
		t.Errorf("Expected ExchangeError without a price, got %v", err)
	}
}
