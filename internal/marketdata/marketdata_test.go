package marketdata

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"futures-bot/internal/errs"
	"futures-bot/internal/types"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func bars(n int, start float64) []types.Bar {
	out := make([]types.Bar, n)
	for i := range out {
		c := start + float64(i)
		out[i] = types.Bar{Ts: int64(i) * 60000, Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return out
}

func TestCacheColdAndStale(t *testing.T) {
	clk := &clock{t: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	c := NewCache(0)
	c.now = clk.now

	if _, err := c.Get("BTCUSDT", "15m"); !errs.Is(err, errs.KindDataUnavailable) {
		t.Errorf("Expected DataUnavailable for cold cache, got %v", err)
	}
	c.Put("BTCUSDT", "15m", bars(3, 100))

	clk.t = clk.t.Add(4 * time.Minute)
	got, err := c.Get("BTCUSDT", "15m")
	if err != nil || len(got) != 3 {
		t.Fatalf("Expected 3 fresh bars, got %d (%v)", len(got), err)
	}
	if age, ok := c.Age("BTCUSDT", "15m"); !ok || age != 4*time.Minute {
		t.Errorf("Expected age 4m, got %s", age)
	}

	clk.t = clk.t.Add(2 * time.Minute)
	if _, err := c.Get("BTCUSDT", "15m"); !errs.Is(err, errs.KindDataUnavailable) {
		t.Errorf("Expected DataUnavailable once stale, got %v", err)
	}
}

func TestCacheCopiesInput(t *testing.T) {
	c := NewCache(time.Minute)
	in := bars(2, 100)
	c.Put("ETHUSDT", "1h", in)
	in[0].Close = -1
	got, _ := c.Get("ETHUSDT", "1h")
	if got[0].Close != 100 {
		t.Errorf("Expected cached copy unaffected, got %f", got[0].Close)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "ETHUSDT|1h" {
		t.Errorf("Expected one key, got %v", keys)
	}
}

func TestNormalize(t *testing.T) {
	in := []types.Bar{
		{Ts: 3, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1},
		{Ts: 1, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1},
		{Ts: 2, Open: 10, High: 9, Low: 11, Close: 10, Volume: 1},
		{Ts: 3, Open: 10, High: 12, Low: 9, Close: 11, Volume: 2},
		{Ts: 4, Open: 10, High: 11, Low: 9, Close: math.NaN(), Volume: 1},
		{Ts: 5, Open: 10, High: 11, Low: 9, Close: 0, Volume: 1},
	}
	out := Normalize(in)
	if len(out) != 2 {
		t.Fatalf("Expected 2 bars, got %d: %+v", len(out), out)
	}
	if out[0].Ts != 1 || out[1].Ts != 3 {
		t.Errorf("Expected ascending timestamps 1,3, got %d,%d", out[0].Ts, out[1].Ts)
	}
	if out[1].Close != 11 {
		t.Errorf("Expected last duplicate to win, got close %f", out[1].Close)
	}
}

type ohlcvExchange struct {
	mu    sync.Mutex
	fail  map[types.Timeframe]bool
	calls int
}

func (e *ohlcvExchange) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func (e *ohlcvExchange) OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail[tf] {
		return nil, errors.New("rate limited")
	}
	return bars(limit, 100), nil
}

func (e *ohlcvExchange) AccountBalance(ctx context.Context) (float64, error) { return 0, nil }

func (e *ohlcvExchange) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty float64, leverage int) (types.OrderResult, error) {
	return types.OrderResult{}, nil
}

func (e *ohlcvExchange) ClosePosition(ctx context.Context, symbol string, side types.Side, qty float64) (types.OrderResult, error) {
	return types.OrderResult{}, nil
}

func TestFetchAndSnapshot(t *testing.T) {
	ex := &ohlcvExchange{}
	f := NewFetcher(ex, NewCache(0), 60)
	tfs := []types.Timeframe{"15m", "1h"}

	if _, err := BuildSnapshot(f.Cache(), "BTCUSDT", tfs, Account{}); !errs.Is(err, errs.KindDataUnavailable) {
		t.Errorf("Expected DataUnavailable before fetch, got %v", err)
	}
	if err := f.Fetch(context.Background(), "BTCUSDT", tfs); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ex.calls != 2 {
		t.Errorf("Expected 2 OHLCV calls, got %d", ex.calls)
	}

	snap, err := BuildSnapshot(f.Cache(), "BTCUSDT", tfs, Account{Balance: 10000})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Primary() != "15m" || len(snap.BarsFor("1h")) != 60 {
		t.Errorf("Expected primary 15m with 60 bars per timeframe, got %s/%d", snap.Primary(), len(snap.BarsFor("1h")))
	}
	if snap.LastClose() != 159 || snap.AccountBalance != 10000 {
		t.Errorf("Expected last close 159 and balance, got %f %f", snap.LastClose(), snap.AccountBalance)
	}
	if rsi, ok := snap.Indicator("15m", "rsi"); !ok || rsi != 100 {
		t.Errorf("Expected RSI 100 on a rising series, got %f", rsi)
	}
}

func TestFetchFailureKeepsOtherTimeframes(t *testing.T) {
	ex := &ohlcvExchange{fail: map[types.Timeframe]bool{"1h": true}}
	f := NewFetcher(ex, NewCache(0), 30)

	err := f.Fetch(context.Background(), "ETHUSDT", []types.Timeframe{"15m", "1h"})
	if !errs.Is(err, errs.KindExchange) {
		t.Errorf("Expected ExchangeError, got %v", err)
	}
	if _, err := f.Cache().Get("ETHUSDT", "15m"); err != nil {
		t.Errorf("Expected 15m cached, got %v", err)
	}
	if _, err := f.Cache().Get("ETHUSDT", "1h"); !errs.Is(err, errs.KindDataUnavailable) {
		t.Errorf("Expected 1h unavailable, got %v", err)
	}
}
