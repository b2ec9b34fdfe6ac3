package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"futures-bot/internal/errs"
	"futures-bot/internal/types"
)

type slowExchange struct {
	delay time.Duration
	err   error
}

func (s *slowExchange) wait(ctx context.Context) error {
	select {
	case <-time.After(s.delay):
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slowExchange) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	return 100, nil
}

func (s *slowExchange) OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	return nil, s.wait(ctx)
}

func (s *slowExchange) AccountBalance(ctx context.Context) (float64, error) {
	return 10000, s.wait(ctx)
}

func (s *slowExchange) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty float64, leverage int) (types.OrderResult, error) {
	if err := s.wait(ctx); err != nil {
		return types.OrderResult{}, err
	}
	return types.OrderResult{OrderID: "1"}, nil
}

func (s *slowExchange) ClosePosition(ctx context.Context, symbol string, side types.Side, qty float64) (types.OrderResult, error) {
	return types.OrderResult{}, s.wait(ctx)
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()

	fast := WithTimeout(&slowExchange{delay: time.Millisecond}, time.Second)
	if p, err := fast.CurrentPrice(ctx, "BTCUSDT"); err != nil || p != 100 {
		t.Errorf("Expected 100, got %f (%v)", p, err)
	}

	slow := WithTimeout(&slowExchange{delay: time.Second}, 20*time.Millisecond)
	_, err := slow.PlaceMarketOrder(ctx, "BTCUSDT", types.Long, 0.2, 3)
	if !errs.Is(err, errs.KindExchange) || !errs.Retryable(err) {
		t.Errorf("Expected retryable ExchangeError on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected wrapped deadline, got %v", err)
	}

	failing := WithTimeout(&slowExchange{err: errors.New("boom")}, time.Second)
	if _, err := failing.AccountBalance(ctx); !errs.Is(err, errs.KindExchange) {
		t.Errorf("Expected untyped errors to become ExchangeError, got %v", err)
	}

	typed := WithTimeout(&slowExchange{err: errs.New(errs.KindValidation, "test", "bad qty")}, time.Second)
	if _, err := typed.ClosePosition(ctx, "BTCUSDT", types.Long, 0); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected kind preserved, got %v", err)
	}
}

func TestNewModes(t *testing.T) {
	if _, err := New(Config{Mode: ModeLive}); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected live mode without keys rejected, got %v", err)
	}
	if _, err := New(Config{Mode: "margin"}); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected unknown mode rejected, got %v", err)
	}
	if _, err := New(Config{Mode: ModePaper}); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected paper mode without balance rejected, got %v", err)
	}
	ex, err := New(Config{Mode: ModePaper, StartingBalance: 10000})
	if err != nil || ex == nil {
		t.Fatalf("Expected paper exchange, got %v", err)
	}
	if bal, err := ex.AccountBalance(context.Background()); err != nil || bal != 10000 {
		t.Errorf("Expected paper balance 10000, got %f (%v)", bal, err)
	}
}
