// Package exchange builds the Exchange the bot trades through and bounds every
// call with a timeout.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"futures-bot/internal/errs"
	"futures-bot/internal/exchange/binance"
	"futures-bot/internal/exchange/exchangeobs"
	"futures-bot/internal/exchange/paper"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/types"
)

const (
	ModeLive  = "live"
	ModePaper = "paper"

	DefaultTimeout = 10 * time.Second
)

type Config struct {
	Mode            string
	BaseURL         string
	APIKey          string
	APISecret       string
	QuoteAsset      string
	RecvWindowMs    int64
	Timeout         time.Duration
	StartingBalance float64
	SlippageBps     float64
	FeeRate         float64
}

// New returns the configured exchange wrapped with observability and
// timeouts. Paper mode prices fills from the public market endpoints, so it
// needs no credentials.
func New(cfg Config) (interfaces.Exchange, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := binance.New(binance.Config{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		QuoteAsset: cfg.QuoteAsset,
		RecvWindow: cfg.RecvWindowMs,
		Timeout:    timeout,
	})

	var ex interfaces.Exchange
	switch strings.ToLower(cfg.Mode) {
	case ModeLive:
		if cfg.APIKey == "" || cfg.APISecret == "" {
			return nil, errs.New(errs.KindValidation, "exchange.New", "live mode requires BINANCE_API_KEY and BINANCE_API_SECRET")
		}
		ex = client
	case ModePaper, "":
		if cfg.StartingBalance <= 0 {
			return nil, errs.New(errs.KindValidation, "exchange.New", "paper mode requires a positive starting balance")
		}
		ex = paper.New(client, paper.Config{
			StartingBalance: cfg.StartingBalance,
			SlippageBps:     cfg.SlippageBps,
			FeeRate:         cfg.FeeRate,
		})
	default:
		return nil, errs.Newf(errs.KindValidation, "exchange.New", "unknown exchange mode %q", cfg.Mode)
	}
	return WithTimeout(exchangeobs.Wrap(ex), timeout), nil
}

type timeoutExchange struct {
	next    interfaces.Exchange
	timeout time.Duration
}

var _ interfaces.Exchange = (*timeoutExchange)(nil)

// WithTimeout bounds each call by d. A call that runs out of time fails with
// a retryable ExchangeError.
func WithTimeout(next interfaces.Exchange, d time.Duration) interfaces.Exchange {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutExchange{next: next, timeout: d}
}

func timed[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	v, err := fn(ctx)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return v, errs.E(errs.KindExchange, op, fmt.Errorf("timed out after %s: %w", d, err))
	}
	if errs.KindOf(err) == "" {
		err = errs.E(errs.KindExchange, op, err)
	}
	return v, err
}

func (t *timeoutExchange) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return timed(ctx, t.timeout, "exchange.CurrentPrice", func(ctx context.Context) (float64, error) {
		return t.next.CurrentPrice(ctx, symbol)
	})
}

func (t *timeoutExchange) OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	return timed(ctx, t.timeout, "exchange.OHLCV", func(ctx context.Context) ([]types.Bar, error) {
		return t.next.OHLCV(ctx, symbol, tf, limit)
	})
}

func (t *timeoutExchange) AccountBalance(ctx context.Context) (float64, error) {
	return timed(ctx, t.timeout, "exchange.AccountBalance", t.next.AccountBalance)
}

func (t *timeoutExchange) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty float64, leverage int) (types.OrderResult, error) {
	return timed(ctx, t.timeout, "exchange.PlaceMarketOrder", func(ctx context.Context) (types.OrderResult, error) {
		return t.next.PlaceMarketOrder(ctx, symbol, side, qty, leverage)
	})
}

func (t *timeoutExchange) ClosePosition(ctx context.Context, symbol string, side types.Side, qty float64) (types.OrderResult, error) {
	return timed(ctx, t.timeout, "exchange.ClosePosition", func(ctx context.Context) (types.OrderResult, error) {
		return t.next.ClosePosition(ctx, symbol, side, qty)
	})
}
