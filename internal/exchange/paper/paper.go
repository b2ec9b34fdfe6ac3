// Package paper simulates order fills against live prices for DRY_RUN mode.
// No order ever leaves the process.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"futures-bot/internal/errs"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/risk"
	"futures-bot/internal/types"
)

// Market is the read side of an exchange that prices simulated fills.
type Market interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error)
}

// Config tunes the simulation. SlippageBps moves every fill against the
// order; FeeRate is charged on notional at open and close (0.0004 = 4 bps).
type Config struct {
	StartingBalance float64
	SlippageBps     float64
	FeeRate         float64
}

type position struct {
	qty      decimal.Decimal
	entry    decimal.Decimal
	leverage int
}

type Exchange struct {
	market Market
	cfg    Config
	newID  func() string

	mu        sync.Mutex
	balance   decimal.Decimal
	positions map[string]*position
}

var _ interfaces.Exchange = (*Exchange)(nil)

func New(market Market, cfg Config) *Exchange {
	return &Exchange{
		market:    market,
		cfg:       cfg,
		newID:     func() string { return "paper-" + uuid.NewString() },
		balance:   decimal.NewFromFloat(cfg.StartingBalance),
		positions: make(map[string]*position),
	}
}

func posKey(symbol string, side types.Side) string {
	return symbol + "/" + string(side)
}

func (e *Exchange) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return e.market.CurrentPrice(ctx, symbol)
}

func (e *Exchange) OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	return e.market.OHLCV(ctx, symbol, tf, limit)
}

// AccountBalance is the starting balance plus realised PnL minus fees.
func (e *Exchange) AccountBalance(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance.InexactFloat64(), nil
}

// fill prices a market order with slippage against the taker.
func (e *Exchange) fill(ctx context.Context, symbol string, buy bool) (decimal.Decimal, error) {
	price, err := e.market.CurrentPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if price <= 0 {
		return decimal.Zero, errs.Newf(errs.KindExchange, "paper.fill", "no price for %s", symbol)
	}
	p := decimal.NewFromFloat(price)
	slip := p.Mul(decimal.NewFromFloat(e.cfg.SlippageBps)).Div(decimal.NewFromInt(10000))
	if buy {
		return p.Add(slip), nil
	}
	return p.Sub(slip), nil
}

func (e *Exchange) fee(price, qty decimal.Decimal) decimal.Decimal {
	return price.Mul(qty).Mul(decimal.NewFromFloat(e.cfg.FeeRate))
}

func (e *Exchange) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty float64, leverage int) (types.OrderResult, error) {
	const op = "paper.PlaceMarketOrder"
	if qty <= 0 {
		return types.OrderResult{}, errs.Newf(errs.KindValidation, op, "quantity %v is not positive", qty)
	}
	if leverage < 1 {
		leverage = 1
	}
	price, err := e.fill(ctx, symbol, side == types.Long)
	if err != nil {
		return types.OrderResult{}, err
	}
	q := decimal.NewFromFloat(qty)

	e.mu.Lock()
	defer e.mu.Unlock()
	margin := price.Mul(q).Div(decimal.NewFromInt(int64(leverage)))
	if margin.GreaterThan(e.balance) {
		return types.OrderResult{}, errs.Newf(errs.KindExchange, op, "insufficient margin: need %s, have %s",
			margin.StringFixed(2), e.balance.StringFixed(2))
	}
	key := posKey(symbol, side)
	pos, ok := e.positions[key]
	if !ok {
		pos = &position{qty: decimal.Zero, entry: decimal.Zero}
		e.positions[key] = pos
	}
	// average the entry over the combined size
	total := pos.qty.Add(q)
	pos.entry = pos.entry.Mul(pos.qty).Add(price.Mul(q)).Div(total)
	pos.qty = total
	pos.leverage = leverage
	e.balance = e.balance.Sub(e.fee(price, q))

	return types.OrderResult{OrderID: e.newID(), AvgPrice: price.InexactFloat64(), FilledQty: qty}, nil
}

// ClosePosition realises PnL on up to qty of the simulated position.
func (e *Exchange) ClosePosition(ctx context.Context, symbol string, side types.Side, qty float64) (types.OrderResult, error) {
	const op = "paper.ClosePosition"
	price, err := e.fill(ctx, symbol, side == types.Short)
	if err != nil {
		return types.OrderResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	key := posKey(symbol, side)
	pos, ok := e.positions[key]
	if !ok || pos.qty.IsZero() {
		return types.OrderResult{}, errs.Newf(errs.KindExchange, op, "no %s position in %s", side, symbol)
	}
	q := decimal.NewFromFloat(qty)
	if qty <= 0 || q.GreaterThan(pos.qty) {
		q = pos.qty
	}
	exit := price.InexactFloat64()
	pnl, _ := risk.PnL(side, pos.entry.InexactFloat64(), exit, q.InexactFloat64(), pos.leverage)
	e.balance = e.balance.Add(decimal.NewFromFloat(pnl)).Sub(e.fee(price, q))

	pos.qty = pos.qty.Sub(q)
	if pos.qty.IsZero() {
		delete(e.positions, key)
	}
	return types.OrderResult{OrderID: e.newID(), AvgPrice: exit, FilledQty: q.InexactFloat64()}, nil
}

// Position reports the simulated size and average entry for tests and the CLI.
func (e *Exchange) Position(symbol string, side types.Side) (qty, entry float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[posKey(symbol, side)]
	if !ok {
		return 0, 0
	}
	return pos.qty.InexactFloat64(), pos.entry.InexactFloat64()
}

func (e *Exchange) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("paper{balance: %s, positions: %d}", e.balance.StringFixed(2), len(e.positions))
}
