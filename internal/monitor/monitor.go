// Package monitor watches OPEN trades and closes them at their stop or target.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"futures-bot/internal/errs"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
	"futures-bot/internal/risk"
	"futures-bot/internal/tradelog"
	"futures-bot/internal/types"
)

// DefaultConcurrency bounds how many trades are checked at once.
const DefaultConcurrency = 4

type Outcome string

const (
	OutcomeHeld    Outcome = "Held"
	OutcomeClosed  Outcome = "Closed"
	OutcomeSkipped Outcome = "Skipped"
	OutcomeFailed  Outcome = "Failed"
)

type Config struct {
	Concurrency int
}

// Result is what one check did to one trade. Trade carries the closed state
// when Outcome is OutcomeClosed.
type Result struct {
	TradeID string
	Symbol  string
	Price   float64
	Outcome Outcome
	Reason  types.CloseReason
	Trade   *types.Trade
	Err     error
}

type Monitor struct {
	repo     interfaces.Repository
	exchange interfaces.Exchange
	cfg      Config
	flight   singleflight.Group
	locks    tradeLocks
	mu       sync.Mutex
	pending  map[string]pendingClose
	now      func() time.Time
}

func New(repo interfaces.Repository, exchange interfaces.Exchange, cfg Config) *Monitor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Monitor{repo: repo, exchange: exchange, cfg: cfg, pending: make(map[string]pendingClose), now: time.Now}
}

// Trigger reports whether price hits the trade's stop or target. The stop
// wins when both are crossed.
func Trigger(t types.Trade, price float64) (types.CloseReason, bool) {
	if price <= 0 {
		return "", false
	}
	switch t.Side {
	case types.Long:
		if t.StopLoss > 0 && price <= t.StopLoss {
			return types.StopLossHit, true
		}
		if t.TakeProfit > 0 && price >= t.TakeProfit {
			return types.TakeProfitHit, true
		}
	case types.Short:
		if t.StopLoss > 0 && price >= t.StopLoss {
			return types.StopLossHit, true
		}
		if t.TakeProfit > 0 && price <= t.TakeProfit {
			return types.TakeProfitHit, true
		}
	}
	return "", false
}

// Poll checks every OPEN trade concurrently. A failure on one trade never
// stops the others; it is reported in that trade's Result and the trade stays
// OPEN for the next poll.
func (m *Monitor) Poll(ctx context.Context) ([]Result, error) {
	open, err := m.repo.OpenTrades(ctx)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}

	results := make([]Result, len(open))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i, t := range open {
		g.Go(func() error {
			results[i] = m.Check(gctx, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	closed := 0
	for _, r := range results {
		if r.Outcome == OutcomeClosed {
			closed++
		}
	}
	logger.Debug(ctx, "Monitor poll complete", "open", len(open), "closed", closed)
	return results, ctx.Err()
}

// Check evaluates one trade. Concurrent checks of the same trade id share a
// single evaluation, and the evaluation holds the trade's lock so it never
// overlaps a Cancel.
func (m *Monitor) Check(ctx context.Context, t types.Trade) Result {
	v, _, _ := m.flight.Do(t.ID, func() (any, error) {
		unlock := m.locks.lock(t.ID)
		defer unlock()
		return m.check(ctx, t), nil
	})
	return v.(Result)
}

func (m *Monitor) check(ctx context.Context, t types.Trade) Result {
	const op = "monitor.Check"
	res := Result{TradeID: t.ID, Symbol: t.Symbol}

	// re-read so a trade closed by an earlier flight is not closed twice
	cur, err := m.repo.GetTrade(ctx, t.ID)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	if cur.Status != types.TradeOpen {
		m.dropPending(ctx, *cur)
		res.Outcome = OutcomeSkipped
		return res
	}
	t = *cur

	// the position is already flat on the exchange; only the record is missing
	if p, ok := m.pendingClose(t.ID); ok {
		res.Price, res.Reason = p.trade.ExitPrice, p.trade.CloseReason
		return m.finish(ctx, res, p.trade, p.orderID, nil)
	}

	price, err := m.exchange.CurrentPrice(ctx, t.Symbol)
	if err != nil {
		if errs.KindOf(err) == "" {
			err = errs.E(errs.KindExchange, op, err)
		}
		logger.Warn(ctx, "Price unavailable for open trade", "trade_id", t.ID, "symbol", t.Symbol, "error", err.Error())
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	res.Price = price

	reason, hit := Trigger(t, price)
	if !hit {
		res.Outcome = OutcomeHeld
		return res
	}
	res.Reason = reason
	logger.Risk(ctx, t.Symbol, string(reason),
		"trade_id", t.ID,
		"side", string(t.Side),
		"price", price,
		"stop_loss", t.StopLoss,
		"take_profit", t.TakeProfit,
	)

	closed, orderID, err := m.close(ctx, t, price, reason)
	return m.finish(ctx, res, closed, orderID, err)
}

func (m *Monitor) finish(ctx context.Context, res Result, t types.Trade, orderID string, err error) Result {
	var closed *types.Trade
	if err == nil {
		closed, err = m.record(ctx, t, orderID)
	}
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to close trade, will retry next poll", err,
			"trade_id", t.ID, "symbol", t.Symbol, "reason", string(res.Reason))
		res.Outcome, res.Err = OutcomeFailed, err
		return res
	}
	res.Outcome, res.Trade = OutcomeClosed, closed
	return res
}

// close flattens the position on the exchange and fills in the exit.
func (m *Monitor) close(ctx context.Context, t types.Trade, price float64, reason types.CloseReason) (types.Trade, string, error) {
	const op = "monitor.close"
	order, err := m.exchange.ClosePosition(ctx, t.Symbol, t.Side, t.Quantity)
	if err != nil {
		if errs.KindOf(err) == "" {
			err = errs.E(errs.KindExchange, op, err)
		}
		return t, "", err
	}
	exit := order.AvgPrice
	if exit <= 0 {
		exit = price
	}
	at := m.now().UTC()
	t.ExitPrice = exit
	t.PnL, t.PnLPercentage = risk.TradePnL(t, exit)
	t.CloseReason = reason
	t.ClosedAt = &at
	return t, order.OrderID, nil
}

// record persists a close that already happened on the exchange. A storage
// failure keeps the fill pending, so the next check records it without
// sending a second order.
func (m *Monitor) record(ctx context.Context, t types.Trade, orderID string) (*types.Trade, error) {
	const op = "monitor.record"
	ok, err := m.repo.CloseTrade(ctx, &t)
	if err != nil {
		m.setPending(t, orderID)
		err = errs.E(errs.KindStorage, op, fmt.Errorf("record close of %s (order %s): %w", t.ID, orderID, err))
		m.flagUnrecorded(ctx, t, orderID, err)
		return nil, err
	}
	m.clearPending(t.ID)
	if !ok {
		err := errs.Newf(errs.KindStorage, op, "trade %s closed on the exchange at %.8f (order %s) but is no longer OPEN",
			t.ID, t.ExitPrice, orderID)
		m.flagUnrecorded(ctx, t, orderID, err)
		return nil, err
	}
	t.Status = types.TradeClosed

	logger.Trade(ctx, tradelog.EventClose, t.Symbol, string(t.Side), t.Quantity, t.ExitPrice, orderID,
		"trade_id", t.ID, "pnl", t.PnL, "pnl_pct", t.PnLPercentage, "reason", string(t.CloseReason))
	_ = tradelog.AppendTrade(tradelog.EventClose, &t, string(t.CloseReason))
	return &t, nil
}

// flagUnrecorded surfaces an exchange fill the trade record does not carry,
// on the log and on the originating decision.
func (m *Monitor) flagUnrecorded(ctx context.Context, t types.Trade, orderID string, cause error) {
	logger.Risk(ctx, t.Symbol, "UNRECORDED_CLOSE",
		"trade_id", t.ID,
		"order_id", orderID,
		"exit_price", t.ExitPrice,
		"pnl", t.PnL,
		"error", cause.Error(),
	)
	if t.DecisionID == "" {
		return
	}
	if err := m.repo.SetExecutionError(ctx, t.DecisionID, cause.Error()); err != nil {
		logger.ErrorWithErr(ctx, "Failed to flag unrecorded close on decision", err, "decision_id", t.DecisionID)
	}
}

// Cancel marks an OPEN trade CANCELLED without touching the exchange, for
// positions an operator closed by hand. It waits for any running check of
// the same trade. A trade whose exchange close is still unrecorded is
// recorded as CLOSED instead.
func (m *Monitor) Cancel(ctx context.Context, tradeID string) (*types.Trade, error) {
	const op = "monitor.Cancel"
	if tradeID == "" {
		return nil, errs.New(errs.KindValidation, op, "empty trade id")
	}
	unlock := m.locks.lock(tradeID)
	defer unlock()

	if p, ok := m.pendingClose(tradeID); ok {
		t, err := m.record(ctx, p.trade, p.orderID)
		if err != nil {
			return nil, err
		}
		logger.Warn(ctx, "Trade already closed on the exchange, recorded close instead of cancel",
			"trade_id", t.ID, "order_id", p.orderID, "exit_price", t.ExitPrice)
		return t, nil
	}

	if err := m.repo.CancelTrade(ctx, tradeID); err != nil {
		return nil, err
	}
	t, err := m.repo.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Trade cancelled", "trade_id", t.ID, "symbol", t.Symbol)
	_ = tradelog.AppendTrade(tradelog.EventCancel, t, string(types.ExternalClose))
	return t, nil
}

type pendingClose struct {
	trade   types.Trade
	orderID string
}

func (m *Monitor) setPending(t types.Trade, orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[t.ID] = pendingClose{trade: t, orderID: orderID}
}

func (m *Monitor) pendingClose(id string) (pendingClose, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	return p, ok
}

func (m *Monitor) clearPending(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
}

// dropPending forgets a pending fill for a trade another writer finished.
func (m *Monitor) dropPending(ctx context.Context, t types.Trade) {
	p, ok := m.pendingClose(t.ID)
	if !ok {
		return
	}
	m.clearPending(t.ID)
	m.flagUnrecorded(ctx, p.trade, p.orderID,
		fmt.Errorf("trade %s is %s, exchange close at %.8f was not recorded", t.ID, t.Status, p.trade.ExitPrice))
}

// tradeLocks serializes every operation on one trade id.
type tradeLocks struct {
	mu sync.Mutex
	m  map[string]*tradeLock
}

type tradeLock struct {
	sync.Mutex
	refs int
}

func (l *tradeLocks) lock(id string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[string]*tradeLock)
	}
	k := l.m[id]
	if k == nil {
		k = &tradeLock{}
		l.m[id] = k
	}
	k.refs++
	l.mu.Unlock()

	k.Lock()
	return func() {
		k.Unlock()
		l.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
