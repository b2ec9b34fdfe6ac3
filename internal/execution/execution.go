// Package execution turns an approved Decision into at most one Trade.
//
// The sequence for an opening decision is: short-circuit if a Trade already
// exists, claim the decision in storage, re-run the time-sensitive risk
// checks, size the order, place it, then commit Trade + executed flag + claim
// in one transaction. Any failure before the order is accepted releases the
// claim so a retry can start over.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"futures-bot/internal/errs"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
	"futures-bot/internal/risk"
	"futures-bot/internal/storage"
	"futures-bot/internal/tradelog"
	"futures-bot/internal/types"
)

type Status string

const (
	StatusExecuted        Status = "Executed"
	StatusAlreadyExecuted Status = "AlreadyExecuted"
	StatusInProgress      Status = "InProgress"
	StatusClosed          Status = "Closed"
	StatusSkipped         Status = "Skipped"
	StatusRejected        Status = "Rejected"
	StatusFailed          Status = "Failed"
)

// Result is the explicit outcome of one Execute call. Err is set for
// Rejected and Failed; its kind tells the caller whether to retry.
type Result struct {
	Status     Status
	DecisionID string
	Trade      *types.Trade
	Closed     []types.Trade
	Err        *errs.Error
}

// Done reports whether no further attempt is useful.
func (r Result) Done() bool {
	return r.Err == nil || !errs.Retryable(r.Err)
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s %s: %v", r.DecisionID, r.Status, r.Err)
	}
	return fmt.Sprintf("%s %s", r.DecisionID, r.Status)
}

type Config struct {
	BotEnabled bool
	Precision  Precision
}

type Executor struct {
	repo     interfaces.Repository
	exchange interfaces.Exchange
	gate     *risk.Gate
	cfg      Config
	now      func() time.Time
	newID    func() string
}

func NewExecutor(repo interfaces.Repository, exchange interfaces.Exchange, gate *risk.Gate, cfg Config) *Executor {
	return &Executor{
		repo:     repo,
		exchange: exchange,
		gate:     gate,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func failed(status Status, id string, err error) Result {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.E(errs.KindStorage, "execution", err)
	}
	return Result{Status: status, DecisionID: id, Err: e}
}

// Execute runs the pipeline for one persisted decision.
func (x *Executor) Execute(ctx context.Context, decisionID string) Result {
	const op = "execution.Execute"
	d, err := x.repo.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return failed(StatusRejected, decisionID, errs.E(errs.KindValidation, op, err))
		}
		return failed(StatusFailed, decisionID, err)
	}

	switch d.Direction {
	case types.Buy, types.Sell:
		return x.open(ctx, d)
	case types.Close:
		return x.flatten(ctx, d)
	default:
		return Result{Status: StatusSkipped, DecisionID: d.ID}
	}
}

func (x *Executor) open(ctx context.Context, d *types.Decision) Result {
	const op = "execution.open"

	if res, done := x.existing(ctx, d); done {
		return res
	}

	won, err := x.repo.ClaimExecution(ctx, d.ID)
	if err != nil {
		return failed(StatusFailed, d.ID, err)
	}
	if !won {
		// the winner may have committed between our lookup and claim
		if res, done := x.existing(ctx, d); done {
			return res
		}
		logger.Info(ctx, "Execution already in progress", "decision_id", d.ID, "symbol", d.Symbol)
		return Result{Status: StatusInProgress, DecisionID: d.ID}
	}

	acct, open, err := x.state(ctx)
	if err != nil {
		return x.abort(ctx, d, StatusFailed, err)
	}
	gate := x.gate.Recheck(ctx, risk.Input{Decision: d, Account: acct, OpenPositions: open, BotEnabled: x.cfg.BotEnabled})
	if !gate.Passed {
		return x.abort(ctx, d, StatusRejected, gate.Err(op))
	}

	raw := risk.PositionSize(acct.Balance, x.gate.Config().RiskPerTradePct, d.EntryPrice, d.RecommendedStopLoss)
	qty := x.cfg.Precision.Round(d.Symbol, raw)
	if qty <= 0 {
		return x.abort(ctx, d, StatusRejected, errs.Newf(errs.KindValidation, op,
			"quantity %.8f is not positive at %d decimals", raw, x.cfg.Precision.Places(d.Symbol)))
	}
	lev := d.RecommendedLeverage
	if lev < 1 {
		lev = 1
	}
	side := types.SideFor(d.Direction)

	order, err := x.exchange.PlaceMarketOrder(ctx, d.Symbol, side, qty, lev)
	if err != nil {
		if errs.KindOf(err) == "" {
			err = errs.E(errs.KindExchange, op, err)
		}
		_ = tradelog.Append(tradelog.Entry{Event: tradelog.EventFailed, Symbol: d.Symbol, Side: string(side),
			DecisionID: d.ID, Qty: qty, Price: d.EntryPrice, Leverage: lev, Reason: err.Error()})
		return x.abort(ctx, d, StatusFailed, err)
	}

	t := &types.Trade{
		ID:              x.newID(),
		DecisionID:      d.ID,
		Symbol:          d.Symbol,
		Side:            side,
		EntryPrice:      d.EntryPrice,
		Quantity:        qty,
		Leverage:        lev,
		StopLoss:        d.RecommendedStopLoss,
		TakeProfit:      d.RecommendedTakeProfit,
		Status:          types.TradeOpen,
		ExchangeOrderID: order.OrderID,
		OpenedAt:        x.now().UTC(),
	}
	if order.AvgPrice > 0 {
		t.EntryPrice = order.AvgPrice
	}
	if order.FilledQty > 0 {
		t.Quantity = x.cfg.Precision.Round(d.Symbol, order.FilledQty)
	}

	if err := x.repo.CommitExecution(ctx, t); err != nil {
		// The order is live; keep the claim so no retry can place a second one.
		logger.ErrorWithErr(ctx, "Order placed but trade not recorded", err,
			"decision_id", d.ID, "symbol", d.Symbol, "order_id", order.OrderID)
		_ = x.repo.SetExecutionError(ctx, d.ID, fmt.Sprintf("order %s placed but not recorded: %v", order.OrderID, err))
		return failed(StatusFailed, d.ID, err)
	}

	logger.Trade(ctx, tradelog.EventOpen, t.Symbol, string(t.Side), t.Quantity, t.EntryPrice, t.ExchangeOrderID,
		"decision_id", d.ID, "trade_id", t.ID, "leverage", t.Leverage)
	_ = tradelog.AppendTrade(tradelog.EventOpen, t, d.Reasoning)
	return Result{Status: StatusExecuted, DecisionID: d.ID, Trade: t}
}

// existing short-circuits when a trade for the decision is already recorded.
func (x *Executor) existing(ctx context.Context, d *types.Decision) (Result, bool) {
	t, err := x.repo.TradeByDecision(ctx, d.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, false
	}
	if err != nil {
		return failed(StatusFailed, d.ID, err), true
	}
	if !d.Executed {
		if err := x.repo.MarkDecisionExecuted(ctx, d.ID); err != nil {
			return failed(StatusFailed, d.ID, err), true
		}
	}
	return Result{Status: StatusAlreadyExecuted, DecisionID: d.ID, Trade: t}, true
}

func (x *Executor) state(ctx context.Context) (risk.Account, []types.Trade, error) {
	acct, err := risk.LoadAccount(ctx, x.exchange, x.repo, x.now())
	if err != nil {
		return risk.Account{}, nil, err
	}
	open, err := x.repo.OpenTrades(ctx)
	if err != nil {
		return risk.Account{}, nil, err
	}
	return acct, open, nil
}

// abort releases the claim and records why execution stopped.
func (x *Executor) abort(ctx context.Context, d *types.Decision, status Status, err error) Result {
	if rerr := x.repo.ReleaseClaim(ctx, d.ID); rerr != nil {
		logger.ErrorWithErr(ctx, "Failed to release execution claim", rerr, "decision_id", d.ID)
	}
	if serr := x.repo.SetExecutionError(ctx, d.ID, err.Error()); serr != nil {
		logger.ErrorWithErr(ctx, "Failed to record execution error", serr, "decision_id", d.ID)
	}
	logger.Warn(ctx, "Execution aborted", "decision_id", d.ID, "symbol", d.Symbol, "status", string(status), "error", err.Error())
	return failed(status, d.ID, err)
}

// flatten closes every open trade of the decision's symbol.
func (x *Executor) flatten(ctx context.Context, d *types.Decision) Result {
	const op = "execution.flatten"
	if d.Executed {
		return Result{Status: StatusAlreadyExecuted, DecisionID: d.ID}
	}
	won, err := x.repo.ClaimExecution(ctx, d.ID)
	if err != nil {
		return failed(StatusFailed, d.ID, err)
	}
	if !won {
		return Result{Status: StatusInProgress, DecisionID: d.ID}
	}

	gate := x.gate.Recheck(ctx, risk.Input{Decision: d, BotEnabled: x.cfg.BotEnabled})
	if !gate.Passed {
		return x.abort(ctx, d, StatusRejected, gate.Err(op))
	}

	open, err := x.repo.ListTrades(ctx, types.TradeFilter{Symbol: d.Symbol, Status: types.TradeOpen})
	if err != nil {
		return x.abort(ctx, d, StatusFailed, err)
	}
	var closed []types.Trade
	for _, t := range open {
		order, err := x.exchange.ClosePosition(ctx, t.Symbol, t.Side, t.Quantity)
		if err != nil {
			if errs.KindOf(err) == "" {
				err = errs.E(errs.KindExchange, op, err)
			}
			res := x.abort(ctx, d, StatusFailed, err)
			res.Closed = closed
			return res
		}
		exit := order.AvgPrice
		if exit <= 0 {
			exit = d.EntryPrice
		}
		t.ExitPrice = exit
		t.PnL, t.PnLPercentage = risk.TradePnL(t, exit)
		t.CloseReason = types.DecisionClose
		at := x.now().UTC()
		t.ClosedAt = &at
		ok, err := x.repo.CloseTrade(ctx, &t)
		if err != nil {
			return x.abort(ctx, d, StatusFailed, err)
		}
		if !ok {
			continue
		}
		t.Status = types.TradeClosed
		logger.Trade(ctx, tradelog.EventClose, t.Symbol, string(t.Side), t.Quantity, exit, order.OrderID,
			"decision_id", d.ID, "trade_id", t.ID, "pnl", t.PnL, "reason", string(t.CloseReason))
		_ = tradelog.AppendTrade(tradelog.EventClose, &t, string(t.CloseReason))
		closed = append(closed, t)
	}

	if err := x.repo.FinishClaim(ctx, d.ID); err != nil {
		return failed(StatusFailed, d.ID, err)
	}
	return Result{Status: StatusClosed, DecisionID: d.ID, Closed: closed}
}
