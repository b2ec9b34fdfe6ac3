package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"futures-bot/internal/types"
)

const tradeColumns = `id, decision_id, symbol, side, entry_price, quantity, leverage, stop_loss, take_profit,
	status, exchange_order_id, exit_price, pnl, pnl_pct, close_reason, opened_at, closed_at`

func scanTrade(r rowScanner) (*types.Trade, error) {
	var (
		t          types.Trade
		decisionID sql.NullString
		side       string
		status     string
		reason     string
		openedAt   int64
		closedAt   sql.NullInt64
	)
	if err := r.Scan(&t.ID, &decisionID, &t.Symbol, &side, &t.EntryPrice, &t.Quantity, &t.Leverage,
		&t.StopLoss, &t.TakeProfit, &status, &t.ExchangeOrderID, &t.ExitPrice, &t.PnL, &t.PnLPercentage,
		&reason, &openedAt, &closedAt); err != nil {
		return nil, err
	}
	t.DecisionID = decisionID.String
	t.Side = types.Side(side)
	t.Status = types.TradeStatus(status)
	t.CloseReason = types.CloseReason(reason)
	t.OpenedAt = fromMillis(openedAt)
	if closedAt.Valid {
		ts := fromMillis(closedAt.Int64)
		t.ClosedAt = &ts
	}
	return &t, nil
}

func (s *SQLStore) insertTrade(ctx context.Context, ex execer, t *types.Trade) error {
	var closedAt sql.NullInt64
	if t.ClosedAt != nil {
		closedAt = sql.NullInt64{Int64: millis(*t.ClosedAt), Valid: true}
	}
	_, err := s.exec(ctx, ex, `INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, nullString(t.DecisionID), t.Symbol, string(t.Side), t.EntryPrice, t.Quantity, t.Leverage,
		t.StopLoss, t.TakeProfit, string(t.Status), t.ExchangeOrderID, t.ExitPrice, t.PnL, t.PnLPercentage,
		string(t.CloseReason), millis(t.OpenedAt), closedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("trade for decision %s: %w", t.DecisionID, ErrDuplicate)
	}
	return err
}

// InsertTrade stores a trade that is not tied to a decision claim, such as a
// position adopted from the exchange.
func (s *SQLStore) InsertTrade(ctx context.Context, t *types.Trade) error {
	return storageErr("storage.InsertTrade", s.insertTrade(ctx, s.db, t))
}

func (s *SQLStore) GetTrade(ctx context.Context, id string) (*types.Trade, error) {
	return s.oneTrade(ctx, "storage.GetTrade", `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
}

func (s *SQLStore) TradeByDecision(ctx context.Context, decisionID string) (*types.Trade, error) {
	return s.oneTrade(ctx, "storage.TradeByDecision", `SELECT `+tradeColumns+` FROM trades WHERE decision_id = ?`, decisionID)
}

func (s *SQLStore) oneTrade(ctx context.Context, op, q, key string) (*types.Trade, error) {
	t, err := scanTrade(s.queryRow(ctx, q, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storageErr(op, fmt.Errorf("trade %s: %w", key, ErrNotFound))
	}
	if err != nil {
		return nil, storageErr(op, err)
	}
	return t, nil
}

// ListTrades returns the newest trades first.
func (s *SQLStore) ListTrades(ctx context.Context, f types.TradeFilter) ([]types.Trade, error) {
	q := `SELECT ` + tradeColumns + ` FROM trades WHERE 1 = 1`
	var args []any
	if f.Symbol != "" {
		q += ` AND symbol = ?`
		args = append(args, f.Symbol)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY opened_at DESC, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.trades(ctx, "storage.ListTrades", q, args...)
}

// OpenTrades lists every OPEN trade, oldest first.
func (s *SQLStore) OpenTrades(ctx context.Context) ([]types.Trade, error) {
	return s.trades(ctx, "storage.OpenTrades",
		`SELECT `+tradeColumns+` FROM trades WHERE status = ? ORDER BY opened_at, id`, string(types.TradeOpen))
}

func (s *SQLStore) trades(ctx context.Context, op, q string, args ...any) ([]types.Trade, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, *t)
	}
	return out, storageErr(op, rows.Err())
}

// CloseTrade records the exit of an OPEN trade. It reports false when the
// trade was no longer open, so two closers cannot both book the PnL.
func (s *SQLStore) CloseTrade(ctx context.Context, t *types.Trade) (bool, error) {
	const op = "storage.CloseTrade"
	closedAt := s.now()
	if t.ClosedAt != nil {
		closedAt = *t.ClosedAt
	}
	res, err := s.exec(ctx, s.db, `UPDATE trades
		SET status = ?, exit_price = ?, pnl = ?, pnl_pct = ?, close_reason = ?, closed_at = ?
		WHERE id = ? AND status = ?`,
		string(types.TradeClosed), t.ExitPrice, t.PnL, t.PnLPercentage, string(t.CloseReason), millis(closedAt),
		t.ID, string(types.TradeOpen))
	if err != nil {
		return false, storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr(op, err)
	}
	return n == 1, nil
}

// CancelTrade moves an OPEN trade to CANCELLED.
func (s *SQLStore) CancelTrade(ctx context.Context, id string) error {
	const op = "storage.CancelTrade"
	res, err := s.exec(ctx, s.db, `UPDATE trades SET status = ?, close_reason = ?, closed_at = ? WHERE id = ? AND status = ?`,
		string(types.TradeCancelled), string(types.ExternalClose), millis(s.now()), id, string(types.TradeOpen))
	if err != nil {
		return storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetTrade(ctx, id); err != nil {
		return err
	}
	return storageErr(op, fmt.Errorf("trade %s: %w", id, ErrNotOpen))
}

// RealizedPnLSince sums the PnL of trades closed at or after since.
func (s *SQLStore) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	var pnl sql.NullFloat64
	err := s.queryRow(ctx, `SELECT SUM(pnl) FROM trades WHERE status = ? AND closed_at >= ?`,
		string(types.TradeClosed), millis(since)).Scan(&pnl)
	if err != nil {
		return 0, storageErr("storage.RealizedPnLSince", err)
	}
	return pnl.Float64, nil
}
