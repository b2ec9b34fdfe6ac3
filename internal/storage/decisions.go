package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"futures-bot/internal/types"
)

const decisionColumns = `id, symbol, timeframes, market_conditions, direction, confidence, reasoning,
	risk_assessment, leverage, stop_loss, take_profit, entry_price, source, executed, execution_error, analyzed_at`

// SaveDecision inserts or replaces a decision. The executed flag only ever moves
// from false to true so a late save cannot undo an execution.
func (s *SQLStore) SaveDecision(ctx context.Context, d *types.Decision) error {
	const op = "storage.SaveDecision"
	tfs, err := json.Marshal(d.TimeframesAnalyzed)
	if err != nil {
		return storageErr(op, err)
	}
	mc := d.MarketConditions
	if mc == nil {
		mc = map[string]any{}
	}
	conds, err := json.Marshal(mc)
	if err != nil {
		return storageErr(op, fmt.Errorf("market conditions: %w", err))
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO decisions (`+decisionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			direction = excluded.direction,
			confidence = excluded.confidence,
			reasoning = excluded.reasoning,
			risk_assessment = excluded.risk_assessment,
			leverage = excluded.leverage,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			entry_price = excluded.entry_price,
			market_conditions = excluded.market_conditions,
			executed = CASE WHEN decisions.executed = 1 THEN 1 ELSE excluded.executed END,
			execution_error = excluded.execution_error`,
		d.ID, d.Symbol, string(tfs), string(conds), string(d.Direction), d.Confidence, d.Reasoning,
		d.RiskAssessment, d.RecommendedLeverage, d.RecommendedStopLoss, d.RecommendedTakeProfit, d.EntryPrice,
		d.Source, boolInt(d.Executed), d.ExecutionError, millis(d.AnalyzedAt))
	return storageErr(op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(r rowScanner) (*types.Decision, error) {
	var (
		d            types.Decision
		tfs, conds   string
		dir          string
		executed     int
		analyzedAtMs int64
	)
	if err := r.Scan(&d.ID, &d.Symbol, &tfs, &conds, &dir, &d.Confidence, &d.Reasoning,
		&d.RiskAssessment, &d.RecommendedLeverage, &d.RecommendedStopLoss, &d.RecommendedTakeProfit, &d.EntryPrice,
		&d.Source, &executed, &d.ExecutionError, &analyzedAtMs); err != nil {
		return nil, err
	}
	d.Direction = types.Direction(dir)
	d.Executed = executed != 0
	d.AnalyzedAt = fromMillis(analyzedAtMs)
	if err := json.Unmarshal([]byte(tfs), &d.TimeframesAnalyzed); err != nil {
		return nil, fmt.Errorf("timeframes of %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(conds), &d.MarketConditions); err != nil {
		return nil, fmt.Errorf("market conditions of %s: %w", d.ID, err)
	}
	return &d, nil
}

func (s *SQLStore) GetDecision(ctx context.Context, id string) (*types.Decision, error) {
	const op = "storage.GetDecision"
	d, err := scanDecision(s.queryRow(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storageErr(op, fmt.Errorf("decision %s: %w", id, ErrNotFound))
	}
	if err != nil {
		return nil, storageErr(op, err)
	}
	return d, nil
}

// ListDecisions returns the newest decisions first.
func (s *SQLStore) ListDecisions(ctx context.Context, f types.DecisionFilter) ([]types.Decision, error) {
	const op = "storage.ListDecisions"
	q := `SELECT ` + decisionColumns + ` FROM decisions`
	var args []any
	if f.Symbol != "" {
		q += ` WHERE symbol = ?`
		args = append(args, f.Symbol)
	}
	q += ` ORDER BY analyzed_at DESC, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []types.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, *d)
	}
	return out, storageErr(op, rows.Err())
}

// MarkDecisionExecuted sets executed and clears any recorded execution error.
func (s *SQLStore) MarkDecisionExecuted(ctx context.Context, id string) error {
	return s.updateDecision(ctx, "storage.MarkDecisionExecuted",
		`UPDATE decisions SET executed = 1, execution_error = '' WHERE id = ?`, id)
}

func (s *SQLStore) SetExecutionError(ctx context.Context, id, msg string) error {
	return s.updateDecision(ctx, "storage.SetExecutionError",
		`UPDATE decisions SET execution_error = ? WHERE id = ?`, msg, id)
}

func (s *SQLStore) updateDecision(ctx context.Context, op, q string, args ...any) error {
	res, err := s.exec(ctx, s.db, q, args...)
	if err != nil {
		return storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr(op, err)
	}
	if n == 0 {
		return storageErr(op, fmt.Errorf("decision %v: %w", args[len(args)-1], ErrNotFound))
	}
	return nil
}
