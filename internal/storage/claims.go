package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"futures-bot/internal/types"
)

const (
	claimPending = "pending"
	claimDone    = "done"
)

// ClaimExecution records that decisionID is being executed. It returns false
// when another executor already holds or finished the claim.
func (s *SQLStore) ClaimExecution(ctx context.Context, decisionID string) (bool, error) {
	const op = "storage.ClaimExecution"
	res, err := s.exec(ctx, s.db, `INSERT INTO execution_claims (decision_id, state, claimed_at)
		VALUES (?, ?, ?) ON CONFLICT (decision_id) DO NOTHING`,
		decisionID, claimPending, millis(s.now()))
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr(op, err)
	}
	return n == 1, nil
}

// ReleaseClaim drops a pending claim so a later attempt can retry. Finished
// claims are never released.
func (s *SQLStore) ReleaseClaim(ctx context.Context, decisionID string) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM execution_claims WHERE decision_id = ? AND state = ?`,
		decisionID, claimPending)
	return storageErr("storage.ReleaseClaim", err)
}

// CommitExecution inserts the OPEN trade, marks its decision executed and
// finalises the claim in one transaction.
func (s *SQLStore) CommitExecution(ctx context.Context, t *types.Trade) (err error) {
	const op = "storage.CommitExecution"
	if t.DecisionID == "" {
		return storageErr(op, errors.New("trade has no decision id"))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = s.insertTrade(ctx, tx, t); err != nil {
		return storageErr(op, err)
	}
	res, err := s.exec(ctx, tx, `UPDATE decisions SET executed = 1, execution_error = '' WHERE id = ?`, t.DecisionID)
	if err != nil {
		return storageErr(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("decision %s: %w", t.DecisionID, ErrNotFound)
		return storageErr(op, err)
	}
	if _, err = s.exec(ctx, tx, `UPDATE execution_claims SET state = ? WHERE decision_id = ?`, claimDone, t.DecisionID); err != nil {
		return storageErr(op, err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// FinishClaim marks a claim done without a trade, for decisions that close
// positions instead of opening one. The decision is marked executed with it.
func (s *SQLStore) FinishClaim(ctx context.Context, decisionID string) (err error) {
	const op = "storage.FinishClaim"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = s.exec(ctx, tx, `UPDATE decisions SET executed = 1, execution_error = '' WHERE id = ?`, decisionID); err != nil {
		return storageErr(op, err)
	}
	if _, err = s.exec(ctx, tx, `UPDATE execution_claims SET state = ? WHERE decision_id = ?`, claimDone, decisionID); err != nil {
		return storageErr(op, err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// StaleClaims lists pending claims older than olderThan. A process that died
// between placing an order and committing leaves one behind.
func (s *SQLStore) StaleClaims(ctx context.Context, olderThan time.Time) ([]string, error) {
	const op = "storage.StaleClaims"
	rows, err := s.query(ctx, `SELECT decision_id FROM execution_claims WHERE state = ? AND claimed_at < ? ORDER BY claimed_at`,
		claimPending, millis(olderThan))
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr(op, err)
		}
		ids = append(ids, id)
	}
	return ids, storageErr(op, rows.Err())
}

// claimState is used by tests and reconciliation to inspect a claim.
func (s *SQLStore) claimState(ctx context.Context, decisionID string) (string, error) {
	var state string
	err := s.queryRow(ctx, `SELECT state FROM execution_claims WHERE decision_id = ?`, decisionID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return state, err
}
