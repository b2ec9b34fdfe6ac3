package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"futures-bot/internal/types"
)

func (s *SQLStore) SaveEquitySnapshot(ctx context.Context, snap types.EquitySnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.Ts.IsZero() {
		snap.Ts = s.now()
	}
	_, err := s.exec(ctx, s.db, `INSERT INTO equity_snapshots (id, ts, balance, equity) VALUES (?, ?, ?, ?)`,
		snap.ID, millis(snap.Ts), snap.Balance, snap.Equity)
	return storageErr("storage.SaveEquitySnapshot", err)
}

// PeakEquity is the highest equity ever recorded, 0 when there is no history.
func (s *SQLStore) PeakEquity(ctx context.Context) (float64, error) {
	var peak sql.NullFloat64
	if err := s.queryRow(ctx, `SELECT MAX(equity) FROM equity_snapshots`).Scan(&peak); err != nil {
		return 0, storageErr("storage.PeakEquity", err)
	}
	return peak.Float64, nil
}
