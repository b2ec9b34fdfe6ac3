// Package storage persists decisions, trades, execution claims and equity
// snapshots in SQLite (default) or PostgreSQL.
//
// Exactly-once execution is enforced here rather than in memory: a decision
// can be claimed once (execution_claims primary key) and can own at most one
// trade (UNIQUE trades.decision_id).
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"futures-bot/internal/errs"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// pq SQLSTATE for unique_violation.
	pgUniqueViolation = "23505"

	busyTimeoutMs = 5000
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	ErrNotOpen   = errors.New("trade is not open")
)

type Config struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SQLStore implements interfaces.Repository over database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

var _ interfaces.Repository = (*SQLStore)(nil)

// Open connects, applies pragmas for SQLite and runs the migrations.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = DriverSQLite
	}
	if driver == "postgresql" {
		driver = DriverPostgres
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, errs.Newf(errs.KindValidation, "storage.Open", "unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errs.New(errs.KindValidation, "storage.Open", "empty dsn")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, errs.E(errs.KindStorage, "storage.Open", fmt.Errorf("open %s: %w", driver, err))
	}
	s := &SQLStore{db: db, driver: driver, now: time.Now}

	if driver == DriverSQLite {
		// one writer; busy waits instead of SQLITE_BUSY under concurrent claims
		db.SetMaxOpenConns(1)
		for _, p := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=" + strconv.Itoa(busyTimeoutMs),
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.ExecContext(ctx, p); err != nil {
				db.Close()
				return nil, errs.E(errs.KindStorage, "storage.Open", fmt.Errorf("%s: %w", p, err))
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.E(errs.KindStorage, "storage.Open", fmt.Errorf("ping: %w", err))
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, errs.E(errs.KindStorage, "storage.Open", fmt.Errorf("migrate: %w", err))
	}

	logger.Info(ctx, "Storage opened", "driver", driver)
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Driver reports the backend in use.
func (s *SQLStore) Driver() string { return s.driver }

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id                TEXT PRIMARY KEY,
			symbol            TEXT NOT NULL,
			timeframes        TEXT NOT NULL DEFAULT '[]',
			market_conditions TEXT NOT NULL DEFAULT '{}',
			direction         TEXT NOT NULL,
			confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
			reasoning         TEXT NOT NULL DEFAULT '',
			risk_assessment   TEXT NOT NULL DEFAULT '',
			leverage          INTEGER NOT NULL DEFAULT 0,
			stop_loss         DOUBLE PRECISION NOT NULL DEFAULT 0,
			take_profit       DOUBLE PRECISION NOT NULL DEFAULT 0,
			entry_price       DOUBLE PRECISION NOT NULL DEFAULT 0,
			source            TEXT NOT NULL DEFAULT '',
			executed          INTEGER NOT NULL DEFAULT 0,
			execution_error   TEXT NOT NULL DEFAULT '',
			analyzed_at       BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_symbol_ts ON decisions(symbol, analyzed_at)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id                TEXT PRIMARY KEY,
			decision_id       TEXT UNIQUE,
			symbol            TEXT NOT NULL,
			side              TEXT NOT NULL,
			entry_price       DOUBLE PRECISION NOT NULL,
			quantity          DOUBLE PRECISION NOT NULL,
			leverage          INTEGER NOT NULL,
			stop_loss         DOUBLE PRECISION NOT NULL DEFAULT 0,
			take_profit       DOUBLE PRECISION NOT NULL DEFAULT 0,
			status            TEXT NOT NULL,
			exchange_order_id TEXT NOT NULL DEFAULT '',
			exit_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
			pnl               DOUBLE PRECISION NOT NULL DEFAULT 0,
			pnl_pct           DOUBLE PRECISION NOT NULL DEFAULT 0,
			close_reason      TEXT NOT NULL DEFAULT '',
			opened_at         BIGINT NOT NULL,
			closed_at         BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,

		`CREATE TABLE IF NOT EXISTS execution_claims (
			decision_id TEXT PRIMARY KEY,
			state       TEXT NOT NULL,
			claimed_at  BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id      TEXT PRIMARY KEY,
			ts      BIGINT NOT NULL,
			balance DOUBLE PRECISION NOT NULL,
			equity  DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_ts ON equity_snapshots(ts)`,
	}

	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(q), err)
		}
	}
	return nil
}

func firstLine(q string) string {
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		return strings.TrimSpace(q[:i])
	}
	return q
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) exec(ctx context.Context, ex execer, q string, args ...any) (sql.Result, error) {
	return ex.ExecContext(ctx, s.rebind(q), args...)
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

// isUniqueViolation recognises primary key and unique constraint failures of both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.E(errs.KindStorage, op, err)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
