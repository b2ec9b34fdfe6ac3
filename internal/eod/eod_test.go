package eod

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"futures-bot/internal/storage"
	"futures-bot/internal/types"
)

func openRepo(t *testing.T) *storage.SQLStore {
	t.Helper()
	repo, err := storage.Open(context.Background(), storage.Config{Driver: storage.DriverSQLite, DSN: filepath.Join(t.TempDir(), "bot.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func closedTrade(id, symbol string, side types.Side, pnl float64, closedAt time.Time) *types.Trade {
	return &types.Trade{
		ID:          id,
		Symbol:      symbol,
		Side:        side,
		EntryPrice:  100,
		Quantity:    1,
		Leverage:    1,
		Status:      types.TradeClosed,
		ExitPrice:   100 + pnl,
		PnL:         pnl,
		CloseReason: types.TakeProfitHit,
		OpenedAt:    closedAt.Add(-time.Hour),
		ClosedAt:    &closedAt,
	}
}

func TestSummarizeDay(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	day := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	for _, tr := range []*types.Trade{
		closedTrade("t1", "BTCUSDT", types.Long, 120, day.Add(2*time.Hour)),
		closedTrade("t2", "BTCUSDT", types.Short, -20, day.Add(5*time.Hour)),
		closedTrade("t3", "ETHUSDT", types.Long, 30.5, day.Add(23*time.Hour)),
		closedTrade("t4", "ETHUSDT", types.Long, 999, day.Add(25*time.Hour)),
	} {
		if err := repo.InsertTrade(ctx, tr); err != nil {
			t.Fatalf("insert %s: %v", tr.ID, err)
		}
	}

	s := New(repo, t.TempDir())
	path, err := s.SummarizeDay(ctx, day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if path != s.CSVPath(day) {
		t.Errorf("Expected %s, got %s", s.CSVPath(day), path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("Expected header, 2 symbols and total, got %d rows", len(rows))
	}

	btc := rows[1]
	if btc[0] != "BTCUSDT" || btc[1] != "2" || btc[2] != "1" || btc[3] != "1" {
		t.Errorf("Expected BTCUSDT 2 trades 1 win 1 loss, got %v", btc)
	}
	if btc[6] != "50.00" || btc[9] != "100.00" {
		t.Errorf("Expected 50%% win rate and 100.00 pnl, got %s %s", btc[6], btc[9])
	}
	total := rows[3]
	if total[0] != "TOTAL" || total[1] != "3" || total[9] != "130.50" {
		t.Errorf("Expected TOTAL 3 trades 130.50, got %v", total)
	}
}

func TestSummarizeDayWithoutTrades(t *testing.T) {
	s := New(openRepo(t), t.TempDir())
	path, err := s.SummarizeDay(context.Background(), time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC))
	if err != nil || path != "" {
		t.Errorf("Expected no report, got %q %v", path, err)
	}
}

func TestShouldRun(t *testing.T) {
	dir := t.TempDir()
	s := New(openRepo(t), dir)
	now := time.Date(2026, 10, 15, 0, 5, 0, 0, time.UTC)

	run, day := s.ShouldRun(now)
	if !run || day.Format("2006-01-02") != "2026-10-14" {
		t.Errorf("Expected run for 2026-10-14, got %v %s", run, day)
	}

	p := s.CSVPath(day)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("symbol\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if run, _ := s.ShouldRun(now); run {
		t.Error("Expected no run once the report exists")
	}
}
