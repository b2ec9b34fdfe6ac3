package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"futures-bot/internal/execution"
	"futures-bot/internal/marketdata"
	"futures-bot/internal/monitor"
	"futures-bot/internal/risk"
	"futures-bot/internal/storage"
	"futures-bot/internal/types"
)

type fakeExchange struct {
	mu     sync.Mutex
	price  float64
	orders int
}

func (f *fakeExchange) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, nil
}

func (f *fakeExchange) OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	return []types.Bar{{Ts: 1, Open: f.price, High: f.price, Low: f.price, Close: f.price, Volume: 1}}, nil
}

func (f *fakeExchange) AccountBalance(ctx context.Context) (float64, error) {
	return 10000, nil
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty float64, leverage int) (types.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders++
	return types.OrderResult{OrderID: "ord-1", AvgPrice: 50000, FilledQty: qty}, nil
}

func (f *fakeExchange) ClosePosition(ctx context.Context, symbol string, side types.Side, qty float64) (types.OrderResult, error) {
	return types.OrderResult{OrderID: "close-1", AvgPrice: f.price, FilledQty: qty}, nil
}

// fakeEngine persists a fixed BUY decision and reports the configured approval.
type fakeEngine struct {
	repo     *storage.SQLStore
	approved bool
	calls    int
}

func (e *fakeEngine) Analyze(ctx context.Context, symbol string) (*types.CycleResult, error) {
	e.calls++
	d := &types.Decision{
		ID:                    "d-" + symbol,
		Symbol:                symbol,
		Direction:             types.Buy,
		Confidence:            75,
		EntryPrice:            50000,
		RecommendedStopLoss:   49000,
		RecommendedTakeProfit: 52000,
		RecommendedLeverage:   3,
		Source:                "strategies",
		AnalyzedAt:            time.Now().UTC(),
	}
	if saved, err := e.repo.GetDecision(ctx, d.ID); err == nil {
		d = saved
	} else if err := e.repo.SaveDecision(ctx, d); err != nil {
		return nil, err
	}
	return &types.CycleResult{Symbol: symbol, Decision: d, Approved: e.approved}, nil
}

func riskConfig() types.RiskConfig {
	return types.RiskConfig{
		MaxPositions:             3,
		RiskPerTradePct:          2,
		DailyLossLimitPct:        5,
		MaxPortfolioRiskPct:      6,
		MaxSinglePairExposurePct: 50,
		MaxCorrelatedExposurePct: 80,
		MaxDrawdownPct:           20,
		MinConfidence:            60,
		MinRiskReward:            1.5,
		MaxLeverage:              10,
	}
}

func setup(t *testing.T, approved bool) (*Scheduler, *storage.SQLStore, *fakeExchange) {
	t.Helper()
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	repo, err := storage.Open(context.Background(), storage.Config{Driver: storage.DriverSQLite, DSN: filepath.Join(t.TempDir(), "bot.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ex := &fakeExchange{price: 50000}
	gate := risk.NewGate(riskConfig(), nil)
	s := New(context.Background(), Config{
		Symbols:    []string{"BTCUSDT"},
		Timeframes: []types.Timeframe{"15m"},
		Retry:      execution.RetryPolicy{MaxAttempts: 2},
	}, Deps{
		Fetcher:  marketdata.NewFetcher(ex, marketdata.NewCache(time.Minute), 10),
		Engine:   &fakeEngine{repo: repo, approved: approved},
		Executor: execution.NewExecutor(repo, ex, gate, execution.Config{BotEnabled: true}),
		Monitor:  monitor.New(repo, ex, monitor.Config{}),
		Repo:     repo,
		Exchange: ex,
	})
	return s, repo, ex
}

func TestCycleGuardSupersedes(t *testing.T) {
	g := NewCycleGuard()
	first, doneFirst := g.Begin(context.Background(), "BTCUSDT|15m")
	second, doneSecond := g.Begin(context.Background(), "BTCUSDT|15m")

	if first.Err() != context.Canceled {
		t.Errorf("Expected first cycle cancelled, got %v", first.Err())
	}
	if second.Err() != nil {
		t.Errorf("Expected second cycle live, got %v", second.Err())
	}

	doneFirst()
	if !g.Running("BTCUSDT|15m") {
		t.Error("Expected superseded cycle's done to keep the newer one registered")
	}
	doneSecond()
	if g.Running("BTCUSDT|15m") {
		t.Error("Expected key cleared after the newer cycle ends")
	}

	other, doneOther := g.Begin(context.Background(), "ETHUSDT|15m")
	defer doneOther()
	if other.Err() != nil {
		t.Error("Expected independent keys not to cancel each other")
	}
}

func TestCycleExecutesApprovedDecision(t *testing.T) {
	s, repo, ex := setup(t, true)
	ctx := context.Background()

	res, exec, err := s.Cycle(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !res.Approved || exec == nil {
		t.Fatalf("Expected executed approved cycle, got %+v %v", res, exec)
	}
	if exec.Status != execution.StatusExecuted {
		t.Fatalf("Expected Executed, got %s", exec)
	}
	tr, err := repo.TradeByDecision(ctx, "d-BTCUSDT")
	if err != nil {
		t.Fatalf("trade: %v", err)
	}
	if tr.Quantity != 0.2 {
		t.Errorf("Expected qty 0.2, got %v", tr.Quantity)
	}

	// same decision id again: idempotent
	_, exec, _ = s.Cycle(ctx, "BTCUSDT")
	if exec == nil || exec.Status != execution.StatusAlreadyExecuted {
		t.Errorf("Expected AlreadyExecuted on repeat, got %v", exec)
	}
	if ex.orders != 1 {
		t.Errorf("Expected 1 order, got %d", ex.orders)
	}
}

func TestCycleSkipsRejectedDecision(t *testing.T) {
	s, _, ex := setup(t, false)
	res, exec, err := s.Cycle(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if res.Approved || exec != nil {
		t.Errorf("Expected no execution for rejected cycle, got %v", exec)
	}
	if ex.orders != 0 {
		t.Errorf("Expected no orders, got %d", ex.orders)
	}
}

func TestRunAnalyzeAndMonitor(t *testing.T) {
	s, _, ex := setup(t, true)
	ctx := context.Background()

	results := s.RunAnalyze(ctx)
	if len(results) != 1 || !results[0].Approved {
		t.Fatalf("Expected 1 approved result, got %+v", results)
	}

	ex.price = 52500
	mres := s.RunMonitor(ctx)
	if len(mres) != 1 || mres[0].Outcome != monitor.OutcomeClosed || mres[0].Reason != types.TakeProfitHit {
		t.Fatalf("Expected take-profit close, got %+v", mres)
	}
}

func TestRunSnapshotRecordsEquity(t *testing.T) {
	s, repo, ex := setup(t, true)
	ctx := context.Background()
	err := repo.InsertTrade(ctx, &types.Trade{
		ID: "t-1", Symbol: "BTCUSDT", Side: types.Long, EntryPrice: 50000, Quantity: 0.2, Leverage: 3,
		StopLoss: 49000, TakeProfit: 52000, Status: types.TradeOpen, OpenedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	ex.price = 51000

	if err := s.RunSnapshot(ctx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	peak, err := repo.PeakEquity(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if peak != 10600 {
		t.Errorf("Expected equity 10600, got %v", peak)
	}
}

func TestRegister(t *testing.T) {
	s, _, _ := setup(t, true)
	if err := s.Register(); err != nil {
		t.Fatalf("register defaults: %v", err)
	}
	if n := len(s.cron.Entries()); n != 5 {
		t.Errorf("Expected 5 entries, got %d", n)
	}

	bad, _, _ := setup(t, true)
	bad.cfg.Schedule.Monitor = "every now and then"
	if err := bad.Register(); err == nil {
		t.Error("Expected invalid spec to fail registration")
	}
}

func TestRunFetchFillsCache(t *testing.T) {
	s, _, _ := setup(t, true)
	if err := s.RunFetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := s.deps.Fetcher.Cache().Get("BTCUSDT", "15m"); err != nil {
		t.Errorf("Expected warm cache, got %v", err)
	}
}

type fakeReporter struct {
	due  bool
	days []time.Time
}

func (f *fakeReporter) SummarizeDay(ctx context.Context, day time.Time) (string, error) {
	f.days = append(f.days, day)
	return "report.csv", nil
}

func (f *fakeReporter) ShouldRun(now time.Time) (bool, time.Time) {
	return f.due, now.AddDate(0, 0, -1)
}

func TestRunReport(t *testing.T) {
	s, _, _ := setup(t, true)
	if err := s.RunReport(context.Background()); err != nil {
		t.Errorf("Expected no-op without a reporter, got %v", err)
	}

	rep := &fakeReporter{}
	s.deps.Reporter = rep
	now := time.Date(2026, 10, 15, 0, 5, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.RunReport(context.Background()); err != nil || len(rep.days) != 0 {
		t.Errorf("Expected no report when not due, got %v %v", rep.days, err)
	}
	rep.due = true
	if err := s.RunReport(context.Background()); err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rep.days) != 1 || rep.days[0].Day() != 14 {
		t.Errorf("Expected report for the 14th, got %v", rep.days)
	}
}
