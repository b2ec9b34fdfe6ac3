package execution

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"futures-bot/internal/errs"
	"futures-bot/internal/risk"
	"futures-bot/internal/storage"
	"futures-bot/internal/types"
)

type fakeExchange struct {
	mu       sync.Mutex
	balance  float64
	failNext int
	exitAt   float64
	orders   []placed
	closes   int
}

type placed struct {
	symbol   string
	side     types.Side
	qty      float64
	leverage int
}

func (f *fakeExchange) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return 50000, nil
}

func (f *fakeExchange) OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	return nil, nil
}

func (f *fakeExchange) AccountBalance(ctx context.Context) (float64, error) {
	return f.balance, nil
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty float64, leverage int) (types.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return types.OrderResult{}, errors.New("connection reset by peer")
	}
	f.orders = append(f.orders, placed{symbol, side, qty, leverage})
	return types.OrderResult{OrderID: "ord-1", FilledQty: qty}, nil
}

func (f *fakeExchange) ClosePosition(ctx context.Context, symbol string, side types.Side, qty float64) (types.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return types.OrderResult{OrderID: "close-1", AvgPrice: f.exitAt, FilledQty: qty}, nil
}

func (f *fakeExchange) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
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

func setup(t *testing.T, botEnabled bool) (*Executor, *storage.SQLStore, *fakeExchange) {
	t.Helper()
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	repo, err := storage.Open(context.Background(), storage.Config{Driver: storage.DriverSQLite, DSN: filepath.Join(t.TempDir(), "bot.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	ex := &fakeExchange{balance: 10000}
	x := NewExecutor(repo, ex, risk.NewGate(riskConfig(), nil), Config{BotEnabled: botEnabled})
	return x, repo, ex
}

func saveBuy(t *testing.T, repo *storage.SQLStore, id string) {
	t.Helper()
	d := &types.Decision{
		ID:                    id,
		Symbol:                "BTCUSDT",
		Direction:             types.Buy,
		Confidence:            75,
		EntryPrice:            50000,
		RecommendedStopLoss:   49000,
		RecommendedTakeProfit: 52000,
		RecommendedLeverage:   3,
		Source:                "strategies",
		AnalyzedAt:            time.Now().UTC(),
	}
	if err := repo.SaveDecision(context.Background(), d); err != nil {
		t.Fatalf("save decision: %v", err)
	}
}

func TestExecuteSizesAndRecords(t *testing.T) {
	x, repo, ex := setup(t, true)
	ctx := context.Background()
	saveBuy(t, repo, "d-1")

	res := x.Execute(ctx, "d-1")
	if res.Status != StatusExecuted {
		t.Fatalf("Expected Executed, got %s", res)
	}
	if len(ex.orders) != 1 {
		t.Fatalf("Expected 1 order, got %d", len(ex.orders))
	}
	o := ex.orders[0]
	if o.side != types.Long || o.qty != 0.2 || o.leverage != 3 {
		t.Errorf("Expected LONG 0.2 at 3x, got %+v", o)
	}

	tr, err := repo.TradeByDecision(ctx, "d-1")
	if err != nil {
		t.Fatalf("trade lookup: %v", err)
	}
	if tr.Status != types.TradeOpen || tr.Quantity != 0.2 || tr.EntryPrice != 50000 || tr.ExchangeOrderID != "ord-1" {
		t.Errorf("Expected OPEN trade 0.2 @ 50000, got %+v", tr)
	}
	d, _ := repo.GetDecision(ctx, "d-1")
	if !d.Executed || d.ExecutionError != "" {
		t.Errorf("Expected decision executed without error, got executed=%v err=%q", d.Executed, d.ExecutionError)
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	x, repo, ex := setup(t, true)
	ctx := context.Background()
	saveBuy(t, repo, "d-1")

	first := x.Execute(ctx, "d-1")
	second := x.Execute(ctx, "d-1")
	if first.Status != StatusExecuted {
		t.Fatalf("Expected Executed, got %s", first)
	}
	if second.Status != StatusAlreadyExecuted {
		t.Errorf("Expected AlreadyExecuted, got %s", second)
	}
	if second.Trade == nil || second.Trade.ID != first.Trade.ID {
		t.Errorf("Expected the original trade back, got %+v", second.Trade)
	}
	if n := ex.orderCount(); n != 1 {
		t.Errorf("Expected 1 order, got %d", n)
	}
	open, _ := repo.OpenTrades(ctx)
	if len(open) != 1 {
		t.Errorf("Expected 1 trade, got %d", len(open))
	}
}

func TestConcurrentExecuteSingleTrade(t *testing.T) {
	x, repo, ex := setup(t, true)
	ctx := context.Background()
	saveBuy(t, repo, "d-1")

	const n = 8
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = x.Execute(ctx, "d-1")
		}(i)
	}
	wg.Wait()

	executed := 0
	for _, r := range results {
		switch r.Status {
		case StatusExecuted:
			executed++
		case StatusAlreadyExecuted, StatusInProgress:
		default:
			t.Errorf("Unexpected result %s", r)
		}
	}
	if executed != 1 {
		t.Errorf("Expected exactly 1 Executed, got %d", executed)
	}
	if c := ex.orderCount(); c != 1 {
		t.Errorf("Expected 1 order, got %d", c)
	}
	open, _ := repo.OpenTrades(ctx)
	if len(open) != 1 {
		t.Errorf("Expected 1 trade, got %d", len(open))
	}
}

func TestExchangeFailureReleasesClaim(t *testing.T) {
	x, repo, ex := setup(t, true)
	ctx := context.Background()
	saveBuy(t, repo, "d-1")
	ex.failNext = 1

	res := x.Execute(ctx, "d-1")
	if res.Status != StatusFailed {
		t.Fatalf("Expected Failed, got %s", res)
	}
	if !errs.Is(res.Err, errs.KindExchange) || res.Done() {
		t.Errorf("Expected retryable exchange error, got %v", res.Err)
	}
	if _, err := repo.TradeByDecision(ctx, "d-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected no trade, got %v", err)
	}
	d, _ := repo.GetDecision(ctx, "d-1")
	if d.Executed || d.ExecutionError == "" {
		t.Errorf("Expected unexecuted decision with error, got executed=%v err=%q", d.Executed, d.ExecutionError)
	}

	again := x.Execute(ctx, "d-1")
	if again.Status != StatusExecuted {
		t.Fatalf("Expected retry to execute, got %s", again)
	}
	d, _ = repo.GetDecision(ctx, "d-1")
	if !d.Executed || d.ExecutionError != "" {
		t.Errorf("Expected error cleared after success, got %q", d.ExecutionError)
	}
}

func TestRecheckRejectsDisabledBot(t *testing.T) {
	x, repo, ex := setup(t, false)
	ctx := context.Background()
	saveBuy(t, repo, "d-1")

	res := x.Execute(ctx, "d-1")
	if res.Status != StatusRejected || !errs.Is(res.Err, errs.KindRiskLimitExceeded) {
		t.Fatalf("Expected RiskLimitExceeded rejection, got %s", res)
	}
	if !res.Done() {
		t.Error("Expected rejection to be final")
	}
	if ex.orderCount() != 0 {
		t.Error("Expected no order")
	}

	// claim was released, so an enabled executor can still run it
	x.cfg.BotEnabled = true
	if again := x.Execute(ctx, "d-1"); again.Status != StatusExecuted {
		t.Errorf("Expected Executed after enabling, got %s", again)
	}
}

func TestExecuteUnknownAndHold(t *testing.T) {
	x, repo, _ := setup(t, true)
	ctx := context.Background()

	res := x.Execute(ctx, "missing")
	if res.Status != StatusRejected || !errs.Is(res.Err, errs.KindValidation) {
		t.Errorf("Expected Validation rejection, got %s", res)
	}

	hold := &types.Decision{ID: "h-1", Symbol: "BTCUSDT", Direction: types.Hold, AnalyzedAt: time.Now()}
	if err := repo.SaveDecision(ctx, hold); err != nil {
		t.Fatal(err)
	}
	if res := x.Execute(ctx, "h-1"); res.Status != StatusSkipped {
		t.Errorf("Expected Skipped, got %s", res)
	}
}

func TestCloseDecisionFlattensSymbol(t *testing.T) {
	x, repo, ex := setup(t, true)
	ctx := context.Background()
	saveBuy(t, repo, "d-1")
	if res := x.Execute(ctx, "d-1"); res.Status != StatusExecuted {
		t.Fatalf("Expected Executed, got %s", res)
	}

	ex.exitAt = 52000
	closeD := &types.Decision{ID: "c-1", Symbol: "BTCUSDT", Direction: types.Close, Confidence: 80, AnalyzedAt: time.Now()}
	if err := repo.SaveDecision(ctx, closeD); err != nil {
		t.Fatal(err)
	}
	res := x.Execute(ctx, "c-1")
	if res.Status != StatusClosed || len(res.Closed) != 1 {
		t.Fatalf("Expected 1 closed trade, got %s (%d)", res, len(res.Closed))
	}
	c := res.Closed[0]
	if math.Abs(c.PnL-1200) > 1e-6 || math.Abs(c.PnLPercentage-4) > 1e-6 {
		t.Errorf("Expected pnl 1200 (4%%), got %f (%f%%)", c.PnL, c.PnLPercentage)
	}
	stored, _ := repo.TradeByDecision(ctx, "d-1")
	if stored.Status != types.TradeClosed || stored.CloseReason != types.DecisionClose {
		t.Errorf("Expected CLOSED by decision, got %s %s", stored.Status, stored.CloseReason)
	}

	if again := x.Execute(ctx, "c-1"); again.Status != StatusAlreadyExecuted {
		t.Errorf("Expected AlreadyExecuted, got %s", again)
	}
	if ex.closes != 1 {
		t.Errorf("Expected 1 close order, got %d", ex.closes)
	}
}

func TestRetry(t *testing.T) {
	var waits []time.Duration
	prev := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	t.Cleanup(func() { sleep = prev })

	transient := Result{Status: StatusFailed, DecisionID: "d", Err: errs.New(errs.KindExchange, "test", "timeout")}
	calls := 0
	res := Retry(context.Background(), DefaultRetryPolicy(), func(context.Context) Result {
		calls++
		if calls < 3 {
			return transient
		}
		return Result{Status: StatusExecuted, DecisionID: "d"}
	})
	if res.Status != StatusExecuted || calls != 3 {
		t.Errorf("Expected success on third call, got %s after %d", res, calls)
	}
	if len(waits) != 2 || waits[0] != 30*time.Second || waits[1] != 60*time.Second {
		t.Errorf("Expected waits [30s 60s], got %v", waits)
	}

	calls = 0
	res = Retry(context.Background(), DefaultRetryPolicy(), func(context.Context) Result {
		calls++
		return Result{Status: StatusRejected, DecisionID: "d", Err: errs.New(errs.KindRiskLimitExceeded, "test", "limit")}
	})
	if calls != 1 || res.Status != StatusRejected {
		t.Errorf("Expected a single attempt for non-retryable errors, got %d", calls)
	}

	calls = 0
	res = Retry(context.Background(), DefaultRetryPolicy(), func(context.Context) Result {
		calls++
		return transient
	})
	if calls != 3 || res.Done() {
		t.Errorf("Expected 3 exhausted attempts, got %d", calls)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	res := Retry(ctx, RetryPolicy{MaxAttempts: 3, Backoff: []time.Duration{time.Hour}}, func(context.Context) Result {
		calls++
		return Result{Status: StatusFailed, Err: errs.New(errs.KindExchange, "test", "down")}
	})
	if calls != 1 || res.Status != StatusFailed {
		t.Errorf("Expected to stop after cancel, got %d calls", calls)
	}
}

func TestPrecision(t *testing.T) {
	p := Precision{PerSymbol: map[string]int32{"DOGEUSDT": 0, "ETHUSDT": 2}}
	cases := []struct {
		symbol string
		qty    float64
		want   float64
	}{
		{"BTCUSDT", 0.2009, 0.2},
		{"btcusdt", 0.0004, 0},
		{"ETHUSDT", 1.239, 1.23},
		{"DOGEUSDT", 123.9, 123},
		{"BTCUSDT", -1, 0},
	}
	for _, c := range cases {
		if got := p.Round(c.symbol, c.qty); got != c.want {
			t.Errorf("Expected Round(%s, %v) = %v, got %v", c.symbol, c.qty, c.want, got)
		}
	}
	if got := (Precision{Default: 5}).Places("X"); got != 5 {
		t.Errorf("Expected 5 places, got %d", got)
	}
}
