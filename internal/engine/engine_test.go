package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"futures-bot/internal/errs"
	"futures-bot/internal/marketdata"
	"futures-bot/internal/risk"
	"futures-bot/internal/storage"
	"futures-bot/internal/strategy"
	"futures-bot/internal/types"
)

type fakeExchange struct {
	bars    []types.Bar
	fetches int
}

func (f *fakeExchange) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return f.bars[len(f.bars)-1].Close, nil
}

func (f *fakeExchange) OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	f.fetches++
	return f.bars, nil
}

func (f *fakeExchange) AccountBalance(ctx context.Context) (float64, error) {
	return 10000, nil
}

func (f *fakeExchange) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty float64, leverage int) (types.OrderResult, error) {
	return types.OrderResult{}, errors.New("not used")
}

func (f *fakeExchange) ClosePosition(ctx context.Context, symbol string, side types.Side, qty float64) (types.OrderResult, error) {
	return types.OrderResult{}, errors.New("not used")
}

type stubOracle struct {
	res types.OracleResult
	err error
}

func (s *stubOracle) AnalyzeAndDecide(ctx context.Context, snap *types.MarketSnapshot) (types.OracleResult, error) {
	return s.res, s.err
}

func trendBars(n int) []types.Bar {
	out := make([]types.Bar, n)
	for i := range out {
		c := 49000 + 20*float64(i)
		out[i] = types.Bar{Ts: int64(i) * 900_000, Open: c - 10, High: c + 50, Low: c - 50, Close: c, Volume: 100}
	}
	return out
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

type fixture struct {
	eng  *Engine
	repo *storage.SQLStore
	ex   *fakeExchange
}

func setup(t *testing.T, mode string, oracle *stubOracle, warm bool) fixture {
	t.Helper()
	t.Setenv("TRADER_LOG_DIR", t.TempDir())
	repo, err := storage.Open(context.Background(), storage.Config{Driver: storage.DriverSQLite, DSN: filepath.Join(t.TempDir(), "bot.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ex := &fakeExchange{bars: trendBars(80)}
	cache := marketdata.NewCache(time.Minute)
	if warm {
		cache.Put("BTCUSDT", "15m", ex.bars)
	}
	deps := Deps{
		Fetcher:  marketdata.NewFetcher(ex, cache, 80),
		Arbiter:  strategy.NewArbiter(strategy.NewTrendFollowing(), strategy.NewMeanReversion()),
		Gate:     risk.NewGate(riskConfig(), nil),
		Repo:     repo,
		Exchange: ex,
	}
	if oracle != nil {
		deps.Oracle = oracle
	}
	eng := newEngine(Config{Timeframes: []types.Timeframe{"15m"}, DecisionMode: mode, BotEnabled: true}, deps)
	return fixture{eng: eng, repo: repo, ex: ex}
}

func decisionCount(t *testing.T, repo *storage.SQLStore) int {
	t.Helper()
	ds, err := repo.ListDecisions(context.Background(), types.DecisionFilter{})
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	return len(ds)
}

func TestAnalyzeDefersOnColdCache(t *testing.T) {
	f := setup(t, ModeStrategies, nil, false)
	ctx := context.Background()

	res, err := f.eng.Analyze(ctx, "btcusdt")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !res.Deferred || res.Decision != nil {
		t.Fatalf("Expected deferred cycle without decision, got %+v", res)
	}
	if f.ex.fetches != 1 {
		t.Errorf("Expected deferral to trigger 1 fetch, got %d", f.ex.fetches)
	}
	if n := decisionCount(t, f.repo); n != 0 {
		t.Errorf("Expected no persisted decision, got %d", n)
	}

	res, err = f.eng.Analyze(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if res.Deferred || res.Decision == nil {
		t.Fatalf("Expected a decision once the cache is warm, got %+v", res)
	}
	if res.Decision.Source != ModeStrategies {
		t.Errorf("Expected source %s, got %s", ModeStrategies, res.Decision.Source)
	}
	if len(res.Signals) != 2 {
		t.Errorf("Expected 2 signals, got %d", len(res.Signals))
	}
	if !strings.Contains(res.Decision.RiskAssessment, "APPROVED") && !strings.Contains(res.Decision.RiskAssessment, "REJECTED") {
		t.Errorf("Expected gate summary in risk assessment, got %q", res.Decision.RiskAssessment)
	}

	saved, err := f.repo.GetDecision(ctx, res.Decision.ID)
	if err != nil {
		t.Fatalf("get decision: %v", err)
	}
	if saved.RiskAssessment != res.Decision.RiskAssessment || saved.Executed {
		t.Errorf("Expected persisted unexecuted decision, got %+v", saved)
	}
}

func TestAnalyzeOracleApproved(t *testing.T) {
	oracle := &stubOracle{res: types.OracleResult{
		Direction:           types.Buy,
		Confidence:          80,
		Reasoning:           "breakout above range",
		RiskAssessment:      "moderate",
		RecommendedLeverage: 20,
		StopLoss:            49000,
		TakeProfit:          52000,
		EntryPrice:          50000,
	}}
	f := setup(t, ModeOracle, oracle, true)

	res, err := f.eng.Analyze(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !res.Approved {
		t.Fatalf("Expected approval, got %s", res.GateReason)
	}
	d := res.Decision
	if d.Source != ModeOracle || d.Direction != types.Buy {
		t.Errorf("Expected oracle BUY, got %s %s", d.Source, d.Direction)
	}
	if d.RecommendedLeverage != 10 {
		t.Errorf("Expected leverage capped at 10, got %d", d.RecommendedLeverage)
	}
	if !strings.HasPrefix(d.RiskAssessment, "moderate | APPROVED") {
		t.Errorf("Expected oracle assessment followed by gate summary, got %q", d.RiskAssessment)
	}
	if _, ok := d.MarketConditions["price"]; !ok {
		t.Error("Expected market conditions to carry the price")
	}
	if n := decisionCount(t, f.repo); n != 1 {
		t.Errorf("Expected 1 persisted decision, got %d", n)
	}
}

func TestAnalyzeOracleHoldIsPersistedRejected(t *testing.T) {
	oracle := &stubOracle{res: types.OracleResult{Direction: types.Hold, Reasoning: "AI oracle unavailable: timeout", Fallback: true}}
	f := setup(t, ModeOracle, oracle, true)

	res, err := f.eng.Analyze(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Approved {
		t.Error("Expected HOLD to be rejected")
	}
	if !strings.HasPrefix(res.GateReason, "REJECTED by actionable") {
		t.Errorf("Expected actionable rejection, got %q", res.GateReason)
	}
	if res.Decision.MarketConditions["oracle_fallback"] != true {
		t.Error("Expected fallback flag in market conditions")
	}
	if n := decisionCount(t, f.repo); n != 1 {
		t.Errorf("Expected rejected decision to be persisted, got %d", n)
	}
}

func TestAnalyzeOracleErrorPersistsNothing(t *testing.T) {
	oracle := &stubOracle{err: errs.New(errs.KindAIService, "test", "boom")}
	f := setup(t, ModeOracle, oracle, true)

	_, err := f.eng.Analyze(context.Background(), "BTCUSDT")
	if !errs.Is(err, errs.KindAIService) {
		t.Errorf("Expected AIServiceFailure, got %v", err)
	}
	if n := decisionCount(t, f.repo); n != 0 {
		t.Errorf("Expected no decision, got %d", n)
	}
}

func TestAnalyzeRejectsEmptySymbol(t *testing.T) {
	f := setup(t, ModeStrategies, nil, true)
	if _, err := f.eng.Analyze(context.Background(), "  "); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected ValidationFailure, got %v", err)
	}
}

func TestFromOracleDefaults(t *testing.T) {
	snap := &types.MarketSnapshot{
		Symbol:     "ETHUSDT",
		Timeframes: []types.Timeframe{"1h"},
		Bars:       map[types.Timeframe][]types.Bar{"1h": {{Ts: 1, Open: 3000, High: 3010, Low: 2990, Close: 3005, Volume: 1}}},
		Indicators: map[types.Timeframe]types.IndicatorSet{},
	}
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	d := fromOracle(snap, types.OracleResult{Direction: types.Sell, Confidence: 70}, 2, 5, now)
	if d.EntryPrice != 3005 {
		t.Errorf("Expected entry from last close, got %v", d.EntryPrice)
	}
	if d.RecommendedLeverage != 2 {
		t.Errorf("Expected default leverage 2, got %d", d.RecommendedLeverage)
	}
	if z := fromOracle(snap, types.OracleResult{Direction: types.Buy}, 0, 5, now); z.RecommendedLeverage != 1 {
		t.Errorf("Expected leverage floor of 1, got %d", z.RecommendedLeverage)
	}
	if d.ID == "" || !d.AnalyzedAt.Equal(now) {
		t.Errorf("Expected id and timestamp, got %q %v", d.ID, d.AnalyzedAt)
	}

	h := fromOracle(snap, types.OracleResult{Direction: types.Hold}, 2, 5, now)
	if h.EntryPrice != 0 || h.RecommendedLeverage != 0 {
		t.Errorf("Expected HOLD untouched, got entry %v lev %d", h.EntryPrice, h.RecommendedLeverage)
	}
}
