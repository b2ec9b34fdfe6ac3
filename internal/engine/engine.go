package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"futures-bot/internal/errs"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
	"futures-bot/internal/marketdata"
	"futures-bot/internal/risk"
	"futures-bot/internal/strategy"
	"futures-bot/internal/tradelog"
	"futures-bot/internal/types"
)

// Decision sources. ModeStrategies is also the Source of arbiter decisions.
const (
	ModeStrategies = strategy.SourceStrategies
	ModeOracle     = "oracle"
)

type Config struct {
	Timeframes      []types.Timeframe
	DecisionMode    string
	BotEnabled      bool
	DefaultLeverage int
}

// Deps are the collaborators of one engine. Oracle is only consulted in
// ModeOracle; Correlator is optional and fed the primary closes each cycle.
type Deps struct {
	Fetcher    *marketdata.Fetcher
	Arbiter    *strategy.Arbiter
	Oracle     interfaces.Oracle
	Gate       *risk.Gate
	Repo       interfaces.Repository
	Exchange   interfaces.Exchange
	Correlator *risk.ReturnsCorrelator
}

type Engine struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

func newEngine(cfg Config, deps Deps) *Engine {
	if cfg.DecisionMode == "" {
		cfg.DecisionMode = ModeStrategies
	}
	return &Engine{cfg: cfg, deps: deps, now: time.Now}
}

// Analyze runs one decision cycle for symbol: snapshot, decide, gate, persist.
// A cold or stale cache defers the cycle after asking the fetcher for fresh bars.
func (e *Engine) Analyze(ctx context.Context, symbol string) (*types.CycleResult, error) {
	const op = "engine.Analyze"
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, errs.New(errs.KindValidation, op, "empty symbol")
	}
	logger.Debug(ctx, "Starting analysis cycle", "symbol", symbol, "mode", e.cfg.DecisionMode)

	snap, err := marketdata.BuildSnapshot(e.deps.Fetcher.Cache(), symbol, e.cfg.Timeframes,
		marketdata.Account{Risk: e.deps.Gate.Config()})
	if errs.Is(err, errs.KindDataUnavailable) {
		logger.Warn(ctx, "Market data unavailable, deferring cycle", "symbol", symbol, "error", err.Error())
		if ferr := e.deps.Fetcher.Fetch(ctx, symbol, e.cfg.Timeframes); ferr != nil {
			logger.ErrorWithErr(ctx, "Refresh after deferred cycle failed", ferr, "symbol", symbol)
		}
		return &types.CycleResult{Symbol: symbol, Deferred: true, Reason: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	acct, err := risk.LoadAccount(ctx, e.deps.Exchange, e.deps.Repo, e.now())
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load account", err, "symbol", symbol)
		return nil, err
	}
	open, err := e.deps.Repo.OpenTrades(ctx)
	if err != nil {
		return nil, err
	}
	snap.AccountBalance = acct.Balance
	snap.OpenPositions = open
	logger.Debug(ctx, "Snapshot built", "symbol", symbol, "price", snap.LastClose(), "balance", acct.Balance, "open_positions", len(open))

	if e.deps.Correlator != nil {
		e.deps.Correlator.Update(symbol, closes(snap.BarsFor(snap.Primary())))
	}

	d, sigs, err := e.decide(ctx, snap)
	if err != nil {
		return nil, err
	}

	res := e.deps.Gate.Evaluate(ctx, risk.Input{Decision: &d, Account: acct, OpenPositions: open, BotEnabled: e.cfg.BotEnabled})
	if d.RiskAssessment != "" {
		d.RiskAssessment += " | " + res.Summary()
	} else {
		d.RiskAssessment = res.Summary()
	}

	if err := e.deps.Repo.SaveDecision(ctx, &d); err != nil {
		logger.ErrorWithErr(ctx, "Failed to persist decision", err, "symbol", symbol, "decision_id", d.ID)
		return nil, err
	}
	_ = tradelog.AppendDecision(&d)
	logger.Decision(ctx, symbol, string(d.Direction), d.Confidence, d.Reasoning,
		"decision_id", d.ID, "source", d.Source, "approved", res.Passed, "gate", d.RiskAssessment)

	return &types.CycleResult{
		Symbol:     symbol,
		Decision:   &d,
		Signals:    sigs,
		Approved:   res.Passed,
		GateReason: res.Summary(),
	}, nil
}

func (e *Engine) decide(ctx context.Context, snap *types.MarketSnapshot) (types.Decision, []types.Signal, error) {
	if e.cfg.DecisionMode != ModeOracle {
		d, sigs := e.deps.Arbiter.Decide(snap)
		logger.Debug(ctx, "Strategies evaluated", "symbol", snap.Symbol, "signals", len(sigs), "direction", string(d.Direction))
		return d, sigs, nil
	}
	if e.deps.Oracle == nil {
		return types.Decision{}, nil, errs.New(errs.KindValidation, "engine.decide", "oracle mode without an oracle")
	}
	r, err := e.deps.Oracle.AnalyzeAndDecide(ctx, snap)
	if err != nil {
		return types.Decision{}, nil, err
	}
	return fromOracle(snap, r, e.cfg.DefaultLeverage, e.deps.Gate.Config().MaxLeverage, e.now()), nil, nil
}

// fromOracle maps an oracle answer onto a Decision. Missing entry prices fall
// back to the last close, missing leverage to defLev, and leverage is clamped
// to [1, maxLev].
func fromOracle(snap *types.MarketSnapshot, r types.OracleResult, defLev, maxLev int, now time.Time) types.Decision {
	d := types.Decision{
		ID:                    uuid.NewString(),
		Symbol:                snap.Symbol,
		TimeframesAnalyzed:    snap.Timeframes,
		MarketConditions:      strategy.MarketConditions(snap),
		Direction:             r.Direction,
		Confidence:            r.Confidence,
		Reasoning:             r.Reasoning,
		RiskAssessment:        r.RiskAssessment,
		RecommendedLeverage:   r.RecommendedLeverage,
		RecommendedStopLoss:   r.StopLoss,
		RecommendedTakeProfit: r.TakeProfit,
		EntryPrice:            r.EntryPrice,
		Source:                ModeOracle,
		AnalyzedAt:            now.UTC(),
	}
	if r.Fallback {
		d.MarketConditions["oracle_fallback"] = true
	}
	if d.Direction != types.Buy && d.Direction != types.Sell {
		return d
	}
	if d.EntryPrice <= 0 {
		d.EntryPrice = snap.LastClose()
	}
	if d.RecommendedLeverage < 1 {
		d.RecommendedLeverage = defLev
	}
	if d.RecommendedLeverage < 1 {
		d.RecommendedLeverage = 1
	}
	if maxLev > 0 && d.RecommendedLeverage > maxLev {
		d.RecommendedLeverage = maxLev
	}
	return d
}

func closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
