// Package scheduler runs the bot's periodic tasks on cron triggers:
// fetch market data, analyze and execute, monitor open trades, snapshot
// equity and write the daily report.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"futures-bot/internal/execution"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
	"futures-bot/internal/marketdata"
	"futures-bot/internal/monitor"
	"futures-bot/internal/risk"
	"futures-bot/internal/tradelog"
	"futures-bot/internal/types"
)

// Schedule holds six-field cron specs (seconds first).
type Schedule struct {
	Fetch    string `yaml:"fetch"`
	Analyze  string `yaml:"analyze"`
	Monitor  string `yaml:"monitor"`
	Snapshot string `yaml:"snapshot"`
	Report   string `yaml:"report"`
}

func DefaultSchedule() Schedule {
	return Schedule{
		Fetch:    "0 * * * * *",
		Analyze:  "30 */5 * * * *",
		Monitor:  "*/15 * * * * *",
		Snapshot: "0 0 * * * *",
		Report:   "0 5 * * * *",
	}
}

const DefaultStaleClaimAge = 10 * time.Minute

type Config struct {
	Symbols       []string
	Timeframes    []types.Timeframe
	Schedule      Schedule
	Retry         execution.RetryPolicy
	RetentionDays int
	StaleClaimAge time.Duration
}

type Deps struct {
	Fetcher  *marketdata.Fetcher
	Engine   interfaces.Engine
	Executor *execution.Executor
	Monitor  *monitor.Monitor
	Repo     interfaces.Repository
	Exchange interfaces.Exchange
	Reporter interfaces.EodSummarizer
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	cron  *cron.Cron
	cfg   Config
	deps  Deps
	guard *CycleGuard
	ctx   context.Context
	now   func() time.Time
}

func New(ctx context.Context, cfg Config, deps Deps) *Scheduler {
	if cfg.StaleClaimAge <= 0 {
		cfg.StaleClaimAge = DefaultStaleClaimAge
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = execution.DefaultRetryPolicy()
	}
	cl := cronLogger{}
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds(), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		cfg:   cfg,
		deps:  deps,
		guard: NewCycleGuard(),
		ctx:   ctx,
		now:   time.Now,
	}
}

// Register adds the fetch, analyze, monitor and snapshot tasks. Empty specs
// fall back to DefaultSchedule.
func (s *Scheduler) Register() error {
	def := DefaultSchedule()
	tasks := []struct {
		name string
		spec string
		def  string
		fn   func()
	}{
		{"fetch", s.cfg.Schedule.Fetch, def.Fetch, func() { _ = s.RunFetch(s.ctx) }},
		{"analyze", s.cfg.Schedule.Analyze, def.Analyze, func() { s.RunAnalyze(s.ctx) }},
		{"monitor", s.cfg.Schedule.Monitor, def.Monitor, func() { s.RunMonitor(s.ctx) }},
		{"snapshot", s.cfg.Schedule.Snapshot, def.Snapshot, func() { _ = s.RunSnapshot(s.ctx) }},
		{"report", s.cfg.Schedule.Report, def.Report, func() { _ = s.RunReport(s.ctx) }},
	}
	for _, t := range tasks {
		spec := t.spec
		if spec == "" {
			spec = t.def
		}
		if _, err := s.cron.AddFunc(spec, t.fn); err != nil {
			return fmt.Errorf("register %s task %q: %w", t.name, spec, err)
		}
		logger.Debug(s.ctx, "Task registered", "task", t.name, "spec", spec)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info(s.ctx, "Scheduler started", "symbols", s.cfg.Symbols, "entries", len(s.cron.Entries()))
}

// Stop stops the triggers and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info(s.ctx, "Scheduler stopped")
}

// RunFetch refreshes the market-data cache for every symbol.
func (s *Scheduler) RunFetch(ctx context.Context) error {
	op := logger.StartOperation(ctx, "scheduler.fetch", "symbols", len(s.cfg.Symbols))
	var all []error
	for _, sym := range s.cfg.Symbols {
		if err := s.deps.Fetcher.Fetch(op.GetContext(), sym, s.cfg.Timeframes); err != nil {
			all = append(all, fmt.Errorf("%s: %w", sym, err))
		}
	}
	err := errors.Join(all...)
	if err != nil {
		op.EndWithError(err)
		return err
	}
	op.End()
	return nil
}

// RunAnalyze runs one cycle per symbol and returns the results in symbol order.
func (s *Scheduler) RunAnalyze(ctx context.Context) []types.CycleResult {
	out := make([]types.CycleResult, 0, len(s.cfg.Symbols))
	for _, sym := range s.cfg.Symbols {
		res, _, err := s.Cycle(ctx, sym)
		if err != nil {
			continue
		}
		out = append(out, *res)
	}
	return out
}

// Cycle analyzes symbol and executes the decision when the gate approved it.
// A newer cycle for the same symbol and primary timeframe cancels the
// analysis of this one. Execution is not cut short once it has started.
func (s *Scheduler) Cycle(ctx context.Context, symbol string) (*types.CycleResult, *execution.Result, error) {
	cctx, done := s.guard.Begin(ctx, s.cycleKey(symbol))
	defer done()

	res, err := s.deps.Engine.Analyze(cctx, symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "Analysis failed", err, "symbol", symbol)
		return nil, nil, err
	}
	if cctx.Err() != nil {
		logger.Warn(ctx, "Cycle superseded", "symbol", symbol)
		return res, nil, nil
	}
	if !res.Approved || res.Decision == nil {
		return res, nil, nil
	}
	ex := s.Execute(context.WithoutCancel(cctx), res.Decision.ID)
	return res, &ex, nil
}

// Execute runs the execution pipeline for one decision with the retry policy.
func (s *Scheduler) Execute(ctx context.Context, decisionID string) execution.Result {
	return execution.Retry(ctx, s.cfg.Retry, func(ctx context.Context) execution.Result {
		return s.deps.Executor.Execute(ctx, decisionID)
	})
}

// RunMonitor polls open trades once.
func (s *Scheduler) RunMonitor(ctx context.Context) []monitor.Result {
	results, err := s.deps.Monitor.Poll(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Monitor poll failed", err)
		return nil
	}
	closed := 0
	for _, r := range results {
		if r.Outcome == monitor.OutcomeClosed {
			closed++
		}
	}
	if closed > 0 {
		logger.Info(ctx, "Monitor closed trades", "closed", closed, "checked", len(results))
	}
	return results
}

// RunSnapshot records equity, compresses old audit files and reports
// execution claims that never finished.
func (s *Scheduler) RunSnapshot(ctx context.Context) error {
	balance, err := s.deps.Exchange.AccountBalance(ctx)
	if err != nil {
		logger.ErrorWithErr(ctx, "Equity snapshot failed", err)
		return err
	}
	open, err := s.deps.Repo.OpenTrades(ctx)
	if err != nil {
		return err
	}
	equity := balance
	for _, t := range open {
		price, err := s.deps.Exchange.CurrentPrice(ctx, t.Symbol)
		if err != nil {
			logger.Warn(ctx, "Price unavailable for equity", "symbol", t.Symbol, "error", err.Error())
			continue
		}
		pnl, _ := risk.TradePnL(t, price)
		equity += pnl
	}
	snap := types.EquitySnapshot{ID: uuid.NewString(), Ts: s.now().UTC(), Balance: balance, Equity: equity}
	if err := s.deps.Repo.SaveEquitySnapshot(ctx, snap); err != nil {
		return err
	}
	logger.Info(ctx, "Equity snapshot saved", "balance", balance, "equity", equity, "open_positions", len(open))

	if err := tradelog.CompressOlder(s.cfg.RetentionDays); err != nil {
		logger.ErrorWithErr(ctx, "Audit log compression failed", err)
	}

	stale, err := s.deps.Repo.StaleClaims(ctx, s.now().Add(-s.cfg.StaleClaimAge))
	if err != nil {
		return err
	}
	for _, id := range stale {
		logger.Risk(ctx, "", "STALE_EXECUTION_CLAIM", "decision_id", id,
			"hint", "order may be live on the exchange without a trade record")
	}
	return nil
}

// RunReport writes yesterday's end-of-day report once.
func (s *Scheduler) RunReport(ctx context.Context) error {
	if s.deps.Reporter == nil {
		return nil
	}
	run, day := s.deps.Reporter.ShouldRun(s.now())
	if !run {
		return nil
	}
	_, err := s.deps.Reporter.SummarizeDay(ctx, day)
	return err
}

func (s *Scheduler) cycleKey(symbol string) string {
	tf := types.Timeframe("")
	if len(s.cfg.Timeframes) > 0 {
		tf = s.cfg.Timeframes[0]
	}
	return strings.ToUpper(symbol) + "|" + string(tf)
}

// cronLogger routes cron's own messages into the structured logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug(context.Background(), "cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.ErrorWithErr(context.Background(), "cron: "+msg, err, keysAndValues...)
}
