package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"futures-bot/internal/engine"
	"futures-bot/internal/engine/engineobs"
	"futures-bot/internal/eod"
	"futures-bot/internal/eod/eodobs"
	"futures-bot/internal/exchange"
	"futures-bot/internal/execution"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/llm"
	"futures-bot/internal/llm/claude"
	"futures-bot/internal/llm/llmobs"
	"futures-bot/internal/llm/noop"
	"futures-bot/internal/llm/openai"
	"futures-bot/internal/logger"
	"futures-bot/internal/marketdata"
	"futures-bot/internal/monitor"
	"futures-bot/internal/risk"
	"futures-bot/internal/scheduler"
	"futures-bot/internal/server"
	"futures-bot/internal/storage"
	"futures-bot/internal/store"
	"futures-bot/internal/strategy"
	"futures-bot/internal/trace"
	"futures-bot/internal/types"

	"github.com/joho/godotenv"
)

// app holds the wired components shared by every command.
type app struct {
	cfg        *store.Config
	timeframes []types.Timeframe
	repo       *storage.SQLStore
	exchange   interfaces.Exchange
	fetcher    *marketdata.Fetcher
	engine     interfaces.Engine
	executor   *execution.Executor
	monitor    *monitor.Monitor
	reporter   interfaces.EodSummarizer
	scheduler  *scheduler.Scheduler
}

// initializeSystem initializes environment, logger and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	logger.Debug(context.Background(), "Observability initialized",
		"detailed_logging", logger.IsDebugEnabled(),
		"tracing", logger.IsTracingEnabled(),
	)
	return nil
}

func shutdownSystem() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = trace.Shutdown(ctx)
	_ = logger.Shutdown(ctx)
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// initializeExchange builds the live or paper exchange with observability and timeouts
func initializeExchange(ctx context.Context, cfg *store.Config) (interfaces.Exchange, error) {
	mode := exchange.ModePaper
	if cfg.Mode == store.ModeLive {
		mode = exchange.ModeLive
	} else {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated", "starting_balance", cfg.Exchange.StartingBalance)
	}
	return exchange.New(exchange.Config{
		Mode:            mode,
		BaseURL:         cfg.Exchange.BaseURL,
		APIKey:          cfg.Exchange.APIKey,
		APISecret:       cfg.Exchange.APISecret,
		QuoteAsset:      cfg.QuoteAsset,
		RecvWindowMs:    cfg.Exchange.RecvWindowMs,
		Timeout:         time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
		StartingBalance: cfg.Exchange.StartingBalance,
		SlippageBps:     cfg.Exchange.SlippageBps,
		FeeRate:         cfg.Exchange.FeeRate,
	})
}

// initializeOracle initializes the AI oracle with observability and HOLD fallback
func initializeOracle(ctx context.Context, cfg *store.Config) interfaces.Oracle {
	lc := llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		System:      cfg.LLM.System,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}

	var oracle interfaces.Oracle
	switch cfg.LLM.Provider {
	case store.ProviderOpenAI:
		oracle = openai.New(lc)
	case store.ProviderClaude:
		oracle = claude.New(lc)
	default:
		oracle = noop.New()
		logger.Warn(ctx, "No LLM provider configured - using Noop oracle (always HOLD)")
	}

	// Wrap with observability middleware
	return llm.WithFallback(llmobs.Wrap(oracle))
}

// initializeEngine initializes and returns the analysis engine with observability
func initializeEngine(cfg *store.Config, tfs []types.Timeframe, deps engine.Deps) interfaces.Engine {
	eng := engine.New(engine.Config{
		Timeframes:      tfs,
		DecisionMode:    cfg.DecisionMode,
		BotEnabled:      cfg.BotEnabled,
		DefaultLeverage: cfg.DefaultLeverage,
	}, deps)

	// Wrap with observability middleware
	return engineobs.Wrap(eng)
}

// buildApp wires every component from the config file at path.
func buildApp(ctx context.Context, path string) (*app, error) {
	cfg, err := loadConfig(ctx, path)
	if err != nil {
		return nil, err
	}

	repo, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	ex, err := initializeExchange(ctx, cfg)
	if err != nil {
		repo.Close()
		return nil, err
	}

	strats, err := strategy.FromNames(cfg.Strategies)
	if err != nil {
		repo.Close()
		return nil, err
	}
	tfs := mergeTimeframes(cfg.Timeframes, strategy.RequiredTimeframes(strats))

	correlator := risk.NewReturnsCorrelator(risk.NewBaseAssetCorrelator())
	gate := risk.NewGate(cfg.Risk, correlator)
	fetcher := marketdata.NewFetcher(ex, marketdata.NewCache(time.Duration(cfg.CacheTTLSeconds)*time.Second), marketdata.DefaultLimit)

	eng := initializeEngine(cfg, tfs, engine.Deps{
		Fetcher:    fetcher,
		Arbiter:    strategy.NewArbiter(strats...),
		Oracle:     initializeOracle(ctx, cfg),
		Gate:       gate,
		Repo:       repo,
		Exchange:   ex,
		Correlator: correlator,
	})

	executor := execution.NewExecutor(repo, ex, gate, execution.Config{
		BotEnabled: cfg.BotEnabled,
		Precision:  precision(cfg),
	})
	mon := monitor.New(repo, ex, monitor.Config{Concurrency: cfg.Monitor.Concurrency})
	reporter := eodobs.Wrap(eod.NewSummarizer(repo, ""))

	sched := scheduler.New(ctx, scheduler.Config{
		Symbols:       cfg.Symbols,
		Timeframes:    tfs,
		Schedule:      cfg.Schedule,
		Retry:         retryPolicy(cfg),
		RetentionDays: cfg.LogRetentionDays,
	}, scheduler.Deps{
		Fetcher:  fetcher,
		Engine:   eng,
		Executor: executor,
		Monitor:  mon,
		Repo:     repo,
		Exchange: ex,
		Reporter: reporter,
	})

	logger.Info(ctx, "Bot initialized",
		"mode", cfg.Mode,
		"bot_enabled", cfg.BotEnabled,
		"decision_mode", cfg.DecisionMode,
		"symbols", cfg.Symbols,
		"timeframes", tfs,
		"strategies", cfg.Strategies,
		"storage", repo.Driver(),
	)

	return &app{
		cfg:        cfg,
		timeframes: tfs,
		repo:       repo,
		exchange:   ex,
		fetcher:    fetcher,
		engine:     eng,
		executor:   executor,
		monitor:    mon,
		reporter:   reporter,
		scheduler:  sched,
	}, nil
}

func (a *app) newServer() *server.Server {
	return server.New(server.Config{
		Addr:       a.cfg.Server.Addr,
		Mode:       a.cfg.Mode,
		BotEnabled: a.cfg.BotEnabled,
		Debug:      logger.IsDebugEnabled(),
	}, a.repo)
}

func (a *app) Close() {
	if err := a.repo.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close storage: %v\n", err)
	}
}

// mergeTimeframes keeps the configured order (first is primary) and appends
// the extra timeframes strategies need.
func mergeTimeframes(base, extra []types.Timeframe) []types.Timeframe {
	seen := map[types.Timeframe]bool{}
	var out []types.Timeframe
	for _, tf := range append(append([]types.Timeframe{}, base...), extra...) {
		if !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	return out
}

func precision(cfg *store.Config) execution.Precision {
	p := execution.Precision{Default: cfg.Precision.Default, PerSymbol: map[string]int32{}}
	for sym, n := range cfg.Precision.PerSymbol {
		p.PerSymbol[strings.ToUpper(sym)] = n
	}
	return p
}

func retryPolicy(cfg *store.Config) execution.RetryPolicy {
	p := execution.RetryPolicy{MaxAttempts: cfg.Execution.MaxAttempts}
	for _, s := range cfg.Execution.BackoffSeconds {
		p.Backoff = append(p.Backoff, time.Duration(s)*time.Second)
	}
	return p
}
