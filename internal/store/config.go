package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"futures-bot/internal/scheduler"
	"futures-bot/internal/storage"
	"futures-bot/internal/strategy"
	"futures-bot/internal/types"
)

const (
	ModeDryRun = "DRY_RUN"
	ModeLive   = "LIVE"

	ProviderNone   = "NONE"
	ProviderOpenAI = "OPENAI"
	ProviderClaude = "CLAUDE"
)

var validTimeframes = map[types.Timeframe]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true,
}

type Config struct {
	Mode            string            `yaml:"mode"`
	BotEnabled      bool              `yaml:"bot_enabled"`
	Symbols         []string          `yaml:"symbols"`
	Timeframes      []types.Timeframe `yaml:"timeframes"`
	QuoteAsset      string            `yaml:"quote_asset"`
	DecisionMode    string            `yaml:"decision_mode"`
	Strategies      []string          `yaml:"strategies"`
	DefaultLeverage int               `yaml:"default_leverage"`
	Risk            types.RiskConfig  `yaml:"risk"`
	Precision       struct {
		Default   int32            `yaml:"default"`
		PerSymbol map[string]int32 `yaml:"per_symbol"`
	} `yaml:"precision"`
	CacheTTLSeconds int                `yaml:"cache_ttl_seconds"`
	Schedule        scheduler.Schedule `yaml:"schedule"`
	Exchange        struct {
		BaseURL         string  `yaml:"base_url"`
		RecvWindowMs    int64   `yaml:"recv_window_ms"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
		StartingBalance float64 `yaml:"starting_balance"`
		SlippageBps     float64 `yaml:"slippage_bps"`
		FeeRate         float64 `yaml:"fee_rate"`
		APIKey          string  `yaml:"-"`
		APISecret       string  `yaml:"-"`
	} `yaml:"exchange"`
	Execution struct {
		MaxAttempts    int   `yaml:"max_attempts"`
		BackoffSeconds []int `yaml:"backoff_seconds"`
	} `yaml:"execution"`
	Monitor struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"monitor"`
	Storage storage.Config `yaml:"storage"`
	Server  struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"server"`
	LLM struct {
		Provider       string  `yaml:"provider"`
		BaseURL        string  `yaml:"base_url"`
		Model          string  `yaml:"model"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float64 `yaml:"temperature"`
		System         string  `yaml:"system"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		APIKey         string  `yaml:"-"`
	} `yaml:"llm"`
	LogRetentionDays int `yaml:"log_retention_days"`
}

func (c *Config) Validate() error {
	if c.Mode != ModeDryRun && c.Mode != ModeLive {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if len(c.Symbols) == 0 {
		return errors.New("symbols cannot be empty")
	}
	if len(c.Timeframes) == 0 {
		return errors.New("timeframes cannot be empty")
	}
	for _, tf := range c.Timeframes {
		if !validTimeframes[tf] {
			return fmt.Errorf("unsupported timeframe '%s'", tf)
		}
	}
	if c.DecisionMode != strategy.SourceStrategies && c.DecisionMode != "oracle" {
		return fmt.Errorf("invalid decision_mode '%s': must be 'strategies' or 'oracle'", c.DecisionMode)
	}
	for _, name := range c.Strategies {
		if _, err := strategy.New(name); err != nil {
			return fmt.Errorf("strategies: %w", err)
		}
	}
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 100 {
		return fmt.Errorf("risk.risk_per_trade_pct must be between 0-100, got %.2f", c.Risk.RiskPerTradePct)
	}
	if c.Risk.MaxLeverage < 1 {
		return fmt.Errorf("risk.max_leverage must be at least 1, got %d", c.Risk.MaxLeverage)
	}
	if c.DefaultLeverage < 1 || c.DefaultLeverage > c.Risk.MaxLeverage {
		return fmt.Errorf("default_leverage must be between 1 and %d, got %d", c.Risk.MaxLeverage, c.DefaultLeverage)
	}
	switch c.LLM.Provider {
	case ProviderNone, ProviderOpenAI, ProviderClaude:
	default:
		return fmt.Errorf("llm.provider must be 'NONE', 'OPENAI' or 'CLAUDE', got '%s'", c.LLM.Provider)
	}
	if c.DecisionMode == "oracle" && c.LLM.Provider == ProviderNone {
		return errors.New("decision_mode 'oracle' needs an llm.provider")
	}
	if c.Mode == ModeLive && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return errors.New("LIVE mode needs BINANCE_API_KEY and BINANCE_API_SECRET")
	}
	if c.Mode == ModeDryRun && c.Exchange.StartingBalance <= 0 {
		return fmt.Errorf("exchange.starting_balance must be positive in DRY_RUN, got %.2f", c.Exchange.StartingBalance)
	}
	if c.Execution.MaxAttempts < 1 {
		return fmt.Errorf("execution.max_attempts must be at least 1, got %d", c.Execution.MaxAttempts)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes YAML, applies defaults and secrets from the environment,
// then validates.
func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	c.Mode = strings.ToUpper(c.Mode)
	if c.Mode == "" {
		c.Mode = ModeDryRun
	}
	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if len(c.Timeframes) == 0 {
		c.Timeframes = []types.Timeframe{"15m", "1h"}
	}
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	c.DecisionMode = strings.ToLower(c.DecisionMode)
	if c.DecisionMode == "" {
		c.DecisionMode = strategy.SourceStrategies
	}
	if len(c.Strategies) == 0 {
		c.Strategies = strategy.Names()
	}
	if c.Risk.MaxLeverage == 0 {
		c.Risk.MaxLeverage = 10
	}
	if c.Risk.MinRiskReward == 0 {
		c.Risk.MinRiskReward = 1.5
	}
	if c.DefaultLeverage == 0 {
		c.DefaultLeverage = 1
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 300
	}
	if c.Exchange.TimeoutSeconds == 0 {
		c.Exchange.TimeoutSeconds = 10
	}
	if c.Execution.MaxAttempts == 0 {
		c.Execution.MaxAttempts = 3
	}
	if len(c.Execution.BackoffSeconds) == 0 {
		c.Execution.BackoffSeconds = []int{30, 60, 120}
	}
	if c.Monitor.Concurrency == 0 {
		c.Monitor.Concurrency = 4
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = storage.DriverSQLite
	}
	if c.Storage.DSN == "" && c.Storage.Driver == storage.DriverSQLite {
		c.Storage.DSN = "futures-bot.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	c.LLM.Provider = strings.ToUpper(c.LLM.Provider)
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderNone
	}
}

// applyEnv reads secrets, which never live in the YAML file.
func (c *Config) applyEnv() error {
	c.Exchange.APIKey = os.Getenv("BINANCE_API_KEY")
	c.Exchange.APISecret = os.Getenv("BINANCE_API_SECRET")
	switch c.LLM.Provider {
	case ProviderOpenAI:
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	case ProviderClaude:
		c.LLM.APIKey = os.Getenv("CLAUDE_API_KEY")
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Storage.DSN = dsn
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			c.Storage.Driver = storage.DriverPostgres
		}
	}
	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRADER_LOG_RETENTION_DAYS: %w", err)
		}
		c.LogRetentionDays = n
	}
	return nil
}
