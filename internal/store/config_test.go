package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"futures-bot/internal/storage"
)

const minimal = `
symbols: [btcusdt, ethusdt]
risk:
  max_positions: 3
  risk_per_trade_pct: 2
exchange:
  starting_balance: 10000
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"BINANCE_API_KEY", "BINANCE_API_SECRET", "OPENAI_API_KEY", "CLAUDE_API_KEY", "DATABASE_URL", "TRADER_LOG_RETENTION_DAYS"} {
		t.Setenv(k, "")
	}
}

func TestParseConfigDefaults(t *testing.T) {
	clearEnv(t)
	c, err := ParseConfig([]byte(minimal))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Mode != ModeDryRun {
		t.Errorf("Expected DRY_RUN, got %s", c.Mode)
	}
	if c.Symbols[0] != "BTCUSDT" || c.Symbols[1] != "ETHUSDT" {
		t.Errorf("Expected upper-cased symbols, got %v", c.Symbols)
	}
	if len(c.Timeframes) != 2 || c.Timeframes[0] != "15m" {
		t.Errorf("Expected default timeframes, got %v", c.Timeframes)
	}
	if c.DecisionMode != "strategies" || len(c.Strategies) != 5 {
		t.Errorf("Expected all strategies, got %s %v", c.DecisionMode, c.Strategies)
	}
	if c.Risk.MaxLeverage != 10 || c.Risk.MinRiskReward != 1.5 {
		t.Errorf("Expected risk defaults, got %+v", c.Risk)
	}
	if c.Execution.MaxAttempts != 3 || len(c.Execution.BackoffSeconds) != 3 {
		t.Errorf("Expected retry defaults, got %+v", c.Execution)
	}
	if c.Storage.Driver != storage.DriverSQLite || c.Storage.DSN == "" {
		t.Errorf("Expected sqlite default, got %+v", c.Storage)
	}
	if c.LLM.Provider != ProviderNone {
		t.Errorf("Expected provider NONE, got %s", c.LLM.Provider)
	}
}

func TestParseConfigEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://bot@localhost/bot")
	t.Setenv("TRADER_LOG_RETENTION_DAYS", "30")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	c, err := ParseConfig([]byte(minimal + "llm:\n  provider: openai\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Storage.Driver != storage.DriverPostgres {
		t.Errorf("Expected postgres from DATABASE_URL, got %s", c.Storage.Driver)
	}
	if c.LogRetentionDays != 30 {
		t.Errorf("Expected retention 30, got %d", c.LogRetentionDays)
	}
	if c.LLM.Provider != ProviderOpenAI || c.LLM.APIKey != "sk-test" {
		t.Errorf("Expected OpenAI key from env, got %s %q", c.LLM.Provider, c.LLM.APIKey)
	}

	t.Setenv("TRADER_LOG_RETENTION_DAYS", "soon")
	if _, err := ParseConfig([]byte(minimal)); err == nil {
		t.Error("Expected bad retention to fail")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad mode", minimal + "mode: paper\n", "invalid mode"},
		{"no symbols", "risk: {risk_per_trade_pct: 2}\nexchange: {starting_balance: 1}\n", "symbols"},
		{"bad timeframe", minimal + "timeframes: [7m]\n", "timeframe"},
		{"unknown strategy", minimal + "strategies: [astrology]\n", "unknown strategy"},
		{"oracle without provider", minimal + "decision_mode: oracle\n", "llm.provider"},
		{"live without keys", minimal + "mode: live\n", "BINANCE_API_KEY"},
		{"leverage above max", minimal + "default_leverage: 20\n", "default_leverage"},
		{"no risk", "symbols: [BTCUSDT]\nexchange: {starting_balance: 1}\n", "risk_per_trade_pct"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(minimal+"schedule:\n  monitor: \"*/5 * * * * *\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Schedule.Monitor != "*/5 * * * * *" {
		t.Errorf("Expected monitor schedule, got %q", c.Schedule.Monitor)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected missing file error")
	}
}
