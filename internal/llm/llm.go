// Package llm holds what the AI oracle clients share: the prompt, the
// response parser and the HOLD fallback wrapper.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"futures-bot/internal/errs"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
	"futures-bot/internal/types"
)

const (
	DefaultSystem = "You are a disciplined crypto futures trader. You protect capital first. " +
		"Respond ONLY with one compact JSON object matching the schema."

	// Schema is shown to the model verbatim.
	Schema = `{"direction":"BUY|SELL|HOLD|CLOSE","confidence":0-100,"reasoning":"string",` +
		`"risk_assessment":"string","recommended_leverage":integer,"stop_loss":number,` +
		`"take_profit":number,"entry_price":number}`

	DefaultMaxTokens = 600
	DefaultTimeout   = 30 * time.Second

	// recentBars is how many primary-timeframe bars the prompt carries.
	recentBars = 20
)

// Config is shared by the HTTP oracle clients.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	System      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// WithDefaults fills the unset fields.
func (c Config) WithDefaults() Config {
	if c.System == "" {
		c.System = DefaultSystem
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

type promptState struct {
	Symbol        string                                 `json:"symbol"`
	Timeframes    []types.Timeframe                      `json:"timeframes"`
	Indicators    map[types.Timeframe]types.IndicatorSet `json:"indicators"`
	RecentBars    []types.Bar                            `json:"recent_bars"`
	OpenPositions []types.Trade                          `json:"open_positions"`
	Balance       float64                                `json:"account_balance"`
	MaxLeverage   int                                    `json:"max_leverage"`
	MinRiskReward float64                                `json:"min_risk_reward"`
}

// UserPrompt renders the snapshot the model decides on.
func UserPrompt(snap *types.MarketSnapshot) (string, error) {
	bars := snap.BarsFor(snap.Primary())
	if len(bars) > recentBars {
		bars = bars[len(bars)-recentBars:]
	}
	state := promptState{
		Symbol:        snap.Symbol,
		Timeframes:    snap.Timeframes,
		Indicators:    snap.Indicators,
		RecentBars:    bars,
		OpenPositions: snap.OpenPositions,
		Balance:       snap.AccountBalance,
		MaxLeverage:   snap.Risk.MaxLeverage,
		MinRiskReward: snap.Risk.MinRiskReward,
	}
	b, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Schema:%s\nState:%s\n\nThe first timeframe is primary. Respond ONLY with compact JSON matching the schema.",
		Schema, string(b)), nil
}

// ParseResult extracts the JSON object from a model reply and validates it.
// Replies wrapped in prose or code fences are accepted.
func ParseResult(text string) (types.OracleResult, error) {
	const op = "llm.ParseResult"
	t := strings.TrimSpace(text)
	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start < 0 || end <= start {
		return types.OracleResult{}, errs.Newf(errs.KindAIService, op, "no JSON object in reply %q", truncate(t, 120))
	}
	var r types.OracleResult
	if err := json.Unmarshal([]byte(t[start:end+1]), &r); err != nil {
		return types.OracleResult{}, errs.E(errs.KindAIService, op, fmt.Errorf("decode reply: %w", err))
	}

	r.Direction = types.Direction(strings.ToUpper(strings.TrimSpace(string(r.Direction))))
	switch r.Direction {
	case types.Buy, types.Sell, types.Hold, types.Close:
	default:
		return types.OracleResult{}, errs.Newf(errs.KindAIService, op, "unknown direction %q", r.Direction)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return types.OracleResult{}, errs.Newf(errs.KindAIService, op, "confidence %v outside 0-100", r.Confidence)
	}
	if r.StopLoss < 0 || r.TakeProfit < 0 || r.EntryPrice < 0 || r.RecommendedLeverage < 0 {
		return types.OracleResult{}, errs.New(errs.KindAIService, op, "negative price or leverage")
	}
	return r, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// HoldResult is the fallback answer when the oracle cannot be used.
func HoldResult(reason string) types.OracleResult {
	return types.OracleResult{
		Direction:      types.Hold,
		Reasoning:      "AI oracle unavailable: " + reason,
		RiskAssessment: "no position taken",
		Fallback:       true,
	}
}

type fallbackOracle struct {
	next interfaces.Oracle
}

// WithFallback converts every oracle failure into a HOLD result carrying the
// reason, so a cycle never fails because the AI service did.
func WithFallback(next interfaces.Oracle) interfaces.Oracle {
	return &fallbackOracle{next: next}
}

func (f *fallbackOracle) AnalyzeAndDecide(ctx context.Context, snap *types.MarketSnapshot) (types.OracleResult, error) {
	if f.next == nil {
		return HoldResult("no oracle configured"), nil
	}
	r, err := f.next.AnalyzeAndDecide(ctx, snap)
	if err != nil {
		logger.Warn(ctx, "AI oracle failed, falling back to HOLD", "symbol", snap.Symbol, "error", err.Error())
		return HoldResult(err.Error()), nil
	}
	return r, nil
}
