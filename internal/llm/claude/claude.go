package claude

import (
	"context"
	"strings"

	"github.com/go-resty/resty/v2"

	"futures-bot/internal/errs"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/llm"
	"futures-bot/internal/trace"
	"futures-bot/internal/types"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-3-5-haiku-latest"
	anthropicVersion = "2023-06-01"
)

// Oracle implements interfaces.Oracle over the Anthropic Messages API.
type Oracle struct {
	cfg  llm.Config
	http *resty.Client
}

var _ interfaces.Oracle = (*Oracle)(nil)

// New creates a Claude-backed oracle. Point BaseURL at a proxy to route
// through one.
func New(cfg llm.Config) *Oracle {
	cfg = cfg.WithDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Oracle{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("x-api-key", cfg.APIKey).
			SetHeader("anthropic-version", anthropicVersion),
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// AnalyzeAndDecide sends the snapshot and parses the first text block of the reply.
func (o *Oracle) AnalyzeAndDecide(ctx context.Context, snap *types.MarketSnapshot) (types.OracleResult, error) {
	const op = "claude.AnalyzeAndDecide"
	ctx, span := trace.StartSpan(ctx, "claude-api-call")
	defer span.End()

	if o.cfg.APIKey == "" {
		return types.OracleResult{}, errs.New(errs.KindAIService, op, "CLAUDE_API_KEY missing")
	}
	user, err := llm.UserPrompt(snap)
	if err != nil {
		return types.OracleResult{}, errs.E(errs.KindAIService, op, err)
	}

	var out messagesResponse
	resp, err := o.http.R().
		SetContext(ctx).
		SetBody(messagesRequest{
			Model:       o.cfg.Model,
			System:      o.cfg.System,
			Messages:    []message{{Role: "user", Content: user}},
			MaxTokens:   o.cfg.MaxTokens,
			Temperature: o.cfg.Temperature,
		}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/v1/messages")
	if err != nil {
		return types.OracleResult{}, errs.E(errs.KindAIService, op, err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error.Message != "" {
			return types.OracleResult{}, errs.Newf(errs.KindAIService, op, "claude http %d: %s", resp.StatusCode(), e.Error.Message)
		}
		return types.OracleResult{}, errs.Newf(errs.KindAIService, op, "claude http %d", resp.StatusCode())
	}
	for _, c := range out.Content {
		if c.Type == "text" && strings.TrimSpace(c.Text) != "" {
			return llm.ParseResult(c.Text)
		}
	}
	return types.OracleResult{}, errs.Newf(errs.KindAIService, op, "no text content (stop reason %q)", out.StopReason)
}
