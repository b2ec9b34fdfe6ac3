package openai

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
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "gpt-4o-mini"
)

// Oracle asks the OpenAI chat completions API for a decision.
type Oracle struct {
	cfg  llm.Config
	http *resty.Client
}

var _ interfaces.Oracle = (*Oracle)(nil)

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
			SetAuthToken(cfg.APIKey),
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []message         `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *Oracle) AnalyzeAndDecide(ctx context.Context, snap *types.MarketSnapshot) (types.OracleResult, error) {
	const op = "openai.AnalyzeAndDecide"
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	if o.cfg.APIKey == "" {
		return types.OracleResult{}, errs.New(errs.KindAIService, op, "OPENAI_API_KEY missing")
	}
	user, err := llm.UserPrompt(snap)
	if err != nil {
		return types.OracleResult{}, errs.E(errs.KindAIService, op, err)
	}

	var out chatResponse
	resp, err := o.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: o.cfg.Model,
			Messages: []message{
				{Role: "system", Content: o.cfg.System},
				{Role: "user", Content: user},
			},
			Temperature:    o.cfg.Temperature,
			MaxTokens:      o.cfg.MaxTokens,
			ResponseFormat: map[string]string{"type": "json_object"},
		}).
		SetResult(&out).
		SetError(&apiError{}).
		Post("/v1/chat/completions")
	if err != nil {
		return types.OracleResult{}, errs.E(errs.KindAIService, op, err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error.Message != "" {
			return types.OracleResult{}, errs.Newf(errs.KindAIService, op, "openai http %d: %s", resp.StatusCode(), e.Error.Message)
		}
		return types.OracleResult{}, errs.Newf(errs.KindAIService, op, "openai http %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return types.OracleResult{}, errs.New(errs.KindAIService, op, "no choices")
	}
	return llm.ParseResult(out.Choices[0].Message.Content)
}
