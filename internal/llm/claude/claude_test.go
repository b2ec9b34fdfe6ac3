package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"futures-bot/internal/errs"
	"futures-bot/internal/llm"
	"futures-bot/internal/types"
)

func TestAnalyzeAndDecide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("Expected messages path, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "ck-test" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("Expected api key and version headers, got %v", r.Header)
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.System == "" || len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("Expected system prompt and one user message, got %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"direction\":\"CLOSE\",\"confidence\":90,\"reasoning\":\"target reached\"}"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	o := New(llm.Config{BaseURL: srv.URL, APIKey: "ck-test"})
	snap := &types.MarketSnapshot{Symbol: "ETHUSDT", Timeframes: []types.Timeframe{"1h"}}
	r, err := o.AnalyzeAndDecide(context.Background(), snap)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if r.Direction != types.Close || r.Confidence != 90 {
		t.Errorf("Expected CLOSE 90, got %+v", r)
	}
}

func TestEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[],"stop_reason":"max_tokens"}`))
	}))
	defer srv.Close()

	_, err := New(llm.Config{BaseURL: srv.URL, APIKey: "ck-test"}).AnalyzeAndDecide(context.Background(), &types.MarketSnapshot{Symbol: "BTCUSDT"})
	if !errs.Is(err, errs.KindAIService) {
		t.Errorf("Expected AIServiceFailure, got %v", err)
	}
}
