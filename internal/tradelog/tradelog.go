// Package tradelog appends decisions and trade events to daily JSONL audit files.
package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"futures-bot/internal/types"
)

const ext = ".jsonl"

var (
	mu  sync.Mutex
	now = time.Now
)

// Trade event names.
const (
	EventOpen   = "OPEN"
	EventClose  = "CLOSE"
	EventCancel = "CANCEL"
	EventFailed = "FAILED"
)

type Entry struct {
	Time       string         `json:"time"`
	Event      string         `json:"event"`
	Symbol     string         `json:"symbol"`
	Side       string         `json:"side"`
	TradeID    string         `json:"trade_id,omitempty"`
	DecisionID string         `json:"decision_id,omitempty"`
	OrderID    string         `json:"order_id,omitempty"`
	Qty        float64        `json:"qty"`
	Price      float64        `json:"price"`
	Leverage   int            `json:"leverage,omitempty"`
	PnL        float64        `json:"pnl,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

type DecisionEntry struct {
	Time           string         `json:"time"`
	ID             string         `json:"id"`
	Symbol         string         `json:"symbol"`
	Direction      string         `json:"direction"`
	Confidence     float64        `json:"confidence"`
	Source         string         `json:"source"`
	Price          float64        `json:"price"`
	Reasoning      string         `json:"reasoning"`
	RiskAssessment string         `json:"risk_assessment"`
	Conditions     map[string]any `json:"conditions,omitempty"`
}

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func tradesFilepath(t time.Time) string {
	return filepath.Join(logDir(), "trades", t.UTC().Format("2006-01-02")+ext)
}

func decisionsFilepath(t time.Time) string {
	return filepath.Join(logDir(), "decisions", t.UTC().Format("2006-01-02")+ext)
}

func appendLine(p string, v any) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

func Append(e Entry) error {
	mu.Lock()
	defer mu.Unlock()
	t := now()
	e.Time = t.UTC().Format(time.RFC3339)
	return appendLine(tradesFilepath(t), e)
}

// AppendTrade records a trade lifecycle event.
func AppendTrade(event string, tr *types.Trade, reason string) error {
	price := tr.EntryPrice
	if event == EventClose {
		price = tr.ExitPrice
	}
	return Append(Entry{
		Event:      event,
		Symbol:     tr.Symbol,
		Side:       string(tr.Side),
		TradeID:    tr.ID,
		DecisionID: tr.DecisionID,
		OrderID:    tr.ExchangeOrderID,
		Qty:        tr.Quantity,
		Price:      price,
		Leverage:   tr.Leverage,
		PnL:        tr.PnL,
		Reason:     reason,
	})
}

func AppendDecision(d *types.Decision) error {
	mu.Lock()
	defer mu.Unlock()
	t := now()
	price, _ := d.MarketConditions["price"].(float64)
	return appendLine(decisionsFilepath(t), DecisionEntry{
		Time:           t.UTC().Format(time.RFC3339),
		ID:             d.ID,
		Symbol:         d.Symbol,
		Direction:      string(d.Direction),
		Confidence:     d.Confidence,
		Source:         d.Source,
		Price:          price,
		Reasoning:      d.Reasoning,
		RiskAssessment: d.RiskAssessment,
		Conditions:     d.MarketConditions,
	})
}

// CompressOlder gzips audit files untouched for more than retentionDays.
func CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(logDir(), func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ext {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			_ = os.Remove(p)
			return nil
		}
		return compress(p, gz)
	})
}

func compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return nil
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil
	}
	gw := gzip.NewWriter(out)
	_, copyErr := io.Copy(gw, in)
	_ = gw.Close()
	_ = out.Close()
	if copyErr == nil {
		_ = os.Remove(src)
	} else {
		_ = os.Remove(dst)
	}
	return nil
}
