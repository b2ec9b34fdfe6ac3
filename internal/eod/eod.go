// Package eod writes a per-day CSV summary of closed trades.
package eod

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"futures-bot/internal/interfaces"
	"futures-bot/internal/types"
)

var headers = []string{"symbol", "trades", "wins", "losses", "longs", "shorts", "win_rate_pct", "gross_profit", "gross_loss", "realized_pnl"}

type Summarizer struct {
	repo interfaces.Repository
	dir  string
}

// New returns a Summarizer writing to dir/eod. An empty dir means
// TRADER_LOG_DIR, then "logs".
func New(repo interfaces.Repository, dir string) *Summarizer {
	if dir == "" {
		dir = os.Getenv("TRADER_LOG_DIR")
	}
	if dir == "" {
		dir = "logs"
	}
	return &Summarizer{repo: repo, dir: dir}
}

// CSVPath is where the report for day is written.
func (s *Summarizer) CSVPath(day time.Time) string {
	return filepath.Join(s.dir, "eod", day.UTC().Format("2006-01-02")+".csv")
}

// SummarizeDay aggregates trades closed during the UTC day by symbol. It
// returns "" and no error when nothing closed that day.
func (s *Summarizer) SummarizeDay(ctx context.Context, day time.Time) (string, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	closed, err := s.repo.ListTrades(ctx, types.TradeFilter{Status: types.TradeClosed})
	if err != nil {
		return "", err
	}

	aggs := map[string]*aggRow{}
	for _, t := range closed {
		if t.ClosedAt == nil || t.ClosedAt.Before(start) || !t.ClosedAt.Before(end) {
			continue
		}
		row := aggs[t.Symbol]
		if row == nil {
			row = &aggRow{Symbol: t.Symbol}
			aggs[t.Symbol] = row
		}
		row.Trades++
		if t.Side == types.Long {
			row.Longs++
		} else {
			row.Shorts++
		}
		pnl := decimal.NewFromFloat(t.PnL)
		if pnl.IsPositive() {
			row.Wins++
			row.GrossProfit = row.GrossProfit.Add(pnl)
		} else {
			row.Losses++
			row.GrossLoss = row.GrossLoss.Add(pnl)
		}
	}
	if len(aggs) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := s.CSVPath(start)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(headers); err != nil {
		return "", err
	}
	total := &aggRow{Symbol: "TOTAL"}
	for _, k := range keys {
		r := aggs[k]
		if err := w.Write(record(r)); err != nil {
			return "", err
		}
		total.Trades += r.Trades
		total.Wins += r.Wins
		total.Losses += r.Losses
		total.Longs += r.Longs
		total.Shorts += r.Shorts
		total.GrossProfit = total.GrossProfit.Add(r.GrossProfit)
		total.GrossLoss = total.GrossLoss.Add(r.GrossLoss)
	}
	if err := w.Write(record(total)); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

// ShouldRun reports whether yesterday's (UTC) report is still missing.
func (s *Summarizer) ShouldRun(now time.Time) (bool, time.Time) {
	day := now.UTC().AddDate(0, 0, -1)
	if _, err := os.Stat(s.CSVPath(day)); errors.Is(err, os.ErrNotExist) {
		return true, day
	}
	return false, day
}

func record(r *aggRow) []string {
	return []string{
		r.Symbol,
		strconv.Itoa(r.Trades),
		strconv.Itoa(r.Wins),
		strconv.Itoa(r.Losses),
		strconv.Itoa(r.Longs),
		strconv.Itoa(r.Shorts),
		fmt.Sprintf("%.2f", r.winRate()),
		r.GrossProfit.StringFixed(2),
		r.GrossLoss.StringFixed(2),
		r.realized().StringFixed(2),
	}
}
