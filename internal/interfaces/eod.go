package interfaces

import (
	"context"
	"time"
)

// EodSummarizer writes the end-of-day report of closed trades.
type EodSummarizer interface {
	SummarizeDay(ctx context.Context, day time.Time) (csvPath string, err error)
	ShouldRun(now time.Time) (shouldRun bool, day time.Time)
}
