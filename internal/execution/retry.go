package execution

import (
	"context"
	"time"

	"futures-bot/internal/errs"
	"futures-bot/internal/logger"
)

// RetryPolicy bounds the caller-side retry loop. Backoff[i] is the wait after
// attempt i+1; the last entry repeats when attempts outnumber it.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second},
	}
}

// Delay is the wait after the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 || attempt < 1 {
		return 0
	}
	if attempt > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt-1]
}

// sleep waits for d or until ctx is done.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn until it succeeds, becomes a no-op, fails with a
// non-retryable kind, or the attempts run out. The returned Result is the
// last attempt's.
func Retry(ctx context.Context, p RetryPolicy, fn func(context.Context) Result) Result {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var res Result
	for attempt := 1; attempt <= attempts; attempt++ {
		res = fn(ctx)
		if res.Done() {
			return res
		}
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		logger.Warn(ctx, "Execution attempt failed, retrying",
			"decision_id", res.DecisionID,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay.String(),
			"error", res.Err.Error(),
		)
		if err := sleep(ctx, delay); err != nil {
			res.Err = errs.E(errs.KindExchange, "execution.Retry", err)
			return res
		}
	}
	logger.Error(ctx, "Execution retries exhausted",
		"decision_id", res.DecisionID,
		"attempts", attempts,
		"error", res.Err.Error(),
	)
	return res
}
