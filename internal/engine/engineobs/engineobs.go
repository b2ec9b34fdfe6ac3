package engineobs

import (
	"context"
	"time"

	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
	"futures-bot/internal/trace"
	"futures-bot/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) Analyze(ctx context.Context, symbol string) (*types.CycleResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.Analyze")
	defer span.End()

	start := time.Now()

	logger.InfoSkip(ctx, 1, "Starting analysis cycle",
		"symbol", symbol,
	)

	result, err := oe.engine.Analyze(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Analysis cycle failed", err,
			"symbol", symbol,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	if result.Deferred {
		logger.WarnSkip(ctx, 1, "Analysis cycle deferred",
			"symbol", symbol,
			"reason", result.Reason,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return result, nil
	}

	logger.InfoSkip(ctx, 1, "Analysis cycle completed",
		"symbol", symbol,
		"decision_id", result.Decision.ID,
		"direction", string(result.Decision.Direction),
		"confidence", result.Decision.Confidence,
		"approved", result.Approved,
		"gate", result.GateReason,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}
