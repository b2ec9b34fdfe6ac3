package llmobs

import (
	"context"

	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
	"futures-bot/internal/trace"
	"futures-bot/internal/types"
)

// observableOracle wraps an Oracle with observability (logging & tracing)
type observableOracle struct {
	oracle interfaces.Oracle
}

var _ interfaces.Oracle = (*observableOracle)(nil)

// Wrap wraps an oracle with observability middleware
func Wrap(oracle interfaces.Oracle) interfaces.Oracle {
	return &observableOracle{oracle: oracle}
}

func (o *observableOracle) AnalyzeAndDecide(ctx context.Context, snap *types.MarketSnapshot) (types.OracleResult, error) {
	ctx, span := trace.StartSpan(ctx, "llm.AnalyzeAndDecide")
	defer span.End()

	// DebugSkip(1) reports the caller, not this wrapper
	logger.DebugSkip(ctx, 1, "Requesting AI decision",
		"symbol", snap.Symbol,
		"price", snap.LastClose(),
		"timeframes", len(snap.Timeframes),
	)

	res, err := o.oracle.AnalyzeAndDecide(ctx, snap)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to get AI decision", err,
			"symbol", snap.Symbol,
			"price", snap.LastClose(),
		)
		return types.OracleResult{}, err
	}

	logger.InfoSkip(ctx, 1, "AI decision received",
		"symbol", snap.Symbol,
		"direction", string(res.Direction),
		"confidence", res.Confidence,
		"reasoning", res.Reasoning,
	)
	return res, nil
}
