package noop

import (
	"context"

	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
	"futures-bot/internal/types"
)

// Oracle is used when no AI provider is configured. It always answers HOLD.
type Oracle struct{}

var _ interfaces.Oracle = (*Oracle)(nil)

func New() *Oracle {
	return &Oracle{}
}

func (o *Oracle) AnalyzeAndDecide(ctx context.Context, snap *types.MarketSnapshot) (types.OracleResult, error) {
	logger.Debug(ctx, "Noop oracle called - always returns HOLD", "symbol", snap.Symbol)
	return types.OracleResult{
		Direction:      types.Hold,
		Reasoning:      "no AI provider configured",
		RiskAssessment: "no position taken",
	}, nil
}
