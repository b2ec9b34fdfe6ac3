package interfaces

import (
	"context"

	"futures-bot/internal/types"
)

// Oracle is an external AI service that turns a snapshot into a decision.
type Oracle interface {
	AnalyzeAndDecide(ctx context.Context, snap *types.MarketSnapshot) (types.OracleResult, error)
}
