package interfaces

import (
	"context"
	"time"

	"futures-bot/internal/types"
)

// Repository persists decisions, trades, execution claims and equity history.
type Repository interface {
	SaveDecision(ctx context.Context, d *types.Decision) error
	GetDecision(ctx context.Context, id string) (*types.Decision, error)
	ListDecisions(ctx context.Context, f types.DecisionFilter) ([]types.Decision, error)
	MarkDecisionExecuted(ctx context.Context, id string) error
	SetExecutionError(ctx context.Context, id, msg string) error

	GetTrade(ctx context.Context, id string) (*types.Trade, error)
	TradeByDecision(ctx context.Context, decisionID string) (*types.Trade, error)
	ListTrades(ctx context.Context, f types.TradeFilter) ([]types.Trade, error)
	OpenTrades(ctx context.Context) ([]types.Trade, error)
	CloseTrade(ctx context.Context, t *types.Trade) (bool, error)
	CancelTrade(ctx context.Context, id string) error
	RealizedPnLSince(ctx context.Context, since time.Time) (float64, error)

	ClaimExecution(ctx context.Context, decisionID string) (bool, error)
	ReleaseClaim(ctx context.Context, decisionID string) error
	CommitExecution(ctx context.Context, t *types.Trade) error
	FinishClaim(ctx context.Context, decisionID string) error
	StaleClaims(ctx context.Context, olderThan time.Time) ([]string, error)

	SaveEquitySnapshot(ctx context.Context, s types.EquitySnapshot) error
	PeakEquity(ctx context.Context) (float64, error)
}
