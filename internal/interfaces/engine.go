package interfaces

import (
	"context"

	"futures-bot/internal/types"
)

type Engine interface {
	Analyze(ctx context.Context, symbol string) (*types.CycleResult, error)
}
