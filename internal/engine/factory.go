package engine

import (
	"futures-bot/internal/interfaces"
)

func New(cfg Config, deps Deps) interfaces.Engine {
	return newEngine(cfg, deps)
}
