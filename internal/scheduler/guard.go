package scheduler

import (
	"context"
	"sync"
)

// CycleGuard keeps at most one running cycle per key. Starting a cycle
// cancels the one it supersedes.
type CycleGuard struct {
	mu      sync.Mutex
	seq     uint64
	running map[string]running
}

type running struct {
	id     uint64
	cancel context.CancelFunc
}

func NewCycleGuard() *CycleGuard {
	return &CycleGuard{running: make(map[string]running)}
}

// Begin cancels any cycle running under key and returns the context of the
// new one. done must be called when the cycle ends; it only clears the key if
// the cycle was not superseded meanwhile.
func (g *CycleGuard) Begin(ctx context.Context, key string) (context.Context, func()) {
	cctx, cancel := context.WithCancel(ctx)

	g.mu.Lock()
	if prev, ok := g.running[key]; ok {
		prev.cancel()
	}
	g.seq++
	id := g.seq
	g.running[key] = running{id: id, cancel: cancel}
	g.mu.Unlock()

	return cctx, func() {
		cancel()
		g.mu.Lock()
		if cur, ok := g.running[key]; ok && cur.id == id {
			delete(g.running, key)
		}
		g.mu.Unlock()
	}
}

// Running reports whether a cycle is in flight for key.
func (g *CycleGuard) Running(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.running[key]
	return ok
}
