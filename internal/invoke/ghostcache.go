// ABOUTME: Periodically refreshed ghost-status cache for the agent roster
// ABOUTME: Readers see atomic wholesale snapshots; refreshes probe agents in parallel

package invoke

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yashkhare0/talkto/internal/store"
)

// GhostCache caches per-agent ghost status so list endpoints don't
// probe providers on every request. The whole map is swapped atomically
// after each refresh: readers see either the previous snapshot or the
// new one, never a partially built map.
type GhostCache struct {
	store    store.Store
	resolver *Resolver
	interval time.Duration
	logger   *slog.Logger

	snapshot atomic.Pointer[map[string]bool]
}

// NewGhostCache creates a cache refreshing at the given interval.
func NewGhostCache(s store.Store, r *Resolver, interval time.Duration, logger *slog.Logger) *GhostCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &GhostCache{
		store:    s,
		resolver: r,
		interval: interval,
		logger:   logger.With("component", "ghost-cache"),
	}
}

// Ghost reports the cached ghost status for an agent. Unknown names
// (and reads before the first refresh) report false.
func (g *GhostCache) Ghost(name string) bool {
	m := g.snapshot.Load()
	if m == nil {
		return false
	}
	return (*m)[name]
}

// Snapshot returns a copy of the current cache contents.
func (g *GhostCache) Snapshot() map[string]bool {
	m := g.snapshot.Load()
	if m == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(*m))
	for name, ghost := range *m {
		out[name] = ghost
	}
	return out
}

// Refresh probes every agent in parallel and swaps in the new snapshot.
// Individual probe failures just mark that agent; they never abort the
// refresh.
func (g *GhostCache) Refresh(ctx context.Context) {
	agents, err := g.store.ListAgents(ctx)
	if err != nil {
		g.logger.Warn("ghost refresh skipped, listing agents failed", "error", err)
		return
	}

	next := make(map[string]bool, len(agents))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, agent := range agents {
		wg.Go(func() {
			ghost := g.resolver.IsGhost(ctx, agent.Name)
			mu.Lock()
			next[agent.Name] = ghost
			mu.Unlock()
		})
	}
	wg.Wait()

	g.snapshot.Store(&next)
	g.logger.Debug("ghost cache refreshed", "agents", len(next))
}

// Run refreshes immediately, then on a ticker until ctx is done.
func (g *GhostCache) Run(ctx context.Context) {
	g.Refresh(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Refresh(ctx)
		}
	}
}
