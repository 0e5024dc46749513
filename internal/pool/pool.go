// Package pool bounds how many order workers may be active at once and
// tracks the identities of the active ones.
package pool

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is the admission bound applied when none is configured.
const DefaultCapacity = 100

// Pool gates worker admission with a weighted semaphore and keeps a
// lock-guarded registry of active worker identities. The registry exists for
// observability and admission accounting; scheduling correctness never
// depends on it.
type Pool struct {
	sem *semaphore.Weighted

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a Pool with the given capacity. Capacity below 1 falls back to
// DefaultCapacity.
func New(capacity int) *Pool {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(capacity)),
		active: make(map[string]struct{}),
	}
}

// Acquire blocks until a worker slot is free or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release returns a slot to the pool. Call it unconditionally on exit from
// the active region.
func (p *Pool) Release() {
	p.sem.Release(1)
}

// Spawn registers a worker identity as active.
func (p *Pool) Spawn(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[id] = struct{}{}
}

// Despawn removes a worker identity. Removing an unknown identity is a no-op.
func (p *Pool) Despawn(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, id)
}

// ActiveCount returns the number of registered worker identities.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Active returns a sorted snapshot of the registered worker identities.
func (p *Pool) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
