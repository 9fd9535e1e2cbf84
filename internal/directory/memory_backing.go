package directory

import (
	"context"
	"sync"
)

// MemoryBacking is an in-process Backing, shared across silos in tests by
// pointing them at the same instance, or used as the sole backing for
// single-silo deployments.
type MemoryBacking struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryBacking() *MemoryBacking {
	return &MemoryBacking{m: make(map[string]string)}
}

func (b *MemoryBacking) Lookup(_ context.Context, actorType, actorID string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	siloID, ok := b.m[key(actorType, actorID)]
	return siloID, ok, nil
}

func (b *MemoryBacking) Publish(_ context.Context, actorType, actorID, siloID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[key(actorType, actorID)] = siloID
	return nil
}

func (b *MemoryBacking) Invalidate(_ context.Context, actorType, actorID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.m, key(actorType, actorID))
	return nil
}
