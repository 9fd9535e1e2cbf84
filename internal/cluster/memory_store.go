package cluster

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store, suitable for tests and single-silo
// demos. Multiple silos in the same process can share one *MemoryStore to
// simulate a cluster without a real backing store.
type MemoryStore struct {
	mu    sync.Mutex
	silos map[string]SiloDescriptor
	subs  map[chan Event]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		silos: make(map[string]SiloDescriptor),
		subs:  make(map[chan Event]struct{}),
	}
}

func (s *MemoryStore) Register(_ context.Context, d SiloDescriptor) error {
	s.mu.Lock()
	_, existed := s.silos[d.SiloID]
	s.silos[d.SiloID] = d
	s.mu.Unlock()

	kind := SiloUpdated
	if !existed {
		kind = SiloJoined
	}
	s.broadcast(Event{Kind: kind, Silo: d})
	return nil
}

func (s *MemoryStore) Unregister(_ context.Context, siloID string) error {
	s.mu.Lock()
	d, ok := s.silos[siloID]
	delete(s.silos, siloID)
	s.mu.Unlock()

	if ok {
		s.broadcast(Event{Kind: SiloLeft, Silo: d})
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]SiloDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SiloDescriptor, 0, len(s.silos))
	for _, d := range s.silos {
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryStore) Watch(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 32)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *MemoryStore) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Slow watcher; drop rather than block registration. A dropped
			// event is not redelivered.
		}
	}
}
