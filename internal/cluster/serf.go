package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/serf/serf"
)

// SerfStore fronts Store with a gossip-based membership protocol instead of
// a shared KV backend, for clusters that prefer not to depend on an external
// store (spec §4.2 allows any shared-storage/gossip substrate). Descriptor
// fields travel as serf tags; heartbeat freshness rides on serf's own
// failure detector, so Register beyond the initial join is a tag update.
type SerfStore struct {
	serf   *serf.Serf
	events chan serf.Event

	mu    sync.Mutex
	cache map[string]SiloDescriptor
	subs  map[chan Event]struct{}
}

// SerfConfig configures the gossip transport. BindAddr/BindPort is this
// node's gossip listener; Join is a set of existing cluster members to
// contact on startup (empty for the first node).
type SerfConfig struct {
	NodeName string
	BindAddr string
	BindPort int
	Join     []string
}

func NewSerfStore(cfg SerfConfig) (*SerfStore, error) {
	conf := serf.DefaultConfig()
	conf.NodeName = cfg.NodeName
	conf.MemberlistConfig.BindAddr = cfg.BindAddr
	if cfg.BindPort != 0 {
		conf.MemberlistConfig.BindPort = cfg.BindPort
	}
	events := make(chan serf.Event, 256)
	conf.EventCh = events

	s, err := serf.Create(conf)
	if err != nil {
		return nil, fmt.Errorf("cluster: serf create: %w", err)
	}

	store := &SerfStore{
		serf:   s,
		events: events,
		cache:  make(map[string]SiloDescriptor),
		subs:   make(map[chan Event]struct{}),
	}

	if len(cfg.Join) > 0 {
		if _, err := s.Join(cfg.Join, true); err != nil {
			return nil, fmt.Errorf("cluster: serf join: %w", err)
		}
	}

	go store.pump()
	return store, nil
}

// Register publishes d's descriptor as this node's serf tags, which gossips
// to the rest of the cluster on the next tag-update broadcast.
func (s *SerfStore) Register(_ context.Context, d SiloDescriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("cluster: marshal descriptor: %w", err)
	}
	if err := s.serf.SetTags(map[string]string{"descriptor": string(data)}); err != nil {
		return fmt.Errorf("cluster: serf set tags: %w", err)
	}
	s.mu.Lock()
	s.cache[d.SiloID] = d
	s.mu.Unlock()
	return nil
}

// Unregister leaves the gossip ring gracefully.
func (s *SerfStore) Unregister(_ context.Context, siloID string) error {
	if siloID != s.serf.LocalMember().Name {
		return nil
	}
	return s.serf.Leave()
}

func (s *SerfStore) List(_ context.Context) ([]SiloDescriptor, error) {
	out := make([]SiloDescriptor, 0)
	for _, m := range s.serf.Members() {
		if d, ok := descriptorFromTags(m); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *SerfStore) Watch(ctx context.Context) (<-chan Event, error) {
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

// pump translates serf's member-event stream into cluster.Event
// notifications, since serf speaks in memberlist.Member terms rather than
// our SiloDescriptor.
func (s *SerfStore) pump() {
	for raw := range s.events {
		me, ok := raw.(serf.MemberEvent)
		if !ok {
			continue
		}
		var kind EventKind
		switch me.Type {
		case serf.EventMemberJoin, serf.EventMemberUpdate:
			kind = SiloJoined
			if me.Type == serf.EventMemberUpdate {
				kind = SiloUpdated
			}
		case serf.EventMemberLeave, serf.EventMemberFailed, serf.EventMemberReap:
			kind = SiloLeft
		default:
			continue
		}
		for _, m := range me.Members {
			d, ok := descriptorFromTags(m)
			if !ok {
				d = SiloDescriptor{SiloID: m.Name, Endpoint: fmt.Sprintf("%s:%d", m.Addr, m.Port), LastHeartbeatAt: time.Now()}
			}
			s.broadcast(Event{Kind: kind, Silo: d})
		}
	}
}

func descriptorFromTags(m serf.Member) (SiloDescriptor, bool) {
	raw, ok := m.Tags["descriptor"]
	if !ok {
		return SiloDescriptor{}, false
	}
	var d SiloDescriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return SiloDescriptor{}, false
	}
	if d.LastHeartbeatAt.IsZero() {
		d.LastHeartbeatAt = time.Now()
	}
	return d, true
}

func (s *SerfStore) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Shutdown leaves the gossip ring and releases its transport.
func (s *SerfStore) Shutdown() error {
	return s.serf.Shutdown()
}
