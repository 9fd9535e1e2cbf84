package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// ConsulStore backs the Store collaborator with Consul's KV store and blocking
// queries, giving silos a shared registry without requiring them to also run
// serf gossip. github.com/hashicorp/consul/api is a pack dependency named
// per the retrieval pool, not grounded in the teacher directly (the teacher's
// own shared registry is Corrosion over HTTP, not Consul) — see DESIGN.md.
type ConsulStore struct {
	client *consulapi.Client
	prefix string
}

// NewConsulStore connects to a Consul agent at addr (empty = default
// localhost:8500) and stores silo descriptors under prefix+"/<silo_id>".
func NewConsulStore(addr, prefix string) (*ConsulStore, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("cluster: consul client: %w", err)
	}
	if prefix == "" {
		prefix = "silo/members"
	}
	return &ConsulStore{client: client, prefix: strings.TrimSuffix(prefix, "/")}, nil
}

func (c *ConsulStore) key(siloID string) string {
	return c.prefix + "/" + siloID
}

func (c *ConsulStore) Register(_ context.Context, d SiloDescriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("cluster: marshal descriptor: %w", err)
	}
	_, err = c.client.KV().Put(&consulapi.KVPair{Key: c.key(d.SiloID), Value: data}, nil)
	if err != nil {
		return fmt.Errorf("cluster: consul put: %w", err)
	}
	return nil
}

func (c *ConsulStore) Unregister(_ context.Context, siloID string) error {
	_, err := c.client.KV().Delete(c.key(siloID), nil)
	if err != nil {
		return fmt.Errorf("cluster: consul delete: %w", err)
	}
	return nil
}

func (c *ConsulStore) List(_ context.Context) ([]SiloDescriptor, error) {
	pairs, _, err := c.client.KV().List(c.prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("cluster: consul list: %w", err)
	}
	out := make([]SiloDescriptor, 0, len(pairs))
	for _, p := range pairs {
		var d SiloDescriptor
		if err := json.Unmarshal(p.Value, &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Watch polls Consul's KV prefix with blocking queries and diffs against the
// previous snapshot to synthesize Join/Left/Updated events, since Consul's KV
// API has no native push model comparable to serf's event channel.
func (c *ConsulStore) Watch(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 32)
	go c.watchLoop(ctx, ch)
	return ch, nil
}

func (c *ConsulStore) watchLoop(ctx context.Context, ch chan<- Event) {
	defer close(ch)
	prev := map[string]SiloDescriptor{}
	var lastIndex uint64

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pairs, meta, err := c.client.KV().List(c.prefix, &consulapi.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  30 * time.Second,
			Ctx:       ctx,
		})
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		lastIndex = meta.LastIndex

		cur := map[string]SiloDescriptor{}
		for _, p := range pairs {
			var d SiloDescriptor
			if err := json.Unmarshal(p.Value, &d); err != nil {
				continue
			}
			cur[d.SiloID] = d
		}

		for id, d := range cur {
			if old, ok := prev[id]; !ok {
				emit(ctx, ch, Event{Kind: SiloJoined, Silo: d})
			} else if !old.LastHeartbeatAt.Equal(d.LastHeartbeatAt) || old.Endpoint != d.Endpoint {
				emit(ctx, ch, Event{Kind: SiloUpdated, Silo: d})
			}
		}
		for id, d := range prev {
			if _, ok := cur[id]; !ok {
				emit(ctx, ch, Event{Kind: SiloLeft, Silo: d})
			}
		}
		prev = cur
	}
}

func emit(ctx context.Context, ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
	case <-ctx.Done():
	}
}
