package cluster

import "context"

// Store is the "Cluster store" collaborator of spec §6: a key/value store
// with pub/sub for silo registry and heartbeat channel. Concrete backends are
// external to the core (spec §1 Out of scope); this package ships an
// in-memory reference implementation (MemoryStore) for tests/single-process
// demos and a Consul-backed one for real clusters, matching spec §4.2's
// "shared storage" language.
type Store interface {
	// Register upserts a silo's descriptor (join or heartbeat refresh).
	Register(ctx context.Context, d SiloDescriptor) error
	// Unregister removes a silo's descriptor (graceful leave).
	Unregister(ctx context.Context, siloID string) error
	// List returns every registered descriptor, live or not; callers apply
	// the liveness_window filter themselves (spec §4.2).
	List(ctx context.Context) ([]SiloDescriptor, error)
	// Watch delivers membership events as they are observed. Closing ctx
	// stops the watch and closes the returned channel.
	Watch(ctx context.Context) (<-chan Event, error)
}

// EventKind distinguishes a SiloJoined from a SiloLeft notification.
type EventKind uint8

const (
	SiloJoined EventKind = iota
	SiloLeft
	SiloUpdated
)

// Event is a membership change notification (spec §4.2 "Join/leave events").
type Event struct {
	Kind  EventKind
	Silo  SiloDescriptor
}
