// Package state implements the state storage contract (spec §4.8, C8):
// optimistic-concurrency load/save/delete keyed by (actor_id, state_name).
//
// Grounded on the teacher's internal/control/state.Store (a sqlite-backed
// table of network specs keyed by name, upserted with
// "ON CONFLICT DO UPDATE", read back with GetSpec/ListSpecs) — generalized
// from one fixed schema to the Driver collaborator interface spec §6 asks
// for, so a concrete backend can implement the same upsert-keyed-by-name
// shape for any (actor_id, state_name) pair; the version check itself is
// new (the teacher's rows aren't optimistically versioned), specified
// directly from spec §4.8/§6 text, with an in-memory reference Driver for
// tests following the package's own MemoryStore idiom established in
// internal/cluster.
package state

import (
	"context"
	"sync"

	"github.com/meshkit/silo/internal/siloerr"
)

// Record is the stored {state, version} pair.
type Record struct {
	State   []byte
	Version uint64
}

// Driver implements C8 for one concrete backend.
type Driver interface {
	// LoadWithVersion returns the current record, or ok=false if none exists.
	LoadWithVersion(ctx context.Context, actorID, stateName string) (Record, bool, error)

	// SaveWithVersion stores state and returns the new version.
	// expectedVersion == nil means insert-only: fails with Concurrency if a
	// record already exists. Otherwise fails with Concurrency(expected,
	// actual) if the stored version does not match.
	SaveWithVersion(ctx context.Context, actorID, stateName string, value []byte, expectedVersion *uint64) (uint64, error)

	Delete(ctx context.Context, actorID, stateName string) error
}

// MemoryDriver is an in-process reference Driver, suitable for tests and
// actors that don't need cross-process durability.
type MemoryDriver struct {
	mu   sync.Mutex
	data map[string]Record
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{data: make(map[string]Record)}
}

func key(actorID, stateName string) string {
	return actorID + "\x00" + stateName
}

func (d *MemoryDriver) LoadWithVersion(_ context.Context, actorID, stateName string) (Record, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.data[key(actorID, stateName)]
	return r, ok, nil
}

func (d *MemoryDriver) SaveWithVersion(_ context.Context, actorID, stateName string, value []byte, expectedVersion *uint64) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key(actorID, stateName)
	cur, exists := d.data[k]

	if expectedVersion == nil {
		if exists {
			return 0, siloerr.ConcurrencyErr(0, cur.Version)
		}
		d.data[k] = Record{State: value, Version: 1}
		return 1, nil
	}

	if !exists {
		return 0, siloerr.ConcurrencyErr(*expectedVersion, 0)
	}
	if cur.Version != *expectedVersion {
		return 0, siloerr.ConcurrencyErr(*expectedVersion, cur.Version)
	}

	next := cur.Version + 1
	d.data[k] = Record{State: value, Version: next}
	return next, nil
}

func (d *MemoryDriver) Delete(_ context.Context, actorID, stateName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, key(actorID, stateName))
	return nil
}
