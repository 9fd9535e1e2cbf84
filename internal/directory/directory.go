// Package directory implements the actor directory (spec §4.3, C3): a weak,
// invalidatable cache mapping (actor_type, actor_id) to the silo currently
// believed to own it. It is a hint, never authoritative — the hash ring
// settles ownership for not-yet-activated actors, and a NotOwner reply from
// a stale target is how the hint gets corrected.
//
// Grounded on the teacher's internal/coordination/registry (Corrosion-backed
// machine/heartbeat rows kept as a local snapshot, refreshed on change
// events rather than queried fresh every time); here that
// snapshot-with-invalidation idiom is generalized to a shared LRU with
// explicit TTL, backed by hashicorp/golang-lru/v2 (a pack dependency — see
// DESIGN.md).
package directory

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultTTL = 30 * time.Second

type entry struct {
	siloID    string
	expiresAt time.Time
}

// Backing is the shared store behind the local cache (spec §4.3: "directory
// itself is backed by C2's shared store"). A silo queries it on a local
// miss and publishes to it when an activation completes locally.
type Backing interface {
	Lookup(ctx context.Context, actorType, actorID string) (siloID string, ok bool, err error)
	Publish(ctx context.Context, actorType, actorID, siloID string) error
	Invalidate(ctx context.Context, actorType, actorID string) error
}

// Directory is the per-process TTL-bounded cache fronting a Backing store.
type Directory struct {
	cache *lru.Cache[string, entry]
	ttl   time.Duration
	back  Backing
}

// New builds a Directory with the given capacity and TTL, fronting back.
// capacity <= 0 selects a default of 100,000 entries.
func New(back Backing, capacity int, ttl time.Duration) (*Directory, error) {
	if capacity <= 0 {
		capacity = 100_000
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Directory{cache: c, ttl: ttl, back: back}, nil
}

func key(actorType, actorID string) string {
	return actorType + ":" + actorID
}

// Resolve returns the silo believed to own (actorType, actorID), consulting
// the local cache first and falling back to Backing on a miss or expiry.
func (d *Directory) Resolve(ctx context.Context, actorType, actorID string) (string, bool, error) {
	k := key(actorType, actorID)
	if e, ok := d.cache.Get(k); ok {
		if time.Now().Before(e.expiresAt) {
			return e.siloID, true, nil
		}
		d.cache.Remove(k)
	}

	siloID, ok, err := d.back.Lookup(ctx, actorType, actorID)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	d.cache.Add(k, entry{siloID: siloID, expiresAt: time.Now().Add(d.ttl)})
	return siloID, true, nil
}

// MarkOwned records that this process (siloID) now owns the actor, called
// when an activation completes (spec §4.3: "updated when an activation
// completes on a silo").
func (d *Directory) MarkOwned(ctx context.Context, actorType, actorID, siloID string) error {
	k := key(actorType, actorID)
	d.cache.Add(k, entry{siloID: siloID, expiresAt: time.Now().Add(d.ttl)})
	return d.back.Publish(ctx, actorType, actorID, siloID)
}

// Invalidate drops any cached entry and the backing entry, called on
// deactivation, migration, or membership change (spec §4.3).
func (d *Directory) Invalidate(ctx context.Context, actorType, actorID string) error {
	d.cache.Remove(key(actorType, actorID))
	return d.back.Invalidate(ctx, actorType, actorID)
}

// Peek returns a cached hint without consulting Backing, used by callers
// that only want a fast-path check (e.g. the router's directory-hit test).
func (d *Directory) Peek(actorType, actorID string) (string, bool) {
	e, ok := d.cache.Get(key(actorType, actorID))
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.siloID, true
}
