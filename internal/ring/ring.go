// Package ring implements the consistent-hash placement oracle of spec §4.1
// (C1): a lock-free-read, copy-on-write ring mapping "{actor_type}:{actor_id}"
// to a silo id. Hashing uses xxhash (github.com/cespare/xxhash/v2), already in
// the dependency closure for fingerprinting and promoted here to direct use —
// see DESIGN.md for the grounding.
package ring

import (
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Node is one member of the ring: a silo plus its placement weight.
type Node struct {
	SiloID   string
	Weight   int
	Region   string
	Zone     string
}

const defaultVirtualNodes = 100

// vnode is one point on the ring.
type vnode struct {
	hash   uint64
	siloID string
}

// snapshot is the immutable table published on every write; reads never lock.
type snapshot struct {
	vnodes []vnode // sorted by hash
	nodes  map[string]Node
}

// Ring is the consistent hash ring. Zero value is not usable; use New.
type Ring struct {
	cur atomic.Pointer[snapshot]
}

// New builds an empty ring.
func New() *Ring {
	r := &Ring{}
	r.cur.Store(&snapshot{nodes: map[string]Node{}})
	return r
}

func hashOf(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Add inserts or replaces a node and rebuilds the published snapshot. Add is
// a write path: it takes no lock, but multiple concurrent Adds/Removes must
// be externally serialized by the caller (membership owns one ring per
// process and funnels all topology changes through it single-threaded).
func (r *Ring) Add(n Node) {
	if n.Weight <= 0 {
		n.Weight = 1
	}
	prev := r.cur.Load()
	nodes := cloneNodes(prev.nodes)
	nodes[n.SiloID] = n
	r.publish(nodes)
}

// Remove deletes a node and rebuilds the published snapshot.
func (r *Ring) Remove(siloID string) {
	prev := r.cur.Load()
	if _, ok := prev.nodes[siloID]; !ok {
		return
	}
	nodes := cloneNodes(prev.nodes)
	delete(nodes, siloID)
	r.publish(nodes)
}

func cloneNodes(m map[string]Node) map[string]Node {
	out := make(map[string]Node, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (r *Ring) publish(nodes map[string]Node) {
	vnodeCount := defaultVirtualNodes
	vnodes := make([]vnode, 0, len(nodes)*vnodeCount)
	for id, n := range nodes {
		count := vnodeCount * n.Weight
		for i := 0; i < count; i++ {
			h := hashOf(id + "#" + strconv.Itoa(i))
			vnodes = append(vnodes, vnode{hash: h, siloID: id})
		}
	}
	sort.Slice(vnodes, func(i, j int) bool {
		if vnodes[i].hash != vnodes[j].hash {
			return vnodes[i].hash < vnodes[j].hash
		}
		// Tie-break: lower silo_id lexicographically (spec §4.1).
		return vnodes[i].siloID < vnodes[j].siloID
	})
	r.cur.Store(&snapshot{vnodes: vnodes, nodes: nodes})
}

// Get returns the silo owning key, by walking clockwise from key's hash to
// the first virtual node whose hash is >= target, wrapping around. Wait-free:
// a single atomic load plus a binary search over an immutable slice.
func (r *Ring) Get(key string) (string, bool) {
	snap := r.cur.Load()
	if len(snap.vnodes) == 0 {
		return "", false
	}
	target := hashOf(key)
	idx := sort.Search(len(snap.vnodes), func(i int) bool {
		return snap.vnodes[i].hash >= target
	})
	if idx == len(snap.vnodes) {
		idx = 0
	}
	return snap.vnodes[idx].siloID, true
}

// Nodes returns a point-in-time copy of the member set.
func (r *Ring) Nodes() []Node {
	snap := r.cur.Load()
	out := make([]Node, 0, len(snap.nodes))
	for _, n := range snap.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SiloID < out[j].SiloID })
	return out
}

// Len reports the number of distinct silos currently in the ring.
func (r *Ring) Len() int {
	return len(r.cur.Load().nodes)
}
