// Package cluster implements membership (spec §4.2, C2): silo registration,
// heartbeats, liveness windows, and join/leave events that drive ring
// rebuilds, grounded on the teacher's internal/daemon/membership.Service
// (a thin Reconcile/ReconcilePeers wrapper around a pluggable Controller)
// generalized from "reconcile peer configuration" to "register, heartbeat,
// and track liveness." Gossip transport is github.com/hashicorp/serf/serf
// (a pack dependency, not a teacher one — no pack repo ships its own gossip
// layer, so this is named per the corpus's retrieval pool rather than
// grounded in the teacher directly); the shared registration store is
// fronted by the Store collaborator interface, with an in-memory
// reference implementation and a Consul-backed one.
package cluster

import "time"

// VersionInfo describes one actor type's deployed version on a silo, used by
// C11's version-aware placement (spec §4.11).
type VersionInfo struct {
	Major, Minor, Patch int
}

// Compat reports whether v satisfies want under the given compatibility mode.
func (v VersionInfo) Compat(want VersionInfo, mode CompatMode) bool {
	switch mode {
	case Strict:
		return v == want
	case Patch:
		return v.Major == want.Major && v.Minor == want.Minor
	case Minor:
		// spec §9 Open Question (a): the spec resolves the ambiguity as
		// "same major, any minor/patch" — NOT "same major and minor".
		return v.Major == want.Major
	case Major:
		return v.Major == want.Major
	default:
		return false
	}
}

// CompatMode is the version-compatibility mode of spec §4.11.
type CompatMode uint8

const (
	Strict CompatMode = iota
	Patch
	Minor
	Major
)

// SiloDescriptor is the per-process registration record of spec §3.
type SiloDescriptor struct {
	SiloID            string
	Endpoint          string
	RegionID          string
	ZoneID            string
	ActorTypeVersions map[string]VersionInfo
	LastHeartbeatAt   time.Time
}

// Active reports liveness per spec §3: now - last_heartbeat_at < window.
func (d SiloDescriptor) Active(now time.Time, window time.Duration) bool {
	return now.Sub(d.LastHeartbeatAt) < window
}
