package ring

// Bias configures the region/zone placement preference of spec §4.1's
// "optional hierarchical variant": prefer a silo in the same zone, else the
// same region, else fall back to the global ring. Modeled on the teacher's
// internal/daemon/proxy.director pattern (narrow the candidate set to
// machines matching a preferred attribute, falling back to the full set
// when the narrowed one is empty) applied to ring placement instead of
// proxy target selection.
type Bias struct {
	PreferSameRegion bool
	PreferSameZone   bool
}

// Hierarchical wraps a Ring with caller region/zone context so Get can apply
// a placement bias before falling back to the plain ring.
type Hierarchical struct {
	ring *Ring
}

func NewHierarchical(r *Ring) *Hierarchical {
	return &Hierarchical{ring: r}
}

// Get resolves key with a bias towards nodes matching callerRegion/
// callerZone. It returns the global ring owner when no bias is set or when
// that owner already matches; otherwise it returns the lexicographically
// lowest matching silo id (zone first, then region), without regard to ring
// distance, and falls back to the global owner when no silo matches.
func (h *Hierarchical) Get(key, callerRegion, callerZone string, bias Bias) (string, bool) {
	global, ok := h.ring.Get(key)
	if !ok {
		return "", false
	}
	if !bias.PreferSameRegion && !bias.PreferSameZone {
		return global, true
	}

	nodes := h.ring.Nodes()
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.SiloID] = n
	}

	if bias.PreferSameZone && callerZone != "" {
		if candidate, ok := bestMatch(nodes, byID[global], func(n Node) bool {
			return n.Zone == callerZone
		}); ok {
			return candidate, true
		}
	}
	if bias.PreferSameRegion && callerRegion != "" {
		if candidate, ok := bestMatch(nodes, byID[global], func(n Node) bool {
			return n.Region == callerRegion
		}); ok {
			return candidate, true
		}
	}
	return global, true
}

// bestMatch returns the global winner if it already satisfies pred, else the
// lexicographically-lowest silo id among nodes satisfying pred (spec §4.1's
// tie-break rule), else !ok so the caller falls back to the global pick.
func bestMatch(nodes []Node, global Node, pred func(Node) bool) (string, bool) {
	if pred(global) {
		return global.SiloID, true
	}
	best := ""
	for _, n := range nodes {
		if !pred(n) {
			continue
		}
		if best == "" || n.SiloID < best {
			best = n.SiloID
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}
