// Package diag serves spec §6's diagnostic HTTP surface: /health (silo
// liveness plus cluster membership summary), /metrics (Prometheus
// exposition), and the read/operate endpoints siloctl drives (/dlq,
// /dlq/replay, /migration/status) per SPEC_FULL.md's "siloctl ... reads its
// diagnostic HTTP surface". Routed with github.com/go-chi/chi/v5 (a pack
// dependency, named per the retrieval pool rather than grounded in the
// teacher, which serves its daemon API directly over gRPC).
package diag

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClusterView is the membership snapshot /health reports; cmd/silod
// satisfies it with a small adapter over *cluster.Membership, so diag never
// imports the cluster package.
type ClusterView interface {
	Self() SiloSummary
	ActiveCount() int
	ActiveSilos() []SiloSummary
}

// SiloSummary is the subset of cluster.SiloDescriptor the HTTP surface
// exposes.
type SiloSummary struct {
	SiloID   string `json:"silo_id"`
	Endpoint string `json:"endpoint"`
	RegionID string `json:"region_id,omitempty"`
	ZoneID   string `json:"zone_id,omitempty"`
}

type healthResponse struct {
	Status      string        `json:"status"`
	Self        SiloSummary   `json:"self"`
	ActiveSilos []SiloSummary `json:"active_silos"`
	Timestamp   time.Time     `json:"timestamp"`
}

// DLQView exposes internal/dlq.Queue's read/replay surface without diag
// importing envelope internals.
type DLQView interface {
	List(actor string) []DLQEntry
	Replay(messageID uint64) (bool, error)
	Stats() (enqueued, replayed int64)
}

// DLQEntry is the JSON-facing projection of dlq.Entry.
type DLQEntry struct {
	MessageID  uint64    `json:"message_id"`
	ActorType  string    `json:"actor_type"`
	ActorID    string    `json:"actor_id"`
	Cause      string    `json:"cause"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

// MigrationView exposes internal/migration.Coordinator's status surface.
type MigrationView interface {
	Status(actorType, actorID string) (MigrationStatus, bool)
}

// MigrationStatus is the JSON-facing projection of migration.Migration.
type MigrationStatus struct {
	ActorType  string `json:"actor_type"`
	ActorID    string `json:"actor_id"`
	TargetSilo string `json:"target_silo"`
	State      string `json:"state"`
	Err        string `json:"err,omitempty"`
}

// NewRouter builds the chi router for silod's diagnostic listener.
func NewRouter(cluster ClusterView, dlq DLQView, mig MigrationView) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, healthResponse{
			Status:      "ok",
			Self:        cluster.Self(),
			ActiveSilos: cluster.ActiveSilos(),
			Timestamp:   time.Now(),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/dlq", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, dlq.List(req.URL.Query().Get("actor")))
	})

	r.Post("/dlq/replay/{messageID}", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(req, "messageID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid message_id", http.StatusBadRequest)
			return
		}
		ok, err := dlq.Replay(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]bool{"replayed": ok})
	})

	r.Get("/migration/status", func(w http.ResponseWriter, req *http.Request) {
		status, ok := mig.Status(req.URL.Query().Get("actor_type"), req.URL.Query().Get("actor_id"))
		if !ok {
			http.Error(w, "no such migration", http.StatusNotFound)
			return
		}
		writeJSON(w, status)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
