package cluster

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/meshkit/silo/internal/ring"
	"github.com/meshkit/silo/internal/siloerr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMembershipStartRegistersAndPopulatesRing(t *testing.T) {
	store := NewMemoryStore()
	r := ring.New()
	self := SiloDescriptor{SiloID: "a", Endpoint: "a:1", RegionID: "us", ZoneID: "1"}
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond

	m := New(cfg, store, r, self, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())

	if _, ok := r.Get("whatever"); !ok {
		t.Fatal("expected ring to contain self after Start")
	}
}

func TestMembershipWatchPropagatesJoinAndLeave(t *testing.T) {
	store := NewMemoryStore()
	r := ring.New()
	self := SiloDescriptor{SiloID: "a", Endpoint: "a:1"}
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Hour

	m := New(cfg, store, r, self, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background())

	other := SiloDescriptor{SiloID: "b", Endpoint: "b:1", LastHeartbeatAt: time.Now()}
	if err := store.Register(ctx, other); err != nil {
		t.Fatalf("register: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	found := false
	for time.Now().Before(deadline) {
		for _, n := range r.Nodes() {
			if n.SiloID == "b" {
				found = true
			}
		}
		if found {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !found {
		t.Fatal("expected silo b to join the ring")
	}

	if err := store.Unregister(ctx, "b"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		still := false
		for _, n := range r.Nodes() {
			if n.SiloID == "b" {
				still = true
			}
		}
		if !still {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected silo b to leave the ring")
}

func TestMembershipClusterUnavailable(t *testing.T) {
	store := &alwaysFailStore{}
	r := ring.New()
	self := SiloDescriptor{SiloID: "a"}
	cfg := DefaultConfig()
	cfg.MaxRetries = 1

	m := New(cfg, store, r, self, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := m.Start(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	se, ok := siloerr.As(err)
	if !ok || se.Kind != siloerr.ClusterUnavailable {
		t.Fatalf("expected ClusterUnavailable, got %v", err)
	}
}

type alwaysFailStore struct{}

func (alwaysFailStore) Register(context.Context, SiloDescriptor) error { return errFail }
func (alwaysFailStore) Unregister(context.Context, string) error       { return errFail }
func (alwaysFailStore) List(context.Context) ([]SiloDescriptor, error) { return nil, errFail }
func (alwaysFailStore) Watch(context.Context) (<-chan Event, error)    { return nil, errFail }

var errFail = siloerr.New(siloerr.ClusterUnavailable, "unreachable")
