package migration

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/meshkit/silo/internal/actor"
	"github.com/meshkit/silo/internal/cluster"
	"github.com/meshkit/silo/internal/directory"
	"github.com/meshkit/silo/internal/envelope"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(context.Context, string, string, string, []byte) ([]byte, error) {
	return nil, nil
}

type recordingActivator struct {
	calls []string
}

func (r *recordingActivator) ActivateOnTarget(_ context.Context, targetSilo, actorType, actorID string) error {
	r.calls = append(r.calls, targetSilo+"/"+actorType+":"+actorID)
	return nil
}

func TestBeginDrainThenWaitForDrain(t *testing.T) {
	rt := actor.New(noopDispatcher{}, nil, nil, testLogger())
	back := directory.NewMemoryBacking()
	dir, _ := directory.New(back, 0, time.Minute)
	act := &recordingActivator{}
	coord := New(rt, dir, act, "a")

	env := envelope.New("widget", "1", "Ping", nil)
	if err := rt.Deliver(context.Background(), env); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := rt.Lookup(actor.ID{Type: "widget", ID: "1"}); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := coord.BeginDrain(context.Background(), "widget", "1", "b"); err != nil {
		t.Fatalf("BeginDrain: %v", err)
	}

	drained, err := coord.WaitForDrain(context.Background(), "widget", "1", time.Second)
	if err != nil || !drained {
		t.Fatalf("WaitForDrain: drained=%v err=%v", drained, err)
	}

	if err := coord.TransferState(context.Background(), "widget", "1", "b"); err != nil {
		t.Fatalf("TransferState: %v", err)
	}

	if len(act.calls) != 1 || act.calls[0] != "b/widget:1" {
		t.Fatalf("expected activation on target b, got %v", act.calls)
	}

	siloID, ok, err := dir.Resolve(context.Background(), "widget", "1")
	if err != nil || !ok || siloID != "b" {
		t.Fatalf("expected directory updated to b, got (%q, %v, %v)", siloID, ok, err)
	}

	mg, ok := coord.Status("widget", "1")
	if !ok || mg.State != Completed {
		t.Fatalf("expected Completed, got %+v ok=%v", mg, ok)
	}
}

func TestColdFirstCandidatesExcludesActiveAndHot(t *testing.T) {
	rt := actor.New(noopDispatcher{}, nil, nil, testLogger())
	env := envelope.New("widget", "hot", "Ping", nil)
	_ = rt.Deliver(context.Background(), env)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := rt.Lookup(actor.ID{Type: "widget", ID: "hot"}); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	candidates := ColdFirstCandidates(rt)
	for _, c := range candidates {
		if c.ActorID == "hot" {
			t.Fatal("freshly active actor should not be a cold-first candidate yet")
		}
	}
}

func TestSelectTargetRespectsCompatMode(t *testing.T) {
	silos := []cluster.SiloDescriptor{
		{SiloID: "a", ActorTypeVersions: map[string]cluster.VersionInfo{"widget": {Major: 1, Minor: 0, Patch: 0}}},
		{SiloID: "b", ActorTypeVersions: map[string]cluster.VersionInfo{"widget": {Major: 2, Minor: 0, Patch: 0}}},
	}
	want := cluster.VersionInfo{Major: 1, Minor: 5, Patch: 0}

	siloID, ok := SelectTarget(silos, "widget", want, cluster.Minor)
	if !ok || siloID != "a" {
		t.Fatalf("expected silo a under Minor compat, got (%q, %v)", siloID, ok)
	}

	_, ok = SelectTarget(silos, "widget", want, cluster.Strict)
	if ok {
		t.Fatal("expected no exact match under Strict")
	}
}
