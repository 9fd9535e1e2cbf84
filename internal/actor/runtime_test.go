package actor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/mailbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{fail: make(map[string]error)}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, actorType, actorID, method string, _ []byte) ([]byte, error) {
	d.mu.Lock()
	d.calls = append(d.calls, actorType+":"+actorID+"#"+method)
	err := d.fail[method]
	d.mu.Unlock()
	return nil, err
}

func (d *recordingDispatcher) count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if len(c) >= len(method) && c[len(c)-len(method):] == method {
			n++
		}
	}
	return n
}

func TestDeliverActivatesOnFirstEnvelope(t *testing.T) {
	disp := newRecordingDispatcher()
	rt := New(disp, nil, nil, testLogger())

	env := envelope.New("user", "1", "Greet", nil)
	if err := rt.Deliver(context.Background(), env); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if disp.count("Greet") > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if disp.count(MethodActivate) != 1 {
		t.Fatalf("expected 1 OnActivate call, got %d", disp.count(MethodActivate))
	}
	if disp.count("Greet") != 1 {
		t.Fatalf("expected 1 Greet call, got %d", disp.count("Greet"))
	}
}

func TestSpawnChildDuplicateFails(t *testing.T) {
	disp := newRecordingDispatcher()
	rt := New(disp, nil, nil, testLogger())

	parentEnv := envelope.New("room", "lobby", "Init", nil)
	if err := rt.Deliver(context.Background(), parentEnv); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	parentID := ID{Type: "room", ID: "lobby"}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := rt.Lookup(parentID); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := rt.SpawnChild(context.Background(), parentID, "occupant", "a"); err != nil {
		t.Fatalf("first spawn: %v", err)
	}
	_, err := rt.SpawnChild(context.Background(), parentID, "occupant", "a")
	if err == nil {
		t.Fatal("expected DuplicateChild error")
	}
}

func TestReentrantActorAllowsConcurrentTurns(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	release := make(chan struct{})

	disp := dispatcherFunc(func(ctx context.Context, actorType, actorID, method string, payload []byte) ([]byte, error) {
		if method == MethodActivate || method == MethodDeactivate {
			return nil, nil
		}
		n := inFlight.Add(1)
		for {
			old := maxInFlight.Load()
			if n <= old || maxInFlight.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
		return nil, nil
	})

	opts := func(string) ActivationOptions {
		o := DefaultActivationOptions()
		o.Reentrancy = 3
		o.Mailbox.Capacity = 10
		return o
	}
	rt := New(disp, nil, opts, testLogger())

	for i := 0; i < 3; i++ {
		env := envelope.New("worker", "1", "Do", nil)
		if err := rt.Deliver(context.Background(), env); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && inFlight.Load() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	if maxInFlight.Load() < 2 {
		t.Fatalf("expected concurrent turns, max observed %d", maxInFlight.Load())
	}
}

func TestTurnFailureInvokesSupervisorRestart(t *testing.T) {
	disp := newRecordingDispatcher()
	disp.fail["Boom"] = errors.New("kaboom")
	rt := New(disp, nil, nil, testLogger())

	env := envelope.New("widget", "1", "Boom", nil)
	if err := rt.Deliver(context.Background(), env); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if disp.count(MethodActivate) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if disp.count(MethodActivate) < 2 {
		t.Fatalf("expected restart to re-activate, got %d activations", disp.count(MethodActivate))
	}
}

func TestDeactivateRemovesInstance(t *testing.T) {
	disp := newRecordingDispatcher()
	rt := New(disp, nil, nil, testLogger())

	id := ID{Type: "user", ID: "1"}
	env := envelope.New(id.Type, id.ID, "Hi", nil)
	_ = rt.Deliver(context.Background(), env)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := rt.Lookup(id); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := rt.Deactivate(context.Background(), id); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, ok := rt.Lookup(id); ok {
		t.Fatal("expected instance removed after deactivate")
	}
}

type dispatcherFunc func(ctx context.Context, actorType, actorID, method string, payload []byte) ([]byte, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, actorType, actorID, method string, payload []byte) ([]byte, error) {
	return f(ctx, actorType, actorID, method, payload)
}

var _ mailbox.DeadLetterSink = (*noopSink)(nil)

type noopSink struct{}

func (noopSink) Enqueue(context.Context, *envelope.Envelope, error) error { return nil }
