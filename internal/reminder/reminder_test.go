package reminder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/ring"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collector struct {
	mu  sync.Mutex
	got []*envelope.Envelope
}

func (c *collector) Deliver(_ context.Context, env *envelope.Envelope) error {
	c.mu.Lock()
	c.got = append(c.got, env)
	c.mu.Unlock()
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestPeriodicReminderFiresRepeatedly(t *testing.T) {
	driver := NewMemoryTableDriver()
	r := ring.New()
	r.Add(ring.Node{SiloID: "a"})
	deliv := &collector{}

	sched := New(Config{ScanInterval: 20 * time.Millisecond}, driver, r, "a", deliv, testLogger())
	_ = sched.Schedule(context.Background(), Record{
		ActorType: "timer", ActorID: "1", Name: "tick",
		NextFireTime: time.Now(), Period: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	time.Sleep(1050 * time.Millisecond)
	n := deliv.count()
	if n < 9 || n > 11 {
		t.Fatalf("expected 9-11 fires in ~1s at 100ms period, got %d", n)
	}
}

func TestOneShotReminderFiresOnceAndIsRemoved(t *testing.T) {
	driver := NewMemoryTableDriver()
	r := ring.New()
	r.Add(ring.Node{SiloID: "a"})
	deliv := &collector{}

	sched := New(Config{ScanInterval: 10 * time.Millisecond}, driver, r, "a", deliv, testLogger())
	_ = sched.Schedule(context.Background(), Record{
		ActorType: "timer", ActorID: "1", Name: "once", NextFireTime: time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	sched.Start(ctx)
	time.Sleep(150 * time.Millisecond)
	sched.Stop()

	if deliv.count() != 1 {
		t.Fatalf("expected exactly 1 fire, got %d", deliv.count())
	}
	due, _ := driver.Due(context.Background(), time.Now())
	if len(due) != 0 {
		t.Fatalf("expected one-shot removed after fire, got %d remaining", len(due))
	}
}

func TestReminderOnlyFiresOnOwningSilo(t *testing.T) {
	driver := NewMemoryTableDriver()
	r := ring.New()
	r.Add(ring.Node{SiloID: "a"})
	r.Add(ring.Node{SiloID: "b"})
	deliv := &collector{}

	owner, _ := r.Get("timer:1")
	nonOwner := "a"
	if owner == "a" {
		nonOwner = "b"
	}

	sched := New(Config{ScanInterval: 10 * time.Millisecond}, driver, r, nonOwner, deliv, testLogger())
	_ = sched.Schedule(context.Background(), Record{ActorType: "timer", ActorID: "1", Name: "x", NextFireTime: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	sched.Start(ctx)
	time.Sleep(80 * time.Millisecond)
	sched.Stop()

	if deliv.count() != 0 {
		t.Fatalf("expected non-owner silo to skip delivery, got %d", deliv.count())
	}
}
