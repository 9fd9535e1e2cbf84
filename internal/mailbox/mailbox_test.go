package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/siloerr"
)

func env(n int) *envelope.Envelope {
	return envelope.New("t", "1", "M", []byte{byte(n)})
}

func TestBlockPreservesOrderAtCapacityOne(t *testing.T) {
	m := New(Config{Mode: Block, Capacity: 1}, nil)
	received := make([]int, 0, 3)
	done := make(chan struct{})

	go func() {
		for i := 0; i < 3; i++ {
			e, ok := m.Receive(context.Background())
			if !ok {
				break
			}
			received = append(received, int(e.Payload[0]))
		}
		close(done)
	}()

	for i := 0; i < 3; i++ {
		if err := m.Post(context.Background(), env(i)); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	<-done

	for i, v := range received {
		if v != i {
			t.Fatalf("expected post order, got %v", received)
		}
	}
}

func TestDropOldestEvictsToDLQ(t *testing.T) {
	sink := &collectingSink{}
	m := New(Config{Mode: DropOldest, Capacity: 5}, sink)

	for i := 0; i < 15; i++ {
		if err := m.Post(context.Background(), env(i)); err != nil {
			t.Fatalf("Post %d: %v", i, err)
		}
	}

	if m.Depth() != 5 {
		t.Fatalf("expected depth 5, got %d", m.Depth())
	}
	if sink.n != 10 {
		t.Fatalf("expected 10 evicted envelopes dead-lettered, got %d", sink.n)
	}
	last, _ := lastPayload(m)
	if last != 14 {
		t.Fatalf("expected last queued payload 14, got %d", last)
	}
}

func TestDropNewestDropsOnFull(t *testing.T) {
	m := New(Config{Mode: DropNewest, Capacity: 2}, nil)
	for i := 0; i < 5; i++ {
		_ = m.Post(context.Background(), env(i))
	}
	if m.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", m.Depth())
	}
	if m.metrics.Dropped.Load() != 3 {
		t.Fatalf("expected 3 dropped, got %d", m.metrics.Dropped.Load())
	}
}

func TestThrottleLimitsAdmissionsPerWindow(t *testing.T) {
	m := New(Config{Mode: Throttle, Capacity: 100, ThrottleN: 5, ThrottleWindow: 200 * time.Millisecond}, nil)

	go func() {
		for {
			if _, ok := m.Receive(context.Background()); !ok {
				return
			}
		}
	}()

	start := time.Now()
	for i := 0; i < 12; i++ {
		if err := m.Post(context.Background(), env(i)); err != nil {
			t.Fatalf("Post %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)

	if m.metrics.Throttled.Load() == 0 {
		t.Fatal("expected at least one throttle event")
	}
	if elapsed < 200*time.Millisecond {
		t.Fatalf("expected throttling to slow admission, elapsed=%v", elapsed)
	}
}

func TestPostToDrainingMailboxFails(t *testing.T) {
	m := New(Config{Mode: Block, Capacity: 1}, nil)
	m.BeginDrain()

	err := m.Post(context.Background(), env(0))
	se, ok := siloerr.As(err)
	if !ok || se.Kind != siloerr.Draining {
		t.Fatalf("expected Draining, got %v", err)
	}
}

func TestPostToClosedMailboxFails(t *testing.T) {
	m := New(Config{Mode: Block, Capacity: 1}, nil)
	m.Close()

	err := m.Post(context.Background(), env(0))
	se, ok := siloerr.As(err)
	if !ok || se.Kind != siloerr.Closed {
		t.Fatalf("expected Closed, got %v", err)
	}
}

type collectingSink struct{ n int }

func (c *collectingSink) Enqueue(context.Context, *envelope.Envelope, error) error {
	c.n++
	return nil
}

func lastPayload(m *Mailbox) (int, bool) {
	var last int
	var ok bool
	for {
		select {
		case e := <-m.ch:
			last = int(e.Payload[0])
			ok = true
		default:
			return last, ok
		}
	}
}
