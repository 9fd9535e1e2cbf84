package dlq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meshkit/silo/internal/envelope"
)

func TestReplayIsIdempotent(t *testing.T) {
	delivered := 0
	q := New(0, nil, func(context.Context, string, string, *envelope.Envelope) error {
		delivered++
		return nil
	})

	env := envelope.New("user", "1", "Greet", nil)
	_ = q.Enqueue(context.Background(), env, errors.New("boom"))

	ok1, err := q.Replay(context.Background(), env.MessageID)
	if err != nil || !ok1 {
		t.Fatalf("first replay: ok=%v err=%v", ok1, err)
	}
	ok2, err := q.Replay(context.Background(), env.MessageID)
	if err != nil || ok2 {
		t.Fatalf("second replay should be no-op, got ok=%v err=%v", ok2, err)
	}
	if delivered != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", delivered)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after replay, got %d", q.Len())
	}
}

func TestEnqueueEvictsOldestAtCapacity(t *testing.T) {
	q := New(3, nil, func(context.Context, string, string, *envelope.Envelope) error { return nil })

	var first *envelope.Envelope
	for i := 0; i < 5; i++ {
		e := envelope.New("user", "1", "M", nil)
		if i == 0 {
			first = e
		}
		_ = q.Enqueue(context.Background(), e, errors.New("x"))
	}

	if q.Len() != 3 {
		t.Fatalf("expected capacity-bounded length 3, got %d", q.Len())
	}
	entries := q.List("")
	for _, e := range entries {
		if e.MessageID == first.MessageID {
			t.Fatal("expected oldest entry evicted")
		}
	}
}

func TestRunWithRetryDeadLettersOnExhaustion(t *testing.T) {
	q := New(0, func(string) RetryPolicy {
		return RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	}, func(context.Context, string, string, *envelope.Envelope) error { return nil })

	env := envelope.New("user", "1", "Greet", nil)
	attempts := 0
	boom := errors.New("boom")
	err := q.RunWithRetry(context.Background(), env, func(context.Context) error {
		attempts++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 dead-lettered entry, got %d", q.Len())
	}
}

func TestRunWithRetrySucceedsWithoutDeadLettering(t *testing.T) {
	q := New(0, nil, nil)
	env := envelope.New("user", "1", "Greet", nil)

	attempts := 0
	err := q.RunWithRetry(context.Background(), env, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunWithRetry: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected no dead-lettered entries, got %d", q.Len())
	}
}

func TestReplayByActor(t *testing.T) {
	var delivered []string
	q := New(0, nil, func(_ context.Context, actorType, actorID string, _ *envelope.Envelope) error {
		delivered = append(delivered, actorType+":"+actorID)
		return nil
	})

	for i := 0; i < 3; i++ {
		_ = q.Enqueue(context.Background(), envelope.New("user", "1", "M", nil), errors.New("x"))
	}
	_ = q.Enqueue(context.Background(), envelope.New("user", "2", "M", nil), errors.New("x"))

	ids, err := q.ReplayByActor(context.Background(), "user:1")
	if err != nil {
		t.Fatalf("ReplayByActor: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 replayed, got %d", len(ids))
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", q.Len())
	}
}

func TestDelayRespectsMaxDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10, JitterFraction: 0}
	d := p.Delay(5)
	if d != 2*time.Second {
		t.Fatalf("expected capped at max_delay, got %v", d)
	}
}
