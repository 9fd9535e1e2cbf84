// Package dlq implements the dead-letter queue (spec §4.7, C7): a bounded,
// append-only store keyed by message_id, a retry policy with exponential
// backoff and jitter, and a replay API that re-posts envelopes to an
// actor's current mailbox.
//
// Grounded on the teacher's internal/reconcile.Worker retry/give-up shape
// (bounded retry counters around machine and heartbeat subscription,
// falling back to a logged warning once a retry ceiling is hit) —
// generalized here from "retry a subscription N times then log" into a
// bounded store that remembers each failed envelope with its own backoff
// state instead of discarding it once retries are exhausted.
package dlq

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/meshkit/silo/internal/envelope"
)

// RetryPolicy is spec §4.7's {max_retries, initial_delay, max_delay,
// multiplier, jitter}.
type RetryPolicy struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64 // 0 disables jitter
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     5,
		InitialDelay:   100 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// Delay computes delay(attempt) per spec §4.7: attempt is 1-based.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if raw > float64(p.MaxDelay) {
		raw = float64(p.MaxDelay)
	}
	if p.JitterFraction > 0 {
		delta := raw * p.JitterFraction
		raw += (rand.Float64()*2 - 1) * delta
		if raw < 0 {
			raw = 0
		}
	}
	return time.Duration(raw)
}

// Entry is one dead-lettered message.
type Entry struct {
	MessageID  uint64
	ActorType  string
	ActorID    string
	Envelope   *envelope.Envelope
	Cause      error
	EnqueuedAt time.Time
	Attempts   int
}

const defaultCapacity = 10_000

// Metrics is the subset of internal/metrics.Recorder this package drives;
// kept narrow so dlq never imports the metrics package's OTel/Prometheus
// wiring directly.
type Metrics interface {
	RecordDeadLettered(ctx context.Context)
}

// MailboxProvider resolves an actor's current mailbox Post function, used by
// replay to re-deliver without DLQ needing to know about the actor runtime
// directly (spec §4.7: "re-posts the envelope to the actor's current
// mailbox via a mailbox-provider callback").
type MailboxProvider func(ctx context.Context, actorType, actorID string, env *envelope.Envelope) error

// Queue is the bounded dead-letter store.
type Queue struct {
	mu       sync.Mutex
	order    []uint64 // FIFO by enqueued_at, for eviction
	entries  map[uint64]*Entry
	byActor  map[string][]uint64
	capacity int

	policyFor func(actorType string) RetryPolicy
	provider  MailboxProvider
	metrics   Metrics

	enqueued atomic64
	replayed atomic64
}

type atomic64 struct {
	mu sync.Mutex
	n  int64
}

func (a *atomic64) add(d int64) { a.mu.Lock(); a.n += d; a.mu.Unlock() }
func (a *atomic64) load() int64 { a.mu.Lock(); defer a.mu.Unlock(); return a.n }

func New(capacity int, policyFor func(string) RetryPolicy, provider MailboxProvider) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if policyFor == nil {
		policyFor = func(string) RetryPolicy { return DefaultRetryPolicy() }
	}
	return &Queue{
		entries:   make(map[uint64]*Entry),
		byActor:   make(map[string][]uint64),
		capacity:  capacity,
		policyFor: policyFor,
		provider:  provider,
	}
}

// SetMetrics wires a Metrics recorder in after construction, same pattern as
// actor.Runtime.SetMetrics.
func (q *Queue) SetMetrics(m Metrics) {
	q.metrics = m
}

// Enqueue appends env with cause, evicting the oldest entry if at capacity
// (spec §4.7: "On capacity, evict oldest").
func (q *Queue) Enqueue(ctx context.Context, env *envelope.Envelope, cause error) error {
	if q.metrics != nil {
		q.metrics.RecordDeadLettered(ctx)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.order) >= q.capacity {
		oldest := q.order[0]
		q.order = q.order[1:]
		if e, ok := q.entries[oldest]; ok {
			q.removeActorIndexLocked(e)
			delete(q.entries, oldest)
		}
	}

	e := &Entry{
		MessageID:  env.MessageID,
		ActorType:  env.ActorType,
		ActorID:    env.ActorID,
		Envelope:   env,
		Cause:      cause,
		EnqueuedAt: time.Now(),
	}
	q.entries[env.MessageID] = e
	q.order = append(q.order, env.MessageID)
	key := e.ActorType + ":" + e.ActorID
	q.byActor[key] = append(q.byActor[key], env.MessageID)
	q.enqueued.add(1)
	return nil
}

func (q *Queue) removeActorIndexLocked(e *Entry) {
	key := e.ActorType + ":" + e.ActorID
	ids := q.byActor[key]
	for i, id := range ids {
		if id == e.MessageID {
			q.byActor[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(q.byActor[key]) == 0 {
		delete(q.byActor, key)
	}
}

// RunWithRetry executes action once and retries it up to policy.MaxRetries
// more times, sleeping Delay(attempt) between failures; on exhaustion it
// dead-letters env with the final error and the number of attempts made
// (spec §4.7's retry handler).
func (q *Queue) RunWithRetry(ctx context.Context, env *envelope.Envelope, action func(context.Context) error) error {
	policy := q.policyFor(env.ActorType)
	var lastErr error
	attempts := 0
	deadLetter := func(cause error) {
		_ = q.Enqueue(ctx, env, cause)
		q.mu.Lock()
		if e, ok := q.entries[env.MessageID]; ok {
			e.Attempts = attempts
		}
		q.mu.Unlock()
	}
	for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
		attempts = attempt
		lastErr = action(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt > policy.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			deadLetter(lastErr)
			return lastErr
		case <-time.After(policy.Delay(attempt)):
		}
	}
	deadLetter(lastErr)
	return lastErr
}

// List returns every entry, optionally filtered to a single actor
// ("type:id"); empty actor returns everything.
func (q *Queue) List(actor string) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []uint64
	if actor == "" {
		ids = append(ids, q.order...)
	} else {
		ids = q.byActor[actor]
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := q.entries[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Replay re-posts the given message to its actor's current mailbox,
// removing it from the DLQ only if the post succeeded (spec §4.7). A second
// call for an already-replayed id returns (false, nil).
func (q *Queue) Replay(ctx context.Context, messageID uint64) (bool, error) {
	q.mu.Lock()
	e, ok := q.entries[messageID]
	q.mu.Unlock()
	if !ok {
		return false, nil
	}

	if err := q.provider(ctx, e.ActorType, e.ActorID, e.Envelope); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, stillThere := q.entries[messageID]; !stillThere {
		return false, nil
	}
	delete(q.entries, messageID)
	q.removeActorIndexLocked(e)
	for i, id := range q.order {
		if id == messageID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.replayed.add(1)
	return true, nil
}

// ReplayBatch replays each id, returning the ids that actually moved.
func (q *Queue) ReplayBatch(ctx context.Context, ids []uint64) ([]uint64, error) {
	replayed := make([]uint64, 0, len(ids))
	for _, id := range ids {
		ok, err := q.Replay(ctx, id)
		if err != nil {
			return replayed, err
		}
		if ok {
			replayed = append(replayed, id)
		}
	}
	return replayed, nil
}

// ReplayByActor replays every currently dead-lettered message for actor
// "type:id", oldest first.
func (q *Queue) ReplayByActor(ctx context.Context, actor string) ([]uint64, error) {
	q.mu.Lock()
	ids := append([]uint64(nil), q.byActor[actor]...)
	q.mu.Unlock()
	return q.ReplayBatch(ctx, ids)
}

// Stats exposes the diagnostic counters named in spec §6.
func (q *Queue) Stats() (enqueued, replayed int64) {
	return q.enqueued.load(), q.replayed.load()
}

// Len reports the number of currently dead-lettered entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
