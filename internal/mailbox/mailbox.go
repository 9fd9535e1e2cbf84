// Package mailbox implements C5 (spec §4.5): one bounded FIFO per actor with
// a configurable backpressure policy, read by a single consumer task.
//
// Grounded on the teacher's internal/watch.Broker subscriber channels: a
// fixed-capacity buffered channel per subscriber, written with a
// select-default non-blocking send so one slow consumer can't stall the
// publisher. Here that shape is generalized from "drop silently on full"
// to the full BackpressureMode taxonomy the spec requires, the single
// shared topic becomes one mailbox per actor, and the payload becomes an
// *envelope.Envelope instead of a machine/heartbeat change record.
package mailbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/siloerr"
)

// Mode selects the admission policy applied when the mailbox is full.
type Mode uint8

const (
	// None is equivalent to Block with the configured default capacity
	// (spec §4.5).
	None Mode = iota
	Block
	DropOldest
	DropNewest
	Throttle
)

const defaultCapacity = 256

// Config configures one Mailbox.
type Config struct {
	Mode     Mode
	Capacity int

	// ThrottleN/ThrottleWindow apply only when Mode == Throttle: at most N
	// admissions per sliding window W.
	ThrottleN      int
	ThrottleWindow time.Duration
}

func DefaultConfig() Config {
	return Config{Mode: Block, Capacity: defaultCapacity}
}

type state int32

const (
	stateOpen state = iota
	stateDraining
	stateClosed
)

// DeadLetterSink receives envelopes evicted by DropOldest so no message
// silently disappears (spec §4.7 ties DLQ enqueue to mailbox eviction).
type DeadLetterSink interface {
	Enqueue(ctx context.Context, env *envelope.Envelope, cause error) error
}

// Mailbox is one actor's private, bounded FIFO.
type Mailbox struct {
	cfg  Config
	ch   chan *envelope.Envelope
	dlq  DeadLetterSink
	st   atomic.Int32
	last atomic.Int64 // unix nanos of last successful post

	throttleMu   sync.Mutex
	throttleLog  []time.Time

	metrics Metrics
}

// Metrics are plain counters a caller can read for the diagnostic surface
// (spec §6 "counters ... dlq.enqueued"); no interlocked hot-path counters
// beyond what's already needed for admission control (spec §4.5: "counts are
// taken from the queue itself").
type Metrics struct {
	Dropped   atomic.Int64
	Throttled atomic.Int64
}

// New builds a Mailbox with cfg, evicting to dlq on DropOldest. dlq may be
// nil if the actor type opts out of dead-lettering (not recommended).
func New(cfg Config, dlq DeadLetterSink) *Mailbox {
	if cfg.Mode == None {
		cfg.Mode = Block
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.Mode == Throttle {
		if cfg.ThrottleN <= 0 {
			cfg.ThrottleN = cfg.Capacity
		}
		if cfg.ThrottleWindow <= 0 {
			cfg.ThrottleWindow = time.Second
		}
	}
	m := &Mailbox{
		cfg: cfg,
		ch:  make(chan *envelope.Envelope, cfg.Capacity),
		dlq: dlq,
	}
	m.last.Store(time.Now().UnixNano())
	return m
}

// Post enqueues env according to the configured BackpressureMode.
func (m *Mailbox) Post(ctx context.Context, env *envelope.Envelope) error {
	switch state(m.st.Load()) {
	case stateDraining:
		return siloerr.New(siloerr.Draining, "mailbox is draining")
	case stateClosed:
		return siloerr.New(siloerr.Closed, "mailbox is closed")
	}

	switch m.cfg.Mode {
	case Block:
		select {
		case m.ch <- env:
			m.touch()
			return nil
		case <-ctx.Done():
			return siloerr.New(siloerr.Cancelled, "mailbox: post cancelled")
		}
	case DropNewest:
		select {
		case m.ch <- env:
			m.touch()
			return nil
		default:
			m.metrics.Dropped.Add(1)
			return nil
		}
	case DropOldest:
		for {
			select {
			case m.ch <- env:
				m.touch()
				return nil
			default:
			}
			select {
			case old := <-m.ch:
				m.metrics.Dropped.Add(1)
				if m.dlq != nil {
					_ = m.dlq.Enqueue(ctx, old, siloerr.New(siloerr.Closed, "evicted: mailbox full (DropOldest)"))
				}
			default:
				// Raced with the consumer draining it first; just retry the send.
			}
		}
	case Throttle:
		for {
			wait, ok := m.throttleAdmit()
			if ok {
				select {
				case m.ch <- env:
					m.touch()
					return nil
				case <-ctx.Done():
					return siloerr.New(siloerr.Cancelled, "mailbox: post cancelled")
				}
			}
			m.metrics.Throttled.Add(1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return siloerr.New(siloerr.Cancelled, "mailbox: post cancelled")
			}
		}
	default:
		return siloerr.Newf(siloerr.User, "mailbox: unknown backpressure mode %d", m.cfg.Mode)
	}
}

// throttleAdmit reports whether a slot is available right now under the
// sliding window, or how long to wait if not.
func (m *Mailbox) throttleAdmit() (wait time.Duration, ok bool) {
	m.throttleMu.Lock()
	defer m.throttleMu.Unlock()

	now := time.Now()
	cutoff := now.Add(-m.cfg.ThrottleWindow)
	i := 0
	for ; i < len(m.throttleLog); i++ {
		if m.throttleLog[i].After(cutoff) {
			break
		}
	}
	m.throttleLog = m.throttleLog[i:]

	if len(m.throttleLog) < m.cfg.ThrottleN {
		m.throttleLog = append(m.throttleLog, now)
		return 0, true
	}
	return m.throttleLog[0].Add(m.cfg.ThrottleWindow).Sub(now), false
}

func (m *Mailbox) touch() {
	m.last.Store(time.Now().UnixNano())
}

// Receive blocks until an envelope is available, the mailbox closes, or ctx
// is cancelled. It is meant to be called by exactly one consumer task (the
// actor runtime's turn loop).
func (m *Mailbox) Receive(ctx context.Context) (*envelope.Envelope, bool) {
	select {
	case env, ok := <-m.ch:
		return env, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Depth reports the number of envelopes currently queued.
func (m *Mailbox) Depth() int {
	return len(m.ch)
}

// IdleFor reports how long it has been since the last successful Post,
// driving C6's idle_timeout deactivation.
func (m *Mailbox) IdleFor() time.Duration {
	return time.Since(time.Unix(0, m.last.Load()))
}

// BeginDrain stops admitting new writes (spec §4.11 begin_drain); in-flight
// turns continue and queued envelopes remain readable by Receive.
func (m *Mailbox) BeginDrain() {
	m.st.CompareAndSwap(int32(stateOpen), int32(stateDraining))
}

// Drained reports whether the queue has emptied, for wait_for_drain.
func (m *Mailbox) Drained() bool {
	return m.Depth() == 0
}

// Close stops admitting writes permanently and closes the channel at once;
// envelopes already queued stay readable through Receive until it is empty.
// Callers must stop posting before calling Close.
func (m *Mailbox) Close() {
	m.st.Store(int32(stateClosed))
	close(m.ch)
}
