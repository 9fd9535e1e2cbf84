// Package stream implements the stream broker (spec §4.10, C10): named,
// keyed pub/sub with C5-style backpressure per namespace, implicit actor
// subscriptions that preserve turn semantics, and composable operators.
//
// Grounded on the teacher's internal/watch.Broker (a mutex-guarded topic of
// subscriber channels with a bounded replay buffer, lazily started on first
// Subscribe and torn down once the last subscriber leaves) — generalized
// from watch's two fixed topics (machines, heartbeats) into an arbitrary
// number of named namespaces, each independently subscribable and
// independently backpressured.
package stream

import (
	"context"
	"sync"

	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/mailbox"
)

// Message is one published item, addressed to a key within a namespace.
type Message struct {
	Namespace string
	Key       string
	Payload   []byte
}

// ActorDeliverer posts an envelope into an actor's mailbox, used to
// implement implicit subscriptions (spec §4.10: "publish instead activates
// (or reuses) an actor and posts the message through the mailbox").
type ActorDeliverer interface {
	Deliver(ctx context.Context, env *envelope.Envelope) error
}

// Subscriber receives every Message published to its namespace, scoped to
// one key (direct subscription) or every key (key == "").
type Subscriber struct {
	key     string
	mailbox *mailbox.Mailbox
}

// Recv blocks for the next message, or returns ok=false if the subscription
// was closed.
func (s *Subscriber) Recv(ctx context.Context) (Message, bool) {
	env, ok := s.mailbox.Receive(ctx)
	if !ok {
		return Message{}, false
	}
	return Message{Namespace: env.ActorType, Key: env.ActorID, Payload: env.Payload}, true
}

// namespace holds one namespace's configuration and subscriber set.
type namespace struct {
	mu            sync.Mutex
	backpressure  mailbox.Config
	subscribers   map[*Subscriber]struct{}
	implicitActor string // actor type bound as implicit subscriber, "" if none
}

// Broker is the process-wide stream registry (spec §9: "process-wide
// singleton with an explicit init/shutdown lifecycle").
type Broker struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
	deliverer  ActorDeliverer
	dropped    atomicInt
}

type atomicInt struct {
	mu sync.Mutex
	n  int64
}

func (a *atomicInt) add(d int64) { a.mu.Lock(); a.n += d; a.mu.Unlock() }
func (a *atomicInt) load() int64 { a.mu.Lock(); defer a.mu.Unlock(); return a.n }

func New(deliverer ActorDeliverer) *Broker {
	return &Broker{namespaces: make(map[string]*namespace), deliverer: deliverer}
}

// Configure sets (or resets) a namespace's backpressure policy and, if
// actorType is non-empty, binds it as the implicit subscriber.
func (b *Broker) Configure(name string, backpressure mailbox.Config, implicitActorType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ns, ok := b.namespaces[name]
	if !ok {
		ns = &namespace{subscribers: make(map[*Subscriber]struct{})}
		b.namespaces[name] = ns
	}
	ns.mu.Lock()
	ns.backpressure = backpressure
	ns.implicitActor = implicitActorType
	ns.mu.Unlock()
}

func (b *Broker) namespaceFor(name string) *namespace {
	b.mu.Lock()
	defer b.mu.Unlock()
	ns, ok := b.namespaces[name]
	if !ok {
		ns = &namespace{subscribers: make(map[*Subscriber]struct{}), backpressure: mailbox.DefaultConfig()}
		b.namespaces[name] = ns
	}
	return ns
}

// Subscribe registers a direct subscriber for (namespace, key). key == ""
// subscribes to every key in the namespace.
func (b *Broker) Subscribe(name, key string) *Subscriber {
	ns := b.namespaceFor(name)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	sub := &Subscriber{key: key, mailbox: mailbox.New(ns.backpressure, nil)}
	ns.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes and closes sub.
func (b *Broker) Unsubscribe(name string, sub *Subscriber) {
	ns := b.namespaceFor(name)
	ns.mu.Lock()
	delete(ns.subscribers, sub)
	ns.mu.Unlock()
	sub.mailbox.Close()
}

// Publish delivers msg to every direct subscriber of its key (or wildcard
// subscribers), and, if the namespace has an implicit actor binding,
// activates/reuses actor (implicitActorType, key) and posts through its
// mailbox, preserving per-key turn ordering (spec §4.10).
func (b *Broker) Publish(ctx context.Context, name, key string, payload []byte) error {
	ns := b.namespaceFor(name)

	ns.mu.Lock()
	implicitActor := ns.implicitActor
	subs := make([]*Subscriber, 0, len(ns.subscribers))
	for s := range ns.subscribers {
		if s.key == "" || s.key == key {
			subs = append(subs, s)
		}
	}
	ns.mu.Unlock()

	env := envelope.New(name, key, "OnStreamMessage", payload)

	for _, s := range subs {
		if err := s.mailbox.Post(ctx, env); err != nil {
			b.dropped.add(1)
		}
	}

	if implicitActor != "" && b.deliverer != nil {
		actorEnv := envelope.New(implicitActor, key, "OnStreamMessage", payload)
		return b.deliverer.Deliver(ctx, actorEnv)
	}
	return nil
}

// Dropped reports the "stream.dropped" diagnostic counter (spec §6).
func (b *Broker) Dropped() int64 { return b.dropped.load() }
