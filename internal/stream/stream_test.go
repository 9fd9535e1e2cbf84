package stream

import (
	"context"
	"testing"
	"time"

	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/mailbox"
)

type recordingDeliverer struct {
	envs []*envelope.Envelope
}

func (r *recordingDeliverer) Deliver(_ context.Context, env *envelope.Envelope) error {
	r.envs = append(r.envs, env)
	return nil
}

func TestDirectSubscriberReceivesPublishedMessages(t *testing.T) {
	b := New(nil)
	b.Configure("temps", mailbox.DefaultConfig(), "")
	sub := b.Subscribe("temps", "room-1")

	if err := b.Publish(context.Background(), "temps", "room-1", []byte("21C")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, ok := sub.Recv(ctx)
	if !ok || string(m.Payload) != "21C" {
		t.Fatalf("Recv: got %+v ok=%v", m, ok)
	}
}

func TestImplicitSubscriberActivatesActor(t *testing.T) {
	rec := &recordingDeliverer{}
	b := New(rec)
	b.Configure("orders", mailbox.DefaultConfig(), "order")

	if err := b.Publish(context.Background(), "orders", "o-1", []byte("created")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(rec.envs) != 1 || rec.envs[0].ActorType != "order" || rec.envs[0].ActorID != "o-1" {
		t.Fatalf("expected implicit delivery to order:o-1, got %+v", rec.envs)
	}
}

func TestMapAndFilterOperators(t *testing.T) {
	b := New(nil)
	b.Configure("nums", mailbox.DefaultConfig(), "")
	sub := b.Subscribe("nums", "")

	pipe := FromSubscriber(sub).
		Map(func(p []byte) []byte { return append(p, '!') }).
		Filter(func(m Message) bool { return m.Key == "even" })

	go func() {
		_ = b.Publish(context.Background(), "nums", "odd", []byte("1"))
		_ = b.Publish(context.Background(), "nums", "even", []byte("2"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, ok := pipe.Next(ctx)
	if !ok || string(m.Payload) != "2!" {
		t.Fatalf("expected filtered+mapped message \"2!\", got %+v ok=%v", m, ok)
	}
}

func TestWindowCountBatchesMessages(t *testing.T) {
	b := New(nil)
	b.Configure("events", mailbox.DefaultConfig(), "")
	sub := b.Subscribe("events", "")

	win := FromSubscriber(sub).Window(WindowConfig{Kind: WindowCount, Count: 3})

	go func() {
		for i := 0; i < 3; i++ {
			_ = b.Publish(context.Background(), "events", "k", []byte{byte(i)})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, ok := win.NextBatch(ctx)
	if !ok || len(batch.Messages) != 3 {
		t.Fatalf("expected batch of 3, got %+v ok=%v", batch, ok)
	}
}

func TestGroupByPartitionsPreserveOrder(t *testing.T) {
	b := New(nil)
	b.Configure("feed", mailbox.DefaultConfig(), "")
	sub := b.Subscribe("feed", "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	grouped := FromSubscriber(sub).Group(ctx, func(m Message) string { return m.Key })

	go func() {
		_ = b.Publish(context.Background(), "feed", "a", []byte("1"))
		_ = b.Publish(context.Background(), "feed", "a", []byte("2"))
		_ = b.Publish(context.Background(), "feed", "b", []byte("x"))
	}()

	seenA := 0
	for seenA < 2 {
		select {
		case key := <-grouped.NewGroups():
			if key == "a" {
				p := grouped.Pipeline("a")
				for seenA < 2 {
					m, ok := p.Next(ctx)
					if !ok {
						t.Fatal("pipeline closed early")
					}
					if string(m.Payload) != string([]byte{byte('1' + seenA)}) {
						t.Fatalf("out of order: got %q at position %d", m.Payload, seenA)
					}
					seenA++
				}
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for group a")
		}
	}
}
