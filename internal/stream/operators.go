package stream

import (
	"context"
	"time"
)

// Pipeline is a lazy transformation stage over a Subscriber's ordered
// message sequence. Operators compose by wrapping one Pipeline's Next in
// another's, never reordering within a single publisher's key (spec §4.10:
// "operators preserve the per-key ordering from a single publisher").
type Pipeline struct {
	next func(ctx context.Context) (Message, bool)
}

// FromSubscriber starts a Pipeline at a raw subscription.
func FromSubscriber(sub *Subscriber) *Pipeline {
	return &Pipeline{next: sub.Recv}
}

// Next pulls the next transformed message.
func (p *Pipeline) Next(ctx context.Context) (Message, bool) {
	return p.next(ctx)
}

// Map applies fn to every message's payload.
func (p *Pipeline) Map(fn func([]byte) []byte) *Pipeline {
	return &Pipeline{next: func(ctx context.Context) (Message, bool) {
		m, ok := p.Next(ctx)
		if !ok {
			return Message{}, false
		}
		m.Payload = fn(m.Payload)
		return m, true
	}}
}

// Filter drops messages for which keep returns false, pulling upstream
// until one passes or the source is exhausted.
func (p *Pipeline) Filter(keep func(Message) bool) *Pipeline {
	return &Pipeline{next: func(ctx context.Context) (Message, bool) {
		for {
			m, ok := p.Next(ctx)
			if !ok {
				return Message{}, false
			}
			if keep(m) {
				return m, true
			}
		}
	}}
}

// Reduce folds every message into acc using fn, emitting the running total
// once per input message (a streaming scan, not a terminal aggregate — the
// broker has no notion of stream end).
func (p *Pipeline) Reduce(seed []byte, fn func(acc, payload []byte) []byte) *Pipeline {
	acc := seed
	return &Pipeline{next: func(ctx context.Context) (Message, bool) {
		m, ok := p.Next(ctx)
		if !ok {
			return Message{}, false
		}
		acc = fn(acc, m.Payload)
		m.Payload = acc
		return m, true
	}}
}

// GroupBy fans a Pipeline out into per-group sub-pipelines, each preserving
// the original per-key order of messages assigned to it. A background
// goroutine pulls from the source and routes each message by groupFn(m)
// into a small buffered channel per group; NewGroups yields each group key
// the first time a message for it arrives, and Pipeline(key) returns that
// group's Pipeline.
type GroupBy struct {
	groupFn func(Message) string

	mu     chanMutex
	chans  map[string]chan Message
	newKey chan string
}

type chanMutex struct{ c chan struct{} }

func newChanMutex() chanMutex {
	m := chanMutex{c: make(chan struct{}, 1)}
	m.c <- struct{}{}
	return m
}
func (m chanMutex) lock()   { <-m.c }
func (m chanMutex) unlock() { m.c <- struct{}{} }

// Group starts fanning p out by groupFn. Call NewGroups and Pipeline to
// consume the resulting per-key pipelines.
func (p *Pipeline) Group(ctx context.Context, groupFn func(Message) string) *GroupBy {
	g := &GroupBy{
		groupFn: groupFn,
		mu:      newChanMutex(),
		chans:   make(map[string]chan Message),
		newKey:  make(chan string, 16),
	}
	go g.pump(ctx, p)
	return g
}

func (g *GroupBy) pump(ctx context.Context, p *Pipeline) {
	for {
		m, ok := p.Next(ctx)
		if !ok {
			g.mu.lock()
			for _, ch := range g.chans {
				close(ch)
			}
			close(g.newKey)
			g.mu.unlock()
			return
		}
		key := g.groupFn(m)

		g.mu.lock()
		ch, exists := g.chans[key]
		if !exists {
			ch = make(chan Message, 64)
			g.chans[key] = ch
			g.newKey <- key
		}
		g.mu.unlock()

		select {
		case ch <- m:
		case <-ctx.Done():
			return
		}
	}
}

// NewGroups yields each distinct group key as its first message arrives.
func (g *GroupBy) NewGroups() <-chan string { return g.newKey }

// Pipeline returns the ordered sub-pipeline for a group key already
// announced via NewGroups.
func (g *GroupBy) Pipeline(key string) *Pipeline {
	g.mu.lock()
	ch := g.chans[key]
	g.mu.unlock()
	return &Pipeline{next: func(ctx context.Context) (Message, bool) {
		select {
		case m, ok := <-ch:
			return m, ok
		case <-ctx.Done():
			return Message{}, false
		}
	}}
}

// Window strategy for WindowCount/WindowDuration below.
type WindowKind uint8

const (
	WindowCount WindowKind = iota
	WindowDuration
	// WindowSliding is handled exactly like WindowDuration: batches are
	// consecutive and do not overlap, and Count is not used.
	WindowSliding
	WindowSession
)

// WindowConfig configures Pipeline.Window.
type WindowConfig struct {
	Kind     WindowKind
	Count    int           // WindowCount batch size
	Duration time.Duration // WindowDuration, WindowSliding span, WindowSession gap
}

// Batch is one emitted window of messages.
type Batch struct {
	Messages []Message
}

// Window buffers messages per cfg and emits Batches. It is consumed via
// NextBatch rather than Next, since a window's unit of output is a slice.
type WindowedPipeline struct {
	cfg WindowConfig
	src *Pipeline
	buf []Message
}

func (p *Pipeline) Window(cfg WindowConfig) *WindowedPipeline {
	return &WindowedPipeline{cfg: cfg, src: p}
}

func (w *WindowedPipeline) NextBatch(ctx context.Context) (Batch, bool) {
	switch w.cfg.Kind {
	case WindowCount:
		return w.nextCountBatch(ctx)
	case WindowDuration, WindowSliding:
		return w.nextTimeBatch(ctx)
	case WindowSession:
		return w.nextSessionBatch(ctx)
	default:
		return w.nextCountBatch(ctx)
	}
}

func (w *WindowedPipeline) nextCountBatch(ctx context.Context) (Batch, bool) {
	n := w.cfg.Count
	if n <= 0 {
		n = 1
	}
	batch := make([]Message, 0, n)
	for len(batch) < n {
		m, ok := w.src.Next(ctx)
		if !ok {
			if len(batch) > 0 {
				return Batch{Messages: batch}, true
			}
			return Batch{}, false
		}
		batch = append(batch, m)
	}
	return Batch{Messages: batch}, true
}

func (w *WindowedPipeline) nextTimeBatch(ctx context.Context) (Batch, bool) {
	span := w.cfg.Duration
	if span <= 0 {
		span = time.Second
	}
	deadline := time.Now().Add(span)
	batch := make([]Message, 0)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		stepCtx, cancel := context.WithTimeout(ctx, remaining)
		m, ok := w.src.Next(stepCtx)
		cancel()
		if !ok {
			if len(batch) > 0 {
				return Batch{Messages: batch}, true
			}
			if ctx.Err() != nil {
				return Batch{}, false
			}
			continue
		}
		batch = append(batch, m)
	}
	return Batch{Messages: batch}, len(batch) > 0
}

func (w *WindowedPipeline) nextSessionBatch(ctx context.Context) (Batch, bool) {
	gap := w.cfg.Duration
	if gap <= 0 {
		gap = time.Second
	}
	var batch []Message
	for {
		stepCtx, cancel := context.WithTimeout(ctx, gap)
		m, ok := w.src.Next(stepCtx)
		cancel()
		if !ok {
			if len(batch) > 0 {
				return Batch{Messages: batch}, true
			}
			if ctx.Err() != nil {
				return Batch{}, false
			}
			continue
		}
		batch = append(batch, m)
	}
}
