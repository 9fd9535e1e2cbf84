package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/mailbox"
	"github.com/meshkit/silo/internal/siloerr"
)

// Metrics is the subset of internal/metrics.Recorder the runtime drives
// directly; kept as a narrow collaborator interface so this package never
// imports the metrics package's full OTel/Prometheus wiring.
type Metrics interface {
	RecordActivation(ctx context.Context)
	RecordTurn(ctx context.Context, d time.Duration)
}

// ActivationOptions configures one actor type's runtime behavior.
type ActivationOptions struct {
	Mailbox     mailbox.Config
	Reentrancy  int // K; <=1 means strictly serial turns
	IdleTimeout time.Duration
}

func DefaultActivationOptions() ActivationOptions {
	return ActivationOptions{
		Mailbox:     mailbox.DefaultConfig(),
		Reentrancy:  1,
		IdleTimeout: 10 * time.Minute,
	}
}

// Runtime owns every activated actor on this silo (spec §4.6).
type Runtime struct {
	dispatcher Dispatcher
	dlq        mailbox.DeadLetterSink
	logger     *slog.Logger
	metrics    Metrics

	optionsFor func(actorType string) ActivationOptions

	// replyNotify, if set, is called after every turn completes (success or
	// error) so a collaborator like the transport layer can correlate a
	// request envelope with its reply (spec §4.12: send() returns an
	// envelope, but the runtime itself only knows turn completion).
	replyNotify func(ctx context.Context, req *envelope.Envelope, result []byte, dispatchErr error)

	mu        sync.Mutex
	instances map[ID]*Instance

	reapInterval time.Duration
	stop         chan struct{}
}

func New(dispatcher Dispatcher, dlq mailbox.DeadLetterSink, optionsFor func(string) ActivationOptions, logger *slog.Logger) *Runtime {
	if optionsFor == nil {
		optionsFor = func(string) ActivationOptions { return DefaultActivationOptions() }
	}
	return &Runtime{
		dispatcher:   dispatcher,
		dlq:          dlq,
		logger:       logger.With("component", "actor"),
		optionsFor:   optionsFor,
		instances:    make(map[ID]*Instance),
		reapInterval: 30 * time.Second,
		stop:         make(chan struct{}),
	}
}

// SetMetrics wires a Metrics recorder in after construction, since the
// recorder and the runtime are built in the same step of server.go's
// dependency graph and neither needs to know about the other's constructor
// order.
func (r *Runtime) SetMetrics(m Metrics) {
	r.metrics = m
}

// SetReplyNotifier registers fn to be called after each turn completes.
func (r *Runtime) SetReplyNotifier(fn func(ctx context.Context, req *envelope.Envelope, result []byte, dispatchErr error)) {
	r.replyNotify = fn
}

// StartIdleReaper launches the background deactivation sweep (spec §4.6:
// "OnDeactivate runs when the mailbox has been idle for idle_timeout").
func (r *Runtime) StartIdleReaper() {
	go func() {
		ticker := time.NewTicker(r.reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.reapIdle()
			}
		}
	}()
}

func (r *Runtime) reapIdle() {
	r.mu.Lock()
	candidates := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		candidates = append(candidates, inst)
	}
	r.mu.Unlock()

	for _, inst := range candidates {
		opts := r.optionsFor(inst.id.Type)
		if inst.mailbox.IdleFor() >= opts.IdleTimeout && inst.ActiveCallCount() == 0 && inst.mailbox.Depth() == 0 {
			r.Deactivate(context.Background(), inst.id)
		}
	}
}

// Deliver routes env to its actor, activating it on first contact.
// Matches spec §4.6: "Activation is triggered by the first envelope
// addressed to a (type,id) with no active instance on this silo."
func (r *Runtime) Deliver(ctx context.Context, env *envelope.Envelope) error {
	inst, err := r.getOrActivate(ctx, env.ActorType, env.ActorID, nil)
	if err != nil {
		return err
	}
	return inst.mailbox.Post(ctx, env)
}

// SpawnChild activates a child actor under parent, failing with
// DuplicateChild if parent already has a child with this actorID (spec
// §4.6).
func (r *Runtime) SpawnChild(ctx context.Context, parent ID, childType, childID string) (ID, error) {
	r.mu.Lock()
	parentInst, ok := r.instances[parent]
	r.mu.Unlock()
	if !ok {
		return ID{}, siloerr.New(siloerr.NotFound, "spawn: parent not active on this silo")
	}

	if _, exists := parentInst.children.Load(childID); exists {
		return ID{}, siloerr.Newf(siloerr.DuplicateChild, "child %q already registered under parent %s", childID, parent)
	}

	childInst, err := r.getOrActivate(ctx, childType, childID, parentInst)
	if err != nil {
		return ID{}, err
	}
	parentInst.children.Store(childID, childInst)
	return childInst.id, nil
}

func (r *Runtime) getOrActivate(ctx context.Context, actorType, actorID string, parent *Instance) (*Instance, error) {
	id := ID{Type: actorType, ID: actorID}

	r.mu.Lock()
	if inst, ok := r.instances[id]; ok {
		r.mu.Unlock()
		return inst, nil
	}
	r.mu.Unlock()

	opts := r.optionsFor(actorType)
	k := opts.Reentrancy
	if k < 1 {
		k = 1
	}

	inst := &Instance{
		id:         id,
		mailbox:    mailbox.New(opts.Mailbox, r.dlq),
		reentrancy: make(chan struct{}, k),
		parent:     parent,
		supervisor: RestartSupervisor{},
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	r.mu.Lock()
	if existing, ok := r.instances[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.instances[id] = inst
	r.mu.Unlock()

	if _, err := r.dispatcher.Dispatch(ctx, actorType, actorID, MethodActivate, nil); err != nil {
		r.mu.Lock()
		delete(r.instances, id)
		r.mu.Unlock()
		return nil, fmt.Errorf("actor: OnActivate %s: %w", id, err)
	}

	if r.metrics != nil {
		r.metrics.RecordActivation(ctx)
	}

	go r.turnLoop(inst)
	return inst, nil
}

// turnLoop is the single consumer task reading inst's mailbox (spec §4.5).
// Non-reentrant actors process strictly one turn at a time; reentrant
// actors admit up to K concurrent turns via the reentrancy semaphore.
func (r *Runtime) turnLoop(inst *Instance) {
	defer close(inst.done)
	ctx := context.Background()

	for {
		select {
		case <-inst.stop:
			return
		default:
		}

		env, ok := inst.mailbox.Receive(ctx)
		if !ok {
			return
		}

		select {
		case inst.reentrancy <- struct{}{}:
		case <-inst.stop:
			return
		}

		inst.mu.Lock()
		inst.activeCalls++
		inst.mu.Unlock()

		go r.runTurn(ctx, inst, env)
	}
}

func (r *Runtime) runTurn(ctx context.Context, inst *Instance, env *envelope.Envelope) {
	defer func() {
		<-inst.reentrancy
		inst.mu.Lock()
		inst.activeCalls--
		inst.mu.Unlock()
	}()

	start := time.Now()
	result, err := r.safeDispatch(ctx, inst, env)
	if r.metrics != nil {
		r.metrics.RecordTurn(ctx, time.Since(start))
	}
	if r.replyNotify != nil {
		r.replyNotify(ctx, env, result, err)
	}
	if err != nil {
		r.handleTurnFailure(ctx, inst, env, err)
		return
	}
}

func (r *Runtime) safeDispatch(ctx context.Context, inst *Instance, env *envelope.Envelope) (result []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("actor: panic in turn %s.%s: %v", inst.id, env.MethodName, p)
		}
	}()
	return r.dispatcher.Dispatch(ctx, inst.id.Type, inst.id.ID, env.MethodName, env.Payload)
}

func (r *Runtime) handleTurnFailure(ctx context.Context, inst *Instance, env *envelope.Envelope, cause error) {
	sup := inst.supervisor
	if inst.parent != nil {
		sup = inst.parent.supervisor
	}

	directive := sup.Supervise(ctx, inst.id.Type, inst.id.ID, cause)
	r.logger.Warn("turn failed", "actor", inst.id.String(), "method", env.MethodName, "err", cause, "directive", directive)

	switch directive {
	case Resume:
		return
	case Restart:
		_, _ = r.dispatcher.Dispatch(ctx, inst.id.Type, inst.id.ID, MethodDeactivate, nil)
		_, _ = r.dispatcher.Dispatch(ctx, inst.id.Type, inst.id.ID, MethodActivate, nil)
	case Stop:
		r.Deactivate(ctx, inst.id)
	case Escalate:
		if inst.parent != nil {
			r.handleTurnFailure(ctx, inst.parent, env, cause)
		} else {
			r.Deactivate(ctx, inst.id)
		}
	}
}

// Deactivate runs OnDeactivate and removes the instance (spec §4.6, §4.11).
func (r *Runtime) Deactivate(ctx context.Context, id ID) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if ok {
		delete(r.instances, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	inst.mailbox.BeginDrain()
	close(inst.stop)
	inst.mailbox.Close()
	<-inst.done

	_, err := r.dispatcher.Dispatch(ctx, id.Type, id.ID, MethodDeactivate, nil)
	if err != nil {
		return fmt.Errorf("actor: OnDeactivate %s: %w", id, err)
	}
	return nil
}

// Lookup returns the live Instance for id, if activated locally.
func (r *Runtime) Lookup(id ID) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Active lists every locally activated instance, used by migration's
// cold-first candidate ordering.
func (r *Runtime) Active() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	return out
}

// Shutdown deactivates every instance, used during graceful silo shutdown
// (spec §7: "stop accepting new envelopes, drain existing mailboxes").
func (r *Runtime) Shutdown(ctx context.Context) {
	close(r.stop)
	for _, inst := range r.Active() {
		r.Deactivate(ctx, inst.id)
	}
}
