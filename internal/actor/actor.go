// Package actor implements the actor runtime (spec §4.6, C6): activation,
// the turn loop over a mailbox, supervision directives, and child spawning.
//
// Grounded on babyman-slug-lang/internal/evaluator/actors.go's actor-system
// shape (PID-keyed instances, a run loop over an inbox, supervisor
// notification on exit) generalized from that interpreter's one-shot
// function-call actors to the spec's long-lived, dispatch-table-driven
// actors addressed by (type, id), with K-wide reentrancy and an explicit
// directive protocol instead of a fixed "notify and exit" policy.
package actor

import (
	"context"
	"sync"
	"time"

	"github.com/meshkit/silo/internal/mailbox"
)

// Dispatcher is spec §6's collaborator: given the method name and payload
// bytes, invoke the user's implementation and return the reply bytes (or an
// error). It is also used for the lifecycle method names OnActivate/
// OnDeactivate, keeping one call shape for every turn.
type Dispatcher interface {
	Dispatch(ctx context.Context, actorType, actorID, methodName string, payload []byte) ([]byte, error)
}

const (
	MethodActivate   = "OnActivate"
	MethodDeactivate = "OnDeactivate"
)

// Directive is a supervisor's decision after a turn fails (spec §4.6).
type Directive uint8

const (
	Resume Directive = iota
	Restart
	Stop
	Escalate
)

// Supervisor decides what happens to a child actor after a turn error.
// The root supervisor is consulted when an actor has no parent.
type Supervisor interface {
	Supervise(ctx context.Context, actorType, actorID string, cause error) Directive
}

// RestartSupervisor is the spec's stated default: always Restart.
type RestartSupervisor struct{}

func (RestartSupervisor) Supervise(context.Context, string, string, error) Directive {
	return Restart
}

// ID is the (type, id) address of one actor.
type ID struct {
	Type string
	ID   string
}

func (i ID) String() string { return i.Type + ":" + i.ID }

// Instance is one activated actor: its mailbox, its reentrancy limiter, and
// its child index.
type Instance struct {
	id ID

	mailbox    *mailbox.Mailbox
	reentrancy chan struct{} // size K; K=1 means strictly serial turns

	parent   *Instance
	children   sync.Map // actorID string -> *Instance
	supervisor Supervisor

	activeCalls int32
	mu          sync.Mutex

	stop chan struct{}
	done chan struct{}
}

// ID returns the actor's (type, id) address.
func (inst *Instance) ID() ID { return inst.id }

// Mailbox exposes the instance's mailbox for collaborators that need direct
// drain control (e.g. the migration coordinator's begin_drain step).
func (inst *Instance) Mailbox() *mailbox.Mailbox { return inst.mailbox }

func (inst *Instance) ActiveCallCount() int32 {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.activeCalls
}

func (inst *Instance) QueueDepth() int { return inst.mailbox.Depth() }

// ActivityScore implements spec §4.11's cold-first ordering: derived from
// queue depth, active calls, and idle time, normalized to [0, 1].
func (inst *Instance) ActivityScore() float64 {
	inst.mu.Lock()
	active := inst.activeCalls
	inst.mu.Unlock()

	if active > 0 || inst.mailbox.Depth() > 0 {
		return 1.0
	}
	idle := inst.mailbox.IdleFor()
	const coldAfter = 5 * time.Minute
	if idle >= coldAfter {
		return 0
	}
	return 1.0 - float64(idle)/float64(coldAfter)
}
