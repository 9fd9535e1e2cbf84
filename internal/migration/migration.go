// Package migration implements live migration (spec §4.11, C11): a
// per-actor drain/transfer/activate state machine, cold-first candidate
// ordering, and version-aware target placement.
package migration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meshkit/silo/internal/actor"
	"github.com/meshkit/silo/internal/cluster"
	"github.com/meshkit/silo/internal/directory"
	"github.com/meshkit/silo/internal/siloerr"
	"golang.org/x/sync/errgroup"
)

// Metrics is the subset of internal/metrics.Recorder this package drives;
// kept narrow so migration never imports the metrics package's OTel/
// Prometheus wiring directly.
type Metrics interface {
	RecordMigrationStarted(ctx context.Context)
	RecordMigrationFailed(ctx context.Context)
}

// State is a migration's position in its state machine.
type State uint8

const (
	NotStarted State = iota
	InProgress
	Completed
	Failed
	Cancelled
)

// Migration tracks one actor's move to TargetSilo.
type Migration struct {
	ActorType  string
	ActorID    string
	TargetSilo string
	State      State
	Err        error
}

func (m Migration) key() string { return m.ActorType + ":" + m.ActorID }

// TargetActivator performs activation on the remote target; it is the
// transport-facing collaborator (spec §4.11 step 4 happens on the target
// silo, reached over C12).
type TargetActivator interface {
	ActivateOnTarget(ctx context.Context, targetSilo, actorType, actorID string) error
}

// Coordinator drives migrations for actors hosted by this silo's Runtime.
type Coordinator struct {
	runtime   *actor.Runtime
	dir       *directory.Directory
	activator TargetActivator
	localSilo string
	metrics   Metrics

	mu         sync.Mutex
	migrations map[string]*Migration
}

// SetMetrics wires a Metrics recorder in after construction, same pattern as
// actor.Runtime.SetMetrics.
func (c *Coordinator) SetMetrics(m Metrics) {
	c.metrics = m
}

func New(runtime *actor.Runtime, dir *directory.Directory, activator TargetActivator, localSilo string) *Coordinator {
	return &Coordinator{
		runtime:    runtime,
		dir:        dir,
		activator:  activator,
		localSilo:  localSilo,
		migrations: make(map[string]*Migration),
	}
}

// BeginDrain starts a migration: the actor's mailbox stops admitting new
// writes, in-flight turns continue (spec §4.11 step 1). Idempotent: calling
// it again for an already-InProgress migration is a no-op.
func (c *Coordinator) BeginDrain(ctx context.Context, actorType, actorID, targetSilo string) error {
	id := actor.ID{Type: actorType, ID: actorID}
	inst, ok := c.runtime.Lookup(id)
	if !ok {
		return siloerr.New(siloerr.NotFound, "migration: actor not active on this silo")
	}

	k := actorType + ":" + actorID
	c.mu.Lock()
	if existing, ok := c.migrations[k]; ok && existing.State == InProgress {
		c.mu.Unlock()
		return nil
	}
	c.migrations[k] = &Migration{ActorType: actorType, ActorID: actorID, TargetSilo: targetSilo, State: InProgress}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordMigrationStarted(ctx)
	}

	inst.Mailbox().BeginDrain()
	return nil
}

// WaitForDrain reports true once active_call_count == 0 and queue_depth ==
// 0, or false if timeout elapses first (spec §4.11 step 2).
func (c *Coordinator) WaitForDrain(ctx context.Context, actorType, actorID string, timeout time.Duration) (bool, error) {
	id := actor.ID{Type: actorType, ID: actorID}
	inst, ok := c.runtime.Lookup(id)
	if !ok {
		return false, siloerr.New(siloerr.NotFound, "migration: actor not active on this silo")
	}

	deadline := time.Now().Add(timeout)
	for {
		if inst.ActiveCallCount() == 0 && inst.QueueDepth() == 0 {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, siloerr.New(siloerr.Cancelled, "migration: wait_for_drain cancelled")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TransferState deactivates the local instance (its C8 state is already
// durable; remaining in-memory data is whatever the actor checkpointed) and
// hands off to ActivateOnTarget (spec §4.11 steps 3-4).
func (c *Coordinator) TransferState(ctx context.Context, actorType, actorID, targetSilo string) error {
	id := actor.ID{Type: actorType, ID: actorID}
	if err := c.runtime.Deactivate(ctx, id); err != nil {
		c.fail(actorType, actorID, err)
		return err
	}

	if err := c.activator.ActivateOnTarget(ctx, targetSilo, actorType, actorID); err != nil {
		c.fail(actorType, actorID, err)
		return err
	}

	if err := c.dir.MarkOwned(ctx, actorType, actorID, targetSilo); err != nil {
		c.fail(actorType, actorID, err)
		return err
	}

	c.mu.Lock()
	k := actorType + ":" + actorID
	if mg, ok := c.migrations[k]; ok {
		mg.State = Completed
	}
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) fail(actorType, actorID string, err error) {
	c.mu.Lock()
	k := actorType + ":" + actorID
	if mg, ok := c.migrations[k]; ok {
		mg.State = Failed
		mg.Err = err
	}
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordMigrationFailed(context.Background())
	}
}

// Cancel marks a migration Cancelled without performing a transfer; the
// local actor, if still active, is left exactly as it was (drain is
// reversible only by deactivating and letting the next envelope reactivate
// it locally).
func (c *Coordinator) Cancel(actorType, actorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := actorType + ":" + actorID
	if mg, ok := c.migrations[k]; ok {
		mg.State = Cancelled
	}
}

// Status returns the current migration record for an actor, if any.
func (c *Coordinator) Status(actorType, actorID string) (Migration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mg, ok := c.migrations[actorType+":"+actorID]
	if !ok {
		return Migration{}, false
	}
	return *mg, true
}

// WaitForDrainAll runs WaitForDrain concurrently over several actors at once
// (spec §4.11's rebalance path migrates a cold-first batch, not one actor at
// a time) and reports, per actor, whether it drained before timeout. The
// first non-cancellation error aborts the remaining waits.
func (c *Coordinator) WaitForDrainAll(ctx context.Context, candidates []Candidate, timeout time.Duration) (map[string]bool, error) {
	results := make(map[string]bool, len(candidates))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			drained, err := c.WaitForDrain(gctx, cand.ActorType, cand.ActorID, timeout)
			if err != nil {
				return err
			}
			mu.Lock()
			results[cand.ActorType+":"+cand.ActorID] = drained
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Candidate pairs an actor instance with its activity score for cold-first
// ordering (spec §4.11).
type Candidate struct {
	ActorType string
	ActorID   string
	Score     float64
}

// ColdFirstCandidates ranks locally active actors by activity score
// ascending, filtering to score < 0.5 and zero active calls (spec §4.11:
// "actors with score < 0.5 and no active calls migrate first").
func ColdFirstCandidates(runtime *actor.Runtime) []Candidate {
	instances := runtime.Active()
	out := make([]Candidate, 0, len(instances))
	for _, inst := range instances {
		if inst.ActiveCallCount() != 0 {
			continue
		}
		score := inst.ActivityScore()
		if score >= 0.5 {
			continue
		}
		out = append(out, Candidate{ActorType: inst.ID().Type, ActorID: inst.ID().ID, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	return out
}

// SelectTarget picks among silos advertising a version of actorType
// compatible with want under mode (spec §4.11 "version-aware placement").
func SelectTarget(silos []cluster.SiloDescriptor, actorType string, want cluster.VersionInfo, mode cluster.CompatMode) (string, bool) {
	for _, s := range silos {
		v, ok := s.ActorTypeVersions[actorType]
		if ok && v.Compat(want, mode) {
			return s.SiloID, true
		}
	}
	return "", false
}
