// Package reminder implements the reminder service (spec §4.9, C9):
// persistent, at-least-once scheduled delivery, with ownership re-resolved
// against the hash ring on every scan so migrations transfer reminders
// automatically.
package reminder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/ring"
)

// Record is one persistent reminder (spec §4.9).
type Record struct {
	ActorType    string
	ActorID      string
	Name         string
	NextFireTime time.Time
	Period       time.Duration // zero means one-shot
	LastFiredAt  time.Time
}

func (r Record) key() string { return r.ActorType + ":" + r.ActorID + ":" + r.Name }

// TableDriver implements C9's index + mutations (spec §6 collaborator).
type TableDriver interface {
	Due(ctx context.Context, now time.Time) ([]Record, error)
	Upsert(ctx context.Context, r Record) error
	Delete(ctx context.Context, actorType, actorID, name string) error
}

// MemoryTableDriver is an in-process reference TableDriver.
type MemoryTableDriver struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryTableDriver() *MemoryTableDriver {
	return &MemoryTableDriver{records: make(map[string]Record)}
}

func (d *MemoryTableDriver) Due(_ context.Context, now time.Time) ([]Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Record, 0)
	for _, r := range d.records {
		if !r.NextFireTime.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (d *MemoryTableDriver) Upsert(_ context.Context, r Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[r.key()] = r
	return nil
}

func (d *MemoryTableDriver) Delete(_ context.Context, actorType, actorID, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.records, Record{ActorType: actorType, ActorID: actorID, Name: name}.key())
	return nil
}

// Deliverer posts a reminder-fire envelope to an actor's mailbox,
// activating it if necessary (the actor runtime's Deliver satisfies this).
type Deliverer interface {
	Deliver(ctx context.Context, env *envelope.Envelope) error
}

// Config holds C9's tunables.
type Config struct {
	ScanInterval time.Duration
}

func DefaultConfig() Config {
	return Config{ScanInterval: time.Second}
}

// Metrics is the subset of internal/metrics.Recorder this package drives;
// kept narrow so reminder never imports the metrics package's OTel/
// Prometheus wiring directly.
type Metrics interface {
	RecordReminderFired(ctx context.Context)
}

// Scheduler runs the periodic scan described in spec §4.9.
type Scheduler struct {
	cfg       Config
	driver    TableDriver
	ring      *ring.Ring
	localSilo string
	deliverer Deliverer
	logger    *slog.Logger
	metrics   Metrics

	fired atomic64
	stop  chan struct{}
}

type atomic64 struct {
	mu sync.Mutex
	n  int64
}

func (a *atomic64) add(d int64) { a.mu.Lock(); a.n += d; a.mu.Unlock() }
func (a *atomic64) load() int64 { a.mu.Lock(); defer a.mu.Unlock(); return a.n }

func New(cfg Config, driver TableDriver, r *ring.Ring, localSilo string, deliverer Deliverer, logger *slog.Logger) *Scheduler {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	return &Scheduler{
		cfg:       cfg,
		driver:    driver,
		ring:      r,
		localSilo: localSilo,
		deliverer: deliverer,
		logger:    logger.With("component", "reminder"),
		stop:      make(chan struct{}),
	}
}

// SetMetrics wires a Metrics recorder in after construction, same pattern as
// actor.Runtime.SetMetrics.
func (s *Scheduler) SetMetrics(m Metrics) {
	s.metrics = m
}

// Schedule registers or updates a reminder.
func (s *Scheduler) Schedule(ctx context.Context, r Record) error {
	return s.driver.Upsert(ctx, r)
}

// Cancel removes a reminder.
func (s *Scheduler) Cancel(ctx context.Context, actorType, actorID, name string) error {
	return s.driver.Delete(ctx, actorType, actorID, name)
}

// Start launches the background scan loop.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.cfg.ScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.scan(ctx)
			}
		}
	}()
}

func (s *Scheduler) Stop() { close(s.stop) }

func (s *Scheduler) scan(ctx context.Context) {
	now := time.Now()
	due, err := s.driver.Due(ctx, now)
	if err != nil {
		s.logger.Warn("reminder scan failed", "err", err)
		return
	}

	for _, r := range due {
		owner, ok := s.ring.Get(r.ActorType + ":" + r.ActorID)
		if !ok || owner != s.localSilo {
			continue // not ours this scan; the new owner will pick it up
		}

		env := envelope.ReminderEnvelope(r.ActorType, r.ActorID, r.Name)
		if err := s.deliverer.Deliver(ctx, env); err != nil {
			s.logger.Warn("reminder delivery failed", "actor", r.ActorType+":"+r.ActorID, "name", r.Name, "err", err)
			continue
		}
		s.fired.add(1)
		if s.metrics != nil {
			s.metrics.RecordReminderFired(ctx)
		}

		r.LastFiredAt = now
		if r.Period <= 0 {
			_ = s.driver.Delete(ctx, r.ActorType, r.ActorID, r.Name)
			continue
		}
		r.NextFireTime = now.Add(r.Period)
		_ = s.driver.Upsert(ctx, r)
	}
}

// Fired reports the total number of successful reminder deliveries, for the
// diagnostic "reminders.fired" counter (spec §6).
func (s *Scheduler) Fired() int64 { return s.fired.load() }
