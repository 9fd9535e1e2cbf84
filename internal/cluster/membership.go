package cluster

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meshkit/silo/internal/ring"
	"github.com/meshkit/silo/internal/siloerr"
)

// Config holds Membership's tunables (spec §4.2 defaults).
type Config struct {
	HeartbeatInterval time.Duration
	LivenessWindow    time.Duration
	MaxRetries        int
	// ClientOnly observers never register or heartbeat (spec §4.2).
	ClientOnly bool
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		LivenessWindow:    30 * time.Second,
		MaxRetries:        5,
	}
}

// Membership owns this process's registration lifecycle and keeps a Ring in
// sync with join/leave events (spec §4.2: "Join/leave events trigger ring
// rebuild").
type Membership struct {
	cfg    Config
	store  Store
	ring   *ring.Ring
	logger *slog.Logger
	self   SiloDescriptor
	clock  *ClockSkew

	mu     sync.RWMutex
	silos  map[string]SiloDescriptor
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, store Store, r *ring.Ring, self SiloDescriptor, logger *slog.Logger) *Membership {
	return &Membership{
		cfg:    cfg,
		store:  store,
		ring:   r,
		logger: logger.With("component", "cluster"),
		self:   self,
		silos:  make(map[string]SiloDescriptor),
	}
}

// WithClockSkew attaches an NTP-based skew probe (see clockskew.go) whose
// estimate widens the effective liveness window, guarding against
// false-dead verdicts when silos' local clocks disagree.
func (m *Membership) WithClockSkew(c *ClockSkew) *Membership {
	m.clock = c
	return m
}

// Start registers self (unless ClientOnly) and begins heartbeating plus
// watching for membership events. It blocks until the initial silo list is
// loaded or ctx is cancelled, returning ClusterUnavailable if the store
// cannot be reached after Config.MaxRetries retries.
func (m *Membership) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	if err := m.loadInitial(ctx); err != nil {
		cancel()
		return err
	}

	if !m.cfg.ClientOnly {
		if err := m.retryRegister(ctx); err != nil {
			cancel()
			return err
		}
		m.mu.Lock()
		m.silos[m.self.SiloID] = m.self
		m.mu.Unlock()
		m.ring.Add(ring.Node{SiloID: m.self.SiloID, Weight: 1, Region: m.self.RegionID, Zone: m.self.ZoneID})
		go m.heartbeatLoop(runCtx)
	}
	events, err := m.store.Watch(runCtx)
	if err != nil {
		m.logger.Error("watch failed", "err", err)
	} else {
		go m.watchLoop(events)
	}
	if m.clock != nil {
		m.clock.Start(0)
	}

	return nil
}

func (m *Membership) loadInitial(ctx context.Context) error {
	var lastErr error
	delay := 200 * time.Millisecond
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		silos, err := m.store.List(ctx)
		if err == nil {
			m.applyList(silos)
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return siloerr.New(siloerr.Cancelled, "membership: initial load cancelled")
		case <-time.After(delay):
		}
		delay *= 2
	}
	return siloerr.Newf(siloerr.ClusterUnavailable, "no active silos after %d retries: %v", m.cfg.MaxRetries, lastErr)
}

func (m *Membership) retryRegister(ctx context.Context) error {
	var lastErr error
	delay := 200 * time.Millisecond
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		m.self.LastHeartbeatAt = time.Now()
		if err := m.store.Register(ctx, m.self); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return siloerr.New(siloerr.Cancelled, "membership: registration cancelled")
		case <-time.After(delay):
		}
		delay *= 2
	}
	return siloerr.Newf(siloerr.ClusterUnavailable, "could not register after %d retries: %v", m.cfg.MaxRetries, lastErr)
}

func (m *Membership) applyList(silos []SiloDescriptor) {
	m.mu.Lock()
	m.silos = make(map[string]SiloDescriptor, len(silos))
	for _, d := range silos {
		m.silos[d.SiloID] = d
	}
	m.mu.Unlock()

	for _, d := range silos {
		if m.isLive(d) {
			m.ring.Add(ring.Node{SiloID: d.SiloID, Weight: 1, Region: d.RegionID, Zone: d.ZoneID})
		}
	}
}

func (m *Membership) isLive(d SiloDescriptor) bool {
	window := m.cfg.LivenessWindow
	if m.clock != nil {
		window += m.clock.Margin()
	}
	return d.Active(time.Now(), window)
}

func (m *Membership) heartbeatLoop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = m.store.Unregister(context.Background(), m.self.SiloID)
			return
		case <-ticker.C:
			m.self.LastHeartbeatAt = time.Now()
			if err := m.store.Register(ctx, m.self); err != nil {
				m.logger.Warn("heartbeat failed", "err", err)
			}
		}
	}
}

func (m *Membership) watchLoop(events <-chan Event) {
	for ev := range events {
		m.mu.Lock()
		switch ev.Kind {
		case SiloJoined, SiloUpdated:
			m.silos[ev.Silo.SiloID] = ev.Silo
		case SiloLeft:
			delete(m.silos, ev.Silo.SiloID)
		}
		m.mu.Unlock()

		switch ev.Kind {
		case SiloJoined, SiloUpdated:
			if m.isLive(ev.Silo) {
				m.ring.Add(ring.Node{SiloID: ev.Silo.SiloID, Weight: 1, Region: ev.Silo.RegionID, Zone: ev.Silo.ZoneID})
				m.logger.Info("silo joined", "silo_id", ev.Silo.SiloID)
			}
		case SiloLeft:
			m.ring.Remove(ev.Silo.SiloID)
			m.logger.Info("silo left", "silo_id", ev.Silo.SiloID)
		}
	}
}

// Stop unregisters self and halts the heartbeat/watch goroutines.
func (m *Membership) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.clock != nil {
		m.clock.Stop()
	}
	if !m.cfg.ClientOnly {
		select {
		case <-m.done:
		case <-ctx.Done():
		}
	}
	return nil
}

// ListActive returns every silo currently believed live.
func (m *Membership) ListActive() []SiloDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SiloDescriptor, 0, len(m.silos))
	for _, d := range m.silos {
		if m.isLive(d) {
			out = append(out, d)
		}
	}
	return out
}

// Self returns this process's descriptor.
func (m *Membership) Self() SiloDescriptor { return m.self }
