package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/meshkit/silo/config"
	"github.com/meshkit/silo/internal/actor"
	"github.com/meshkit/silo/internal/cluster"
	"github.com/meshkit/silo/internal/diag"
	"github.com/meshkit/silo/internal/directory"
	"github.com/meshkit/silo/internal/dlq"
	"github.com/meshkit/silo/internal/envelope"
	"github.com/meshkit/silo/internal/mailbox"
	"github.com/meshkit/silo/internal/metrics"
	"github.com/meshkit/silo/internal/migration"
	"github.com/meshkit/silo/internal/reminder"
	"github.com/meshkit/silo/internal/ring"
	"github.com/meshkit/silo/internal/router"
	"github.com/meshkit/silo/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc"
)

// Server wires every C1-C12 component into one running silo process,
// generalizing the teacher's internal/daemon/supervisor.Manager constructor
// (one struct, one explicit New building every collaborator and wiring
// their shutdown into a context-cancel goroutine) into the larger
// multi-collaborator graph SPEC_FULL.md's domain needs.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store      cluster.Store
	membership *cluster.Membership
	hashRing   *ring.Ring
	dir        *directory.Directory
	rtr        *router.Router
	dlqQueue   *dlq.Queue
	runtime    *actor.Runtime
	reminders  *reminder.Scheduler
	migrator   *migration.Coordinator
	tport      *transport.Transport

	grpcServer *grpc.Server
	grpcLis    net.Listener
	diagSrv    *diagServer

	meterProvider *sdkmetric.MeterProvider
	recorder      *metrics.Recorder
}

// NewServer builds the full dependency graph but starts nothing yet.
func NewServer(cfg *config.Config, logger *slog.Logger, store cluster.Store, dispatcher actor.Dispatcher) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger, store: store}

	s.hashRing = ring.New()

	self := cluster.SiloDescriptor{
		SiloID:          cfg.SiloID,
		Endpoint:        cfg.Endpoint,
		RegionID:        cfg.RegionID,
		ZoneID:          cfg.ZoneID,
		LastHeartbeatAt: time.Now(),
	}
	membershipCfg := cluster.Config{
		HeartbeatInterval: cfg.Cluster.HeartbeatInterval,
		LivenessWindow:    cfg.Cluster.LivenessWindow,
		MaxRetries:        cfg.Cluster.MaxRetries,
		ClientOnly:        cfg.Cluster.ClientOnly,
	}
	s.membership = cluster.New(membershipCfg, store, s.hashRing, self, logger)
	if cfg.Cluster.NTPServer != "" {
		s.membership = s.membership.WithClockSkew(cluster.NewClockSkew(cfg.Cluster.NTPServer, logger))
	}

	back := directory.NewMemoryBacking()
	dir, err := directory.New(back, cfg.Directory.CacheCapacity, cfg.Directory.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("silod: directory: %w", err)
	}
	s.dir = dir

	s.rtr = router.New(router.Config{
		MaxRetries: cfg.Router.MaxRetries,
		RetryDelay: cfg.Router.RetryDelay,
	}, dir, s.hashRing, cfg.SiloID)

	dlqPolicy := dlq.RetryPolicy{
		MaxRetries:     cfg.DLQ.MaxRetries,
		InitialDelay:   cfg.DLQ.InitialDelay,
		MaxDelay:       cfg.DLQ.MaxDelay,
		Multiplier:     cfg.DLQ.Multiplier,
		JitterFraction: cfg.DLQ.JitterFraction,
	}
	s.dlqQueue = dlq.New(cfg.DLQ.Capacity, func(string) dlq.RetryPolicy { return dlqPolicy }, s.mailboxProvider)

	s.runtime = actor.New(dispatcher, s.dlqQueue, s.activationOptions, logger)

	s.reminders = reminder.New(reminder.Config{ScanInterval: cfg.Reminder.ScanInterval},
		reminder.NewMemoryTableDriver(), s.hashRing, cfg.SiloID, remindererAdapter{s.runtime}, logger)

	s.migrator = migration.New(s.runtime, s.dir, localActivator{s.runtime}, cfg.SiloID)

	// §6's diagnostic surface instruments every component through one
	// Recorder: an in-process OTel MeterProvider (no remote exporter is
	// configured, matching spec §6's scope of "expose", not "ship
	// elsewhere") paired with the process's default Prometheus registerer so
	// /metrics (served by internal/diag) reflects the same counters.
	s.meterProvider = sdkmetric.NewMeterProvider()
	recorder, err := metrics.New(s.meterProvider.Meter("github.com/meshkit/silo"), prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("silod: metrics: %w", err)
	}
	s.recorder = recorder
	s.runtime.SetMetrics(recorder)
	s.dlqQueue.SetMetrics(recorder)
	s.reminders.SetMetrics(recorder)
	s.migrator.SetMetrics(recorder)

	s.tport = transport.New(cfg.SiloID, s.runtime, endpointResolver{s.membership}, logger)
	s.grpcServer = transport.NewServer(s.tport)

	s.diagSrv = newDiagServer(cfg.Diag.ListenAddr,
		diag.NewRouter(clusterView{s.membership}, dlqView{s.dlqQueue}, migrationView{s.migrator}), logger)

	return s, nil
}

// mailboxProvider lets the DLQ re-post a replayed envelope without coupling
// it to the actor runtime type (spec §4.7).
func (s *Server) mailboxProvider(ctx context.Context, actorType, actorID string, env *envelope.Envelope) error {
	return s.runtime.Deliver(ctx, env)
}

func (s *Server) activationOptions(actorType string) actor.ActivationOptions {
	mode := mailbox.Block
	switch s.cfg.Mailbox.BackpressureMode {
	case "drop_oldest":
		mode = mailbox.DropOldest
	case "drop_newest":
		mode = mailbox.DropNewest
	case "throttle":
		mode = mailbox.Throttle
	}
	return actor.ActivationOptions{
		Mailbox: mailbox.Config{
			Mode:           mode,
			Capacity:       s.cfg.Mailbox.Capacity,
			ThrottleN:      s.cfg.Mailbox.ThrottleN,
			ThrottleWindow: s.cfg.Mailbox.ThrottleWindow,
		},
		Reentrancy:  s.cfg.Actor.Reentrancy,
		IdleTimeout: s.cfg.Actor.IdleTimeout,
	}
}

// Start brings every background loop up: membership, idle reaper, reminder
// scanner, gRPC listener, diagnostic HTTP server.
func (s *Server) Start(ctx context.Context) error {
	if err := s.membership.Start(ctx); err != nil {
		return fmt.Errorf("silod: membership start: %w", err)
	}
	s.runtime.StartIdleReaper()
	s.reminders.Start(ctx)

	lis, err := net.Listen("tcp", s.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("silod: listen %s: %w", s.cfg.Endpoint, err)
	}
	s.grpcLis = lis
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Error("grpc server stopped", "err", err)
		}
	}()

	s.diagSrv.Start()

	s.logger.Info("silo started", "silo_id", s.cfg.SiloID, "endpoint", s.cfg.Endpoint)
	return nil
}

// Stop implements spec §7's graceful shutdown: stop accepting new envelopes,
// drain existing mailboxes, unregister from membership.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("silo shutting down", "silo_id", s.cfg.SiloID)

	s.grpcServer.GracefulStop()
	_ = s.tport.Close()

	s.reminders.Stop()
	s.runtime.Shutdown(ctx)

	if err := s.membership.Stop(ctx); err != nil {
		s.logger.Warn("membership stop", "err", err)
	}

	if err := s.meterProvider.Shutdown(ctx); err != nil {
		s.logger.Warn("meter provider shutdown", "err", err)
	}

	return s.diagSrv.Stop(ctx)
}

// remindererAdapter satisfies reminder.Deliverer.
type remindererAdapter struct{ rt *actor.Runtime }

func (r remindererAdapter) Deliver(ctx context.Context, env *envelope.Envelope) error {
	return r.rt.Deliver(ctx, env)
}

// localActivator satisfies migration.TargetActivator for the demo single-
// process topology; a real multi-process deployment would instead dial the
// target silo's transport and ask it to activate locally.
type localActivator struct{ rt *actor.Runtime }

func (a localActivator) ActivateOnTarget(ctx context.Context, targetSilo, actorType, actorID string) error {
	env := envelope.New(actorType, actorID, actor.MethodActivate, nil)
	return a.rt.Deliver(ctx, env)
}

// endpointResolver adapts cluster.Membership to transport.AddressResolver.
type endpointResolver struct{ m *cluster.Membership }

func (r endpointResolver) Address(siloID string) (string, bool) {
	for _, d := range r.m.ListActive() {
		if d.SiloID == siloID {
			return d.Endpoint, true
		}
	}
	return "", false
}

// clusterView adapts cluster.Membership to diag.ClusterView.
type clusterView struct{ m *cluster.Membership }

func (c clusterView) Self() diag.SiloSummary {
	self := c.m.Self()
	return diag.SiloSummary{SiloID: self.SiloID, Endpoint: self.Endpoint}
}

func (c clusterView) ActiveCount() int {
	return len(c.m.ListActive())
}

func (c clusterView) ActiveSilos() []diag.SiloSummary {
	active := c.m.ListActive()
	out := make([]diag.SiloSummary, 0, len(active))
	for _, d := range active {
		out = append(out, diag.SiloSummary{SiloID: d.SiloID, Endpoint: d.Endpoint, RegionID: d.RegionID, ZoneID: d.ZoneID})
	}
	return out
}

// dlqView adapts *dlq.Queue to diag.DLQView.
type dlqView struct{ q *dlq.Queue }

func (v dlqView) List(actor string) []diag.DLQEntry {
	entries := v.q.List(actor)
	out := make([]diag.DLQEntry, 0, len(entries))
	for _, e := range entries {
		cause := ""
		if e.Cause != nil {
			cause = e.Cause.Error()
		}
		out = append(out, diag.DLQEntry{
			MessageID:  e.MessageID,
			ActorType:  e.ActorType,
			ActorID:    e.ActorID,
			Cause:      cause,
			EnqueuedAt: e.EnqueuedAt,
			Attempts:   e.Attempts,
		})
	}
	return out
}

func (v dlqView) Replay(messageID uint64) (bool, error) {
	return v.q.Replay(context.Background(), messageID)
}

func (v dlqView) Stats() (enqueued, replayed int64) {
	return v.q.Stats()
}

// migrationView adapts *migration.Coordinator to diag.MigrationView.
type migrationView struct{ c *migration.Coordinator }

func (v migrationView) Status(actorType, actorID string) (diag.MigrationStatus, bool) {
	mg, ok := v.c.Status(actorType, actorID)
	if !ok {
		return diag.MigrationStatus{}, false
	}
	errStr := ""
	if mg.Err != nil {
		errStr = mg.Err.Error()
	}
	return diag.MigrationStatus{
		ActorType:  mg.ActorType,
		ActorID:    mg.ActorID,
		TargetSilo: mg.TargetSilo,
		State:      migrationStateString(mg.State),
		Err:        errStr,
	}, true
}

func migrationStateString(s migration.State) string {
	switch s {
	case migration.NotStarted:
		return "not_started"
	case migration.InProgress:
		return "in_progress"
	case migration.Completed:
		return "completed"
	case migration.Failed:
		return "failed"
	case migration.Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
