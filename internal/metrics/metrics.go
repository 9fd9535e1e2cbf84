// Package metrics exposes the counters/gauges/histograms spec §6's
// diagnostic surface names, instrumented through OpenTelemetry (matching the
// teacher's direct go.opentelemetry.io/otel + otelgrpc dependencies, used in
// getployz-ployz for gRPC instrumentation) and additionally exported as
// Prometheus metrics (ghjramos-aistore's direct dependency on
// github.com/prometheus/client_golang, adopted here since no pack repo pairs
// OTel metrics with a Prometheus exposition endpoint on its own).
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
)

// Recorder is the set of instruments every component reaches for. One
// Recorder is constructed per process and handed out via DI, same as
// internal/logging.
type Recorder struct {
	ActorActivations  metric.Int64Counter
	ActorTurns        metric.Int64Counter
	TurnDuration      metric.Float64Histogram
	MailboxDepth      metric.Int64UpDownCounter
	MailboxDropped    metric.Int64Counter
	DeadLettered      metric.Int64Counter
	RemindersFired    metric.Int64Counter
	MigrationsStarted metric.Int64Counter
	MigrationsFailed  metric.Int64Counter

	promActivations prometheus.Counter
	promDropped     prometheus.Counter
}

// New builds a Recorder against meter (the process's configured
// metric.Meter) and registers the Prometheus-mirrored counters against reg.
func New(meter metric.Meter, reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{}
	var err error

	if r.ActorActivations, err = meter.Int64Counter("silo.actor.activations",
		metric.WithDescription("actor activations, spec §4.6")); err != nil {
		return nil, err
	}
	if r.ActorTurns, err = meter.Int64Counter("silo.actor.turns",
		metric.WithDescription("actor turns dispatched")); err != nil {
		return nil, err
	}
	if r.TurnDuration, err = meter.Float64Histogram("silo.actor.turn_duration_seconds",
		metric.WithDescription("turn wall-clock duration")); err != nil {
		return nil, err
	}
	if r.MailboxDepth, err = meter.Int64UpDownCounter("silo.mailbox.depth",
		metric.WithDescription("current mailbox queue depth")); err != nil {
		return nil, err
	}
	if r.MailboxDropped, err = meter.Int64Counter("silo.mailbox.dropped",
		metric.WithDescription("envelopes dropped by backpressure, spec §4.5")); err != nil {
		return nil, err
	}
	if r.DeadLettered, err = meter.Int64Counter("silo.dlq.enqueued",
		metric.WithDescription("envelopes moved to the dead-letter queue, spec §4.7")); err != nil {
		return nil, err
	}
	if r.RemindersFired, err = meter.Int64Counter("silo.reminders.fired",
		metric.WithDescription("reminder deliveries, spec §4.9")); err != nil {
		return nil, err
	}
	if r.MigrationsStarted, err = meter.Int64Counter("silo.migration.started",
		metric.WithDescription("migrations begun, spec §4.11")); err != nil {
		return nil, err
	}
	if r.MigrationsFailed, err = meter.Int64Counter("silo.migration.failed",
		metric.WithDescription("migrations that ended Failed")); err != nil {
		return nil, err
	}

	r.promActivations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "silo_actor_activations_total",
		Help: "actor activations, mirrors silo.actor.activations",
	})
	r.promDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "silo_mailbox_dropped_total",
		Help: "envelopes dropped by backpressure, mirrors silo.mailbox.dropped",
	})
	reg.MustRegister(r.promActivations, r.promDropped)

	return r, nil
}

// RecordActivation increments both the OTel and Prometheus activation
// counters; kept as one call so callers never forget the mirror.
func (r *Recorder) RecordActivation(ctx context.Context) {
	r.ActorActivations.Add(ctx, 1)
	r.promActivations.Inc()
}

// RecordDropped increments both the OTel and Prometheus drop counters.
func (r *Recorder) RecordDropped(ctx context.Context, n int64) {
	r.MailboxDropped.Add(ctx, n)
	r.promDropped.Add(float64(n))
}

// RecordTurn records one completed actor turn's wall-clock duration.
func (r *Recorder) RecordTurn(ctx context.Context, d time.Duration) {
	r.ActorTurns.Add(ctx, 1)
	r.TurnDuration.Record(ctx, d.Seconds())
}

// RecordDeadLettered increments the dead-letter counter (spec §4.7).
func (r *Recorder) RecordDeadLettered(ctx context.Context) {
	r.DeadLettered.Add(ctx, 1)
}

// RecordReminderFired increments the reminder-delivery counter (spec §4.9).
func (r *Recorder) RecordReminderFired(ctx context.Context) {
	r.RemindersFired.Add(ctx, 1)
}

// RecordMigrationStarted increments the migration-started counter (spec
// §4.11).
func (r *Recorder) RecordMigrationStarted(ctx context.Context) {
	r.MigrationsStarted.Add(ctx, 1)
}

// RecordMigrationFailed increments the migration-failed counter.
func (r *Recorder) RecordMigrationFailed(ctx context.Context) {
	r.MigrationsFailed.Add(ctx, 1)
}
