package pgxpoolx

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// acquireKind tells why a connection left the pool.
type acquireKind string

const (
	// acquireBegin is the acquire made by Driver.Begin for a new transaction.
	acquireBegin acquireKind = "begin"
	// acquireFallback serves a query outside any transaction scope.
	acquireFallback acquireKind = "fallback"
	// acquireBypass serves a query issued on the pool while the context
	// carries an open scope, so the work escapes that transaction.
	acquireBypass acquireKind = "bypass"
)

type poolTelemetry struct {
	helper        *log.Helper
	acquire       metric.Float64Histogram
	bypass        metric.Int64Counter
	healthLatency metric.Float64Histogram
	healthFail    metric.Int64Counter
	registration  metric.Registration
	enabled       bool
}

func newPoolTelemetry(meter metric.Meter, helper *log.Helper, enabled bool) *poolTelemetry {
	t := &poolTelemetry{helper: helper}
	if !enabled || meter == nil {
		return t
	}

	var err error
	t.acquire, err = meter.Float64Histogram("db.pool.acquire_duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Connection acquire latency by acquire kind (begin, fallback, bypass)."))
	if err != nil {
		helper.Warnf("pgxpoolx: acquire histogram: %v", err)
	}
	t.bypass, err = meter.Int64Counter("db.pool.scope_bypass",
		metric.WithDescription("Queries run on the pool while a transaction scope was open."))
	if err != nil {
		helper.Warnf("pgxpoolx: scope bypass counter: %v", err)
	}
	t.healthLatency, err = meter.Float64Histogram("db.pool.health_check.duration", metric.WithUnit("ms"))
	if err != nil {
		helper.Warnf("pgxpoolx: health check histogram: %v", err)
	}
	t.healthFail, err = meter.Int64Counter("db.pool.health_check.failures")
	if err != nil {
		helper.Warnf("pgxpoolx: health check counter: %v", err)
	}

	t.enabled = true
	return t
}

// observe reports pool occupancy through db.pool.connections until shutdown.
func (t *poolTelemetry) observe(meter metric.Meter, pool *pgxpool.Pool) {
	if t == nil || !t.enabled || meter == nil || pool == nil {
		return
	}
	gauge, err := meter.Int64ObservableGauge("db.pool.connections")
	if err != nil {
		t.helper.Warnf("pgxpoolx: connections gauge: %v", err)
		return
	}
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := pool.Stat()
		o.ObserveInt64(gauge, int64(stats.AcquiredConns()), metric.WithAttributes(attribute.String("state", "active")))
		o.ObserveInt64(gauge, int64(stats.IdleConns()), metric.WithAttributes(attribute.String("state", "idle")))
		o.ObserveInt64(gauge, int64(stats.TotalConns()), metric.WithAttributes(attribute.String("state", "total")))
		return nil
	}, gauge)
	if err != nil {
		t.helper.Warnf("pgxpoolx: register connections callback: %v", err)
		return
	}
	t.registration = reg
}

func (t *poolTelemetry) recordAcquire(ctx context.Context, kind acquireKind, elapsed time.Duration) {
	if t == nil || !t.enabled {
		return
	}
	if t.acquire != nil {
		t.acquire.Record(ctx, float64(elapsed.Milliseconds()),
			metric.WithAttributes(attribute.String("db.pool.acquire.kind", string(kind))))
	}
	if kind == acquireBypass && t.bypass != nil {
		t.bypass.Add(ctx, 1)
	}
}

func (t *poolTelemetry) recordHealthCheck(ctx context.Context, elapsed time.Duration, err error) {
	if t == nil || !t.enabled {
		return
	}
	if t.healthLatency != nil {
		t.healthLatency.Record(ctx, float64(elapsed.Milliseconds()))
	}
	if err != nil && t.healthFail != nil {
		t.healthFail.Add(ctx, 1)
	}
}

func (t *poolTelemetry) shutdown() {
	if t == nil || t.registration == nil {
		return
	}
	if err := t.registration.Unregister(); err != nil {
		t.helper.Warnf("pgxpoolx: unregister connections callback: %v", err)
	}
}
