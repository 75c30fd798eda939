package txmanager

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// outcome labels how a transaction or savepoint settled.
type outcome string

const (
	outcomeCommitted    outcome = "committed"
	outcomeRolledBack   outcome = "rolled_back"
	outcomeRollbackOnly outcome = "rollback_only"
	outcomeBeginFailed  outcome = "begin_failed"
	outcomeCommitFailed outcome = "commit_failed"
	outcomePanic        outcome = "panic"
)

// failed reports whether the outcome counts towards db.tx.failures. A
// rollback-only scope is tracked by its own counter.
func (o outcome) failed() bool {
	return o != outcomeCommitted && o != outcomeRollbackOnly
}

// txLabels identify one transaction or savepoint across every instrument.
type txLabels struct {
	system      string
	method      string
	isolation   string
	propagation string
	depth       int
}

func (l txLabels) attrs(extra ...attribute.KeyValue) metric.MeasurementOption {
	kv := make([]attribute.KeyValue, 0, 5+len(extra))
	kv = append(kv,
		attribute.String("db.system", l.system),
		attribute.String("tx.method", l.method),
		attribute.String("tx.isolation", l.isolation),
		attribute.String("tx.propagation", l.propagation),
		attribute.Int("tx.depth", l.depth),
	)
	return metric.WithAttributes(append(kv, extra...)...)
}

type telemetry struct {
	enabled bool

	duration     metric.Float64Histogram
	active       metric.Int64UpDownCounter
	failures     metric.Int64Counter
	rollbackOnly metric.Int64Counter
	retries      metric.Int64Counter
	joined       metric.Int64Counter
}

func newTelemetry(meter metric.Meter, helper *log.Helper, enabled bool) *telemetry {
	t := &telemetry{enabled: enabled}
	if !enabled {
		return t
	}

	warn := func(name string, err error) {
		if err != nil {
			helper.Warnf("txmanager: create instrument %s: %v", name, err)
		}
	}

	var err error
	t.duration, err = meter.Float64Histogram("db.tx.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time from begin until a transaction or savepoint settled."))
	warn("db.tx.duration", err)
	t.active, err = meter.Int64UpDownCounter("db.tx.active",
		metric.WithDescription("Transactions and savepoints currently open."))
	warn("db.tx.active", err)
	t.failures, err = meter.Int64Counter("db.tx.failures",
		metric.WithDescription("Transactions that failed to begin, rolled back on error or panic, or failed to commit."))
	warn("db.tx.failures", err)
	t.rollbackOnly, err = meter.Int64Counter("db.tx.rollback_only",
		metric.WithDescription("Transactions rolled back because a joined call failed."))
	warn("db.tx.rollback_only", err)
	t.retries, err = meter.Int64Counter("db.tx.retries",
		metric.WithDescription("Failures classified as safe to retry."))
	warn("db.tx.retries", err)
	t.joined, err = meter.Int64Counter("db.tx.joined",
		metric.WithDescription("Calls that ran inside an enclosing transaction."))
	warn("db.tx.joined", err)
	return t
}

func (t *telemetry) opened(ctx context.Context, l txLabels) {
	if !t.enabled || t.active == nil {
		return
	}
	t.active.Add(ctx, 1, l.attrs())
}

func (t *telemetry) settled(ctx context.Context, l txLabels, o outcome, retryable bool, elapsed time.Duration) {
	if !t.enabled {
		return
	}
	if o != outcomeBeginFailed && t.active != nil {
		t.active.Add(ctx, -1, l.attrs())
	}
	withOutcome := l.attrs(attribute.String("tx.outcome", string(o)))
	if t.duration != nil {
		t.duration.Record(ctx, float64(elapsed.Milliseconds()), withOutcome)
	}
	if o.failed() && t.failures != nil {
		t.failures.Add(ctx, 1, withOutcome)
	}
	if o == outcomeRollbackOnly && t.rollbackOnly != nil {
		t.rollbackOnly.Add(ctx, 1, l.attrs())
	}
	if retryable && t.retries != nil {
		t.retries.Add(ctx, 1, withOutcome)
	}
}

func (t *telemetry) joinedCall(ctx context.Context, l txLabels, failed bool) {
	if !t.enabled || t.joined == nil {
		return
	}
	t.joined.Add(ctx, 1, l.attrs(attribute.Bool("tx.failed", failed)))
}
