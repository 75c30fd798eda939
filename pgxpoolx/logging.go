package pgxpoolx

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/bionicotaku/lingo-uow/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryLogger struct {
	helper *log.Helper
}

// NewQueryLogger returns a pgx.QueryTracer that logs failed queries together
// with the id of the transaction scope carried by the query context.
func NewQueryLogger(logger log.Logger) pgx.QueryTracer {
	if logger == nil {
		logger = log.NewStdLogger(io.Discard)
	}
	return &queryLogger{helper: log.NewHelper(logger)}
}

// TraceQueryStart implements pgx.QueryTracer. Start events are ignored.
func (l *queryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	return ctx
}

// TraceQueryEnd logs failures. SQL text is left out since it may carry
// sensitive literals.
func (l *queryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err == nil {
		return
	}
	scope := "none"
	if s, ok := txmanager.ScopeFrom(ctx); ok {
		scope = s.ID()
	}
	l.helper.Errorf("pgx query failed: scope=%s command_tag=%s err=%v", scope, data.CommandTag.String(), data.Err)
}

type acquireStart struct {
	at    time.Time
	kind  acquireKind
	scope string
}

type acquireStartKey struct{}

// tracerBinding is attached once the pool exists, since the driver and the
// metrics both need it.
type tracerBinding struct {
	driver  txmanager.Driver
	metrics *poolTelemetry
}

// poolTracer forwards query events to the configured query tracer and
// classifies every connection acquire against the transaction scope carried
// by its context.
type poolTracer struct {
	query   pgx.QueryTracer
	clock   func() time.Time
	helper  *log.Helper
	binding atomic.Pointer[tracerBinding]
}

var (
	_ pgx.QueryTracer       = (*poolTracer)(nil)
	_ pgxpool.AcquireTracer = (*poolTracer)(nil)
)

func newPoolTracer(query pgx.QueryTracer, clock func() time.Time, helper *log.Helper) *poolTracer {
	return &poolTracer{query: query, clock: clock, helper: helper}
}

func (t *poolTracer) bind(driver txmanager.Driver, metrics *poolTelemetry) {
	t.binding.Store(&tracerBinding{driver: driver, metrics: metrics})
}

func (t *poolTracer) classify(ctx context.Context) (acquireKind, string) {
	if txmanager.Beginning(ctx) {
		return acquireBegin, ""
	}
	if b := t.binding.Load(); b != nil && b.driver != nil {
		if s, ok := txmanager.Lookup(ctx, b.driver); ok {
			return acquireBypass, s.ID()
		}
	}
	return acquireFallback, ""
}

func (t *poolTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	if t.query == nil {
		return ctx
	}
	return t.query.TraceQueryStart(ctx, conn, data)
}

func (t *poolTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.query != nil {
		t.query.TraceQueryEnd(ctx, conn, data)
	}
}

func (t *poolTracer) TraceAcquireStart(ctx context.Context, _ *pgxpool.Pool, _ pgxpool.TraceAcquireStartData) context.Context {
	kind, scope := t.classify(ctx)
	return context.WithValue(ctx, acquireStartKey{}, acquireStart{at: t.clock(), kind: kind, scope: scope})
}

func (t *poolTracer) TraceAcquireEnd(ctx context.Context, _ *pgxpool.Pool, data pgxpool.TraceAcquireEndData) {
	start, ok := ctx.Value(acquireStartKey{}).(acquireStart)
	if !ok || data.Err != nil {
		return
	}
	if start.kind == acquireBypass {
		t.helper.Warnf("pgx pool used directly inside scope=%s; the query is not part of the transaction", start.scope)
	}
	if b := t.binding.Load(); b != nil {
		b.metrics.recordAcquire(ctx, start.kind, t.clock().Sub(start.at))
	}
}
