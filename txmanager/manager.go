package txmanager

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Manager provides scoped transaction helpers for service layers. The context
// handed to fn carries the active Scope; repositories resolve their data-access
// handle from it through the driver's Handle accessor.
type Manager interface {
	WithinTx(ctx context.Context, opts TxOptions, fn func(context.Context) error) error
	WithinReadOnlyTx(ctx context.Context, opts TxOptions, fn func(context.Context) error) error
}

type managerImpl struct {
	driver  Driver
	system  string
	presets TxOptionPreset
	clock   func() time.Time
	newID   func() string
	metrics *telemetry
	helper  *log.Helper
	tracer  trace.Tracer

	// open counts root transactions that have begun and not yet settled.
	open atomic.Int64
}

// NewManager constructs a transaction manager backed by the provided driver.
func NewManager(driver Driver, cfg Config, options ...Option) (Manager, error) {
	m, err := newManager(driver, cfg, options)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newManager(driver Driver, cfg Config, options []Option) (*managerImpl, error) {
	if driver == nil {
		return nil, ErrNilDriver
	}
	if !comparableDriver(driver) {
		return nil, fmt.Errorf("%w: %T", ErrUncomparableDriver, driver)
	}

	cfg = cfg.sanitized()
	s := newSettings(options)
	metricsEnabled := s.resolve(cfg)
	helper := log.NewHelper(s.logger)

	return &managerImpl{
		driver:  driver,
		system:  driver.System(),
		presets: cfg.BuildPresets(),
		clock:   s.clock,
		newID:   s.newID,
		metrics: newTelemetry(s.meter, helper, metricsEnabled),
		helper:  helper,
		tracer:  s.tracer,
	}, nil
}

func (m *managerImpl) WithinTx(ctx context.Context, override TxOptions, fn func(context.Context) error) error {
	opts := mergeTxOptions(m.presets.Default, override)
	return m.run(ctx, opts, fn, "read_write")
}

func (m *managerImpl) WithinReadOnlyTx(ctx context.Context, override TxOptions, fn func(context.Context) error) error {
	opts := mergeTxOptions(m.presets.ReadOnly, override)
	opts.AccessMode = ReadOnly
	return m.run(ctx, opts, fn, "read_only")
}

func (m *managerImpl) run(ctx context.Context, opts TxOptions, fn func(context.Context) error, method string) error {
	if fn == nil {
		return ErrNilUnitOfWork
	}
	if ctx == nil {
		ctx = context.Background()
	}

	outer, ok := Lookup(ctx, m.driver)
	if !ok {
		return m.exec(ctx, opts, fn, method, nil)
	}

	switch opts.Propagation {
	case PropagationNever:
		return fmt.Errorf("%w: scope=%s", ErrAlreadyInTx, outer.id)
	case PropagationRequiresNew:
		return m.exec(ctx, opts, fn, method, nil)
	case PropagationNested:
		if outer.readOnly && !opts.ReadOnly() {
			return ErrReadOnlyScope
		}
		if _, ok := outer.tx.(Savepointer); !ok {
			return ErrSavepointUnsupported
		}
		return m.exec(ctx, opts, fn, method, outer)
	default:
		return m.join(ctx, outer, opts, fn, method)
	}
}

func (m *managerImpl) labels(opts TxOptions, method string, depth int) txLabels {
	return txLabels{
		system:      m.system,
		method:      method,
		isolation:   isoString(opts.Isolation),
		propagation: opts.Propagation.String(),
		depth:       depth,
	}
}

// join runs fn inside the enclosing scope. It never begins or commits; a
// failure poisons the scope so the owner rolls back.
func (m *managerImpl) join(ctx context.Context, scope *Scope, opts TxOptions, fn func(context.Context) error, method string) (err error) {
	if scope.readOnly && !opts.ReadOnly() {
		return ErrReadOnlyScope
	}
	labels := m.labels(opts, method, scope.depth)
	m.helper.Debugf("txmanager: joining scope=%s method=%s depth=%d", scope.id, method, scope.depth)

	defer func() {
		if r := recover(); r != nil {
			scope.markRollbackOnly()
			m.metrics.joinedCall(ctx, labels, true)
			panic(r)
		}
	}()

	err = fn(ctx)
	if err != nil {
		scope.markRollbackOnly()
		m.helper.Warnf("txmanager: joined fn error scope=%s method=%s err=%v", scope.id, method, err)
	}
	m.metrics.joinedCall(ctx, labels, err != nil)
	return err
}

// exec opens a root transaction, or a savepoint when parent is set, and
// settles it according to the outcome of fn.
func (m *managerImpl) exec(ctx context.Context, opts TxOptions, fn func(context.Context) error, method string, parent *Scope) (err error) {
	depth := 0
	readOnly := opts.ReadOnly()
	if parent != nil {
		depth = parent.depth + 1
		readOnly = parent.readOnly
	} else {
		var cancel context.CancelFunc
		ctx, cancel = applyTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	labels := m.labels(opts, method, depth)

	spanName := opts.TraceName
	if spanName == "" {
		spanName = "db.tx." + method
		if parent != nil {
			spanName = "db.tx.savepoint"
		}
	}
	ctx, span := m.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", labels.system),
		attribute.String("db.tx.isolation", labels.isolation),
		attribute.String("db.tx.method", method),
		attribute.String("db.tx.propagation", labels.propagation),
		attribute.Int("db.tx.depth", depth),
	)

	fail := func(o outcome, cause error, retryable bool, start time.Time) {
		if _, sqlState := classify(m.driver, cause); sqlState != "" {
			span.SetAttributes(attribute.String("db.sql_state", sqlState))
		}
		span.RecordError(cause)
		span.SetStatus(codes.Error, string(o))
		m.metrics.settled(ctx, labels, o, retryable, m.clock().Sub(start))
	}

	start := m.clock()
	var tx Tx
	beginCtx := markBeginning(ctx)
	if parent != nil {
		tx, err = parent.tx.(Savepointer).Savepoint(beginCtx)
	} else {
		tx, err = m.driver.Begin(beginCtx, opts)
	}
	if err != nil {
		retryable, _ := classify(m.driver, err)
		wrapped := fmt.Errorf("txmanager: begin: %w", err)
		if retryable {
			wrapped = wrapRetryable(wrapped)
		}
		fail(outcomeBeginFailed, err, retryable, start)
		m.helper.Errorf("txmanager: begin failed method=%s isolation=%s depth=%d err=%v", method, labels.isolation, depth, wrapped)
		return wrapped
	}

	scope := &Scope{
		id:        m.newID(),
		tx:        tx,
		driver:    m.driver,
		readOnly:  readOnly,
		depth:     depth,
		startedAt: start,
		parent:    parent,
	}
	m.metrics.opened(ctx, labels)
	if parent == nil {
		m.open.Add(1)
		defer m.open.Add(-1)
	}
	span.SetAttributes(attribute.String("db.tx.id", scope.id))
	m.helper.Debugf("txmanager: begin scope=%s method=%s isolation=%s depth=%d", scope.id, method, labels.isolation, depth)

	settled := false
	defer func() {
		if !settled {
			m.rollback(ctx, scope)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("txmanager: panic recovered: %v", r)
			fail(outcomePanic, panicErr, false, start)
			m.helper.Errorf("txmanager: panic scope=%s method=%s err=%v", scope.id, method, panicErr)
			panic(r)
		}
	}()

	err = fn(withScope(ctx, scope))
	if err != nil {
		settled = true
		m.rollback(ctx, scope)
		retryable, _ := classify(m.driver, err)
		fail(outcomeRolledBack, err, retryable, start)
		m.helper.Warnf("txmanager: fn error scope=%s method=%s retryable=%t err=%v", scope.id, method, retryable, err)
		return err
	}

	if scope.RollbackOnly() {
		settled = true
		m.rollback(ctx, scope)
		err = fmt.Errorf("%w: scope=%s", ErrRollbackOnly, scope.id)
		fail(outcomeRollbackOnly, err, false, start)
		m.helper.Warnf("txmanager: rollback-only scope rolled back scope=%s method=%s", scope.id, method)
		return err
	}

	settled = true
	if commitErr := tx.Commit(ctx); commitErr != nil {
		if parent != nil {
			parent.markRollbackOnly()
		}
		retryable, _ := classify(m.driver, commitErr)
		wrapped := commitErr
		if retryable {
			wrapped = wrapRetryable(commitErr)
		}
		err = fmt.Errorf("txmanager: commit: %w", wrapped)
		fail(outcomeCommitFailed, commitErr, retryable, start)
		m.helper.Errorf("txmanager: commit failed scope=%s method=%s retryable=%t err=%v", scope.id, method, retryable, err)
		return err
	}

	m.metrics.settled(ctx, labels, outcomeCommitted, false, m.clock().Sub(start))
	span.SetStatus(codes.Ok, "committed")
	m.helper.Debugf("txmanager: committed scope=%s method=%s depth=%d", scope.id, method, depth)
	return nil
}

// rollback settles the scope with a rollback. A cancelled ctx must not keep
// the connection checked out, so cancellation is stripped.
func (m *managerImpl) rollback(ctx context.Context, scope *Scope) {
	if rbErr := scope.tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
		if scope.parent != nil {
			scope.parent.markRollbackOnly()
		}
		m.helper.Warnf("txmanager: rollback failed scope=%s depth=%d err=%v", scope.id, scope.depth, rbErr)
	}
}

// openTransactions reports root transactions that are still running.
func (m *managerImpl) openTransactions() int64 {
	return m.open.Load()
}

func applyTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if time.Until(deadline) <= timeout {
			return ctx, func() {}
		}
	}
	return context.WithTimeout(ctx, timeout)
}
