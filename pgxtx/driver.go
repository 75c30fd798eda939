// Package pgxtx binds txmanager scopes to a pgx connection pool.
package pgxtx

import (
	"context"
	"errors"
	"fmt"

	"github.com/bionicotaku/lingo-uow/txmanager"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the data-access surface shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)

	_ txmanager.Driver          = (*Driver)(nil)
	_ txmanager.ErrorClassifier = (*Driver)(nil)
	_ txmanager.Savepointer     = (*pgTx)(nil)
)

// Driver opens PostgreSQL transactions on a pgxpool.Pool.
type Driver struct {
	pool *pgxpool.Pool
}

// NewDriver wraps the pool. The pool stays owned by the caller.
func NewDriver(pool *pgxpool.Pool) *Driver {
	return &Driver{pool: pool}
}

// System reports "postgresql" for db.system.
func (d *Driver) System() string { return "postgresql" }

// Begin starts a transaction with the requested isolation level and access
// mode. A positive LockTimeout is applied with SET LOCAL so it ends with the
// transaction.
func (d *Driver) Begin(ctx context.Context, opts txmanager.TxOptions) (txmanager.Tx, error) {
	if d.pool == nil {
		return nil, errors.New("pgxtx: pool is nil")
	}
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.TxIsoLevel(opts.Isolation),
		AccessMode: pgx.TxAccessMode(opts.AccessMode),
	})
	if err != nil {
		return nil, err
	}

	if opts.LockTimeout > 0 {
		ms := opts.LockTimeout.Milliseconds()
		if ms <= 0 {
			ms = 1
		}
		stmt := fmt.Sprintf("set local lock_timeout = '%dms'", ms)
		if _, execErr := tx.Exec(ctx, stmt); execErr != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("set lock_timeout: %w", execErr)
		}
	}
	return &pgTx{tx: tx}, nil
}

// Classify reports PostgreSQL serialization, deadlock and lock timeouts as
// retryable, as well as failures that happened before the request reached the
// server.
func (d *Driver) Classify(err error) (bool, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true, pgErr.Code
		default:
			return false, pgErr.Code
		}
	}
	if pgconn.SafeToRetry(err) {
		return true, ""
	}
	return false, ""
}

// Handle returns the transaction bound to ctx by a Manager using this driver,
// or the pool itself when ctx carries no such transaction.
func (d *Driver) Handle(ctx context.Context) Querier {
	if tx, ok := d.Tx(ctx); ok {
		return tx
	}
	return d.pool
}

// Tx returns the pgx transaction bound to ctx, if any.
func (d *Driver) Tx(ctx context.Context) (pgx.Tx, bool) {
	scope, ok := txmanager.Lookup(ctx, d)
	if !ok {
		return nil, false
	}
	t, ok := scope.Tx().(*pgTx)
	if !ok {
		return nil, false
	}
	return t.tx, true
}

// Pool exposes the underlying pool.
func (d *Driver) Pool() *pgxpool.Pool { return d.pool }

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// Savepoint uses pgx pseudo nested transactions: Commit releases the
// savepoint and Rollback rolls back to it.
func (t *pgTx) Savepoint(ctx context.Context) (txmanager.Tx, error) {
	nested, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: nested}, nil
}
