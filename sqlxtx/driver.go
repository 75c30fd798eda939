// Package sqlxtx binds txmanager scopes to a sqlx connection pool.
package sqlxtx

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bionicotaku/lingo-uow/sqltx"
	"github.com/bionicotaku/lingo-uow/txmanager"
	"github.com/jmoiron/sqlx"
)

// Executor is the sqlx surface shared by *sqlx.DB and *sqlx.Tx.
type Executor interface {
	sqlx.ExtContext
	sqlx.PreparerContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

var (
	_ Executor = (*sqlx.DB)(nil)
	_ Executor = (*sqlx.Tx)(nil)

	_ txmanager.Driver          = (*Driver)(nil)
	_ txmanager.ErrorClassifier = (*Driver)(nil)
	_ txmanager.Savepointer     = (*sqlxTx)(nil)
)

// Option configures a Driver.
type Option func(*Driver)

// WithPlainBegin starts transactions without isolation or read-only hints.
func WithPlainBegin() Option {
	return func(d *Driver) {
		d.plainBegin = true
	}
}

// Driver opens transactions on a *sqlx.DB. db.system is the sqlx driver name.
type Driver struct {
	db         *sqlx.DB
	plainBegin bool
	classifier *sqltx.Driver
}

// NewDriver wraps db. The pool stays owned by the caller.
func NewDriver(db *sqlx.DB, opts ...Option) *Driver {
	d := &Driver{db: db, classifier: sqltx.NewDriver(nil)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// System returns the sqlx driver name, or "sql" when it is unknown.
func (d *Driver) System() string {
	if d.db == nil || d.db.DriverName() == "" {
		return "sql"
	}
	return d.db.DriverName()
}

// Begin opens a transaction with BeginTxx.
func (d *Driver) Begin(ctx context.Context, opts txmanager.TxOptions) (txmanager.Tx, error) {
	if d.db == nil {
		return nil, errors.New("sqlxtx: db is nil")
	}
	tx, err := d.db.BeginTxx(ctx, sqltx.TxOptions(opts, d.plainBegin))
	if err != nil {
		return nil, err
	}
	return &sqlxTx{tx: tx, names: &sqltx.SavepointNames{}}, nil
}

// Classify shares the SQLite busy/locked rules of sqltx.
func (d *Driver) Classify(err error) (bool, string) {
	return d.classifier.Classify(err)
}

// Handle returns the transaction bound to ctx, or the pool when there is none.
func (d *Driver) Handle(ctx context.Context) Executor {
	if tx, ok := d.Tx(ctx); ok {
		return tx
	}
	return d.db
}

// Tx returns the *sqlx.Tx bound to ctx, if any.
func (d *Driver) Tx(ctx context.Context) (*sqlx.Tx, bool) {
	scope, ok := txmanager.Lookup(ctx, d)
	if !ok {
		return nil, false
	}
	t, ok := scope.Tx().(*sqlxTx)
	if !ok {
		return nil, false
	}
	return t.tx, true
}

// DB exposes the underlying pool.
func (d *Driver) DB() *sqlx.DB { return d.db }

type sqlxTx struct {
	tx    *sqlx.Tx
	names *sqltx.SavepointNames
	sp    *sqltx.Savepoint
}

func (t *sqlxTx) Commit(ctx context.Context) error {
	if t.sp != nil {
		return t.sp.Commit(ctx)
	}
	return t.tx.Commit()
}

func (t *sqlxTx) Rollback(ctx context.Context) error {
	if t.sp != nil {
		return t.sp.Rollback(ctx)
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *sqlxTx) Savepoint(ctx context.Context) (txmanager.Tx, error) {
	sp, err := sqltx.OpenSavepoint(ctx, t.tx, t.names.Next())
	if err != nil {
		return nil, err
	}
	return &sqlxTx{tx: t.tx, names: t.names, sp: sp}, nil
}
