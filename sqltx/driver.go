// Package sqltx binds txmanager scopes to a database/sql connection pool.
package sqltx

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/bionicotaku/lingo-uow/txmanager"
)

// Executor is the data-access surface shared by *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

var (
	_ Executor = (*sql.DB)(nil)
	_ Executor = (*sql.Tx)(nil)

	_ txmanager.Driver          = (*Driver)(nil)
	_ txmanager.ErrorClassifier = (*Driver)(nil)
	_ txmanager.Savepointer     = (*sqlTx)(nil)
)

// Option configures a Driver.
type Option func(*Driver)

// WithSystem sets the db.system reported in telemetry. Defaults to "sql".
func WithSystem(name string) Option {
	return func(d *Driver) {
		if name != "" {
			d.system = name
		}
	}
}

// WithPlainBegin starts transactions without isolation or read-only hints.
// SQLite drivers reject both.
func WithPlainBegin() Option {
	return func(d *Driver) {
		d.plainBegin = true
	}
}

// Driver opens transactions on a *sql.DB.
type Driver struct {
	db         *sql.DB
	system     string
	plainBegin bool
}

// NewDriver wraps db. The pool stays owned by the caller.
func NewDriver(db *sql.DB, opts ...Option) *Driver {
	d := &Driver{db: db, system: "sql"}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// System returns the db.system name set with WithSystem.
func (d *Driver) System() string { return d.system }

// Begin opens a transaction on the pool. Isolation and read-only hints are
// omitted under WithPlainBegin.
func (d *Driver) Begin(ctx context.Context, opts txmanager.TxOptions) (txmanager.Tx, error) {
	if d.db == nil {
		return nil, errors.New("sqltx: db is nil")
	}
	tx, err := d.db.BeginTx(ctx, TxOptions(opts, d.plainBegin))
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, names: &SavepointNames{}}, nil
}

// sqliteCoder matches SQLite driver errors that expose the result code.
type sqliteCoder interface {
	Code() int
}

const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// Classify treats SQLITE_BUSY and SQLITE_LOCKED (including extended codes) as
// retryable. Other errors fall through to SQLSTATE classification.
func (d *Driver) Classify(err error) (bool, string) {
	var coder sqliteCoder
	if !errors.As(err, &coder) {
		return false, ""
	}
	switch coder.Code() & 0xff {
	case sqliteBusy:
		return true, "SQLITE_BUSY"
	case sqliteLocked:
		return true, "SQLITE_LOCKED"
	default:
		return false, "SQLITE_" + strconv.Itoa(coder.Code())
	}
}

// Handle returns the transaction bound to ctx by a Manager using this driver,
// or the pool itself when there is none.
func (d *Driver) Handle(ctx context.Context) Executor {
	if tx, ok := d.Tx(ctx); ok {
		return tx
	}
	return d.db
}

// Tx returns the *sql.Tx bound to ctx, if any.
func (d *Driver) Tx(ctx context.Context) (*sql.Tx, bool) {
	scope, ok := txmanager.Lookup(ctx, d)
	if !ok {
		return nil, false
	}
	t, ok := scope.Tx().(*sqlTx)
	if !ok {
		return nil, false
	}
	return t.tx, true
}

// DB exposes the underlying pool.
func (d *Driver) DB() *sql.DB { return d.db }

type sqlTx struct {
	tx    *sql.Tx
	names *SavepointNames
	// sp is set when this is a savepoint inside tx.
	sp *Savepoint
}

func (t *sqlTx) Commit(ctx context.Context) error {
	if t.sp != nil {
		return t.sp.Commit(ctx)
	}
	return t.tx.Commit()
}

func (t *sqlTx) Rollback(ctx context.Context) error {
	if t.sp != nil {
		return t.sp.Rollback(ctx)
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *sqlTx) Savepoint(ctx context.Context) (txmanager.Tx, error) {
	sp, err := OpenSavepoint(ctx, t.tx, t.names.Next())
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: t.tx, names: t.names, sp: sp}, nil
}
