// Package gormtx binds txmanager scopes to a gorm database.
package gormtx

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bionicotaku/lingo-uow/sqltx"
	"github.com/bionicotaku/lingo-uow/txmanager"
	"gorm.io/gorm"
)

var (
	_ txmanager.Driver          = (*Driver)(nil)
	_ txmanager.ErrorClassifier = (*Driver)(nil)
	_ txmanager.Savepointer     = (*gormTx)(nil)
)

// Option configures a Driver.
type Option func(*Driver)

// WithPlainBegin starts transactions without isolation or read-only hints.
func WithPlainBegin() Option {
	return func(d *Driver) {
		d.plainBegin = true
	}
}

// Driver opens transactions on a *gorm.DB.
type Driver struct {
	db         *gorm.DB
	plainBegin bool
	classifier *sqltx.Driver
}

// NewDriver wraps db. The connection pool stays owned by the caller.
func NewDriver(db *gorm.DB, opts ...Option) *Driver {
	d := &Driver{db: db, classifier: sqltx.NewDriver(nil)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// System reports the gorm dialector name.
func (d *Driver) System() string {
	if d.db == nil || d.db.Dialector == nil {
		return "sql"
	}
	return d.db.Dialector.Name()
}

// Begin opens a gorm transaction bound to ctx.
func (d *Driver) Begin(ctx context.Context, opts txmanager.TxOptions) (txmanager.Tx, error) {
	if d.db == nil {
		return nil, errors.New("gormtx: db is nil")
	}
	var tx *gorm.DB
	if txOpts := sqltx.TxOptions(opts, d.plainBegin); txOpts != nil {
		tx = d.db.WithContext(ctx).Begin(txOpts)
	} else {
		tx = d.db.WithContext(ctx).Begin()
	}
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormTx{db: tx, names: &sqltx.SavepointNames{}}, nil
}

// Classify shares the SQLite busy/locked rules of sqltx. PostgreSQL errors
// surface through pgx and are classified by SQLSTATE.
func (d *Driver) Classify(err error) (bool, string) {
	return d.classifier.Classify(err)
}

// Handle returns a session bound to ctx: the active transaction when ctx
// carries one for this driver, the root database otherwise.
func (d *Driver) Handle(ctx context.Context) *gorm.DB {
	if tx, ok := d.Tx(ctx); ok {
		return tx.WithContext(ctx)
	}
	return d.db.WithContext(ctx)
}

// Tx returns the transactional *gorm.DB bound to ctx, if any.
func (d *Driver) Tx(ctx context.Context) (*gorm.DB, bool) {
	scope, ok := txmanager.Lookup(ctx, d)
	if !ok {
		return nil, false
	}
	t, ok := scope.Tx().(*gormTx)
	if !ok {
		return nil, false
	}
	return t.db, true
}

// DB exposes the root database.
func (d *Driver) DB() *gorm.DB { return d.db }

type gormTx struct {
	db    *gorm.DB
	names *sqltx.SavepointNames
	// savepoint is set when this is a savepoint inside db.
	savepoint string
	done      bool
}

func (t *gormTx) Commit(ctx context.Context) error {
	if t.savepoint != "" {
		if t.done {
			return nil
		}
		t.done = true
		return t.db.WithContext(ctx).Exec("RELEASE SAVEPOINT " + t.savepoint).Error
	}
	return t.db.Commit().Error
}

func (t *gormTx) Rollback(ctx context.Context) error {
	if t.savepoint != "" {
		if t.done {
			return nil
		}
		t.done = true
		if err := t.db.WithContext(ctx).RollbackTo(t.savepoint).Error; err != nil {
			return err
		}
		return t.db.WithContext(ctx).Exec("RELEASE SAVEPOINT " + t.savepoint).Error
	}
	err := t.db.Rollback().Error
	if err != nil && !errors.Is(err, sql.ErrTxDone) && !errors.Is(err, gorm.ErrInvalidTransaction) {
		return err
	}
	return nil
}

func (t *gormTx) Savepoint(ctx context.Context) (txmanager.Tx, error) {
	name := t.names.Next()
	if err := t.db.WithContext(ctx).SavePoint(name).Error; err != nil {
		return nil, err
	}
	return &gormTx{db: t.db, names: t.names, savepoint: name}, nil
}
