package txmanager

import (
	"context"
	"reflect"
)

// Driver opens transactions against a backing store. Implementations live in
// the pgxtx, sqltx, sqlxtx and gormtx packages; each also exposes a Handle
// accessor that resolves the active transaction from a context.
//
// The driver value identifies its scopes, so its dynamic type must be
// comparable. Pointer receivers are the usual choice.
type Driver interface {
	Begin(ctx context.Context, opts TxOptions) (Tx, error)
	// System names the backing store for telemetry (db.system).
	System() string
}

// Tx is an open transaction or savepoint. Rollback after the transaction
// finished must be a no-op.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Savepointer is implemented by transactions that can open a savepoint. The
// returned Tx releases the savepoint on Commit and rolls back to it on
// Rollback.
type Savepointer interface {
	Savepoint(ctx context.Context) (Tx, error)
}

// ErrorClassifier is implemented by drivers that recognise transient failures
// of their backing store.
type ErrorClassifier interface {
	Classify(err error) (retryable bool, code string)
}

func comparableDriver(d Driver) bool {
	return d != nil && reflect.TypeOf(d).Comparable()
}

func sameDriver(a, b Driver) bool {
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !comparableDriver(a) {
		return false
	}
	return a == b
}
