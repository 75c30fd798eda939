package txmanager

import (
	"context"
	"sync/atomic"
	"time"
)

// Scope binds an open transaction (or savepoint) to the call graph that
// received the context returned by WithinTx.
type Scope struct {
	id        string
	tx        Tx
	driver    Driver
	readOnly  bool
	depth     int
	startedAt time.Time

	// outer links to the scope that was active when this one was bound, so
	// scopes of other drivers stay reachable.
	outer *Scope
	// parent is the transaction a savepoint scope was opened in.
	parent *Scope

	rollbackOnly atomic.Bool
}

type scopeKey struct{}

// ID returns the diagnostic identifier of the scope.
func (s *Scope) ID() string { return s.id }

// Tx returns the driver transaction bound to the scope.
func (s *Scope) Tx() Tx { return s.tx }

// Driver returns the driver that opened the transaction.
func (s *Scope) Driver() Driver { return s.driver }

// ReadOnly reports whether the transaction was opened read-only.
func (s *Scope) ReadOnly() bool { return s.readOnly }

// Depth is 0 for a root transaction and grows by one per savepoint.
func (s *Scope) Depth() int { return s.depth }

// StartedAt returns the time the transaction or savepoint was opened.
func (s *Scope) StartedAt() time.Time { return s.startedAt }

// RollbackOnly reports whether a joined call failed inside this scope.
func (s *Scope) RollbackOnly() bool { return s.rollbackOnly.Load() }

func (s *Scope) markRollbackOnly() { s.rollbackOnly.Store(true) }

func withScope(ctx context.Context, s *Scope) context.Context {
	if prev, ok := ScopeFrom(ctx); ok {
		s.outer = prev
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the innermost scope carried by ctx, whatever driver opened
// it.
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}

// Lookup returns the innermost scope opened by driver. Scopes of other drivers
// are skipped, and a driver of uncomparable type never matches.
func Lookup(ctx context.Context, driver Driver) (*Scope, bool) {
	s, ok := ScopeFrom(ctx)
	if !ok || !comparableDriver(driver) {
		return nil, false
	}
	for ; s != nil; s = s.outer {
		if sameDriver(s.driver, driver) {
			return s, true
		}
	}
	return nil, false
}

// InTx reports whether ctx carries any active scope.
func InTx(ctx context.Context) bool {
	_, ok := ScopeFrom(ctx)
	return ok
}

type beginningKey struct{}

func markBeginning(ctx context.Context) context.Context {
	return context.WithValue(ctx, beginningKey{}, true)
}

// Beginning reports whether ctx is the one a driver received in Begin or
// Savepoint. Connection pool tracers use it to tell the acquire that opens a
// transaction apart from queries issued outside the scope's handle.
func Beginning(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(beginningKey{}).(bool)
	return v
}
