package sqltx

import (
	"context"
	"database/sql"
	"strconv"
	"sync/atomic"

	"github.com/bionicotaku/lingo-uow/txmanager"
)

// Execer is the statement surface savepoints need. *sql.Tx and *sqlx.Tx both
// satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SavepointNames hands out unique savepoint names for one transaction.
type SavepointNames struct {
	seq atomic.Int64
}

// Next returns the next savepoint name ("sp_1", "sp_2", ...).
func (n *SavepointNames) Next() string {
	return "sp_" + strconv.FormatInt(n.seq.Add(1), 10)
}

// Savepoint is an open SQL savepoint. Commit releases it, Rollback rolls back
// to it and releases it. Both are no-ops once it settled.
type Savepoint struct {
	exec Execer
	name string
	done bool
}

// OpenSavepoint issues SAVEPOINT name on exec.
func OpenSavepoint(ctx context.Context, exec Execer, name string) (*Savepoint, error) {
	if _, err := exec.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, err
	}
	return &Savepoint{exec: exec, name: name}, nil
}

// Name returns the savepoint identifier.
func (s *Savepoint) Name() string { return s.name }

// Commit releases the savepoint, keeping its work in the enclosing
// transaction. Calls after the first are no-ops.
func (s *Savepoint) Commit(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	_, err := s.exec.ExecContext(ctx, "RELEASE SAVEPOINT "+s.name)
	return err
}

// Rollback discards the work done since the savepoint and releases it.
func (s *Savepoint) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	if _, err := s.exec.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+s.name); err != nil {
		return err
	}
	_, err := s.exec.ExecContext(ctx, "RELEASE SAVEPOINT "+s.name)
	return err
}

var _ txmanager.Tx = (*Savepoint)(nil)

// IsolationLevel maps a txmanager isolation level onto database/sql.
func IsolationLevel(level txmanager.IsoLevel) sql.IsolationLevel {
	switch level {
	case txmanager.Serializable:
		return sql.LevelSerializable
	case txmanager.RepeatableRead:
		return sql.LevelRepeatableRead
	case txmanager.ReadCommitted:
		return sql.LevelReadCommitted
	case txmanager.ReadUncommitted:
		return sql.LevelReadUncommitted
	default:
		return sql.LevelDefault
	}
}

// TxOptions converts txmanager options into database/sql options. It returns
// nil when plain is set, for engines that reject isolation and read-only
// hints.
func TxOptions(opts txmanager.TxOptions, plain bool) *sql.TxOptions {
	if plain {
		return nil
	}
	return &sql.TxOptions{
		Isolation: IsolationLevel(opts.Isolation),
		ReadOnly:  opts.ReadOnly(),
	}
}
