package txmanager_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/bionicotaku/lingo-uow/txmanager"
)

// memStore 是内存版的"表"，仅在根事务提交时落地写入。
type memStore struct {
	mu   sync.Mutex
	rows map[string]string
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]string{}}
}

func (s *memStore) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.rows[key]
	return v, ok
}

func (s *memStore) apply(writes map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range writes {
		s.rows[k] = v
	}
}

func (s *memStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rows))
	for k := range s.rows {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// memDriver 实现 txmanager.Driver，并记录 BEGIN/COMMIT/ROLLBACK 次数。
type memDriver struct {
	store *memStore

	beginErr  error
	commitErr error

	begins     atomic.Int32
	commits    atomic.Int32
	rollbacks  atomic.Int32
	savepoints atomic.Int32

	mu       sync.Mutex
	lastOpts txmanager.TxOptions
}

func newMemDriver() *memDriver {
	return &memDriver{store: newMemStore()}
}

func (d *memDriver) System() string { return "memory" }

func (d *memDriver) Begin(ctx context.Context, opts txmanager.TxOptions) (txmanager.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	d.begins.Add(1)
	d.mu.Lock()
	d.lastOpts = opts
	d.mu.Unlock()
	return &memTx{driver: d, writes: map[string]string{}}, nil
}

func (d *memDriver) options() txmanager.TxOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastOpts
}

// Put 是 "currentHandle()" 的等价物：有事务则写入事务，否则直接自动提交。
func (d *memDriver) Put(ctx context.Context, key, value string) error {
	if scope, ok := txmanager.Lookup(ctx, d); ok {
		return scope.Tx().(*memTx).put(key, value)
	}
	d.store.apply(map[string]string{key: value})
	return nil
}

// Get 读取当前事务可见的值。
func (d *memDriver) Get(ctx context.Context, key string) (string, bool) {
	if scope, ok := txmanager.Lookup(ctx, d); ok {
		if v, ok := scope.Tx().(*memTx).get(key); ok {
			return v, true
		}
	}
	return d.store.get(key)
}

var errTxDone = errors.New("memdriver: transaction already finished")

type memTx struct {
	driver *memDriver
	parent *memTx
	writes map[string]string
	done   bool
}

func (t *memTx) put(key, value string) error {
	if t.done {
		return errTxDone
	}
	t.writes[key] = value
	return nil
}

func (t *memTx) get(key string) (string, bool) {
	for cur := t; cur != nil; cur = cur.parent {
		if v, ok := cur.writes[key]; ok {
			return v, true
		}
	}
	return "", false
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	if t.parent != nil {
		for k, v := range t.writes {
			t.parent.writes[k] = v
		}
		return nil
	}
	if t.driver.commitErr != nil {
		return t.driver.commitErr
	}
	t.driver.commits.Add(1)
	t.driver.store.apply(t.writes)
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.writes = map[string]string{}
	if t.parent == nil {
		t.driver.rollbacks.Add(1)
	}
	return nil
}

func (t *memTx) Savepoint(ctx context.Context) (txmanager.Tx, error) {
	if t.done {
		return nil, errTxDone
	}
	t.driver.savepoints.Add(1)
	return &memTx{driver: t.driver, parent: t, writes: map[string]string{}}, nil
}

// plainDriver 不支持保存点，用于验证 ErrSavepointUnsupported。
type plainDriver struct {
	inner *memDriver
}

func (d *plainDriver) System() string { return "plain" }

func (d *plainDriver) Begin(ctx context.Context, opts txmanager.TxOptions) (txmanager.Tx, error) {
	tx, err := d.inner.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return plainTx{tx.(*memTx)}, nil
}

type plainTx struct {
	tx *memTx
}

func (t plainTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t plainTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("scope-%d", n.Add(1))
	}
}
