package txmanager

import "context"

// Run executes fn inside a read-write transaction and returns its result. On
// failure the zero value is returned together with the error from fn, which is
// passed through unchanged.
func Run[T any](ctx context.Context, m Manager, opts TxOptions, fn func(context.Context) (T, error)) (T, error) {
	return run(ctx, opts, fn, m.WithinTx)
}

// RunReadOnly is the read-only counterpart of Run.
func RunReadOnly[T any](ctx context.Context, m Manager, opts TxOptions, fn func(context.Context) (T, error)) (T, error) {
	return run(ctx, opts, fn, m.WithinReadOnlyTx)
}

func run[T any](ctx context.Context, opts TxOptions, fn func(context.Context) (T, error), within func(context.Context, TxOptions, func(context.Context) error) error) (T, error) {
	var zero T
	if fn == nil {
		return zero, ErrNilUnitOfWork
	}
	var out T
	err := within(ctx, opts, func(txCtx context.Context) error {
		v, err := fn(txCtx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return zero, err
	}
	return out, nil
}
