package pgxpoolx

import (
	"context"

	"github.com/bionicotaku/lingo-uow/pgxtx"
	"github.com/bionicotaku/lingo-uow/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProvideComponent builds a Component with the shared logger and default
// dependencies.
func ProvideComponent(ctx context.Context, cfg Config, logger log.Logger) (*Component, func(), error) {
	return NewComponent(ctx, cfg, Dependencies{Logger: logger})
}

// ProvidePool exposes the pool for code that needs it outside any scope, such
// as migrations.
func ProvidePool(c *Component) *pgxpool.Pool {
	if c == nil {
		return nil
	}
	return c.Pool
}

// ProvideDriver exposes the driver repositories resolve their Querier from.
func ProvideDriver(c *Component) *pgxtx.Driver {
	if c == nil {
		return nil
	}
	return c.Driver
}

// ProvideManager exposes the manager bound to ProvideDriver's driver.
func ProvideManager(c *Component) txmanager.Manager {
	if c == nil {
		return nil
	}
	return c.Manager
}

// ProviderSet wires the whole PostgreSQL unit of work. Use it instead of
// pgxtx.ProviderSet and txmanager.ProviderSet, which assemble the same graph
// from a host-supplied pool.
var ProviderSet = wire.NewSet(
	ProvideComponent,
	ProvidePool,
	ProvideDriver,
	ProvideManager,
	wire.Bind(new(txmanager.Driver), new(*pgxtx.Driver)),
)
