package pgxtx

import (
	"github.com/bionicotaku/lingo-uow/txmanager"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProvideDriver builds the driver from the pool exposed by pgxpoolx.
func ProvideDriver(pool *pgxpool.Pool) *Driver {
	return NewDriver(pool)
}

// ProviderSet binds the pgx driver to txmanager.Driver. Combine it with
// pgxpoolx.ProviderSet and txmanager.ProviderSet.
var ProviderSet = wire.NewSet(
	ProvideDriver,
	wire.Bind(new(txmanager.Driver), new(*Driver)),
)
