package sqltx

import (
	"database/sql"

	"github.com/bionicotaku/lingo-uow/txmanager"
	"github.com/google/wire"
)

// ProvideDriver builds a driver with default options.
func ProvideDriver(db *sql.DB) *Driver {
	return NewDriver(db)
}

// ProvideSQLiteDriver builds a driver for SQLite databases: plain BEGIN and
// db.system "sqlite".
func ProvideSQLiteDriver(db *sql.DB) *Driver {
	return NewDriver(db, WithPlainBegin(), WithSystem("sqlite"))
}

// ProviderSet binds the database/sql driver to txmanager.Driver.
var ProviderSet = wire.NewSet(
	ProvideDriver,
	wire.Bind(new(txmanager.Driver), new(*Driver)),
)

// SQLiteProviderSet is ProviderSet for SQLite databases.
var SQLiteProviderSet = wire.NewSet(
	ProvideSQLiteDriver,
	wire.Bind(new(txmanager.Driver), new(*Driver)),
)
