package gormtx

import (
	"github.com/bionicotaku/lingo-uow/txmanager"
	"github.com/google/wire"
	"gorm.io/gorm"
)

// ProvideDriver builds a driver with default options.
func ProvideDriver(db *gorm.DB) *Driver {
	return NewDriver(db)
}

// ProvideSQLiteDriver builds a driver that begins without isolation or
// read-only hints, which SQLite rejects.
func ProvideSQLiteDriver(db *gorm.DB) *Driver {
	return NewDriver(db, WithPlainBegin())
}

// ProviderSet binds the gorm driver to txmanager.Driver.
var ProviderSet = wire.NewSet(
	ProvideDriver,
	wire.Bind(new(txmanager.Driver), new(*Driver)),
)

// SQLiteProviderSet is ProviderSet for SQLite databases.
var SQLiteProviderSet = wire.NewSet(
	ProvideSQLiteDriver,
	wire.Bind(new(txmanager.Driver), new(*Driver)),
)
