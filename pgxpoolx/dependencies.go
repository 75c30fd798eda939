package pgxpoolx

import (
	"io"
	"time"

	"github.com/bionicotaku/lingo-uow/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "lingo-uow/pgxpoolx"

// Dependencies lists collaborators of NewComponent. Every field is optional.
type Dependencies struct {
	Logger log.Logger
	// Meter records the db.pool.* instruments and, unless TxOptions
	// overrides it, the db.tx.* instruments of the manager.
	Meter metric.Meter
	// QueryTracer receives query events. Defaults to NewQueryLogger.
	QueryTracer pgx.QueryTracer
	Clock       func() time.Time
	// TxOptions are appended to the options NewComponent passes to
	// txmanager.NewManager.
	TxOptions []txmanager.Option
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = log.NewStdLogger(io.Discard)
	}
	if d.QueryTracer == nil {
		d.QueryTracer = NewQueryLogger(d.Logger)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}

func (d Dependencies) poolMeter() metric.Meter {
	if d.Meter != nil {
		return d.Meter
	}
	return otel.GetMeterProvider().Meter(meterName)
}

func (d Dependencies) managerOptions() []txmanager.Option {
	opts := []txmanager.Option{txmanager.WithLogger(d.Logger), txmanager.WithClock(d.Clock)}
	if d.Meter != nil {
		opts = append(opts, txmanager.WithMeter(d.Meter))
	}
	return append(opts, d.TxOptions...)
}
