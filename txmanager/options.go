package txmanager

import (
	"io"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Option customises a Manager built by NewManager or NewComponent.
type Option func(*settings)

// settings is what NewManager works with once options and Config are merged.
type settings struct {
	logger  log.Logger
	meter   metric.Meter
	tracer  trace.Tracer
	clock   func() time.Time
	newID   func() string
	metrics *bool
}

func newSettings(options []Option) settings {
	s := settings{
		logger: log.NewStdLogger(io.Discard),
		clock:  time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range options {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}

// resolve fills the telemetry providers from the otel globals under the
// configured meter name and reports whether metrics are recorded.
func (s *settings) resolve(cfg Config) (metricsEnabled bool) {
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(cfg.MeterName)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(cfg.MeterName)
	}
	if s.metrics != nil {
		return *s.metrics
	}
	return cfg.metricsEnabledValue()
}

// WithLogger sets the logger for scope lifecycle events (begin, join,
// rollback-only, commit failures).
func WithLogger(logger log.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMeter sets the meter for the db.tx.* instruments.
func WithMeter(meter metric.Meter) Option {
	return func(s *settings) {
		if meter != nil {
			s.meter = meter
		}
	}
}

// WithTracer sets the tracer used for transaction and savepoint spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *settings) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock replaces time.Now when measuring scope durations.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithIDGenerator replaces the UUID generator used for scope identifiers.
func WithIDGenerator(next func() string) Option {
	return func(s *settings) {
		if next != nil {
			s.newID = next
		}
	}
}

// WithMetricsEnabled takes precedence over Config.MetricsEnabled.
func WithMetricsEnabled(enabled bool) Option {
	return func(s *settings) {
		s.metrics = &enabled
	}
}
