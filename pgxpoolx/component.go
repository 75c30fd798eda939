// Package pgxpoolx assembles a PostgreSQL unit of work: a pgx pool, the pgxtx
// driver bound to it and a txmanager.Manager opening scopes on that driver.
package pgxpoolx

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-uow/pgxtx"
	"github.com/bionicotaku/lingo-uow/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Component owns the pool and the transaction plumbing built on it.
// Repositories take Driver and resolve their Querier with Driver.Handle;
// services take Manager.
type Component struct {
	Pool    *pgxpool.Pool
	Driver  *pgxtx.Driver
	Manager txmanager.Manager

	tx *txmanager.Component
}

// NewComponent connects to PostgreSQL, verifies the connection and builds the
// driver and manager. The returned cleanup closes the pool.
func NewComponent(ctx context.Context, cfg Config, deps Dependencies) (*Component, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sanitized, err := cfg.Sanitize()
	if err != nil {
		return nil, nil, err
	}
	deps = deps.withDefaults()
	helper := log.NewHelper(deps.Logger)

	poolConfig, err := buildPoolConfig(sanitized)
	if err != nil {
		return nil, nil, err
	}
	tracer := newPoolTracer(deps.QueryTracer, deps.Clock, helper)
	poolConfig.ConnConfig.Tracer = tracer

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpoolx: create pool: %w", err)
	}

	meter := deps.poolMeter()
	telemetry := newPoolTelemetry(meter, helper, sanitized.MetricsEnabledValue())
	telemetry.observe(meter, pool)

	driver := pgxtx.NewDriver(pool)
	tracer.bind(driver, telemetry)

	release := func() {
		telemetry.shutdown()
		pool.Close()
	}

	start := deps.Clock()
	version, err := pingDatabase(ctx, pool, sanitized.HealthCheckTimeout)
	telemetry.recordHealthCheck(ctx, deps.Clock().Sub(start), err)
	if err != nil {
		release()
		return nil, nil, err
	}

	txComp, txCleanup, err := txmanager.NewComponent(sanitized.Tx, driver, deps.Logger, deps.managerOptions()...)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("pgxpoolx: build manager: %w", err)
	}

	presets := sanitized.Tx.BuildPresets()
	helper.Infof("pgx unit of work ready: dsn=%s max_conns=%d prepared_statements=%t search_path=%s isolation=%s propagation=%s lock_timeout=%s version=%s",
		sanitizeDSN(sanitized.DSN),
		poolConfig.MaxConns,
		sanitized.PreparedStatementsEnabled(),
		strings.Join(sanitized.SearchPath, ","),
		presets.Default.Isolation,
		presets.Default.Propagation,
		presets.Default.LockTimeout,
		version,
	)

	comp := &Component{
		Pool:    pool,
		Driver:  driver,
		Manager: txComp.Manager,
		tx:      txComp,
	}
	cleanup := func() {
		txCleanup()
		helper.Info("closing pgx pool")
		release()
	}
	return comp, cleanup, nil
}

// OpenTransactions reports root transactions still running on the pool.
func (c *Component) OpenTransactions() int64 {
	if c == nil {
		return 0
	}
	return c.tx.OpenTransactions()
}

func buildPoolConfig(cfg Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpoolx: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	if !cfg.PreparedStatementsEnabled() {
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	if stmt := searchPathStatement(cfg.SearchPath); stmt != "" {
		next := poolConfig.AfterConnect
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if next != nil {
				if err := next(ctx, conn); err != nil {
					return err
				}
			}
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("set search_path: %w", err)
			}
			return nil
		}
	}
	return poolConfig, nil
}

func searchPathStatement(searchPath []string) string {
	parts := make([]string, 0, len(searchPath))
	for _, name := range searchPath {
		if name = strings.TrimSpace(name); name != "" {
			parts = append(parts, pgx.Identifier{name}.Sanitize())
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "set search_path to " + strings.Join(parts, ",")
}

func pingDatabase(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) (string, error) {
	healthCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var version string
	if err := pool.QueryRow(healthCtx, "select version()").Scan(&version); err != nil {
		return "", fmt.Errorf("pgxpoolx: ping: %w", err)
	}
	if idx := strings.Index(version, "("); idx >= 0 {
		version = strings.TrimSpace(version[:idx])
	}
	return version, nil
}

func sanitizeDSN(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.User == nil {
		return dsn
	}
	if _, ok := parsed.User.Password(); ok {
		parsed.User = url.UserPassword(parsed.User.Username(), "***")
	}
	return parsed.String()
}
