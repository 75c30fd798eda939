package pgxpoolx

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-uow/txmanager"
)

const defaultHealthCheckTimeout = 5 * time.Second

// Config describes a PostgreSQL unit-of-work component: the pgx pool that
// transactions run on and the txmanager defaults applied to them. Only DSN is
// required.
//
// Prepared statements are off by default so the pool also works behind
// transaction-mode poolers such as PgBouncer.
type Config struct {
	DSN                string        `json:"dsn" yaml:"dsn"`
	MaxConns           int32         `json:"maxConns" yaml:"maxConns"`
	MinConns           int32         `json:"minConns" yaml:"minConns"`
	MaxConnLifetime    time.Duration `json:"maxConnLifetime" yaml:"maxConnLifetime"`
	MaxConnIdleTime    time.Duration `json:"maxConnIdleTime" yaml:"maxConnIdleTime"`
	HealthCheckPeriod  time.Duration `json:"healthCheckPeriod" yaml:"healthCheckPeriod"`
	HealthCheckTimeout time.Duration `json:"healthCheckTimeout" yaml:"healthCheckTimeout"`
	// Schema is placed ahead of public on the search path when SearchPath is
	// empty.
	Schema             string   `json:"schema" yaml:"schema"`
	SearchPath         []string `json:"searchPath" yaml:"searchPath"`
	EnablePreparedStmt *bool    `json:"enablePreparedStmt" yaml:"enablePreparedStmt"`
	// MetricsEnabled switches the db.pool.* instruments. Transaction metrics
	// follow Tx.MetricsEnabled.
	MetricsEnabled *bool `json:"metricsEnabled" yaml:"metricsEnabled"`

	Tx txmanager.Config `json:"tx" yaml:"tx"`
}

// Sanitize validates the pool settings and fills defaults. The receiver is
// left untouched.
func (c Config) Sanitize() (Config, error) {
	s := c
	s.DSN = strings.TrimSpace(c.DSN)
	if s.DSN == "" {
		return Config{}, errors.New("pgxpoolx: dsn is required")
	}
	if s.MaxConns > 0 && s.MinConns > s.MaxConns {
		return Config{}, fmt.Errorf("pgxpoolx: minConns %d exceeds maxConns %d", s.MinConns, s.MaxConns)
	}
	if s.HealthCheckTimeout <= 0 {
		s.HealthCheckTimeout = defaultHealthCheckTimeout
	}
	s.SearchPath = resolveSearchPath(s.Schema, s.SearchPath)
	if s.EnablePreparedStmt == nil {
		off := false
		s.EnablePreparedStmt = &off
	}
	if s.MetricsEnabled == nil {
		off := false
		s.MetricsEnabled = &off
	}
	return s, nil
}

func resolveSearchPath(schema string, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	if schema = strings.TrimSpace(schema); schema != "" && schema != "public" {
		return []string{schema, "public"}
	}
	return []string{"public"}
}

// PreparedStatementsEnabled reports whether the extended protocol with
// statement caching is used.
func (c Config) PreparedStatementsEnabled() bool {
	return c.EnablePreparedStmt != nil && *c.EnablePreparedStmt
}

// MetricsEnabledValue reports whether pool metrics are recorded.
func (c Config) MetricsEnabledValue() bool {
	return c.MetricsEnabled != nil && *c.MetricsEnabled
}
