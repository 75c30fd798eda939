package txmanager

import (
	"strings"
	"time"
)

// IsoLevel names a transaction isolation level. Values mirror the pgx enums so
// that the PostgreSQL driver can pass them through untouched.
type IsoLevel string

// AccessMode names a transaction access mode.
type AccessMode string

const (
	Serializable    IsoLevel = "serializable"
	RepeatableRead  IsoLevel = "repeatable read"
	ReadCommitted   IsoLevel = "read committed"
	ReadUncommitted IsoLevel = "read uncommitted"

	ReadWrite AccessMode = "read write"
	ReadOnly  AccessMode = "read only"
)

// TxOptions captures per-call overrides controlling transaction behaviour.
type TxOptions struct {
	Isolation   IsoLevel
	AccessMode  AccessMode
	Propagation Propagation
	// Timeout bounds the root transaction when positive. Negative cancels a
	// configured default; zero keeps it.
	Timeout time.Duration
	// LockTimeout is applied by drivers that support per-transaction lock
	// timeouts (PostgreSQL); others ignore it.
	LockTimeout time.Duration
	TraceName   string
}

// ReadOnly reports whether the options request a read-only transaction.
func (o TxOptions) ReadOnly() bool {
	return o.AccessMode == ReadOnly
}

func mergeTxOptions(base, override TxOptions) TxOptions {
	result := base
	if override.Isolation != "" {
		result.Isolation = override.Isolation
	}
	if override.AccessMode != "" {
		result.AccessMode = override.AccessMode
	}
	if override.Propagation != PropagationDefault {
		result.Propagation = override.Propagation
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.LockTimeout > 0 {
		result.LockTimeout = override.LockTimeout
	}
	if override.TraceName != "" {
		result.TraceName = override.TraceName
	}
	return result
}

// ParseIsolation converts a configuration value into an IsoLevel. Unknown
// values fall back to read committed.
func ParseIsolation(value string) IsoLevel {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "serializable", "serial":
		return Serializable
	case "repeatable_read", "repeatable-read", "repeatable read":
		return RepeatableRead
	case "read_uncommitted", "read-uncommitted", "read uncommitted":
		return ReadUncommitted
	case "read_committed", "read-committed", "read committed", "":
		fallthrough
	default:
		return ReadCommitted
	}
}

func isoString(level IsoLevel) string {
	switch level {
	case Serializable:
		return "serializable"
	case RepeatableRead:
		return "repeatable_read"
	case ReadUncommitted:
		return "read_uncommitted"
	default:
		return "read_committed"
	}
}
