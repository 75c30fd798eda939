package txmanager

import (
	"errors"
	"fmt"
)

var (
	ErrRetryableTx          = errors.New("txmanager: retryable transaction")
	ErrRollbackOnly         = errors.New("txmanager: transaction marked rollback-only by a joined call")
	ErrAlreadyInTx          = errors.New("txmanager: already in transaction")
	ErrReadOnlyScope        = errors.New("txmanager: read-write work requested inside a read-only transaction")
	ErrSavepointUnsupported = errors.New("txmanager: driver does not support savepoints")
	ErrNilUnitOfWork        = errors.New("txmanager: unit of work is required")
	ErrNilDriver            = errors.New("txmanager: driver is required")
	ErrUncomparableDriver   = errors.New("txmanager: driver type is not comparable")
)

// wrapRetryable annotates the provided error as retryable while preserving the
// original cause for downstream inspection.
func wrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRetryableTx, err)
}

type sqlStater interface {
	SQLState() string
}

// classifySQLState inspects errors carrying a SQLSTATE (pgconn.PgError among
// others) and reports whether a retry makes sense.
func classifySQLState(err error) (retryable bool, sqlState string) {
	var stater sqlStater
	if errors.As(err, &stater) {
		sqlState = stater.SQLState()
		switch sqlState {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03": // lock_not_available
			return true, sqlState
		default:
			return false, sqlState
		}
	}
	return false, ""
}

func classify(driver Driver, err error) (bool, string) {
	if err == nil {
		return false, ""
	}
	if c, ok := driver.(ErrorClassifier); ok {
		if retryable, code := c.Classify(err); retryable || code != "" {
			return retryable, code
		}
	}
	return classifySQLState(err)
}

// IsRetryable reports whether the error came from a retryable transaction
// failure (deadlock / serialization / lock timeout).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetryableTx) {
		return true
	}
	retryable, _ := classifySQLState(err)
	return retryable
}
