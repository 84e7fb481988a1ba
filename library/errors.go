package library

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Error kinds returned by the catalog, ledger and lending engine. Callers
// match them with errors.Is; the returned errors carry more context.
var (
	ErrNotFound           = errors.New("not found")
	ErrBorrowerNotFound   = errors.New("borrower not found or details do not match")
	ErrConflict           = errors.New("conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrValidation         = errors.New("validation failed")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// classifyStorageError tags timeouts, cancellations and lock contention as
// ErrStorageUnavailable so callers know the whole operation may be retried.
func classifyStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			return true
		}
	}
	return false
}

// IsRetryable reports whether err was caused by the storage layer being
// unavailable, in which case the whole operation may be repeated.
func IsRetryable(err error) bool { return errors.Is(err, ErrStorageUnavailable) }
