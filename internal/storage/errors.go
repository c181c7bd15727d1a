package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClosed is returned when an operation runs against a released connection
	ErrClosed = errors.New("store is closed")
	// ErrNotFound is returned by operations that require an existing row,
	// such as promoting content for a file that was never saved
	ErrNotFound = errors.New("not found")
)

// InitializationError means the store failed to open or timed out while
// opening. The application is expected to continue in a degraded,
// non-persistent mode after surfacing it once.
type InitializationError struct {
	Cause error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("store initialization failed: %v", e.Cause)
}

func (e *InitializationError) Unwrap() error { return e.Cause }

// TransactionError means an underlying transaction aborted. It propagates to
// the caller and is never auto-retried.
type TransactionError struct {
	Op    string
	Cause error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed during %s: %v", e.Op, e.Cause)
}

func (e *TransactionError) Unwrap() error { return e.Cause }

// TimeoutError means a watchdog fired before the operation reported back.
// The underlying transaction may still complete afterward, so callers must
// treat this as an unknown outcome that is safe to retry idempotently.
type TimeoutError struct {
	Op       string
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s (outcome unknown, retry is safe)", e.Op, e.Deadline)
}

// ValidationError means required identifying fields were missing. It is
// raised before any IO happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsTimeout reports whether err is (or wraps) a watchdog expiry
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
