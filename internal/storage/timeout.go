package storage

import (
	"context"
	"time"
)

// Watchdog deadlines per operation class. These bound how long a caller
// waits, not how long the store may take: an expired call reports
// TimeoutError while the underlying transaction may still land.
const (
	initTimeout          = 20 * time.Second
	upsertTimeout        = 5 * time.Second
	saveFileTimeout      = 20 * time.Second
	getFileTimeout       = 15 * time.Second
	listFilesTimeout     = 20 * time.Second
	deleteFileTimeout    = 15 * time.Second
	updateContentTimeout = 20 * time.Second
	logActivityTimeout   = time.Second
)

// withWatchdog races fn against a deadline. The deadline context is handed
// to fn so database/sql can cancel where it is able to; if the watchdog
// fires first the caller gets a TimeoutError immediately and fn is left to
// finish (or be cancelled by the driver) in the background.
func withWatchdog[T any](ctx context.Context, op string, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	wctx, cancel := context.WithTimeout(ctx, d)

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer cancel()
		v, err := fn(wctx)
		done <- outcome{val: v, err: err}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-wctx.Done():
		var zero T
		if ctx.Err() != nil {
			// Caller's own context ended, not the watchdog
			return zero, ctx.Err()
		}
		return zero, &TimeoutError{Op: op, Deadline: d}
	}
}

// runWatchdog is withWatchdog for operations without a result value
func runWatchdog(ctx context.Context, op string, d time.Duration, fn func(ctx context.Context) error) error {
	_, err := withWatchdog(ctx, op, d, func(wctx context.Context) (struct{}, error) {
		return struct{}{}, fn(wctx)
	})
	return err
}
