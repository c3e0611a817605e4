package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"formacal/internal/models"
)

const (
	defaultAttempts = 3
	defaultTimeout  = 10 * time.Second
	defaultBackoff  = 200 * time.Millisecond
)

// retryPolicy bounds every store call: a per-call timeout and a fixed number of
// attempts, waiting a little longer between each one.
type retryPolicy struct {
	attempts int
	timeout  time.Duration
	backoff  time.Duration
	logger   *slog.Logger
	observer Observer
}

func (p retryPolicy) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		}
		err = fn(callCtx)
		cancel()
		if err == nil || permanent(err) {
			return err
		}
		if ctx.Err() != nil || attempt == p.attempts {
			break
		}

		p.observer.StoreRetry(op)
		p.logger.Debug("Store call failed, retrying.", "op", op, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * p.backoff):
		}
	}
	return err
}

// permanent errors are not worth retrying.
func permanent(err error) bool {
	return errors.Is(err, models.ErrProjectNotFound) ||
		errors.Is(err, models.ErrEventNotFound) ||
		errors.Is(err, context.Canceled) ||
		IsPrecondition(err) ||
		models.IsDataQuality(err)
}
