package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/domain"
	"github.com/kailas-cloud/adtokens/internal/logger"
	"github.com/kailas-cloud/adtokens/internal/metrics"
)

// attempt bounds one upstream call with its own timeout.
type attempt[T any] func(ctx context.Context) (T, error)

// withRetry runs fn, retrying once after backoff. Errors that a retry cannot fix
// (not found, invalid input) and caller cancellation return immediately.
// The final error is classified with unavailable unless it already carries it.
func withRetry[T any](
	ctx context.Context, stage string, timeout, backoff time.Duration,
	unavailable error, fn attempt[T],
) (T, error) {
	var zero T
	var lastErr error

	for i := range 2 {
		if i > 0 {
			metrics.RetriesTotal.WithLabelValues(stage).Inc()
			logger.FromContext(ctx).Debug("Retrying upstream call",
				zap.String("stage", stage), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("%s: %w", stage, ctx.Err())
			case <-time.After(backoff):
			}
		}

		v, err := callWithTimeout(ctx, timeout, fn)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if permanent(err) || ctx.Err() != nil {
			break
		}
	}

	if permanent(lastErr) || errors.Is(lastErr, unavailable) {
		return zero, lastErr
	}
	if ctx.Err() != nil {
		return zero, fmt.Errorf("%s: %w", stage, ctx.Err())
	}
	return zero, fmt.Errorf("%w: %s: %w", unavailable, stage, lastErr)
}

func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn attempt[T]) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput)
}
