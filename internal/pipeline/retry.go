package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/lpquant/hedgebot/internal/domain"
	"github.com/lpquant/hedgebot/internal/hedging"
)

// maxTries bounds one run's retry budget. The loop itself runs again on the
// next tick, so a run that keeps failing is surrendered rather than retried
// forever.
const maxTries = 4

// rateLimitDelay is the fixed wait after a throttled exchange call. Longer
// than the exponential schedule's early steps so the window can actually
// drain.
const rateLimitDelay = 15 * time.Second

// retryTransient runs fn with exponential backoff for transient failures.
// Validation rejections and an open circuit are permanent for this run: the
// input will not get better by retrying, and the breaker exists precisely to
// stop hammering the exchange.
func retryTransient(ctx context.Context, logger *slog.Logger, name string, fn func() error) error {
	operation := func() (struct{}, error) {
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}

		var vErr *hedging.ValidationError
		if errors.Is(err, domain.ErrCircuitOpen) || errors.As(err, &vErr) {
			return struct{}{}, backoff.Permanent(err)
		}
		if errors.Is(err, domain.ErrRateLimited) {
			// Override the exponential schedule with a fixed wait long
			// enough for the rate window to drain.
			return struct{}{}, fmt.Errorf("%w: %w", err, backoff.RetryAfter(int(rateLimitDelay/time.Second)))
		}
		return struct{}{}, err
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying after transient failure",
			slog.String("loop", name),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(notify),
	)
	return err
}
