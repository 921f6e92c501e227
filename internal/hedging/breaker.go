package hedging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lpquant/hedgebot/internal/domain"
)

const (
	// breakerThreshold is the consecutive-failure count that opens the
	// circuit.
	breakerThreshold = 3
	// breakerResetTimeout is how long after the last failure an open circuit
	// closes again on its own.
	breakerResetTimeout = 30 * time.Minute
	// breakerTTL bounds how long failure state lives in the store.
	breakerTTL = time.Hour
)

// BreakerStatus reports the circuit's current state for dashboards.
type BreakerStatus struct {
	Open        bool
	Failures    int
	LastFailure *time.Time
	WillResetAt *time.Time
}

// CircuitBreaker halts trade execution for a user after repeated consecutive
// failures. State lives in a shared expiring store so overlapping job runs
// for the same user observe the same counter; increments are atomic on the
// store side.
type CircuitBreaker struct {
	store  domain.BreakerStore
	logger *slog.Logger
}

// NewCircuitBreaker creates a CircuitBreaker over the shared store.
func NewCircuitBreaker(store domain.BreakerStore, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		store:  store,
		logger: logger.With(slog.String("component", "circuit_breaker")),
	}
}

func breakerKey(userID string) string {
	return "hedging:breaker:" + userID
}

// Open reports whether the circuit is open for the user. The circuit is open
// when the failure count has reached the threshold and the reset timeout has
// not yet elapsed since the last failure.
func (b *CircuitBreaker) Open(ctx context.Context, userID string) (bool, error) {
	key := breakerKey(userID)
	failures, err := b.store.Failures(ctx, key)
	if err != nil {
		return false, fmt.Errorf("hedging: breaker failures: %w", err)
	}
	if failures < breakerThreshold {
		return false, nil
	}
	last, ok, err := b.store.LastFailure(ctx, key)
	if err != nil {
		return false, fmt.Errorf("hedging: breaker last failure: %w", err)
	}
	if !ok {
		return false, nil
	}
	return time.Now().Before(last.Add(breakerResetTimeout)), nil
}

// Do runs fn under circuit protection. If the circuit is open it fails fast
// with domain.ErrCircuitOpen without invoking fn. Otherwise fn runs; success
// clears the failure counter, failure records one and the original error is
// returned unchanged so callers can branch on root cause.
func (b *CircuitBreaker) Do(ctx context.Context, userID string, fn func() error) error {
	open, err := b.Open(ctx, userID)
	if err != nil {
		return err
	}
	if open {
		return fmt.Errorf("hedging: user %s: %w", userID, domain.ErrCircuitOpen)
	}

	if err := fn(); err != nil {
		b.RecordFailure(ctx, userID)
		return err
	}
	b.RecordSuccess(ctx, userID)
	return nil
}

// RecordFailure atomically bumps the user's consecutive-failure counter.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, userID string) {
	count, err := b.store.RecordFailure(ctx, breakerKey(userID), time.Now(), breakerTTL)
	if err != nil {
		b.logger.Warn("failed to record breaker failure",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}
	if count >= breakerThreshold {
		b.logger.Error("circuit breaker opened",
			slog.String("user_id", userID),
			slog.Int("failures", count))
	}
}

// RecordSuccess clears the user's failure state. An open circuit cannot be
// reached through success; a success before the threshold resets the count.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context, userID string) {
	if err := b.store.Reset(ctx, breakerKey(userID)); err != nil {
		b.logger.Warn("failed to clear breaker state",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
}

// Reset is the explicit operator override that closes the circuit.
func (b *CircuitBreaker) Reset(ctx context.Context, userID string) error {
	if err := b.store.Reset(ctx, breakerKey(userID)); err != nil {
		return fmt.Errorf("hedging: reset breaker: %w", err)
	}
	b.logger.Info("circuit breaker reset", slog.String("user_id", userID))
	return nil
}

// Status returns the circuit's state for the user.
func (b *CircuitBreaker) Status(ctx context.Context, userID string) (BreakerStatus, error) {
	key := breakerKey(userID)
	failures, err := b.store.Failures(ctx, key)
	if err != nil {
		return BreakerStatus{}, fmt.Errorf("hedging: breaker status: %w", err)
	}
	status := BreakerStatus{Failures: failures}

	last, ok, err := b.store.LastFailure(ctx, key)
	if err != nil {
		return BreakerStatus{}, fmt.Errorf("hedging: breaker status: %w", err)
	}
	if ok {
		status.LastFailure = &last
	}
	if failures >= breakerThreshold && ok && time.Now().Before(last.Add(breakerResetTimeout)) {
		status.Open = true
		resetAt := last.Add(breakerResetTimeout)
		status.WillResetAt = &resetAt
	}
	return status, nil
}
