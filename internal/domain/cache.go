package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BreakerStore is the shared, expiring counter behind the circuit breaker.
// It lives in a store visible to all orchestrator instances so overlapping
// job executions observe the same failure state. RecordFailure must be
// atomic on the store side; callers never read-modify-write the counter.
type BreakerStore interface {
	// Failures returns the current consecutive-failure count for a key, or 0
	// when the key does not exist or has expired.
	Failures(ctx context.Context, key string) (int, error)
	// LastFailure returns the time of the most recent recorded failure. The
	// boolean is false when no failure is on record.
	LastFailure(ctx context.Context, key string) (time.Time, bool, error)
	// RecordFailure atomically increments the failure counter, stamps the
	// failure time, refreshes the TTL on both values, and returns the new
	// count.
	RecordFailure(ctx context.Context, key string, at time.Time, ttl time.Duration) (int, error)
	// Reset clears the failure counter and last-failure timestamp.
	Reset(ctx context.Context, key string) error
}

// LockManager provides distributed locking, used to serialize exchange
// account allocation per asset across concurrent rebalance runs.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// PriceCache provides fast access to the latest exchange mark prices.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, asset string) (decimal.Decimal, time.Time, error)
	GetPrices(ctx context.Context, assets []string) (map[string]decimal.Decimal, error)
}

// RateLimiter provides distributed rate limiting for outbound API calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
