package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lpquant/hedgebot/internal/domain"
)

//go:embed scripts/record_failure.lua
var recordFailureLua string

// BreakerStore implements domain.BreakerStore on Redis. The failure counter
// and last-failure timestamp live under "{key}:failures" and "{key}:last";
// RecordFailure updates both and refreshes their TTL in one Lua script so
// overlapping rebalance runs never lose an increment.
type BreakerStore struct {
	rdb           *redis.Client
	recordFailure *redis.Script
}

// NewBreakerStore creates a BreakerStore backed by the given Client.
func NewBreakerStore(c *Client) *BreakerStore {
	return &BreakerStore{
		rdb:           c.Underlying(),
		recordFailure: redis.NewScript(recordFailureLua),
	}
}

func failuresKey(key string) string {
	return key + ":failures"
}

func lastFailureKey(key string) string {
	return key + ":last"
}

// Failures returns the current failure count, or 0 when the counter does not
// exist or has expired.
func (bs *BreakerStore) Failures(ctx context.Context, key string) (int, error) {
	val, err := bs.rdb.Get(ctx, failuresKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: breaker failures %s: %w", key, err)
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("redis: parse breaker failures %s: %w", key, err)
	}
	return count, nil
}

// LastFailure returns the most recent failure time; the boolean is false
// when no failure is on record.
func (bs *BreakerStore) LastFailure(ctx context.Context, key string) (time.Time, bool, error) {
	val, err := bs.rdb.Get(ctx, lastFailureKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: breaker last failure %s: %w", key, err)
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: parse breaker last failure %s: %w", key, err)
	}
	return time.Unix(0, nanos), true, nil
}

// RecordFailure atomically increments the failure counter, stamps the
// failure time, refreshes the TTL on both keys, and returns the new count.
func (bs *BreakerStore) RecordFailure(ctx context.Context, key string, at time.Time, ttl time.Duration) (int, error) {
	count, err := bs.recordFailure.Run(
		ctx,
		bs.rdb,
		[]string{failuresKey(key), lastFailureKey(key)},
		at.UnixNano(),
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis: breaker record failure %s: %w", key, err)
	}
	return count, nil
}

// Reset clears the failure counter and last-failure timestamp.
func (bs *BreakerStore) Reset(ctx context.Context, key string) error {
	if err := bs.rdb.Del(ctx, failuresKey(key), lastFailureKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: breaker reset %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BreakerStore = (*BreakerStore)(nil)
