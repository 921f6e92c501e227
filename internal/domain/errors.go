package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrLockHeld       = errors.New("lock already held")
	ErrOrderRejected  = errors.New("order rejected by exchange")
	ErrTickOutOfRange = errors.New("tick out of range")
)
