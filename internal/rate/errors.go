package rate

import "errors"

var (
	// ErrRateLimited reports an exhausted attempt budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps counter read/write failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
