package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRequestRateLimited = errors.New("instruction requests rate limited")
	ErrRedisUnavailable   = errors.New("request limiter redis unavailable")
)

// RequestConfig sets the per-window budget of instruction requests.
type RequestConfig struct {
	EnableIPThrottle bool
	MaxRequests      int
	Window           time.Duration
}

// RequestLimiter counts instruction requests per (kind, email) and,
// optionally, per (kind, ip).
type RequestLimiter struct {
	redis  redis.UniversalClient
	config RequestConfig
}

func NewRequestLimiter(redisClient redis.UniversalClient, cfg RequestConfig) *RequestLimiter {
	return &RequestLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Allow records one request and returns ErrRequestRateLimited once the
// budget for the window is exceeded. Rejected requests still count.
func (l *RequestLimiter) Allow(ctx context.Context, kind, email, ip string) error {
	if l == nil {
		return nil
	}
	if err := l.enforceFixedWindow(ctx, requestEmailKey(kind, email)); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, requestIPKey(kind, ip)); err != nil {
			return err
		}
	}
	return nil
}

// Window returns how long a caller must wait, at most, after being limited.
func (l *RequestLimiter) Window() time.Duration {
	if l == nil {
		return 0
	}
	return l.config.Window
}

func (l *RequestLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(l.config.MaxRequests) {
		return ErrRequestRateLimited
	}

	return nil
}

func requestEmailKey(kind, email string) string {
	return "arq:" + kind + ":" + strings.ToLower(strings.TrimSpace(email))
}

func requestIPKey(kind, ip string) string {
	return "arqip:" + kind + ":" + ip
}
