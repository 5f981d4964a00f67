// Package ratelimit throttles password attempts with Redis fixed-window counters.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config holds the login budget.
type Config struct {
	MaxAttempts int
	Window      time.Duration
	// KeyPrefix namespaces counters; defaults to "auth".
	KeyPrefix string
}

// Limiter counts failed logins per email and per client address.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "auth"
	}
	return &Limiter{redis: client, config: cfg}
}

// Check returns ErrRateLimited once either counter has used up the window's budget.
func (l *Limiter) Check(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	for _, key := range l.keys(email, ip) {
		count, err := l.redis.Get(ctx, key).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if count >= int64(l.config.MaxAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// Fail records a failed attempt.
func (l *Limiter) Fail(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	for _, key := range l.keys(email, ip) {
		count, err := l.redis.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		// fixed window: the first hit starts the clock
		if count == 1 {
			if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
	}
	return nil
}

// Reset clears the email counter after a successful login. The address
// counter keeps running so one good account cannot launder a spray.
func (l *Limiter) Reset(ctx context.Context, email string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.emailKey(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) keys(email, ip string) []string {
	keys := []string{l.emailKey(email)}
	if ip != "" {
		keys = append(keys, l.config.KeyPrefix+":login:ip:"+ip)
	}
	return keys
}

func (l *Limiter) emailKey(email string) string {
	return l.config.KeyPrefix + ":login:email:" + strings.ToLower(strings.TrimSpace(email))
}
