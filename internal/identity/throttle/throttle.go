// Package throttle rate limits login attempts per username and per source IP
// using Redis counters with a rolling expiry window. It backs off brute force
// attempts before any password hashing work is spent.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTooManyAttempts  = errors.New("too many attempts")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	DefaultMaxAttempts = 10
	DefaultWindow      = 15 * time.Minute
)

// LoginThrottle counts failed attempts in Redis. A nil throttle disables
// all limiting, which keeps tests and single-binary deployments simple.
type LoginThrottle struct {
	redis       *redis.Client
	maxAttempts int
	window      time.Duration
}

func NewLoginThrottle(client *redis.Client, maxAttempts int, window time.Duration) *LoginThrottle {
	if client == nil {
		return nil
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &LoginThrottle{redis: client, maxAttempts: maxAttempts, window: window}
}

// Check returns ErrTooManyAttempts when the counter for username or IP has
// already passed the limit. Called before any credential work.
func (t *LoginThrottle) Check(ctx context.Context, username, ip string) error {
	if t == nil {
		return nil
	}
	for _, key := range t.keys(username, ip) {
		count, err := t.redis.Get(ctx, key).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if count >= int64(t.maxAttempts) {
			return ErrTooManyAttempts
		}
	}
	return nil
}

// RecordFailure bumps both counters. The expiry is set on the first failure
// so the window rolls from the start of a burst, not its end.
func (t *LoginThrottle) RecordFailure(ctx context.Context, username, ip string) error {
	if t == nil {
		return nil
	}
	for _, key := range t.keys(username, ip) {
		count, err := t.redis.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if count == 1 {
			if err := t.redis.Expire(ctx, key, t.window).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
	}
	return nil
}

// Reset clears the counters after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, username, ip string) error {
	if t == nil {
		return nil
	}
	keys := t.keys(username, ip)
	if err := t.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (t *LoginThrottle) keys(username, ip string) []string {
	keys := []string{"login:user:" + username}
	if ip != "" {
		keys = append(keys, "login:ip:"+ip)
	}
	return keys
}
