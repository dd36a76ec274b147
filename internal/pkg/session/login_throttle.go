// internal/pkg/session/login_throttle.go
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginThrottle bounds credential-stuffing attempts per (ip, email)
// with a fixed Redis window. Separate from the usage rate limiter:
// this one protects the login endpoint itself.
type LoginThrottle struct {
	client      *redis.Client
	maxAttempts int64
	window      time.Duration
}

func NewLoginThrottle(client *redis.Client) *LoginThrottle {
	return &LoginThrottle{
		client:      client,
		maxAttempts: 5,
		window:      15 * time.Minute,
	}
}

// Check registers an attempt and reports whether it is allowed plus
// the remaining allowance.
func (t *LoginThrottle) Check(ctx context.Context, ip, email string) (bool, int64, error) {
	key := t.key(ip, email)

	count, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to increment login attempt: %w", err)
	}

	// Set expiration on first attempt
	if count == 1 {
		t.client.Expire(ctx, key, t.window)
	}

	remaining := t.maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= t.maxAttempts, remaining, nil
}

// Reset clears the counter after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, ip, email string) error {
	return t.client.Del(ctx, t.key(ip, email)).Err()
}

func (t *LoginThrottle) key(ip, email string) string {
	return fmt.Sprintf("throttle:login:%s:%s", ip, email)
}
