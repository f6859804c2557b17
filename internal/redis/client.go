package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client backs the per-account rate limiter and fans registry outcomes out
// to every replica holding an event stream for the account.
type Client struct {
	*redis.Client
}

// NewClient connects to REDIS_URL and pings it so startup fails fast when
// the broker is unreachable.
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// RegistryChannel is the pub/sub channel carrying an account's registry events.
func RegistryChannel(accountID string) string {
	return fmt.Sprintf("registry:%s", accountID)
}

// RateLimitKey namespaces a sliding-window counter.
func RateLimitKey(scope, id string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, id)
}
