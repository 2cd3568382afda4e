package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PingTimeout bounds the connectivity check in New.
const PingTimeout = 5 * time.Second

// New dials Redis with opts and pings it. The client is closed again when
// the ping fails, so callers only own it on success.
func New(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	if opts == nil || opts.Addr == "" {
		return nil, fmt.Errorf("platform/cache: redis address required")
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}
