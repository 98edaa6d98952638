package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// keyNamespace prefixes every key this server writes so it can share a
// Redis database with other apps.
const keyNamespace = "crmsync"

type Client struct {
	*redis.Client
}

// NewClient connects and pings within ctx. The returned client is closed
// again if the ping fails.
func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{client}, nil
}

// RateLimitPrefix namespaces per-IP limiter keys for one endpoint.
func RateLimitPrefix(endpoint string) string {
	return fmt.Sprintf("%s:ip:%s", keyNamespace, endpoint)
}

// SyncLockKey is held by whichever instance is running a reconciliation.
func SyncLockKey() string {
	return keyNamespace + ":sync:lock"
}
