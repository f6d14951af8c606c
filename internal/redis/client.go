package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ReconcileQueueKey holds access log entries whose append failed after a grant.
const ReconcileQueueKey = "access_logs:reconcile"

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// AccessChannel is the pub/sub channel carrying live access decisions of an organization.
func AccessChannel(organizationID string) string {
	return fmt.Sprintf("access:%s", organizationID)
}

func RateLimitKey(scope, id string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, id)
}
