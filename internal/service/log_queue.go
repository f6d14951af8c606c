package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gatepass/access-server/internal/model"
	redisclient "github.com/gatepass/access-server/internal/redis"
)

// LogQueue parks access log entries whose write failed after a grant so
// they can be replayed later.
type LogQueue interface {
	Push(ctx context.Context, entry *model.AccessLog) error
	// Pop returns nil when the queue is empty.
	Pop(ctx context.Context) (*model.AccessLog, error)
	Len(ctx context.Context) (int64, error)
}

type RedisLogQueue struct {
	client *redis.Client
	key    string
}

func NewRedisLogQueue(client *redisclient.Client) *RedisLogQueue {
	return &RedisLogQueue{client: client.Client, key: redisclient.ReconcileQueueKey}
}

func (q *RedisLogQueue) Push(ctx context.Context, entry *model.AccessLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal access log: %w", err)
	}
	return q.client.RPush(ctx, q.key, data).Err()
}

func (q *RedisLogQueue) Pop(ctx context.Context) (*model.AccessLog, error) {
	data, err := q.client.LPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry model.AccessLog
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal access log: %w", err)
	}
	return &entry, nil
}

func (q *RedisLogQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
