package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"codegraphix.dev/engine/namespace"
)

// RedisBackend is the Backend used when eventBus.kind=redis, grounded on
// queue/redis/queue.go: Enqueue is an RPush, Dequeue is a blocking BLPop,
// Depth is an LLen. Each partition gets its own list key.
type RedisBackend struct {
	client *redis.Client
	scope  *namespace.Scope
	prefix string
}

// RedisConfig configures the Redis-backed queue backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // default "ingest:partition:"
}

// NewRedisBackend dials Redis and returns a partition backend over it.
func NewRedisBackend(cfg RedisConfig, scope *namespace.Scope) *RedisBackend {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ingest:partition:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisBackend{client: client, scope: scope, prefix: prefix}
}

func (b *RedisBackend) key(partition int) string {
	return b.scope.QualifyRedisKey(fmt.Sprintf("%s%d", b.prefix, partition))
}

func (b *RedisBackend) Enqueue(ctx context.Context, partition int, item Item) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	return b.client.RPush(ctx, b.key(partition), body).Err()
}

func (b *RedisBackend) Dequeue(ctx context.Context, partition int, timeout time.Duration) (*Item, error) {
	result, err := b.client.BLPop(ctx, timeout, b.key(partition)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var item Item
	if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &item, nil
}

func (b *RedisBackend) Depth(ctx context.Context, partition int) (int, error) {
	depth, err := b.client.LLen(ctx, b.key(partition)).Result()
	if err != nil {
		return 0, err
	}
	return int(depth), nil
}

// Close releases the underlying Redis client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
