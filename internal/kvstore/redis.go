package kvstore

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisBackend stores each key as a plain string under a prefix, so several
// replicas (or deployments) can share one Redis without colliding.
type RedisBackend struct {
	client goredis.UniversalClient
	prefix string
}

func NewRedisBackend(client goredis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(k string) string { return b.prefix + k }

func (b *RedisBackend) Read(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	values, err := b.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

func (b *RedisBackend) Upsert(ctx context.Context, data map[string]string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, k := range sortedKeys(data) {
			pipe.Set(ctx, b.key(k), data[k], 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert: %w", err)
	}
	return nil
}

func (b *RedisBackend) Ping(ctx context.Context) error { return b.client.Ping(ctx).Err() }

func (b *RedisBackend) Close() error { return b.client.Close() }
