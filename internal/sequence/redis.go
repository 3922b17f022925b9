package sequence

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "td:seq:"

// RedisCounter uses INCR, which creates a missing key at 0 before
// incrementing, so the first value of a scope is 1.
type RedisCounter struct {
	Client redis.Cmdable
}

func NewRedisCounter(ctx context.Context, addr, password string, db int) (*RedisCounter, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisCounter{Client: client}, client, nil
}

func (c RedisCounter) Next(ctx context.Context, scope string) (int64, error) {
	return c.Client.Incr(ctx, redisKeyPrefix+scope).Result()
}
