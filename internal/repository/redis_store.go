package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisAPI is the subset of *redis.Client used by RedisStore.
type redisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps session state in Redis under a key prefix.
type RedisStore struct {
	api    redisAPI
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. Keys are written as prefix+key.
func NewRedisStore(api redisAPI, prefix string) (*RedisStore, error) {
	if api == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	return &RedisStore{api: api, prefix: strings.TrimSpace(prefix)}, nil
}

// DialRedis connects to addr and wraps the client.
func DialRedis(addr, prefix string) (*RedisStore, *redis.Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, nil, errors.New("repository: redis address must not be empty")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	store, err := NewRedisStore(client, prefix)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, client, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	v, err := r.api.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repository: redis get %q: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Put(ctx context.Context, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := r.api.Set(ctx, r.prefix+key, value, ttlDuration).Err(); err != nil {
		return fmt.Errorf("repository: redis set %q: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := r.api.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("repository: redis del %q: %w", key, err)
	}
	return nil
}
