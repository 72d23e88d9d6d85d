package exportcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"keystack/internal/config"
	"keystack/internal/domain"
	"keystack/internal/usecase"

	"github.com/redis/go-redis/v9"
)

// Redis shares resolved exports between replicas. Values are stored as JSON.
type Redis struct {
	client redis.Cmdable
}

func NewRedis(client redis.Cmdable) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Redis{client: client}, nil
}

// NewClientFromConfig returns nil when no redis address is configured.
func NewClientFromConfig(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func (c *Redis) Get(ctx context.Context, key string) (*domain.ResolvedOutput, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out domain.ResolvedOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		// A corrupt entry is a miss; the next Put overwrites it.
		return nil, false, nil
	}
	return &out, true, nil
}

func (c *Redis) Put(ctx context.Context, key string, value domain.ResolvedOutput, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

func (c *Redis) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

var _ usecase.ExportCache = (*Redis)(nil)
