// Package cache is a small JSON-over-redis cache. When no redis address is
// configured a no-op implementation is provided so callers never branch.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/pkg/config"
)

type Cache interface {
	// Get decodes the value under key into dst. found is false on a miss.
	Get(ctx context.Context, key string, dst any) (found bool, err error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Version returns the integer counter under key, 0 when absent.
	Version(ctx context.Context, key string) (int64, error)
	// Bump increments the counter under key and returns the new value.
	Bump(ctx context.Context, key string) (int64, error)
}

type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache.NewRedis: %w", err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache.Get: %w", err)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return false, fmt.Errorf("cache.Get: decode %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache.Set: encode %s: %w", key, err)
	}
	return r.client.Set(ctx, key, body, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Version(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache.Version: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache.Version: %s is not a counter: %w", key, err)
	}
	return n, nil
}

func (r *Redis) Bump(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *Redis) Close() error { return r.client.Close() }

// Nop never stores anything; every Get is a miss.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (bool, error)        { return false, nil }
func (Nop) Set(context.Context, string, any, time.Duration) error { return nil }
func (Nop) Delete(context.Context, ...string) error               { return nil }
func (Nop) Version(context.Context, string) (int64, error)        { return 0, nil }
func (Nop) Bump(context.Context, string) (int64, error)           { return 0, nil }

// New connects to redis when configured. A failed connection is logged and
// degrades to Nop rather than blocking startup.
func New(lc fx.Lifecycle, cfg *config.Config, log *zap.SugaredLogger) Cache {
	if cfg.Redis.Addr == "" {
		log.Infow("redis not configured, caching disabled")
		return Nop{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := NewRedis(ctx, cfg.Redis)
	if err != nil {
		log.Warnw("redis unavailable, caching disabled", "addr", cfg.Redis.Addr, "err", err)
		return Nop{}
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return r.Close() },
	})
	log.Infow("connected to redis", "addr", cfg.Redis.Addr)
	return r
}

var Module = fx.Options(
	fx.Provide(New),
)
