package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ride-tracker/internal/config"
	"ride-tracker/internal/identity-service/core/ports"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ride-tracker:kv:"

// Redis stores values as plain keys without expiry.
type Redis struct {
	client *redis.Client
}

var _ ports.IKeyValueStore = (*Redis)(nil)

// ConnectRedis builds a client from a redis:// URL or a host:port address.
func ConnectRedis(ctx context.Context, cfg *config.Redisconfig) (*redis.Client, error) {
	var opt *redis.Options
	if strings.HasPrefix(cfg.URL, "redis://") || strings.HasPrefix(cfg.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: cfg.URL, Password: cfg.Password, DB: cfg.DB}
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
