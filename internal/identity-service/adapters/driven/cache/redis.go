package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ride-tracker/internal/identity-service/core/domain/model"
	"ride-tracker/internal/identity-service/core/ports"
	"ride-tracker/internal/mylogger"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ride-tracker:status:"

// RedisStatusCache keeps status entries with a Redis-side TTL, so several
// processes on one account share fetched statuses.
type RedisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
	mylog  mylogger.Logger
}

var _ ports.IStatusCache = (*RedisStatusCache)(nil)

type entry struct {
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
}

func NewRedisStatusCache(client *redis.Client, ttl time.Duration, log mylogger.Logger) *RedisStatusCache {
	return &RedisStatusCache{client: client, ttl: ttl, mylog: log}
}

func (c *RedisStatusCache) Get(ctx context.Context, rideID model.RideReference) (model.StatusEntry, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+rideID.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.mylog.Action("status_cache_get").Warn("redis get failed", "error", err, "ride_id", rideID)
		}
		return model.StatusEntry{}, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.StatusEntry{}, false
	}
	return model.StatusEntry{Status: e.Status, LastChecked: e.LastChecked}, true
}

func (c *RedisStatusCache) Put(ctx context.Context, rideID model.RideReference, se model.StatusEntry) {
	raw, err := json.Marshal(entry{Status: se.Status, LastChecked: se.LastChecked})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+rideID.String(), raw, c.ttl).Err(); err != nil {
		c.mylog.Action("status_cache_put").Warn("redis set failed", "error", err, "ride_id", rideID)
	}
}
