package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/msp-compliance-console/internal/domain"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
)

// RedisSnapshotCache держит посчитанный дашборд в Redis одним JSON-значением.
type RedisSnapshotCache struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewRedisSnapshotCache(rdb *redis.Client, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{rdb: rdb, key: infra.RedisKeyDashboardSnapshot, ttl: ttl}
}

func (c *RedisSnapshotCache) Get(ctx context.Context) (*domain.DashboardSnapshot, error) {
	data, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get snapshot: %w", err)
	}

	var snap domain.DashboardSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Битое значение считаем промахом, чтобы оно перезаписалось
		_ = c.rdb.Del(ctx, c.key).Err()
		return nil, fmt.Errorf("redis: decode snapshot: %w", err)
	}
	return &snap, nil
}

func (c *RedisSnapshotCache) Set(ctx context.Context, snap *domain.DashboardSnapshot) error {
	if c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot: %w", err)
	}
	return nil
}

func (c *RedisSnapshotCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
