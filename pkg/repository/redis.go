package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/orderflow/pkg/config"
	"github.com/example/orderflow/pkg/models"
	"github.com/go-redis/redis/v8"
)

var ErrCacheMiss = errors.New("cache miss")

// RedisOrderCache keeps JSON copies of order aggregates under order:<id>
// for the configured TTL.
type RedisOrderCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisOrderCache(cfg *config.RedisConfig) *RedisOrderCache {
	return &RedisOrderCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		}),
		ttl: cfg.OrderTTL,
	}
}

func orderKey(id int64) string {
	return fmt.Sprintf("order:%d", id)
}

func (c *RedisOrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Put stores the whole aggregate, items included.
func (c *RedisOrderCache) Put(ctx context.Context, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order %d: %w", order.ID, err)
	}
	return c.client.Set(ctx, orderKey(order.ID), data, c.ttl).Err()
}

// Get returns ErrCacheMiss when the order is not cached.
func (c *RedisOrderCache) Get(ctx context.Context, id int64) (*models.Order, error) {
	data, err := c.client.Get(ctx, orderKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("failed to decode cached order %d: %w", id, err)
	}
	return &order, nil
}

func (c *RedisOrderCache) Invalidate(ctx context.Context, id int64) error {
	return c.client.Del(ctx, orderKey(id)).Err()
}

func (c *RedisOrderCache) Close() error {
	return c.client.Close()
}
