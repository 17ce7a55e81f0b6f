package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"boutika/backend/internal/domain"
)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr string, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func productKey(companyID string) string {
	return fmt.Sprintf("boutika:products:%s", companyID)
}

func saleKey(companyID string, day string) string {
	return fmt.Sprintf("boutika:sales:%s:%s", companyID, day)
}

func (c *RedisCache) Get(ctx context.Context, companyID string) ([]domain.Product, bool, error) {
	val, err := c.client.Get(ctx, productKey(companyID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var products []domain.Product
	if err := json.Unmarshal([]byte(val), &products); err != nil {
		return nil, false, err
	}
	return products, true, nil
}

func (c *RedisCache) Set(ctx context.Context, companyID string, products []domain.Product, ttl time.Duration) error {
	payload, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, productKey(companyID), payload, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, companyID string) error {
	return c.client.Del(ctx, productKey(companyID)).Err()
}

// RedisSaleCache shares the client with RedisCache but keys by company + day.
type RedisSaleCache struct {
	client *redis.Client
}

func NewRedisSaleCache(base *RedisCache) *RedisSaleCache {
	return &RedisSaleCache{client: base.client}
}

func (c *RedisSaleCache) Get(ctx context.Context, companyID string, day string) ([]domain.Sale, bool, error) {
	val, err := c.client.Get(ctx, saleKey(companyID, day)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sales []domain.Sale
	if err := json.Unmarshal([]byte(val), &sales); err != nil {
		return nil, false, err
	}
	return sales, true, nil
}

func (c *RedisSaleCache) Set(ctx context.Context, companyID string, day string, sales []domain.Sale, ttl time.Duration) error {
	payload, err := json.Marshal(sales)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, saleKey(companyID, day), payload, ttl).Err()
}

func (c *RedisSaleCache) Invalidate(ctx context.Context, companyID string, day string) error {
	return c.client.Del(ctx, saleKey(companyID, day)).Err()
}
