package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirsync/backend/internal/domain"
)

const summaryKeyPrefix = "kasirsync:product-summary:"

type RedisSummaryCache struct {
	client redis.UniversalClient
}

func NewRedisSummaryCache(client redis.UniversalClient) *RedisSummaryCache {
	return &RedisSummaryCache{client: client}
}

func (c *RedisSummaryCache) Get(ctx context.Context, productID string) (*domain.Product, bool, error) {
	val, err := c.client.Get(ctx, summaryKeyPrefix+productID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var product domain.Product
	if err := json.Unmarshal(val, &product); err != nil {
		return nil, false, err
	}
	return &product, true, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, product domain.Product, ttl time.Duration) error {
	payload, err := json.Marshal(product)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKeyPrefix+product.ID, payload, ttl).Err()
}

func (c *RedisSummaryCache) Delete(ctx context.Context, productID string) error {
	return c.client.Del(ctx, summaryKeyPrefix+productID).Err()
}
