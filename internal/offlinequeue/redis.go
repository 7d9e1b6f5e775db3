package offlinequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"kasirsync/backend/internal/domain"
)

// RedisQueue keeps each device's queue in three keys: a hash of order
// documents, a sorted set of order ids scored by batch number, and a counter.
type RedisQueue struct {
	client   redis.UniversalClient
	capacity int
}

func NewRedisQueue(client redis.UniversalClient, capacity int) *RedisQueue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &RedisQueue{client: client, capacity: capacity}
}

func ordersKey(deviceID string) string { return fmt.Sprintf("kasirsync:offline:%s:orders", deviceID) }
func indexKey(deviceID string) string  { return fmt.Sprintf("kasirsync:offline:%s:index", deviceID) }
func seqKey(deviceID string) string    { return fmt.Sprintf("kasirsync:offline:%s:seq", deviceID) }

func (q *RedisQueue) NextBatchNumber(ctx context.Context, deviceID string) (int64, error) {
	return q.client.Incr(ctx, seqKey(deviceID)).Result()
}

func (q *RedisQueue) Enqueue(ctx context.Context, deviceID string, order domain.Order) ([]string, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}

	exists, err := q.client.HExists(ctx, ordersKey(deviceID), order.ID).Result()
	if err != nil {
		return nil, err
	}

	var evicted []string
	if !exists {
		size, err := q.client.ZCard(ctx, indexKey(deviceID)).Result()
		if err != nil {
			return nil, err
		}
		if over := size - int64(q.capacity) + 1; over > 0 {
			evicted, err = q.client.ZRange(ctx, indexKey(deviceID), 0, over-1).Result()
			if err != nil {
				return nil, err
			}
		}
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(evicted) > 0 {
			members := make([]interface{}, len(evicted))
			for i, id := range evicted {
				members[i] = id
			}
			pipe.HDel(ctx, ordersKey(deviceID), evicted...)
			pipe.ZRem(ctx, indexKey(deviceID), members...)
		}
		pipe.HSet(ctx, ordersKey(deviceID), order.ID, payload)
		pipe.ZAdd(ctx, indexKey(deviceID), redis.Z{Score: float64(order.BatchNumber), Member: order.ID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

func (q *RedisQueue) List(ctx context.Context, deviceID string) ([]domain.Order, error) {
	ids, err := q.client.ZRange(ctx, indexKey(deviceID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Order{}, nil
	}

	values, err := q.client.HMGet(ctx, ordersKey(deviceID), ids...).Result()
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(values))
	for _, val := range values {
		raw, ok := val.(string)
		if !ok {
			continue
		}
		var order domain.Order
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (q *RedisQueue) Get(ctx context.Context, deviceID string, orderID string) (*domain.Order, error) {
	raw, err := q.client.HGet(ctx, ordersKey(deviceID), orderID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotQueued
	}
	if err != nil {
		return nil, err
	}
	var order domain.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (q *RedisQueue) Update(ctx context.Context, deviceID string, order domain.Order) error {
	exists, err := q.client.HExists(ctx, ordersKey(deviceID), order.ID).Result()
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotQueued
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return q.client.HSet(ctx, ordersKey(deviceID), order.ID, payload).Err()
}

func (q *RedisQueue) Remove(ctx context.Context, deviceID string, orderID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, ordersKey(deviceID), orderID)
		pipe.ZRem(ctx, indexKey(deviceID), orderID)
		return nil
	})
	return err
}

func (q *RedisQueue) Len(ctx context.Context, deviceID string) (int, error) {
	n, err := q.client.ZCard(ctx, indexKey(deviceID)).Result()
	return int(n), err
}
