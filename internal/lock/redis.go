package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "kasirsync:lock:"

type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

func (r *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	l, err := r.client.Obtain(ctx, redisKeyPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return redisLease{lock: l}, nil
}

type redisLease struct {
	lock *redislock.Lock
}

func (l redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}
