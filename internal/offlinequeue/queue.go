package offlinequeue

import (
	"context"
	"errors"

	"kasirsync/backend/internal/domain"
)

var ErrNotQueued = errors.New("order not in offline queue")

const DefaultCapacity = 500

// Queue is the device-local store of orders taken while disconnected. It is
// bounded: enqueueing into a full queue evicts the entries with the lowest
// batch numbers and reports their ids. Batch numbers only grow.
type Queue interface {
	NextBatchNumber(ctx context.Context, deviceID string) (int64, error)
	Enqueue(ctx context.Context, deviceID string, order domain.Order) (evicted []string, err error)
	List(ctx context.Context, deviceID string) ([]domain.Order, error)
	Get(ctx context.Context, deviceID string, orderID string) (*domain.Order, error)
	Update(ctx context.Context, deviceID string, order domain.Order) error
	Remove(ctx context.Context, deviceID string, orderID string) error
	Len(ctx context.Context, deviceID string) (int, error)
}
