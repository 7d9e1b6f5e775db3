package offlinequeue

import (
	"context"
	"slices"
	"strings"
	"sync"

	"kasirsync/backend/internal/domain"
)

type MemoryQueue struct {
	mu       sync.Mutex
	capacity int
	orders   map[string]map[string]domain.Order
	counters map[string]int64
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &MemoryQueue{
		capacity: capacity,
		orders:   make(map[string]map[string]domain.Order),
		counters: make(map[string]int64),
	}
}

func (q *MemoryQueue) NextBatchNumber(_ context.Context, deviceID string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.counters[deviceID]++
	return q.counters[deviceID], nil
}

func (q *MemoryQueue) Enqueue(_ context.Context, deviceID string, order domain.Order) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	device, ok := q.orders[deviceID]
	if !ok {
		device = make(map[string]domain.Order)
		q.orders[deviceID] = device
	}

	var evicted []string
	if _, exists := device[order.ID]; !exists && len(device) >= q.capacity {
		oldest := sortedOrders(device)
		for _, o := range oldest[:len(device)-q.capacity+1] {
			delete(device, o.ID)
			evicted = append(evicted, o.ID)
		}
	}
	device[order.ID] = order
	return evicted, nil
}

func (q *MemoryQueue) List(_ context.Context, deviceID string) ([]domain.Order, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return sortedOrders(q.orders[deviceID]), nil
}

func (q *MemoryQueue) Get(_ context.Context, deviceID string, orderID string) (*domain.Order, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	order, ok := q.orders[deviceID][orderID]
	if !ok {
		return nil, ErrNotQueued
	}
	return &order, nil
}

func (q *MemoryQueue) Update(_ context.Context, deviceID string, order domain.Order) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	device := q.orders[deviceID]
	if _, ok := device[order.ID]; !ok {
		return ErrNotQueued
	}
	device[order.ID] = order
	return nil
}

func (q *MemoryQueue) Remove(_ context.Context, deviceID string, orderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.orders[deviceID], orderID)
	return nil
}

func (q *MemoryQueue) Len(_ context.Context, deviceID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.orders[deviceID]), nil
}

func sortedOrders(device map[string]domain.Order) []domain.Order {
	result := make([]domain.Order, 0, len(device))
	for _, order := range device {
		result = append(result, order)
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.BatchNumber != b.BatchNumber {
			if a.BatchNumber < b.BatchNumber {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result
}
