package offlinequeue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirsync/backend/internal/domain"
)

func stage(t *testing.T, q Queue, deviceID string, id string) domain.Order {
	t.Helper()
	n, err := q.NextBatchNumber(context.Background(), deviceID)
	require.NoError(t, err)
	order := domain.Order{ID: id, DeviceID: deviceID, BatchNumber: n, IsOffline: true, SyncStatus: domain.SyncStatusPending}
	_, err = q.Enqueue(context.Background(), deviceID, order)
	require.NoError(t, err)
	return order
}

func runQueueSuite(t *testing.T, newQueue func(capacity int) Queue, device func() string) {
	ctx := context.Background()

	t.Run("batch numbers are monotonic per device", func(t *testing.T) {
		q := newQueue(10)
		dev, other := device(), device()
		a, _ := q.NextBatchNumber(ctx, dev)
		b, _ := q.NextBatchNumber(ctx, dev)
		c, _ := q.NextBatchNumber(ctx, other)
		assert.Equal(t, a+1, b)
		assert.Equal(t, int64(1), c)
	})

	t.Run("lists in batch order", func(t *testing.T) {
		q := newQueue(10)
		dev := device()
		stage(t, q, dev, "off-b")
		stage(t, q, dev, "off-a")
		stage(t, q, dev, "off-c")

		orders, err := q.List(ctx, dev)
		require.NoError(t, err)
		require.Len(t, orders, 3)
		assert.Equal(t, []string{"off-b", "off-a", "off-c"}, []string{orders[0].ID, orders[1].ID, orders[2].ID})
	})

	t.Run("full queue evicts oldest", func(t *testing.T) {
		q := newQueue(2)
		dev := device()
		stage(t, q, dev, "off-1")
		stage(t, q, dev, "off-2")

		n, err := q.NextBatchNumber(ctx, dev)
		require.NoError(t, err)
		evicted, err := q.Enqueue(ctx, dev, domain.Order{ID: "off-3", BatchNumber: n})
		require.NoError(t, err)
		assert.Equal(t, []string{"off-1"}, evicted)

		size, err := q.Len(ctx, dev)
		require.NoError(t, err)
		assert.Equal(t, 2, size)
		_, err = q.Get(ctx, dev, "off-1")
		assert.ErrorIs(t, err, ErrNotQueued)
	})

	t.Run("re-enqueue replaces without eviction", func(t *testing.T) {
		q := newQueue(2)
		dev := device()
		first := stage(t, q, dev, "off-1")
		stage(t, q, dev, "off-2")

		first.SyncAttempts = 3
		evicted, err := q.Enqueue(ctx, dev, first)
		require.NoError(t, err)
		assert.Empty(t, evicted)

		got, err := q.Get(ctx, dev, "off-1")
		require.NoError(t, err)
		assert.Equal(t, 3, got.SyncAttempts)
	})

	t.Run("update and remove", func(t *testing.T) {
		q := newQueue(5)
		dev := device()
		order := stage(t, q, dev, "off-1")

		order.SyncStatus = domain.SyncStatusPendingAdjustment
		require.NoError(t, q.Update(ctx, dev, order))
		got, err := q.Get(ctx, dev, "off-1")
		require.NoError(t, err)
		assert.Equal(t, domain.SyncStatusPendingAdjustment, got.SyncStatus)

		assert.ErrorIs(t, q.Update(ctx, dev, domain.Order{ID: "off-missing"}), ErrNotQueued)

		require.NoError(t, q.Remove(ctx, dev, "off-1"))
		size, err := q.Len(ctx, dev)
		require.NoError(t, err)
		assert.Zero(t, size)
	})
}

func TestMemoryQueue(t *testing.T) {
	seq := 0
	runQueueSuite(t, func(capacity int) Queue { return NewMemoryQueue(capacity) }, func() string {
		seq++
		return fmt.Sprintf("T%d", seq)
	})
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("KASIRSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set KASIRSYNC_TEST_REDIS_ADDR to run redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	stamp := time.Now().UnixNano()
	seq := 0
	var devices []string
	t.Cleanup(func() {
		for _, d := range devices {
			_ = client.Del(context.Background(), ordersKey(d), indexKey(d), seqKey(d)).Err()
		}
	})
	runQueueSuite(t, func(capacity int) Queue { return NewRedisQueue(client, capacity) }, func() string {
		seq++
		d := fmt.Sprintf("it-%d-%d", stamp, seq)
		devices = append(devices, d)
		return d
	})
}
