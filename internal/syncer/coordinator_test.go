package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/inventory"
	"kasirsync/backend/internal/lock"
	"kasirsync/backend/internal/network"
	"kasirsync/backend/internal/offlinequeue"
	"kasirsync/backend/internal/order"
	"kasirsync/backend/internal/store"
	"kasirsync/backend/internal/store/memory"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var till = domain.OperationContext{ActorID: "cashier-1", CompanyID: "C1", StoreID: "S1", DeviceID: "POS-1"}

type fixture struct {
	repo    *memory.Store
	queue   *offlinequeue.MemoryQueue
	ledger  *inventory.Ledger
	factory *order.Factory
	sync    *Coordinator
}

// newFixture seeds product P with a single batch B1 (qty 10, cost 5).
func newFixture(t *testing.T, repo store.Repository, inner *memory.Store, opts Options) fixture {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, inner.SaveProduct(ctx, domain.Product{ID: "P", StoreID: "S1", Name: "Kopi Susu", StockTracked: true, SellingPrice: d("12")}))
	_, err := inner.CreateBatch(ctx, domain.InventoryBatch{
		ID:              "B1",
		ProductID:       "P",
		StoreID:         "S1",
		Quantity:        d("10"),
		InitialQuantity: d("10"),
		TotalDeducted:   decimal.Zero,
		UnitPrice:       d("12"),
		CostPrice:       d("5"),
		ReceivedAt:      t0,
		Status:          domain.BatchStatusActive,
	})
	require.NoError(t, err)

	clock := func() time.Time { return t0.Add(time.Hour) }
	queue := offlinequeue.NewMemoryQueue(50)
	ledger := inventory.NewLedger(repo, inventory.Options{Clock: clock})
	opts.Queue = queue
	opts.Clock = clock
	return fixture{
		repo:    inner,
		queue:   queue,
		ledger:  ledger,
		factory: order.NewFactory(repo, ledger, order.Options{Queue: queue, Clock: clock}),
		sync:    NewCoordinator(repo, ledger, opts),
	}
}

func newMemoryFixture(t *testing.T, opts Options) fixture {
	repo := memory.New()
	return newFixture(t, repo, repo, opts)
}

func (f fixture) batch(t *testing.T) domain.InventoryBatch {
	t.Helper()
	b, err := f.repo.GetBatch(context.Background(), "B1")
	require.NoError(t, err)
	return *b
}

func (f fixture) stored(t *testing.T, id string) domain.Order {
	t.Helper()
	o, err := f.repo.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return *o
}

func cart(qty string) []domain.CartItem {
	return []domain.CartItem{{ProductID: "P", Quantity: d(qty)}}
}

func TestOfflineOrderSyncsWhenStockStillThere(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, Options{})

	staged, err := f.factory.CreateOfflineOrder(ctx, cart("4"), till)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusPending, staged.SyncStatus)
	require.Len(t, staged.Items[0].BatchDeductions, 1)
	assert.True(t, staged.Items[0].BatchDeductions[0].Quantity.Equal(d("4")))
	assert.True(t, f.batch(t).Quantity.Equal(d("10")), "staging never touches the batch")

	summary, err := f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Synced)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Success)
	assert.Equal(t, domain.SyncStatusSynced, summary.Results[0].Status)

	b := f.batch(t)
	assert.True(t, b.Quantity.Equal(d("6")))
	assert.True(t, b.TotalDeducted.Equal(d("4")))

	deductions, err := f.repo.ListDeductionsByOrder(ctx, staged.ID)
	require.NoError(t, err)
	require.Len(t, deductions, 1)
	assert.Equal(t, domain.DeductionSynced, deductions[0].SyncStatus)

	o := f.stored(t, staged.ID)
	assert.Equal(t, domain.SyncStatusSynced, o.SyncStatus)
	assert.True(t, o.InventoryProcessed)
	assert.True(t, o.LedgerProcessed)
	assert.Equal(t, 1, o.SyncAttempts)

	tracking, err := f.repo.ListTracking(ctx, store.TrackingFilter{OrderID: staged.ID})
	require.NoError(t, err)
	require.Len(t, tracking, 1)
	assert.Equal(t, domain.TrackingCompleted, tracking[0].Status)

	ledger, err := f.repo.ListLedgerEntries(ctx, store.LedgerFilter{OrderID: staged.ID})
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.True(t, ledger[0].Amount.Equal(d("48")))

	n, err := f.queue.Len(ctx, "POS-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncFlagsOrderWhenStockMovedThenPartialApprove(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, Options{})

	staged, err := f.factory.CreateOfflineOrder(ctx, cart("4"), till)
	require.NoError(t, err)

	online := till
	online.DeviceID = "POS-2"
	_, err = f.factory.CreateOnlineOrder(ctx, cart("8"), online)
	require.NoError(t, err)
	require.True(t, f.batch(t).Quantity.Equal(d("2")))

	summary, err := f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Adjusted)
	require.Len(t, summary.Results, 1)
	require.Len(t, summary.Results[0].Discrepancies, 1)

	disc := summary.Results[0].Discrepancies[0]
	assert.True(t, disc.ExpectedQuantity.Equal(d("4")))
	assert.True(t, disc.ActualQuantity.Equal(d("2")))
	assert.True(t, disc.MissingQuantity.Equal(d("2")))
	assert.Equal(t, domain.ActionManualAdjustment, disc.RecommendedAction)
	assert.NotEmpty(t, summary.Results[0].Notes, "planned batch drift is reported")

	flagged := f.stored(t, staged.ID)
	assert.Equal(t, domain.SyncStatusPendingAdjustment, flagged.SyncStatus)
	assert.Equal(t, domain.SyncStatusPendingAdjustment, flagged.Items[0].SyncStatus)
	require.NotNil(t, flagged.Items[0].Discrepancy)

	deductions, err := f.repo.ListDeductionsByOrder(ctx, staged.ID)
	require.NoError(t, err)
	assert.Empty(t, deductions, "flagging never deducts")
	assert.True(t, f.batch(t).Quantity.Equal(d("2")))

	resolved, err := f.sync.ManuallyResolveOrder(ctx, staged.ID, []domain.ItemResolution{{
		OrderItemID:      flagged.Items[0].ID,
		Action:           domain.ResolutionPartialApprove,
		AdjustedQuantity: d("2"),
	}}, domain.OperationContext{ActorID: "supervisor", StoreID: "S1"})
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusSynced, resolved.SyncStatus)
	assert.True(t, resolved.Items[0].Quantity.Equal(d("2")))
	assert.True(t, resolved.Items[0].Total.Equal(d("24")))
	assert.True(t, resolved.Total.Equal(d("24")))

	b := f.batch(t)
	assert.True(t, b.Quantity.IsZero())
	assert.Equal(t, domain.BatchStatusDepleted, b.Status)
	assert.True(t, b.InitialQuantity.Equal(b.Quantity.Add(b.TotalDeducted)))

	_, err = f.sync.ManuallyResolveOrder(ctx, staged.ID, nil, till)
	assert.ErrorIs(t, err, domain.ErrOrderNotPendingAdjustment)
}

func TestSyncRecommendsCancelForLargeShortfall(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, Options{})

	staged, err := f.factory.CreateOfflineOrder(ctx, cart("4"), till)
	require.NoError(t, err)
	_, err = f.factory.CreateOnlineOrder(ctx, cart("9"), till)
	require.NoError(t, err)

	discrepancies, _, err := f.sync.ValidateOrderAgainstCurrentInventory(ctx, staged)
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	assert.Equal(t, domain.ActionCancelOrder, discrepancies[0].RecommendedAction)
	assert.True(t, discrepancies[0].MissingQuantity.Equal(d("3")))
}

func TestValidateFlagsMissingProductForRecount(t *testing.T) {
	f := newMemoryFixture(t, Options{})
	o := domain.Order{ID: "off-x", Items: []domain.OrderItem{{ID: "off-x-1", ProductID: "GONE", StockTracked: true, Quantity: d("1")}}}

	discrepancies, _, err := f.sync.ValidateOrderAgainstCurrentInventory(context.Background(), o)
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	assert.Equal(t, domain.ActionInventoryRecount, discrepancies[0].RecommendedAction)
}

func TestManualCancelZeroesLine(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, Options{})

	staged, err := f.factory.CreateOfflineOrder(ctx, cart("4"), till)
	require.NoError(t, err)
	_, err = f.factory.CreateOnlineOrder(ctx, cart("9"), till)
	require.NoError(t, err)
	_, err = f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)

	resolved, err := f.sync.ManuallyResolveOrder(ctx, staged.ID, []domain.ItemResolution{{
		OrderItemID: staged.Items[0].ID,
		Action:      domain.ResolutionCancel,
	}}, till)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSynced, resolved.SyncStatus)
	assert.True(t, resolved.Total.IsZero())
	assert.True(t, f.batch(t).Quantity.Equal(d("1")))

	tracking, err := f.repo.ListTracking(ctx, store.TrackingFilter{OrderID: staged.ID})
	require.NoError(t, err)
	require.Len(t, tracking, 1)
	assert.Equal(t, domain.TrackingCancelled, tracking[0].Status)

	_, err = f.sync.ManuallyResolveOrder(ctx, staged.ID, []domain.ItemResolution{{OrderItemID: "nope", Action: domain.ResolutionCancel}}, till)
	assert.ErrorIs(t, err, domain.ErrOrderNotPendingAdjustment)
}

func TestSyncIsIdempotentForSyncedOrders(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, Options{})

	staged, err := f.factory.CreateOfflineOrder(ctx, cart("4"), till)
	require.NoError(t, err)
	_, err = f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)

	// A stale local copy reappears in the queue.
	_, err = f.queue.Enqueue(ctx, "POS-1", staged)
	require.NoError(t, err)

	summary, err := f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Skipped)
	assert.Equal(t, domain.SyncStatusSynced, summary.Results[0].Status)

	deductions, err := f.repo.ListDeductionsByOrder(ctx, staged.ID)
	require.NoError(t, err)
	assert.Len(t, deductions, 1, "no second deduction")
	assert.True(t, f.batch(t).Quantity.Equal(d("6")))

	n, err := f.queue.Len(ctx, "POS-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

// syncedWriteFailer rejects writes that would mark one order as synced.
type syncedWriteFailer struct {
	*memory.Store
	orderID string
}

func (r syncedWriteFailer) CommitWrites(ctx context.Context, ws store.WriteSet) error {
	for _, o := range ws.Orders {
		if o.ID == r.orderID && o.SyncStatus == domain.SyncStatusSynced {
			return store.ErrUnavailable
		}
	}
	return r.Store.CommitWrites(ctx, ws)
}

func TestSyncIsolatesFailuresAndEscalatesToConflict(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	failing := &syncedWriteFailer{Store: inner}
	f := newFixture(t, failing, inner, Options{MaxAttempts: 2})

	bad, err := f.factory.CreateOfflineOrder(ctx, cart("1"), till)
	require.NoError(t, err)
	failing.orderID = bad.ID
	good, err := f.factory.CreateOfflineOrder(ctx, cart("2"), till)
	require.NoError(t, err)

	summary, err := f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, domain.SyncStatusSynced, f.stored(t, good.ID).SyncStatus)

	queued, err := f.queue.Get(ctx, "POS-1", bad.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusPending, queued.SyncStatus)
	assert.Equal(t, 1, queued.SyncAttempts)
	assert.NotEmpty(t, queued.LastSyncError)
	assert.True(t, f.batch(t).Quantity.Equal(d("8")), "failed order's deduction was compensated")

	_, err = f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)
	queued, err = f.queue.Get(ctx, "POS-1", bad.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusConflict, queued.SyncStatus)
	assert.Equal(t, domain.SyncStatusConflict, f.stored(t, bad.ID).SyncStatus)

	summary, err = f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)
	assert.Zero(t, summary.Total, "conflicted orders wait for an operator")

	failing.orderID = ""
	resolved, err := f.sync.ManuallyResolveOrder(ctx, bad.ID, nil, till)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSynced, resolved.SyncStatus)
	assert.Equal(t, domain.SyncStatusSynced, f.stored(t, bad.ID).SyncStatus)
	assert.True(t, f.batch(t).Quantity.Equal(d("7")))

	n, err := f.queue.Len(ctx, "POS-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncSkipsLockedOrder(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewLocal()
	f := newMemoryFixture(t, Options{Locker: locker})

	staged, err := f.factory.CreateOfflineOrder(ctx, cart("1"), till)
	require.NoError(t, err)
	lease, err := locker.Obtain(ctx, lockKey(staged.ID), time.Minute)
	require.NoError(t, err)

	summary, err := f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Skipped)
	assert.False(t, summary.Results[0].Success)

	require.NoError(t, lease.Release(ctx))
	summary, err = f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
}

func TestHandleTransitionSyncsOnRestore(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, Options{Device: till})

	staged, err := f.factory.CreateOfflineOrder(ctx, cart("3"), till)
	require.NoError(t, err)

	f.sync.HandleTransition(network.Transition{From: network.StateConnected, To: network.StateDegraded})
	f.sync.Wait()
	assert.Equal(t, domain.SyncStatusPending, f.stored(t, staged.ID).SyncStatus)

	f.sync.HandleTransition(network.Transition{From: network.StateDisconnected, To: network.StateConnected, Restored: true})
	f.sync.Wait()
	assert.Equal(t, domain.SyncStatusSynced, f.stored(t, staged.ID).SyncStatus)
	assert.True(t, f.batch(t).Quantity.Equal(d("7")))
}

func TestTriggerAutoSyncNeedsDevice(t *testing.T) {
	f := newMemoryFixture(t, Options{})
	_, err := f.sync.TriggerAutoSync(context.Background(), domain.OperationContext{ActorID: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSyncCreditsStockTheOrderAlreadyHolds(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, Options{})

	staged, err := f.factory.CreateOfflineOrder(ctx, cart("4"), till)
	require.NoError(t, err)

	// A repair deducted the order before its sync ran.
	_, err = f.ledger.ExecuteFIFODeduction(ctx, domain.DeductionRequest{
		ProductID:     "P",
		Quantity:      d("4"),
		OrderID:       staged.ID,
		OrderDetailID: staged.Items[0].ID,
		ActorID:       "auditor-1",
		SyncStatus:    domain.DeductionReconciled,
	})
	require.NoError(t, err)
	require.True(t, f.batch(t).Quantity.Equal(d("6")))

	summary, err := f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, domain.SyncStatusSynced, f.stored(t, staged.ID).SyncStatus)

	b := f.batch(t)
	assert.True(t, b.Quantity.Equal(d("6")), "stock is taken once")
	assert.True(t, b.TotalDeducted.Equal(d("4")))
	deductions, err := f.repo.ListDeductionsByOrder(ctx, staged.ID)
	require.NoError(t, err)
	assert.Len(t, deductions, 1)
}

func TestResolveDeductsOnlyWhatIsMissing(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, Options{})

	staged, err := f.factory.CreateOfflineOrder(ctx, cart("4"), till)
	require.NoError(t, err)
	_, err = f.ledger.ExecuteFIFODeduction(ctx, domain.DeductionRequest{
		ProductID: "P", Quantity: d("1"), OrderID: staged.ID, OrderDetailID: staged.Items[0].ID, SyncStatus: domain.DeductionReconciled,
	})
	require.NoError(t, err)
	_, err = f.factory.CreateOnlineOrder(ctx, cart("8"), till)
	require.NoError(t, err)
	require.True(t, f.batch(t).Quantity.Equal(d("1")))

	summary, err := f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Adjusted)
	disc := summary.Results[0].Discrepancies[0]
	assert.True(t, disc.ExpectedQuantity.Equal(d("3")), "held stock is credited before comparing")
	assert.True(t, disc.MissingQuantity.Equal(d("2")))

	resolved, err := f.sync.ManuallyResolveOrder(ctx, staged.ID, []domain.ItemResolution{{
		OrderItemID:      staged.Items[0].ID,
		Action:           domain.ResolutionPartialApprove,
		AdjustedQuantity: d("2"),
	}}, till)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSynced, resolved.SyncStatus)
	assert.True(t, f.batch(t).Quantity.IsZero())

	deductions, err := f.repo.ListDeductionsByOrder(ctx, staged.ID)
	require.NoError(t, err)
	total := decimal.Zero
	for _, rec := range deductions {
		total = total.Add(rec.Quantity)
	}
	assert.True(t, total.Equal(d("2")))
}

func TestSyncValidatesSameProductLinesTogether(t *testing.T) {
	ctx := context.Background()
	f := newMemoryFixture(t, Options{})

	staged, err := f.factory.CreateOfflineOrder(ctx, []domain.CartItem{
		{ProductID: "P", Quantity: d("6")},
		{ProductID: "P", Quantity: d("6"), VATRate: d("11")},
	}, till)
	require.NoError(t, err)
	require.Len(t, staged.Items, 2)

	summary, err := f.sync.TriggerAutoSync(ctx, till)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Adjusted)
	assert.Zero(t, summary.Failed)
	require.Len(t, summary.Results[0].Discrepancies, 1)

	disc := summary.Results[0].Discrepancies[0]
	assert.Equal(t, staged.Items[1].ID, disc.OrderItemID)
	assert.True(t, disc.ActualQuantity.Equal(d("4")))
	assert.True(t, disc.MissingQuantity.Equal(d("2")))
	assert.Equal(t, domain.ActionManualAdjustment, disc.RecommendedAction)
	assert.True(t, f.batch(t).Quantity.Equal(d("10")), "nothing is deducted")
}
