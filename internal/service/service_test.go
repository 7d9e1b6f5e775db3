package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/inventory"
	"kasirsync/backend/internal/network"
	"kasirsync/backend/internal/offlinequeue"
	"kasirsync/backend/internal/order"
	"kasirsync/backend/internal/reconciliation"
	"kasirsync/backend/internal/session"
	"kasirsync/backend/internal/store"
	"kasirsync/backend/internal/store/memory"
	"kasirsync/backend/internal/syncer"
)

type fakeNetwork struct {
	state network.State
}

func (f *fakeNetwork) IsOnline() bool       { return f.state == network.StateConnected }
func (f *fakeNetwork) State() network.State { return f.state }

type mapCache map[string]domain.Product

func (c mapCache) Get(_ context.Context, id string) (*domain.Product, bool, error) {
	p, ok := c[id]
	if !ok {
		return nil, false, nil
	}
	return &p, true, nil
}

func (c mapCache) Set(_ context.Context, p domain.Product, _ time.Duration) error {
	c[p.ID] = p
	return nil
}

func (c mapCache) Delete(_ context.Context, id string) error {
	delete(c, id)
	return nil
}

var cashier = session.StaticProvider{
	User:       session.User{ID: "cashier-1", Role: "cashier"},
	Permission: session.Permission{CompanyID: "main-company", StoreID: "main-store"},
}

func newTestService(t *testing.T, conn *fakeNetwork, opts Options) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded("main-company", "main-store")
	queue := offlinequeue.NewMemoryQueue(10)
	ledger := inventory.NewLedger(repo, inventory.Options{})
	factory := order.NewFactory(repo, ledger, order.Options{Queue: queue, Cache: opts.Cache})
	coord := syncer.NewCoordinator(repo, ledger, syncer.Options{Queue: queue})
	auditor := reconciliation.NewAuditor(repo, ledger, reconciliation.Options{Online: conn.IsOnline})

	if opts.Provider == nil {
		opts.Provider = cashier
	}
	if opts.DeviceID == "" {
		opts.DeviceID = "terminal-1"
	}
	opts.Queue = queue
	return New(repo, ledger, factory, coord, auditor, conn, opts), repo
}

func batchQty(t *testing.T, repo store.Repository, batchID string) string {
	t.Helper()
	b, err := repo.GetBatch(context.Background(), batchID)
	require.NoError(t, err)
	return b.Quantity.String()
}

func mie(qty int64) []domain.CartItem {
	return []domain.CartItem{{ProductID: "SKU-MIE-01", Quantity: decimal.NewFromInt(qty)}}
}

func TestCheckoutOnlineDeductsOldestBatch(t *testing.T) {
	svc, repo := newTestService(t, &fakeNetwork{state: network.StateConnected}, Options{})

	o, err := svc.Checkout(context.Background(), mie(3))
	require.NoError(t, err)
	assert.False(t, o.IsOffline)
	assert.Equal(t, domain.SyncStatusSynced, o.SyncStatus)
	assert.Equal(t, "cashier-1", o.CreatedBy)
	assert.Equal(t, "main-store", o.StoreID)
	assert.Equal(t, "57", batchQty(t, repo, "SKU-MIE-01-B01"))
	assert.Equal(t, "60", batchQty(t, repo, "SKU-MIE-01-B02"))
}

func TestCheckoutOfflineStagesThenSyncs(t *testing.T) {
	conn := &fakeNetwork{state: network.StateDisconnected}
	svc, repo := newTestService(t, conn, Options{})
	ctx := context.Background()

	o, err := svc.Checkout(ctx, mie(3))
	require.NoError(t, err)
	assert.True(t, o.IsOffline)
	assert.Equal(t, domain.SyncStatusPending, o.SyncStatus)
	assert.Equal(t, "60", batchQty(t, repo, "SKU-MIE-01-B01"))

	_, err = svc.TriggerSync(ctx)
	require.ErrorIs(t, err, domain.ErrNetworkOffline)

	conn.state = network.StateConnected
	summary, err := svc.TriggerSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, "57", batchQty(t, repo, "SKU-MIE-01-B01"))

	got, err := svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSynced, got.SyncStatus)
}

func TestCheckoutFallsBackOfflineWhenStoreUnreachable(t *testing.T) {
	svc, repo := newTestService(t, &fakeNetwork{state: network.StateConnected}, Options{
		Cache: mapCache{"SKU-MIE-01": {ID: "SKU-MIE-01", Name: "Mie", StockTracked: true, SellingPrice: decimal.NewFromInt(3500)}},
	})
	repo.SetOffline(true)

	o, err := svc.Checkout(context.Background(), mie(2))
	require.NoError(t, err)
	assert.True(t, o.IsOffline)
	assert.Equal(t, domain.SyncStatusPending, o.SyncStatus)

	got, err := svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err, "queued order is readable while the store is down")
	assert.Equal(t, o.ID, got.ID)
}

func TestOperationsRequireIdentity(t *testing.T) {
	conn := &fakeNetwork{state: network.StateConnected}

	svc, _ := newTestService(t, conn, Options{Provider: session.StaticProvider{}})
	_, err := svc.Checkout(context.Background(), mie(1))
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	svc, _ = newTestService(t, conn, Options{Provider: session.StaticProvider{User: cashier.User}})
	_, err = svc.TriggerSync(context.Background())
	require.ErrorIs(t, err, domain.ErrNoCompanyPermission)
}

func TestOperationsUseTokenClaims(t *testing.T) {
	svc, _ := newTestService(t, &fakeNetwork{state: network.StateDisconnected}, Options{Provider: session.ContextProvider{}})
	claims := session.Claims{
		Role:      "cashier",
		CompanyID: "main-company",
		StoreID:   "main-store",
		DeviceID:  "terminal-9",
	}
	claims.Subject = "cashier-9"
	ctx := session.WithClaims(context.Background(), claims)

	o, err := svc.Checkout(ctx, mie(1))
	require.NoError(t, err)
	assert.Equal(t, "terminal-9", o.DeviceID)
	assert.Equal(t, "cashier-9", o.CreatedBy)
}

func TestProductSummaryReadsCacheFirst(t *testing.T) {
	cached := mapCache{}
	svc, repo := newTestService(t, &fakeNetwork{state: network.StateConnected}, Options{Cache: cached})
	ctx := context.Background()

	first, err := svc.ProductSummary(ctx, "SKU-KOPI-01")
	require.NoError(t, err)
	assert.Equal(t, "2600", first.SellingPrice.String())
	require.Contains(t, cached, "SKU-KOPI-01")

	changed := first
	changed.SellingPrice = decimal.NewFromInt(9999)
	require.NoError(t, repo.SaveProduct(ctx, changed))

	second, err := svc.ProductSummary(ctx, "SKU-KOPI-01")
	require.NoError(t, err)
	assert.Equal(t, "2600", second.SellingPrice.String())
}

func TestReturnOrderRestoresStockAndCancelsTracking(t *testing.T) {
	svc, repo := newTestService(t, &fakeNetwork{state: network.StateConnected}, Options{})
	ctx := context.Background()

	o, err := svc.Checkout(ctx, mie(3))
	require.NoError(t, err)

	reversals, err := svc.ReturnOrder(ctx, o.ID, "")
	require.NoError(t, err)
	require.Len(t, reversals, 1)
	assert.Equal(t, "return", reversals[0].Reason)
	assert.Equal(t, "60", batchQty(t, repo, "SKU-MIE-01-B01"))

	tracking, err := repo.ListTracking(ctx, store.TrackingFilter{OrderID: o.ID})
	require.NoError(t, err)
	require.Len(t, tracking, 1)
	assert.Equal(t, domain.TrackingCancelled, tracking[0].Status)

	again, err := svc.ReturnOrder(ctx, o.ID, "second")
	require.NoError(t, err)
	assert.Empty(t, again)
	assert.Equal(t, "60", batchQty(t, repo, "SKU-MIE-01-B01"))
}

func TestReturnOrderRejectsUnsyncedOrder(t *testing.T) {
	svc, _ := newTestService(t, &fakeNetwork{state: network.StateDisconnected}, Options{})
	ctx := context.Background()

	o, err := svc.Checkout(ctx, mie(1))
	require.NoError(t, err)

	_, err = svc.ReturnOrder(ctx, o.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestExportDiscrepanciesWritesWorkbook(t *testing.T) {
	svc, _ := newTestService(t, &fakeNetwork{state: network.StateDisconnected}, Options{})
	ctx := context.Background()

	o, err := svc.Checkout(ctx, mie(2))
	require.NoError(t, err)

	now := time.Now().UTC()
	found, err := svc.FindDiscrepancies(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, o.ID, found[0].OrderID)
	assert.Equal(t, domain.SeverityCritical, found[0].Severity)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportDiscrepancies(ctx, &buf, now.Add(-time.Hour), now.Add(time.Hour)))
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Discrepancies")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, o.ID, rows[1][1])

	_, err = svc.FindDiscrepancies(ctx, now, now)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}
