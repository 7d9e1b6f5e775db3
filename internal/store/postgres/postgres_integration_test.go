package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/store"
)

func TestCommitWritesVersionGuard(t *testing.T) {
	databaseURL := os.Getenv("KASIRSYNC_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASIRSYNC_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("SKU-IT-%d", stamp)
	batchID := fmt.Sprintf("B-IT-%d", stamp)
	orderID := fmt.Sprintf("ord-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM batch_deductions WHERE order_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_batches WHERE id = $1`, batchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if err := s.SaveProduct(ctx, domain.Product{ID: productID, StoreID: "S1", Name: "Produk IT", StockTracked: true}); err != nil {
		t.Fatalf("save product: %v", err)
	}
	received := time.Now().UTC().Truncate(time.Second)
	if _, err := s.CreateBatch(ctx, domain.InventoryBatch{
		ID:              batchID,
		ProductID:       productID,
		StoreID:         "S1",
		Quantity:        decimal.NewFromInt(5),
		InitialQuantity: decimal.NewFromInt(5),
		TotalDeducted:   decimal.Zero,
		UnitPrice:       decimal.NewFromInt(10),
		CostPrice:       decimal.NewFromInt(7),
		ReceivedAt:      received,
		Status:          domain.BatchStatusActive,
		UpdatedAt:       received,
	}); err != nil {
		t.Fatalf("create batch: %v", err)
	}

	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	next := *batch
	next.Quantity = decimal.NewFromInt(3)
	next.TotalDeducted = decimal.NewFromInt(2)

	ws := store.WriteSet{
		BatchUpdates: []store.BatchUpdate{{Batch: next, ExpectedVersion: batch.Version}},
		Deductions: []domain.DeductionRecord{{
			ID: fmt.Sprintf("ded-it-%d", stamp), OrderID: orderID, OrderDetailID: orderID + "-1",
			BatchID: batchID, ProductID: productID, Quantity: decimal.NewFromInt(2), UnitCost: decimal.NewFromInt(7),
			DeductedAt: received, DeductedBy: "it", SyncStatus: domain.DeductionSynced,
		}},
	}
	if err := s.CommitWrites(ctx, ws); err != nil {
		t.Fatalf("commit writes: %v", err)
	}

	// Same expected version again must be rejected and leave no extra deduction.
	ws.Deductions[0].ID = fmt.Sprintf("ded-it-%d-b", stamp)
	if err := s.CommitWrites(ctx, ws); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}

	records, err := s.ListDeductionsByOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("list deductions: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 deduction, got %d", len(records))
	}
	after, err := s.GetBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("get batch after: %v", err)
	}
	if !after.Quantity.Equal(decimal.NewFromInt(3)) || after.Version != batch.Version+1 {
		t.Fatalf("unexpected batch after commit: qty=%s version=%d", after.Quantity, after.Version)
	}
}
