package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kasirsync/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("write conflict")
	ErrIndexUnavailable = errors.New("index unavailable")
	ErrUnavailable      = errors.New("store unavailable")
)

// BatchUpdate replaces a batch document if its stored version still equals
// ExpectedVersion. The stored version is bumped by one on success.
type BatchUpdate struct {
	Batch           domain.InventoryBatch
	ExpectedVersion int64
}

// WriteSet is applied by CommitWrites as a single all-or-nothing unit.
type WriteSet struct {
	BatchUpdates []BatchUpdate
	Deductions   []domain.DeductionRecord
	Reversals    []domain.ReversalRecord
	Orders       []domain.Order
	Tracking     []domain.SellingTrackingEntry
	Ledger       []domain.LedgerEntry
}

func (w WriteSet) Empty() bool {
	return len(w.BatchUpdates) == 0 && len(w.Deductions) == 0 && len(w.Reversals) == 0 &&
		len(w.Orders) == 0 && len(w.Tracking) == 0 && len(w.Ledger) == 0
}

type OrderFilter struct {
	StoreID    string
	DeviceID   string
	SyncStatus domain.SyncStatus
	From       time.Time
	To         time.Time
	Limit      int
}

type TrackingFilter struct {
	StoreID  string
	OrderID  string
	From     time.Time
	To       time.Time
	Statuses []string
}

type LedgerFilter struct {
	StoreID string
	OrderID string
	From    time.Time
	To      time.Time
	Status  string
}

type Repository interface {
	Ping(ctx context.Context) error

	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	SaveProduct(ctx context.Context, product domain.Product) error
	UpdateProductSummary(ctx context.Context, productID string, totalStock decimal.Decimal, sellingPrice decimal.Decimal, at time.Time) error

	CreateBatch(ctx context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error)
	GetBatch(ctx context.Context, batchID string) (*domain.InventoryBatch, error)
	// ListBatchesByProduct is the indexed (product, status, received_at) query.
	// It may return ErrIndexUnavailable; callers then fall back to ListAllBatches.
	ListBatchesByProduct(ctx context.Context, productID string, status domain.BatchStatus) ([]domain.InventoryBatch, error)
	ListAllBatches(ctx context.Context) ([]domain.InventoryBatch, error)

	CommitWrites(ctx context.Context, ws WriteSet) error

	ListDeductionsByOrder(ctx context.Context, orderID string) ([]domain.DeductionRecord, error)
	ListReversalsByOrder(ctx context.Context, orderID string) ([]domain.ReversalRecord, error)

	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)

	ListTracking(ctx context.Context, filter TrackingFilter) ([]domain.SellingTrackingEntry, error)
	ListLedgerEntries(ctx context.Context, filter LedgerFilter) ([]domain.LedgerEntry, error)

	AppendReconciliationAudit(ctx context.Context, entry domain.ReconciliationAuditEntry) error
	ListReconciliationAudit(ctx context.Context, orderID string) ([]domain.ReconciliationAuditEntry, error)
}
