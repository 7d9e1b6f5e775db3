package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/store"
)

type Store struct {
	mu             sync.RWMutex
	products       map[string]domain.Product
	batches        map[string]domain.InventoryBatch
	deductions     []domain.DeductionRecord
	reversals      []domain.ReversalRecord
	orders         map[string]domain.Order
	tracking       map[string]domain.SellingTrackingEntry
	trackingOrder  []string
	ledger         []domain.LedgerEntry
	auditLog       []domain.ReconciliationAuditEntry
	indexAvailable bool
	offline        bool
	failNextCommit error
}

func New() *Store {
	return &Store{
		products:       make(map[string]domain.Product),
		batches:        make(map[string]domain.InventoryBatch),
		deductions:     make([]domain.DeductionRecord, 0, 64),
		reversals:      make([]domain.ReversalRecord, 0, 16),
		orders:         make(map[string]domain.Order),
		tracking:       make(map[string]domain.SellingTrackingEntry),
		ledger:         make([]domain.LedgerEntry, 0, 64),
		auditLog:       make([]domain.ReconciliationAuditEntry, 0, 32),
		indexAvailable: true,
	}
}

// NewSeeded returns a store with a small demo catalogue, each product holding
// two stock receipts a day apart.
func NewSeeded(companyID string, storeID string) *Store {
	s := New()
	now := time.Now().UTC()
	products := []struct {
		id    string
		name  string
		price int64
		cost  int64
		qty   int64
	}{
		{"SKU-MIE-01", "Mie Goreng Instan", 3500, 2700, 60},
		{"SKU-TELUR-01", "Telur 10 Butir", 26500, 23000, 30},
		{"SKU-SUSU-01", "Susu UHT 1L", 18900, 13600, 40},
		{"SKU-KOPI-01", "Kopi Sachet", 2600, 1700, 120},
		{"SKU-GULA-01", "Gula 1kg", 17400, 15300, 25},
	}
	for _, p := range products {
		s.products[p.id] = domain.Product{
			ID:           p.id,
			CompanyID:    companyID,
			StoreID:      storeID,
			Name:         p.name,
			StockTracked: true,
			TotalStock:   decimal.NewFromInt(p.qty * 2),
			SellingPrice: decimal.NewFromInt(p.price),
			UpdatedAt:    now,
		}
		for i, receivedAt := range []time.Time{now.Add(-48 * time.Hour), now.Add(-24 * time.Hour)} {
			id := fmt.Sprintf("%s-B%02d", p.id, i+1)
			s.batches[id] = domain.InventoryBatch{
				ID:              id,
				ProductID:       p.id,
				StoreID:         storeID,
				CompanyID:       companyID,
				Quantity:        decimal.NewFromInt(p.qty),
				InitialQuantity: decimal.NewFromInt(p.qty),
				TotalDeducted:   decimal.Zero,
				UnitPrice:       decimal.NewFromInt(p.price),
				CostPrice:       decimal.NewFromInt(p.cost),
				ReceivedAt:      receivedAt,
				Status:          domain.BatchStatusActive,
				Version:         1,
				UpdatedAt:       receivedAt,
			}
		}
	}
	return s
}

// SetOffline makes every call fail with store.ErrUnavailable.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// SetIndexAvailable toggles the compound index used by ListBatchesByProduct.
func (s *Store) SetIndexAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexAvailable = available
}

// FailNextCommit makes the next CommitWrites return err without applying anything.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNextCommit = err
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return store.ErrUnavailable
	}
	return nil
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	product, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProducts(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) SaveProduct(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return domain.ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return store.ErrUnavailable
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	return nil
}

func (s *Store) UpdateProductSummary(_ context.Context, productID string, totalStock decimal.Decimal, sellingPrice decimal.Decimal, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return store.ErrUnavailable
	}

	product, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	product.TotalStock = totalStock
	product.SellingPrice = sellingPrice
	product.UpdatedAt = at
	s.products[productID] = product
	return nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error) {
	if batch.ID == "" || batch.ProductID == "" || !batch.InitialQuantity.IsPositive() {
		return nil, domain.ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}
	if _, ok := s.products[batch.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, exists := s.batches[batch.ID]; exists {
		return nil, store.ErrConflict
	}
	if batch.Version == 0 {
		batch.Version = 1
	}
	s.batches[batch.ID] = batch
	created := cloneBatch(batch)
	return &created, nil
}

func (s *Store) GetBatch(_ context.Context, batchID string) (*domain.InventoryBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	batch, ok := s.batches[batchID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneBatch(batch)
	return &dup, nil
}

func (s *Store) ListBatchesByProduct(_ context.Context, productID string, status domain.BatchStatus) ([]domain.InventoryBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}
	if !s.indexAvailable {
		return nil, store.ErrIndexUnavailable
	}

	result := make([]domain.InventoryBatch, 0, 8)
	for _, batch := range s.batches {
		if batch.ProductID != productID {
			continue
		}
		if status != "" && batch.Status != status {
			continue
		}
		result = append(result, cloneBatch(batch))
	}
	slices.SortFunc(result, compareBatchForFIFO)
	return result, nil
}

// ListAllBatches returns every batch in map order, which is deliberately
// unsorted: it stands in for an unindexed collection scan.
func (s *Store) ListAllBatches(_ context.Context) ([]domain.InventoryBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	result := make([]domain.InventoryBatch, 0, len(s.batches))
	for _, batch := range s.batches {
		result = append(result, cloneBatch(batch))
	}
	return result, nil
}

func (s *Store) CommitWrites(_ context.Context, ws store.WriteSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return store.ErrUnavailable
	}
	if s.failNextCommit != nil {
		err := s.failNextCommit
		s.failNextCommit = nil
		return err
	}

	// Validate everything before touching state.
	for _, update := range ws.BatchUpdates {
		current, ok := s.batches[update.Batch.ID]
		if !ok {
			return fmt.Errorf("batch %s: %w", update.Batch.ID, store.ErrNotFound)
		}
		if current.Version != update.ExpectedVersion {
			return fmt.Errorf("batch %s version %d != %d: %w", update.Batch.ID, current.Version, update.ExpectedVersion, store.ErrConflict)
		}
		if update.Batch.Quantity.IsNegative() {
			return fmt.Errorf("batch %s negative quantity: %w", update.Batch.ID, store.ErrConflict)
		}
	}

	for _, update := range ws.BatchUpdates {
		batch := cloneBatch(update.Batch)
		batch.Version = update.ExpectedVersion + 1
		s.batches[batch.ID] = batch
	}
	s.deductions = append(s.deductions, ws.Deductions...)
	s.reversals = append(s.reversals, ws.Reversals...)
	for _, order := range ws.Orders {
		s.orders[order.ID] = cloneOrder(order)
	}
	for _, entry := range ws.Tracking {
		if _, exists := s.tracking[entry.ID]; !exists {
			s.trackingOrder = append(s.trackingOrder, entry.ID)
		}
		s.tracking[entry.ID] = entry
	}
	s.ledger = append(s.ledger, ws.Ledger...)
	return nil
}

func (s *Store) ListDeductionsByOrder(_ context.Context, orderID string) ([]domain.DeductionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	result := make([]domain.DeductionRecord, 0, 4)
	for _, record := range s.deductions {
		if record.OrderID == orderID {
			result = append(result, record)
		}
	}
	return result, nil
}

func (s *Store) ListReversalsByOrder(_ context.Context, orderID string) ([]domain.ReversalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	result := make([]domain.ReversalRecord, 0, 4)
	for _, record := range s.reversals {
		if record.OrderID == orderID {
			result = append(result, record)
		}
	}
	return result, nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneOrder(order)
	return &dup, nil
}

func (s *Store) ListOrders(_ context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	result := make([]domain.Order, 0, 16)
	for _, order := range s.orders {
		if filter.StoreID != "" && order.StoreID != filter.StoreID {
			continue
		}
		if filter.DeviceID != "" && order.DeviceID != filter.DeviceID {
			continue
		}
		if filter.SyncStatus != "" && order.SyncStatus != filter.SyncStatus {
			continue
		}
		if !inRange(order.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ListTracking(_ context.Context, filter store.TrackingFilter) ([]domain.SellingTrackingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	result := make([]domain.SellingTrackingEntry, 0, 16)
	for _, id := range s.trackingOrder {
		entry := s.tracking[id]
		if filter.StoreID != "" && entry.StoreID != filter.StoreID {
			continue
		}
		if filter.OrderID != "" && entry.OrderID != filter.OrderID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, entry.Status) {
			continue
		}
		if !inRange(entry.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, filter store.LedgerFilter) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	result := make([]domain.LedgerEntry, 0, 16)
	for _, entry := range s.ledger {
		if filter.StoreID != "" && entry.StoreID != filter.StoreID {
			continue
		}
		if filter.OrderID != "" && entry.OrderID != filter.OrderID {
			continue
		}
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if !inRange(entry.CreatedAt, filter.From, filter.To) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) AppendReconciliationAudit(_ context.Context, entry domain.ReconciliationAuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return store.ErrUnavailable
	}
	s.auditLog = append(s.auditLog, entry)
	return nil
}

func (s *Store) ListReconciliationAudit(_ context.Context, orderID string) ([]domain.ReconciliationAuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, store.ErrUnavailable
	}

	result := make([]domain.ReconciliationAuditEntry, 0, 4)
	for _, entry := range s.auditLog {
		if orderID == "" || entry.OrderID == orderID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func inRange(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func compareBatchForFIFO(a domain.InventoryBatch, b domain.InventoryBatch) int {
	if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func cloneBatch(src domain.InventoryBatch) domain.InventoryBatch {
	dup := src
	if src.DepletedAt != nil {
		at := *src.DepletedAt
		dup.DepletedAt = &at
	}
	return dup
}

func cloneOrder(src domain.Order) domain.Order {
	dup := src
	dup.Items = make([]domain.OrderItem, len(src.Items))
	for i, item := range src.Items {
		itemCopy := item
		itemCopy.BatchDeductions = append([]domain.BatchDeductionDetail(nil), item.BatchDeductions...)
		if item.Discrepancy != nil {
			d := *item.Discrepancy
			itemCopy.Discrepancy = &d
		}
		dup.Items[i] = itemCopy
	}
	if src.SyncedAt != nil {
		at := *src.SyncedAt
		dup.SyncedAt = &at
	}
	if src.ReconciledAt != nil {
		at := *src.ReconciledAt
		dup.ReconciledAt = &at
	}
	return dup
}
