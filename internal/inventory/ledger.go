package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirsync/backend/internal/cache"
	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/logger"
	"kasirsync/backend/internal/metrics"
	"kasirsync/backend/internal/store"
)

var lowStockRatio = decimal.RequireFromString("0.1")

const reversalAttempts = 3

type Options struct {
	Cache      cache.SummaryCache
	SummaryTTL time.Duration
	Logger     *zap.Logger
	Metrics    *metrics.Recorder
	Clock      func() time.Time
}

// Ledger owns every mutation of inventory batches. Reads are plain queries;
// writes go through one store.WriteSet per call so a deduction or reversal
// either lands completely or not at all.
type Ledger struct {
	repo       store.Repository
	cache      cache.SummaryCache
	summaryTTL time.Duration
	log        *zap.Logger
	metrics    *metrics.Recorder
	now        func() time.Time
}

func NewLedger(repo store.Repository, opts Options) *Ledger {
	if opts.Cache == nil {
		opts.Cache = cache.NoopSummaryCache{}
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 10 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{
		repo:       repo,
		cache:      opts.Cache,
		summaryTTL: opts.SummaryTTL,
		log:        logger.OrNop(opts.Logger).Named("ledger"),
		metrics:    opts.Metrics,
		now:        opts.Clock,
	}
}

// ActiveBatches returns the product's active batches oldest first. When the
// indexed query is unavailable it scans every batch and filters in memory.
func (l *Ledger) ActiveBatches(ctx context.Context, productID string) ([]domain.InventoryBatch, error) {
	batches, err := l.repo.ListBatchesByProduct(ctx, productID, domain.BatchStatusActive)
	if err == nil {
		return batches, nil
	}
	if !errors.Is(err, store.ErrIndexUnavailable) {
		return nil, err
	}

	l.log.Warn("batch index unavailable, falling back to full scan", zap.String("product_id", productID))
	all, err := l.repo.ListAllBatches(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]domain.InventoryBatch, 0, 8)
	for _, batch := range all {
		if batch.ProductID == productID && batch.Status == domain.BatchStatusActive {
			result = append(result, batch)
		}
	}
	slices.SortFunc(result, compareBatchForFIFO)
	return result, nil
}

func (l *Ledger) ValidateStock(ctx context.Context, productID string, qty decimal.Decimal) (domain.StockValidation, error) {
	if strings.TrimSpace(productID) == "" || !qty.IsPositive() {
		return domain.StockValidation{}, domain.ErrInvalidRequest
	}

	batches, err := l.ActiveBatches(ctx, productID)
	if err != nil {
		return domain.StockValidation{}, err
	}

	available := decimal.Zero
	for _, batch := range batches {
		available = available.Add(batch.Quantity)
	}

	return domain.StockValidation{
		ProductID:      productID,
		Requested:      qty,
		TotalAvailable: available,
		IsValid:        available.GreaterThanOrEqual(qty),
		LowStock:       available.Sub(qty).LessThanOrEqual(qty.Mul(lowStockRatio)),
		Batches:        batches,
	}, nil
}

func (l *Ledger) CreateFIFODeductionPlan(ctx context.Context, productID string, qty decimal.Decimal) (domain.FIFODeductionPlan, error) {
	if strings.TrimSpace(productID) == "" || !qty.IsPositive() {
		return domain.FIFODeductionPlan{}, domain.ErrInvalidRequest
	}

	batches, err := l.ActiveBatches(ctx, productID)
	if err != nil {
		return domain.FIFODeductionPlan{}, err
	}
	return allocate(productID, qty, batches), nil
}

// allocate walks batches in the given order taking min(remaining, needed)
// from each until the request is covered or the batches run out.
func allocate(productID string, qty decimal.Decimal, batches []domain.InventoryBatch) domain.FIFODeductionPlan {
	plan := domain.FIFODeductionPlan{
		ProductID:         productID,
		RequestedQuantity: qty,
		Allocations:       make([]domain.BatchAllocation, 0, 2),
	}

	needed := qty
	for _, batch := range batches {
		if !needed.IsPositive() {
			break
		}
		if !batch.Quantity.IsPositive() {
			continue
		}
		take := decimal.Min(batch.Quantity, needed)
		plan.Allocations = append(plan.Allocations, domain.BatchAllocation{
			BatchID:           batch.ID,
			AllocatedQuantity: take,
			RemainingInBatch:  batch.Quantity.Sub(take),
			BatchOrder:        len(plan.Allocations) + 1,
			UnitCost:          batch.CostPrice,
		})
		needed = needed.Sub(take)
	}

	plan.CanFulfill = !needed.IsPositive()
	plan.Shortfall = decimal.Max(needed, decimal.Zero)
	return plan
}

func (l *Ledger) ExecuteFIFODeduction(ctx context.Context, req domain.DeductionRequest) ([]domain.BatchDeductionDetail, error) {
	if req.IsOffline {
		return nil, domain.ErrOfflineDeductionNotAllowed
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return nil, domain.ErrInvalidRequest
	}

	validation, err := l.ValidateStock(ctx, req.ProductID, req.Quantity)
	if err != nil {
		return nil, err
	}
	if !validation.IsValid {
		l.metrics.DeductionFailed("insufficient_stock")
		return nil, fmt.Errorf("%w: product %s requested %s available %s",
			domain.ErrInsufficientStock, req.ProductID, req.Quantity, validation.TotalAvailable)
	}

	plan := allocate(req.ProductID, req.Quantity, validation.Batches)
	if !plan.CanFulfill {
		l.metrics.DeductionFailed("insufficient_stock")
		return nil, fmt.Errorf("%w: product %s short by %s", domain.ErrInsufficientStock, req.ProductID, plan.Shortfall)
	}

	syncStatus := req.SyncStatus
	if syncStatus == "" {
		syncStatus = domain.DeductionSynced
	}
	now := l.now()

	ws := store.WriteSet{
		BatchUpdates: make([]store.BatchUpdate, 0, len(plan.Allocations)),
		Deductions:   make([]domain.DeductionRecord, 0, len(plan.Allocations)),
	}
	details := make([]domain.BatchDeductionDetail, 0, len(plan.Allocations))
	for _, alloc := range plan.Allocations {
		current, err := l.repo.GetBatch(ctx, alloc.BatchID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				l.metrics.DeductionFailed("batch_not_found")
				return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, alloc.BatchID)
			}
			return nil, err
		}
		if current.Quantity.LessThan(alloc.AllocatedQuantity) {
			l.metrics.DeductionFailed("batch_quantity_changed")
			return nil, fmt.Errorf("%w: batch %s has %s, planned %s",
				domain.ErrInsufficientBatchQuantity, current.ID, current.Quantity, alloc.AllocatedQuantity)
		}

		next := *current
		next.Quantity = current.Quantity.Sub(alloc.AllocatedQuantity)
		next.TotalDeducted = current.TotalDeducted.Add(alloc.AllocatedQuantity)
		next.UpdatedAt = now
		if next.Quantity.IsZero() {
			next.Status = domain.BatchStatusDepleted
			depletedAt := now
			next.DepletedAt = &depletedAt
		}

		ws.BatchUpdates = append(ws.BatchUpdates, store.BatchUpdate{Batch: next, ExpectedVersion: current.Version})
		ws.Deductions = append(ws.Deductions, domain.DeductionRecord{
			ID:            uuid.NewString(),
			OrderID:       req.OrderID,
			OrderDetailID: req.OrderDetailID,
			BatchID:       current.ID,
			ProductID:     req.ProductID,
			Quantity:      alloc.AllocatedQuantity,
			UnitCost:      current.CostPrice,
			DeductedAt:    now,
			DeductedBy:    req.ActorID,
			IsOffline:     false,
			SyncStatus:    syncStatus,
		})
		details = append(details, domain.BatchDeductionDetail{
			BatchID:          current.ID,
			Quantity:         alloc.AllocatedQuantity,
			UnitCost:         current.CostPrice,
			BatchOrder:       alloc.BatchOrder,
			RemainingInBatch: next.Quantity,
		})
	}

	if err := l.repo.CommitWrites(ctx, ws); err != nil {
		if errors.Is(err, store.ErrConflict) {
			l.metrics.DeductionFailed("batch_quantity_changed")
			return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientBatchQuantity, err)
		}
		return nil, err
	}
	l.metrics.DeductionCommitted(string(syncStatus))

	l.refreshSummaryBestEffort(ctx, req.ProductID)
	return details, nil
}

// ReverseFIFODeduction puts the given deductions back on their batches and
// writes one reversal record per batch. A concurrent write on one of the
// batches is retried with fresh reads.
func (l *Ledger) ReverseFIFODeduction(ctx context.Context, deductions []domain.BatchDeductionDetail, orderID string, productID string, actorID string, reason string) ([]domain.ReversalRecord, error) {
	perBatch, order := sumByBatch(deductions)
	if len(order) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt < reversalAttempts; attempt++ {
		records, err := l.reverseOnce(ctx, perBatch, order, orderID, productID, actorID, reason)
		if err == nil {
			l.refreshSummaryBestEffort(ctx, productID)
			return records, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		lastErr = err
		l.log.Warn("reversal conflicted, retrying",
			zap.String("order_id", orderID),
			zap.String("product_id", productID),
			zap.Int("attempt", attempt+1))
	}
	return nil, lastErr
}

func (l *Ledger) reverseOnce(ctx context.Context, perBatch map[string]decimal.Decimal, order []string, orderID string, productID string, actorID string, reason string) ([]domain.ReversalRecord, error) {
	now := l.now()
	ws := store.WriteSet{
		BatchUpdates: make([]store.BatchUpdate, 0, len(order)),
		Reversals:    make([]domain.ReversalRecord, 0, len(order)),
	}
	for _, batchID := range order {
		qty := perBatch[batchID]
		current, err := l.repo.GetBatch(ctx, batchID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
			}
			return nil, err
		}

		next := *current
		next.Quantity = current.Quantity.Add(qty)
		next.TotalDeducted = decimal.Max(current.TotalDeducted.Sub(qty), decimal.Zero)
		next.Status = domain.BatchStatusActive
		next.DepletedAt = nil
		next.UpdatedAt = now

		ws.BatchUpdates = append(ws.BatchUpdates, store.BatchUpdate{Batch: next, ExpectedVersion: current.Version})
		ws.Reversals = append(ws.Reversals, domain.ReversalRecord{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			BatchID:    batchID,
			ProductID:  productID,
			Quantity:   qty,
			ReversedAt: now,
			ReversedBy: actorID,
			Reason:     reason,
		})
	}

	if err := l.repo.CommitWrites(ctx, ws); err != nil {
		return nil, err
	}
	return ws.Reversals, nil
}

// NetDeducted is quantity deducted minus quantity reversed per product for
// one order, counting only deductions that moved stock.
func (l *Ledger) NetDeducted(ctx context.Context, orderID string) (map[string]decimal.Decimal, error) {
	deductions, err := l.repo.ListDeductionsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list deductions %s: %w", orderID, err)
	}
	reversals, err := l.repo.ListReversalsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list reversals %s: %w", orderID, err)
	}
	net := make(map[string]decimal.Decimal)
	for _, d := range deductions {
		if d.SyncStatus == domain.DeductionPending {
			continue
		}
		net[d.ProductID] = net[d.ProductID].Add(d.Quantity)
	}
	for _, r := range reversals {
		net[r.ProductID] = net[r.ProductID].Sub(r.Quantity)
	}
	return net, nil
}

// PlanOfflineFIFODeduction runs the planning walk without touching storage.
func (l *Ledger) PlanOfflineFIFODeduction(ctx context.Context, productID string, qty decimal.Decimal) ([]domain.BatchDeductionDetail, error) {
	plan, err := l.CreateFIFODeductionPlan(ctx, productID, qty)
	if err != nil {
		return nil, err
	}
	if !plan.CanFulfill {
		return nil, fmt.Errorf("%w: product %s short by %s", domain.ErrCannotFulfillOfflinePlan, productID, plan.Shortfall)
	}
	return plan.Details(), nil
}

func sumByBatch(deductions []domain.BatchDeductionDetail) (map[string]decimal.Decimal, []string) {
	perBatch := make(map[string]decimal.Decimal, len(deductions))
	order := make([]string, 0, len(deductions))
	for _, d := range deductions {
		if d.BatchID == "" || !d.Quantity.IsPositive() {
			continue
		}
		if _, seen := perBatch[d.BatchID]; !seen {
			order = append(order, d.BatchID)
			perBatch[d.BatchID] = decimal.Zero
		}
		perBatch[d.BatchID] = perBatch[d.BatchID].Add(d.Quantity)
	}
	return perBatch, order
}

func compareBatchForFIFO(a domain.InventoryBatch, b domain.InventoryBatch) int {
	if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
