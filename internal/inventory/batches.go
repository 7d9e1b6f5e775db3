package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/store"
	"kasirsync/backend/internal/xid"
)

// ReceiveBatch records a stock receipt as a new active batch.
func (l *Ledger) ReceiveBatch(ctx context.Context, req domain.ReceiveBatchRequest, oc domain.OperationContext) (domain.InventoryBatch, error) {
	if strings.TrimSpace(req.ProductID) == "" || !req.Quantity.IsPositive() {
		return domain.InventoryBatch{}, domain.ErrInvalidRequest
	}
	if req.UnitPrice.IsNegative() || req.CostPrice.IsNegative() {
		return domain.InventoryBatch{}, domain.ErrInvalidRequest
	}

	product, err := l.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.InventoryBatch{}, err
	}

	now := l.now()
	receivedAt := now
	if req.ReceivedAt != nil && !req.ReceivedAt.IsZero() {
		receivedAt = req.ReceivedAt.UTC()
	}
	batchID := strings.TrimSpace(req.BatchID)
	if batchID == "" {
		batchID = xid.New("bat")
	}
	storeID := oc.StoreID
	if storeID == "" {
		storeID = product.StoreID
	}
	companyID := oc.CompanyID
	if companyID == "" {
		companyID = product.CompanyID
	}

	created, err := l.repo.CreateBatch(ctx, domain.InventoryBatch{
		ID:              batchID,
		ProductID:       product.ID,
		StoreID:         storeID,
		CompanyID:       companyID,
		Quantity:        req.Quantity,
		InitialQuantity: req.Quantity,
		TotalDeducted:   decimal.Zero,
		UnitPrice:       req.UnitPrice,
		CostPrice:       req.CostPrice,
		ReceivedAt:      receivedAt,
		Status:          domain.BatchStatusActive,
		Version:         1,
		UpdatedAt:       now,
	})
	if err != nil {
		return domain.InventoryBatch{}, err
	}

	l.log.Info("batch received",
		zap.String("batch_id", created.ID),
		zap.String("product_id", created.ProductID),
		zap.String("quantity", created.Quantity.String()),
		zap.String("actor_id", oc.ActorID))
	l.refreshSummaryBestEffort(ctx, product.ID)
	return *created, nil
}

// RetireBatch takes a batch out of FIFO rotation without touching its
// remaining quantity.
func (l *Ledger) RetireBatch(ctx context.Context, batchID string, status domain.BatchStatus) (domain.InventoryBatch, error) {
	if status != domain.BatchStatusInactive && status != domain.BatchStatusExpired {
		return domain.InventoryBatch{}, fmt.Errorf("%w: retire status must be inactive or expired", domain.ErrInvalidRequest)
	}

	current, err := l.repo.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.InventoryBatch{}, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
		}
		return domain.InventoryBatch{}, err
	}

	next := *current
	next.Status = status
	next.UpdatedAt = l.now()
	if err := l.repo.CommitWrites(ctx, store.WriteSet{
		BatchUpdates: []store.BatchUpdate{{Batch: next, ExpectedVersion: current.Version}},
	}); err != nil {
		return domain.InventoryBatch{}, err
	}
	next.Version = current.Version + 1

	l.refreshSummaryBestEffort(ctx, current.ProductID)
	return next, nil
}

// RefreshProductSummary recomputes total stock from active batches and takes
// the selling price from the most recently received active batch.
func (l *Ledger) RefreshProductSummary(ctx context.Context, productID string) (domain.Product, error) {
	product, err := l.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	batches, err := l.ActiveBatches(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	total := decimal.Zero
	for _, batch := range batches {
		total = total.Add(batch.Quantity)
	}
	price := product.SellingPrice
	if len(batches) > 0 {
		price = batches[len(batches)-1].UnitPrice
	}

	now := l.now()
	if err := l.repo.UpdateProductSummary(ctx, productID, total, price, now); err != nil {
		return domain.Product{}, err
	}
	product.TotalStock = total
	product.SellingPrice = price
	product.UpdatedAt = now

	if err := l.cache.Set(ctx, *product, l.summaryTTL); err != nil {
		l.log.Warn("summary cache write failed", zap.String("product_id", productID), zap.Error(err))
	}
	return *product, nil
}

func (l *Ledger) refreshSummaryBestEffort(ctx context.Context, productID string) {
	if _, err := l.RefreshProductSummary(ctx, productID); err != nil {
		l.log.Warn("product summary recompute failed", zap.String("product_id", productID), zap.Error(err))
	}
}

// ReverseOrder returns every still-outstanding deduction of an order to stock.
// Outstanding means deducted minus already reversed, per batch.
func (l *Ledger) ReverseOrder(ctx context.Context, orderID string, actorID string, reason string) ([]domain.ReversalRecord, error) {
	deductions, err := l.repo.ListDeductionsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	reversals, err := l.repo.ListReversalsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	type key struct{ productID, batchID string }
	net := make(map[key]decimal.Decimal)
	for _, d := range deductions {
		if d.SyncStatus == domain.DeductionPending {
			continue
		}
		k := key{d.ProductID, d.BatchID}
		net[k] = net[k].Add(d.Quantity)
	}
	for _, r := range reversals {
		k := key{r.ProductID, r.BatchID}
		net[k] = net[k].Sub(r.Quantity)
	}

	perProduct := make(map[string][]domain.BatchDeductionDetail)
	products := make([]string, 0, 4)
	for k, qty := range net {
		if !qty.IsPositive() {
			continue
		}
		if _, ok := perProduct[k.productID]; !ok {
			products = append(products, k.productID)
		}
		perProduct[k.productID] = append(perProduct[k.productID], domain.BatchDeductionDetail{BatchID: k.batchID, Quantity: qty})
	}
	slices.Sort(products)

	all := make([]domain.ReversalRecord, 0, len(net))
	for _, productID := range products {
		details := perProduct[productID]
		slices.SortFunc(details, func(a, b domain.BatchDeductionDetail) int { return strings.Compare(a.BatchID, b.BatchID) })
		records, err := l.ReverseFIFODeduction(ctx, details, orderID, productID, actorID, reason)
		if err != nil {
			return all, fmt.Errorf("reverse product %s: %w", productID, err)
		}
		all = append(all, records...)
	}
	return all, nil
}
