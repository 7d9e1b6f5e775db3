package order

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirsync/backend/internal/cache"
	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/inventory"
	"kasirsync/backend/internal/logger"
	"kasirsync/backend/internal/metrics"
	"kasirsync/backend/internal/offlinequeue"
	"kasirsync/backend/internal/store"
	"kasirsync/backend/internal/xid"
)

type Options struct {
	Queue offlinequeue.Queue
	// Cache serves product prices when the store cannot be read during an
	// offline sale.
	Cache cache.SummaryCache
	// DeferInventory writes online orders without a live deduction. The
	// reconciliation auditor applies FIFO later.
	DeferInventory bool
	Logger         *zap.Logger
	Metrics        *metrics.Recorder
	Clock          func() time.Time
}

// Factory turns a cart into a persisted order, either deducting stock now
// (online) or staging a FIFO plan in the device queue (offline).
type Factory struct {
	repo           store.Repository
	ledger         *inventory.Ledger
	queue          offlinequeue.Queue
	cache          cache.SummaryCache
	deferInventory bool
	log            *zap.Logger
	metrics        *metrics.Recorder
	now            func() time.Time
}

func NewFactory(repo store.Repository, ledger *inventory.Ledger, opts Options) *Factory {
	if opts.Queue == nil {
		opts.Queue = offlinequeue.NewMemoryQueue(offlinequeue.DefaultCapacity)
	}
	if opts.Cache == nil {
		opts.Cache = cache.NoopSummaryCache{}
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Factory{
		repo:           repo,
		ledger:         ledger,
		queue:          opts.Queue,
		cache:          opts.Cache,
		deferInventory: opts.DeferInventory,
		log:            logger.OrNop(opts.Logger).Named("order"),
		metrics:        opts.Metrics,
		now:            opts.Clock,
	}
}

func (f *Factory) CreateOnlineOrder(ctx context.Context, cart []domain.CartItem, oc domain.OperationContext) (domain.Order, error) {
	lines, err := normalizeCart(cart)
	if err != nil {
		return domain.Order{}, err
	}
	products, err := f.lookupProducts(ctx, lines, false)
	if err != nil {
		return domain.Order{}, err
	}

	now := f.now()
	o := newOrder(xid.NewOrderID(), oc, now)
	o.Items = buildItems(o.ID, lines, products)

	executed := make([]int, 0, len(o.Items))
	if !f.deferInventory {
		for i := range o.Items {
			item := &o.Items[i]
			if !item.StockTracked {
				continue
			}
			details, err := f.ledger.ExecuteFIFODeduction(ctx, domain.DeductionRequest{
				ProductID:     item.ProductID,
				Quantity:      item.Quantity,
				OrderID:       o.ID,
				OrderDetailID: item.ID,
				ActorID:       oc.ActorID,
			})
			if err != nil {
				f.compensate(ctx, o, executed, oc.ActorID)
				return domain.Order{}, fmt.Errorf("%w: product %s: %w", domain.ErrInventoryUnavailable, item.ProductID, err)
			}
			item.BatchDeductions = details
			executed = append(executed, i)
		}
	}

	for i := range o.Items {
		o.Items[i].SyncStatus = domain.SyncStatusSynced
	}
	o.SyncStatus = domain.SyncStatusSynced
	o.InventoryProcessed = !f.deferInventory
	o.LedgerProcessed = true
	o.SyncedAt = &now
	RecomputeTotals(&o)

	ws := store.WriteSet{
		Orders:   []domain.Order{o},
		Tracking: TrackingEntries(o, domain.TrackingCompleted, now),
		Ledger:   []domain.LedgerEntry{LedgerEntry(o, domain.LedgerSourceOrder, now)},
	}
	if err := f.repo.CommitWrites(ctx, ws); err != nil {
		f.compensate(ctx, o, executed, oc.ActorID)
		return domain.Order{}, fmt.Errorf("save order %s: %w", o.ID, err)
	}

	f.log.Info("online order created",
		zap.String("order_id", o.ID),
		zap.Int("items", len(o.Items)),
		zap.String("total", o.Total.String()),
		zap.Bool("deferred_inventory", f.deferInventory))
	return o, nil
}

// compensate returns stock taken for lines that were deducted before a later
// line or the order write failed.
func (f *Factory) compensate(ctx context.Context, o domain.Order, executed []int, actorID string) {
	for _, i := range executed {
		item := o.Items[i]
		if _, err := f.ledger.ReverseFIFODeduction(ctx, item.BatchDeductions, o.ID, item.ProductID, actorID, "order aborted"); err != nil {
			f.log.Error("compensating reversal failed",
				zap.String("order_id", o.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		}
	}
}

func (f *Factory) CreateOfflineOrder(ctx context.Context, cart []domain.CartItem, oc domain.OperationContext) (domain.Order, error) {
	if strings.TrimSpace(oc.DeviceID) == "" {
		return domain.Order{}, fmt.Errorf("%w: offline orders need a device id", domain.ErrInvalidRequest)
	}
	lines, err := normalizeCart(cart)
	if err != nil {
		return domain.Order{}, err
	}
	products, err := f.lookupProducts(ctx, lines, true)
	if err != nil {
		return domain.Order{}, err
	}

	batchNumber, err := f.queue.NextBatchNumber(ctx, oc.DeviceID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("next batch number: %w", err)
	}

	now := f.now()
	o := newOrder(xid.NewOfflineOrderID(), oc, now)
	o.IsOffline = true
	o.SyncStatus = domain.SyncStatusPending
	o.BatchNumber = batchNumber
	o.Items = buildItems(o.ID, lines, products)

	for i := range o.Items {
		o.Items[i].SyncStatus = domain.SyncStatusPending
	}
	f.planOffline(ctx, &o)
	RecomputeTotals(&o)

	evicted, err := f.queue.Enqueue(ctx, oc.DeviceID, o)
	if err != nil {
		return domain.Order{}, fmt.Errorf("queue offline order: %w", err)
	}
	if len(evicted) > 0 {
		f.log.Warn("offline queue full, evicted oldest orders",
			zap.String("device_id", oc.DeviceID),
			zap.Strings("evicted", evicted))
	}
	f.metrics.OfflineOrderStaged(len(evicted))

	if err := f.repo.CommitWrites(ctx, store.WriteSet{
		Orders:   []domain.Order{o},
		Tracking: TrackingEntries(o, domain.TrackingProcessing, now),
	}); err != nil {
		f.log.Warn("remote write of offline order failed, sync will retry",
			zap.String("order_id", o.ID),
			zap.Error(err))
	}

	f.log.Info("offline order staged",
		zap.String("order_id", o.ID),
		zap.Int64("batch_number", o.BatchNumber),
		zap.Bool("adjustment_required", o.AdjustmentRequired))
	return o, nil
}

// planOffline plans FIFO once per product for the combined demand of its
// lines and hands the planned batches to those lines in order. A product
// whose plan cannot be made flags every one of its lines for adjustment.
func (f *Factory) planOffline(ctx context.Context, o *domain.Order) {
	lines := make(map[string][]int)
	products := make([]string, 0, len(o.Items))
	for i, item := range o.Items {
		if !item.StockTracked {
			continue
		}
		if _, seen := lines[item.ProductID]; !seen {
			products = append(products, item.ProductID)
		}
		lines[item.ProductID] = append(lines[item.ProductID], i)
	}

	for _, productID := range products {
		indexes := lines[productID]
		qtys := make([]decimal.Decimal, len(indexes))
		demand := decimal.Zero
		for n, i := range indexes {
			qtys[n] = o.Items[i].Quantity
			demand = demand.Add(qtys[n])
		}

		details, err := f.ledger.PlanOfflineFIFODeduction(ctx, productID, demand)
		if err != nil {
			for _, i := range indexes {
				o.Items[i].AdjustmentRequired = true
				o.Items[i].BatchDeductions = []domain.BatchDeductionDetail{}
			}
			o.AdjustmentRequired = true
			f.log.Warn("offline plan unavailable, lines need adjustment",
				zap.String("order_id", o.ID),
				zap.String("product_id", productID),
				zap.Int("lines", len(indexes)),
				zap.Error(err))
			continue
		}
		for n, split := range splitPlan(details, qtys) {
			o.Items[indexes[n]].BatchDeductions = split
		}
	}
}

// splitPlan cuts one product's planned batches into consecutive slices that
// cover each line quantity in turn.
func splitPlan(plan []domain.BatchDeductionDetail, qtys []decimal.Decimal) [][]domain.BatchDeductionDetail {
	out := make([][]domain.BatchDeductionDetail, len(qtys))
	pos := 0
	left := decimal.Zero
	if len(plan) > 0 {
		left = plan[0].Quantity
	}
	for n, qty := range qtys {
		needed := qty
		for needed.IsPositive() && pos < len(plan) {
			take := decimal.Min(left, needed)
			part := plan[pos]
			part.Quantity = take
			part.BatchOrder = len(out[n]) + 1
			out[n] = append(out[n], part)
			needed = needed.Sub(take)
			left = left.Sub(take)
			if !left.IsPositive() {
				pos++
				if pos < len(plan) {
					left = plan[pos].Quantity
				}
			}
		}
	}
	return out
}

// lookupProducts reads products from the store. Offline sales fall back to
// the summary cache when the store cannot be reached.
func (f *Factory) lookupProducts(ctx context.Context, lines []domain.CartItem, offline bool) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if !slices.Contains(ids, line.ProductID) {
			ids = append(ids, line.ProductID)
		}
	}

	products, err := f.repo.GetProducts(ctx, ids)
	if err != nil {
		if !offline {
			return nil, err
		}
		f.log.Warn("product lookup failed, using cached summaries", zap.Error(err))
		products = make(map[string]domain.Product, len(ids))
		for _, id := range ids {
			cached, ok, cacheErr := f.cache.Get(ctx, id)
			if cacheErr != nil || !ok {
				continue
			}
			products[id] = *cached
		}
	}

	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, fmt.Errorf("%w: unknown product %s", domain.ErrInvalidRequest, id)
		}
	}
	return products, nil
}

func newOrder(id string, oc domain.OperationContext, now time.Time) domain.Order {
	return domain.Order{
		ID:        id,
		StoreID:   oc.StoreID,
		CompanyID: oc.CompanyID,
		DeviceID:  oc.DeviceID,
		CreatedBy: oc.ActorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func buildItems(orderID string, lines []domain.CartItem, products map[string]domain.Product) []domain.OrderItem {
	items := make([]domain.OrderItem, 0, len(lines))
	for i, line := range lines {
		product := products[line.ProductID]
		item := domain.OrderItem{
			ID:           fmt.Sprintf("%s-%d", orderID, i+1),
			ProductID:    product.ID,
			Name:         product.Name,
			StockTracked: product.StockTracked,
			Quantity:     line.Quantity,
		}
		PriceLine(&item, product.SellingPrice, line.Discount, line.VATRate)
		items = append(items, item)
	}
	return items
}

// normalizeCart trims ids, rejects bad amounts and merges repeated lines for
// the same product and VAT rate.
func normalizeCart(cart []domain.CartItem) ([]domain.CartItem, error) {
	if len(cart) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", domain.ErrInvalidRequest)
	}

	type key struct {
		productID string
		vat       string
	}
	index := make(map[key]int, len(cart))
	lines := make([]domain.CartItem, 0, len(cart))
	for _, raw := range cart {
		productID := strings.TrimSpace(raw.ProductID)
		if productID == "" || !raw.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: each line needs a product and a positive quantity", domain.ErrInvalidRequest)
		}
		if raw.Discount.IsNegative() || raw.VATRate.IsNegative() {
			return nil, fmt.Errorf("%w: discount and vat rate cannot be negative", domain.ErrInvalidRequest)
		}

		k := key{productID: productID, vat: raw.VATRate.String()}
		if pos, ok := index[k]; ok {
			lines[pos].Quantity = lines[pos].Quantity.Add(raw.Quantity)
			lines[pos].Discount = lines[pos].Discount.Add(raw.Discount)
			continue
		}
		index[k] = len(lines)
		lines = append(lines, domain.CartItem{
			ProductID: productID,
			Quantity:  raw.Quantity,
			Discount:  raw.Discount,
			VATRate:   raw.VATRate,
		})
	}
	return lines, nil
}
