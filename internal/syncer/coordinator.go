package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/inventory"
	"kasirsync/backend/internal/lock"
	"kasirsync/backend/internal/logger"
	"kasirsync/backend/internal/metrics"
	"kasirsync/backend/internal/network"
	"kasirsync/backend/internal/offlinequeue"
	"kasirsync/backend/internal/order"
	"kasirsync/backend/internal/store"
)

const (
	defaultMaxAttempts = 5
	defaultLockTTL     = 30 * time.Second
)

// A shortfall above half the requested quantity recommends cancelling.
var halfRatio = decimal.RequireFromString("0.5")

type Options struct {
	Queue       offlinequeue.Queue
	Locker      lock.Locker
	LockTTL     time.Duration
	MaxAttempts int
	// Device is the identity background syncs run as.
	Device domain.OperationContext
	// BaseContext bounds syncs started from network transitions.
	BaseContext context.Context
	Logger      *zap.Logger
	Metrics     *metrics.Recorder
	Clock       func() time.Time
}

// Coordinator replays orders staged offline against the live ledger once the
// network is back. Each order is its own unit: validation failures flag that
// order for adjustment and errors only count against that order's attempts.
type Coordinator struct {
	repo        store.Repository
	ledger      *inventory.Ledger
	queue       offlinequeue.Queue
	locker      lock.Locker
	lockTTL     time.Duration
	maxAttempts int
	device      domain.OperationContext
	baseCtx     context.Context
	log         *zap.Logger
	metrics     *metrics.Recorder
	now         func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewCoordinator(repo store.Repository, ledger *inventory.Ledger, opts Options) *Coordinator {
	if opts.Queue == nil {
		opts.Queue = offlinequeue.NewMemoryQueue(offlinequeue.DefaultCapacity)
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Coordinator{
		repo:        repo,
		ledger:      ledger,
		queue:       opts.Queue,
		locker:      opts.Locker,
		lockTTL:     opts.LockTTL,
		maxAttempts: opts.MaxAttempts,
		device:      opts.Device,
		baseCtx:     opts.BaseContext,
		log:         logger.OrNop(opts.Logger).Named("sync"),
		metrics:     opts.Metrics,
		now:         opts.Clock,
	}
}

// TriggerAutoSync drains the device's PENDING orders.
func (c *Coordinator) TriggerAutoSync(ctx context.Context, oc domain.OperationContext) (domain.SyncSummary, error) {
	if oc.DeviceID == "" {
		return domain.SyncSummary{}, fmt.Errorf("%w: sync needs a device id", domain.ErrInvalidRequest)
	}
	queued, err := c.queue.List(ctx, oc.DeviceID)
	if err != nil {
		return domain.SyncSummary{}, fmt.Errorf("list offline queue: %w", err)
	}

	summary := domain.SyncSummary{Results: make([]domain.SyncResult, 0, len(queued))}
	for _, o := range queued {
		if o.SyncStatus != domain.SyncStatusPending {
			continue
		}
		result := c.syncOrder(ctx, o, oc)
		summary.Total++
		switch {
		case !result.Success:
			summary.Failed++
		case result.Status == domain.SyncStatusPendingAdjustment:
			summary.Adjusted++
		default:
			summary.Synced++
		}
		c.metrics.SyncResult(syncLabel(result))
		summary.Results = append(summary.Results, result)
	}

	c.log.Info("auto sync finished",
		zap.String("device_id", oc.DeviceID),
		zap.Int("total", summary.Total),
		zap.Int("synced", summary.Synced),
		zap.Int("adjusted", summary.Adjusted),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (c *Coordinator) syncOrder(ctx context.Context, o domain.Order, oc domain.OperationContext) domain.SyncResult {
	result := domain.SyncResult{OrderID: o.ID, Status: o.SyncStatus}

	lease, err := c.locker.Obtain(ctx, lockKey(o.ID), c.lockTTL)
	if err != nil {
		result.Skipped = true
		result.Error = err.Error()
		return result
	}
	defer c.release(lease, o.ID)

	o.SyncAttempts++
	remote, err := c.repo.GetOrder(ctx, o.ID)
	switch {
	case err == nil && remote.SyncStatus != domain.SyncStatusPending:
		// Already handled elsewhere, the store copy wins.
		c.dropFromQueue(ctx, o)
		result.Success = true
		result.Skipped = true
		result.Status = remote.SyncStatus
		return result
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return c.recordFailure(ctx, o, result, err)
	}

	need, err := c.outstanding(ctx, o)
	if err != nil {
		return c.recordFailure(ctx, o, result, err)
	}
	discrepancies, notes, err := c.validate(ctx, o, need)
	if err != nil {
		return c.recordFailure(ctx, o, result, err)
	}
	result.Notes = notes

	if len(discrepancies) > 0 {
		flagged, err := c.markOrderForAdjustment(ctx, o, discrepancies)
		if err != nil {
			return c.recordFailure(ctx, o, result, err)
		}
		result.Success = true
		result.Status = flagged.SyncStatus
		result.Discrepancies = discrepancies
		return result
	}

	synced, err := c.executeOrderSync(ctx, o, need, oc)
	if err != nil {
		return c.recordFailure(ctx, o, result, err)
	}
	result.Success = true
	result.Status = synced.SyncStatus
	return result
}

// ValidateOrderAgainstCurrentInventory compares what the order needs with the
// batches available right now. Shortfalls come back as discrepancies; a
// planned batch that moved but is covered by other stock is only a note.
func (c *Coordinator) ValidateOrderAgainstCurrentInventory(ctx context.Context, o domain.Order) ([]domain.ItemDiscrepancy, []string, error) {
	need, err := c.outstanding(ctx, o)
	if err != nil {
		return nil, nil, err
	}
	return c.validate(ctx, o, need)
}

// outstanding maps line index to the quantity the line still has to take
// from stock. Stock the order already holds, net of reversals, is credited
// to its lines in order, so a line that is fully covered is left out.
func (c *Coordinator) outstanding(ctx context.Context, o domain.Order) (map[int]decimal.Decimal, error) {
	held, err := c.ledger.NetDeducted(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	need := make(map[int]decimal.Decimal, len(o.Items))
	for i, item := range o.Items {
		if !item.StockTracked || !item.Quantity.IsPositive() {
			continue
		}
		qty := item.Quantity
		if h := held[item.ProductID]; h.IsPositive() {
			credit := decimal.Min(h, qty)
			held[item.ProductID] = h.Sub(credit)
			qty = qty.Sub(credit)
		}
		if qty.IsPositive() {
			need[i] = qty
		}
	}
	for productID, h := range held {
		if h.IsPositive() {
			c.log.Warn("order holds more stock than its lines need",
				zap.String("order_id", o.ID),
				zap.String("product_id", productID),
				zap.String("excess", h.String()))
		}
	}
	return need, nil
}

// validate checks demand per product, so two lines of one product are
// compared against the same stock together. Available stock is handed to
// the lines in order and the ones left short become discrepancies.
func (c *Coordinator) validate(ctx context.Context, o domain.Order, need map[int]decimal.Decimal) ([]domain.ItemDiscrepancy, []string, error) {
	var discrepancies []domain.ItemDiscrepancy
	var notes []string

	lines := make(map[string][]int)
	products := make([]string, 0, len(need))
	for i := range o.Items {
		if _, ok := need[i]; !ok {
			continue
		}
		productID := o.Items[i].ProductID
		if _, seen := lines[productID]; !seen {
			products = append(products, productID)
		}
		lines[productID] = append(lines[productID], i)
	}

	for _, productID := range products {
		indexes := lines[productID]

		if _, err := c.repo.GetProduct(ctx, productID); err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return nil, nil, err
			}
			for _, i := range indexes {
				discrepancies = append(discrepancies, recount(o.Items[i], need[i], fmt.Sprintf("product lookup failed: %v", err)))
			}
			continue
		}
		batches, err := c.ledger.ActiveBatches(ctx, productID)
		if err != nil {
			if errors.Is(err, store.ErrUnavailable) {
				return nil, nil, err
			}
			for _, i := range indexes {
				discrepancies = append(discrepancies, recount(o.Items[i], need[i], fmt.Sprintf("batches unavailable: %v", err)))
			}
			continue
		}

		available := make(map[string]domain.InventoryBatch, len(batches))
		sum := decimal.Zero
		for _, b := range batches {
			available[b.ID] = b
			sum = sum.Add(b.Quantity)
		}

		for _, i := range indexes {
			for _, planned := range o.Items[i].BatchDeductions {
				current, ok := available[planned.BatchID]
				switch {
				case !ok:
					notes = append(notes, fmt.Sprintf("%s: planned batch %s is no longer active", productID, planned.BatchID))
				case current.Quantity.LessThan(planned.Quantity):
					notes = append(notes, fmt.Sprintf("%s: batch %s has %s, planned %s", productID, planned.BatchID, current.Quantity, planned.Quantity))
				}
			}
		}

		remaining := sum
		for _, i := range indexes {
			qty := need[i]
			got := decimal.Min(remaining, qty)
			remaining = remaining.Sub(got)
			if got.Equal(qty) {
				continue
			}
			missing := qty.Sub(got)
			action := domain.ActionManualAdjustment
			if missing.Div(qty).GreaterThan(halfRatio) {
				action = domain.ActionCancelOrder
			}
			discrepancies = append(discrepancies, domain.ItemDiscrepancy{
				OrderItemID:       o.Items[i].ID,
				ProductID:         productID,
				ExpectedQuantity:  qty,
				ActualQuantity:    got,
				MissingQuantity:   missing,
				RecommendedAction: action,
			})
		}
	}
	return discrepancies, notes, nil
}

// executeOrderSync deducts what each line still needs with a fresh plan and
// marks the order synced. A failed line returns the stock already taken for
// earlier lines.
func (c *Coordinator) executeOrderSync(ctx context.Context, o domain.Order, need map[int]decimal.Decimal, oc domain.OperationContext) (domain.Order, error) {
	actorID := actorFor(oc, o)
	executed, err := c.deductOutstanding(ctx, &o, need, actorID)
	if err != nil {
		return domain.Order{}, err
	}

	if err := c.finalize(ctx, &o, executed, actorID); err != nil {
		return domain.Order{}, err
	}
	c.dropFromQueue(ctx, o)
	c.log.Info("offline order synced", zap.String("order_id", o.ID), zap.Int("attempts", o.SyncAttempts))
	return o, nil
}

// deductOutstanding runs the FIFO deduction for every line in need and
// returns the lines it touched. On failure the lines already deducted are
// reversed before the error is returned.
func (c *Coordinator) deductOutstanding(ctx context.Context, o *domain.Order, need map[int]decimal.Decimal, actorID string) ([]int, error) {
	executed := make([]int, 0, len(need))
	for i := range o.Items {
		qty, ok := need[i]
		if !ok {
			continue
		}
		item := &o.Items[i]
		details, err := c.ledger.ExecuteFIFODeduction(ctx, domain.DeductionRequest{
			ProductID:     item.ProductID,
			Quantity:      qty,
			OrderID:       o.ID,
			OrderDetailID: item.ID,
			ActorID:       actorID,
			SyncStatus:    domain.DeductionSynced,
		})
		if err != nil {
			c.compensate(ctx, *o, executed, actorID)
			return nil, fmt.Errorf("deduct %s: %w", item.ProductID, err)
		}
		item.BatchDeductions = details
		executed = append(executed, i)
	}
	return executed, nil
}

// finalize writes the order as SYNCED with completed tracking and, when the
// order has none yet, its ledger entry.
func (c *Coordinator) finalize(ctx context.Context, o *domain.Order, executed []int, actorID string) error {
	now := c.now()
	for i := range o.Items {
		o.Items[i].SyncStatus = domain.SyncStatusSynced
		o.Items[i].AdjustmentRequired = false
	}
	o.SyncStatus = domain.SyncStatusSynced
	o.AdjustmentRequired = false
	o.InventoryProcessed = true
	o.LedgerProcessed = true
	o.LastSyncError = ""
	o.UpdatedAt = now
	o.SyncedAt = &now
	order.RecomputeTotals(o)

	tracking := order.TrackingEntries(*o, domain.TrackingCompleted, now)
	for i := range tracking {
		if !tracking[i].Quantity.IsPositive() {
			tracking[i].Status = domain.TrackingCancelled
		}
	}
	ws := store.WriteSet{Orders: []domain.Order{*o}, Tracking: tracking}

	existing, err := c.repo.ListLedgerEntries(ctx, store.LedgerFilter{OrderID: o.ID})
	if err != nil {
		c.compensate(ctx, *o, executed, actorID)
		return fmt.Errorf("check ledger: %w", err)
	}
	if len(existing) == 0 {
		ws.Ledger = []domain.LedgerEntry{order.LedgerEntry(*o, domain.LedgerSourceOrder, now)}
	}

	if err := c.repo.CommitWrites(ctx, ws); err != nil {
		c.compensate(ctx, *o, executed, actorID)
		return fmt.Errorf("save synced order: %w", err)
	}
	return nil
}

// markOrderForAdjustment parks the order for an operator. Nothing is deducted.
func (c *Coordinator) markOrderForAdjustment(ctx context.Context, o domain.Order, discrepancies []domain.ItemDiscrepancy) (domain.Order, error) {
	byItem := make(map[string]domain.ItemDiscrepancy, len(discrepancies))
	for _, d := range discrepancies {
		byItem[d.OrderItemID] = d
	}
	for i := range o.Items {
		d, ok := byItem[o.Items[i].ID]
		if !ok {
			continue
		}
		o.Items[i].SyncStatus = domain.SyncStatusPendingAdjustment
		o.Items[i].AdjustmentRequired = true
		o.Items[i].Discrepancy = &d
	}
	o.SyncStatus = domain.SyncStatusPendingAdjustment
	o.AdjustmentRequired = true
	o.UpdatedAt = c.now()

	if err := c.repo.CommitWrites(ctx, store.WriteSet{Orders: []domain.Order{o}}); err != nil {
		return domain.Order{}, fmt.Errorf("flag order for adjustment: %w", err)
	}
	c.dropFromQueue(ctx, o)
	c.log.Warn("offline order needs adjustment",
		zap.String("order_id", o.ID),
		zap.Int("discrepancies", len(discrepancies)))
	return o, nil
}

// recordFailure keeps the order queued with its attempt count. Past the
// attempt limit it becomes CONFLICT and stays visible for manual handling.
func (c *Coordinator) recordFailure(ctx context.Context, o domain.Order, result domain.SyncResult, cause error) domain.SyncResult {
	o.LastSyncError = cause.Error()
	o.UpdatedAt = c.now()
	if o.SyncAttempts >= c.maxAttempts {
		o.SyncStatus = domain.SyncStatusConflict
		if err := c.repo.CommitWrites(ctx, store.WriteSet{Orders: []domain.Order{o}}); err != nil {
			c.log.Warn("could not publish conflicted order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if err := c.queue.Update(ctx, o.DeviceID, o); err != nil {
		c.log.Warn("could not update queued order", zap.String("order_id", o.ID), zap.Error(err))
	}

	c.log.Warn("offline order sync failed",
		zap.String("order_id", o.ID),
		zap.Int("attempts", o.SyncAttempts),
		zap.String("status", string(o.SyncStatus)),
		zap.Error(cause))
	result.Success = false
	result.Status = o.SyncStatus
	result.Error = cause.Error()
	return result
}

func (c *Coordinator) compensate(ctx context.Context, o domain.Order, executed []int, actorID string) {
	for _, i := range executed {
		item := o.Items[i]
		if _, err := c.ledger.ReverseFIFODeduction(ctx, item.BatchDeductions, o.ID, item.ProductID, actorID, "sync aborted"); err != nil {
			c.log.Error("compensating reversal failed",
				zap.String("order_id", o.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		}
	}
}

func (c *Coordinator) dropFromQueue(ctx context.Context, o domain.Order) {
	if o.DeviceID == "" {
		return
	}
	if err := c.queue.Remove(ctx, o.DeviceID, o.ID); err != nil && !errors.Is(err, offlinequeue.ErrNotQueued) {
		c.log.Warn("could not remove order from offline queue", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (c *Coordinator) release(lease lock.Lease, orderID string) {
	if err := lease.Release(context.WithoutCancel(c.baseCtx)); err != nil {
		c.log.Warn("lock release failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// HandleTransition starts a background sync for the bound device whenever
// the monitor confirms the link is back. Overlapping runs are skipped.
func (c *Coordinator) HandleTransition(t network.Transition) {
	if !t.Restored || c.device.DeviceID == "" {
		return
	}
	if !c.running.CompareAndSwap(false, true) {
		c.log.Debug("sync already running, restore ignored")
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.running.Store(false)
		if _, err := c.TriggerAutoSync(c.baseCtx, c.device); err != nil {
			c.log.Error("auto sync failed", zap.Error(err))
		}
	}()
}

// Wait blocks until background syncs started by HandleTransition return.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func recount(item domain.OrderItem, qty decimal.Decimal, reason string) domain.ItemDiscrepancy {
	return domain.ItemDiscrepancy{
		OrderItemID:       item.ID,
		ProductID:         item.ProductID,
		ExpectedQuantity:  qty,
		ActualQuantity:    decimal.Zero,
		MissingQuantity:   qty,
		RecommendedAction: domain.ActionInventoryRecount,
		Reason:            reason,
	}
}

func actorFor(oc domain.OperationContext, o domain.Order) string {
	if oc.ActorID != "" {
		return oc.ActorID
	}
	return o.CreatedBy
}

func lockKey(orderID string) string {
	return "sync:order:" + orderID
}

func syncLabel(r domain.SyncResult) string {
	switch {
	case r.Skipped && r.Success:
		return "skipped"
	case r.Skipped:
		return "locked"
	case !r.Success:
		return "failed"
	default:
		return string(r.Status)
	}
}
