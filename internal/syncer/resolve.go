package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/lock"
	"kasirsync/backend/internal/offlinequeue"
	"kasirsync/backend/internal/order"
	"kasirsync/backend/internal/store"
)

// ManuallyResolveOrder applies an operator's per-line decision to an order
// parked in PENDING_ADJUSTMENT or given up on as CONFLICT. Lines without a
// resolution are approved as they stand. Approved lines are planned again
// against current stock, less whatever the order already holds.
func (c *Coordinator) ManuallyResolveOrder(ctx context.Context, orderID string, resolutions []domain.ItemResolution, oc domain.OperationContext) (domain.Order, error) {
	lease, err := c.locker.Obtain(ctx, lockKey(orderID), c.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			return domain.Order{}, fmt.Errorf("order %s is being synced: %w", orderID, err)
		}
		return domain.Order{}, err
	}
	defer c.release(lease, orderID)

	current, err := c.resolvable(ctx, orderID, oc)
	if err != nil {
		return domain.Order{}, err
	}
	if current.SyncStatus != domain.SyncStatusPendingAdjustment && current.SyncStatus != domain.SyncStatusConflict {
		return domain.Order{}, fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotPendingAdjustment, orderID, current.SyncStatus)
	}
	o := *current

	byItem := make(map[string]domain.ItemResolution, len(resolutions))
	for _, r := range resolutions {
		if !hasItem(o, r.OrderItemID) {
			return domain.Order{}, fmt.Errorf("%w: unknown order item %s", domain.ErrInvalidRequest, r.OrderItemID)
		}
		byItem[r.OrderItemID] = r
	}

	for i := range o.Items {
		item := &o.Items[i]
		r, ok := byItem[item.ID]
		if !ok {
			r = domain.ItemResolution{OrderItemID: item.ID, Action: domain.ResolutionApprove}
		}
		switch r.Action {
		case domain.ResolutionApprove:
		case domain.ResolutionPartialApprove:
			if !r.AdjustedQuantity.IsPositive() || r.AdjustedQuantity.GreaterThan(item.Quantity) {
				return domain.Order{}, fmt.Errorf("%w: adjusted quantity for %s must be within (0, %s]", domain.ErrInvalidRequest, item.ID, item.Quantity)
			}
			order.RescaleLine(item, r.AdjustedQuantity)
		case domain.ResolutionCancel:
			order.RescaleLine(item, decimal.Zero)
		default:
			return domain.Order{}, fmt.Errorf("%w: unknown resolution %q", domain.ErrInvalidRequest, r.Action)
		}
	}

	actorID := actorFor(oc, o)
	need, err := c.outstanding(ctx, o)
	if err != nil {
		return domain.Order{}, err
	}
	executed, err := c.deductOutstanding(ctx, &o, need, actorID)
	if err != nil {
		return domain.Order{}, err
	}

	if err := c.finalize(ctx, &o, executed, actorID); err != nil {
		return domain.Order{}, err
	}
	c.dropFromQueue(ctx, o)
	c.metrics.SyncResult("resolved")
	c.log.Info("order resolved manually",
		zap.String("order_id", o.ID),
		zap.String("actor_id", actorID),
		zap.Int("resolutions", len(resolutions)),
		zap.String("total", o.Total.String()))
	return o, nil
}

// resolvable loads the order from the store. A CONFLICT order whose status
// never reached the store is read from the caller's device queue instead.
func (c *Coordinator) resolvable(ctx context.Context, orderID string, oc domain.OperationContext) (*domain.Order, error) {
	current, err := c.repo.GetOrder(ctx, orderID)
	if err == nil || !errors.Is(err, store.ErrNotFound) || oc.DeviceID == "" {
		return current, err
	}
	queued, qerr := c.queue.Get(ctx, oc.DeviceID, orderID)
	if qerr != nil {
		if errors.Is(qerr, offlinequeue.ErrNotQueued) {
			return nil, err
		}
		return nil, qerr
	}
	return queued, nil
}

func hasItem(o domain.Order, itemID string) bool {
	for _, item := range o.Items {
		if item.ID == itemID {
			return true
		}
	}
	return false
}
