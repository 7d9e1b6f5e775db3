package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/order"
	"kasirsync/backend/internal/store"
)

type ReprocessedLine struct {
	OrderItemID string                        `json:"order_item_id"`
	ProductID   string                        `json:"product_id"`
	Deductions  []domain.BatchDeductionDetail `json:"deductions"`
}

type ReprocessResult struct {
	OrderID  string            `json:"order_id"`
	Lines    []ReprocessedLine `json:"lines"`
	Warnings []string          `json:"warnings,omitempty"`
}

// ReprocessInventory applies the FIFO deduction an order never got. Lines
// that already moved stock are skipped with a warning; a shortfall on any
// remaining line or an offline network refuses the whole repair. Orders the
// sync path has not finished with are refused outright.
func (a *Auditor) ReprocessInventory(ctx context.Context, orderID string, oc domain.OperationContext) (result ReprocessResult, err error) {
	result.OrderID = orderID
	var before, after *domain.Order
	defer func() {
		a.audit(ctx, domain.ReconcileReprocessInventory, orderID, oc, before, after, result.Warnings, err)
	}()

	current, err := a.repo.GetOrder(ctx, orderID)
	if err != nil {
		return result, err
	}
	before = current
	if AwaitingSync(current.SyncStatus) {
		return result, fmt.Errorf("%w: order %s is %s, stock is applied when it syncs", domain.ErrInvalidRequest, orderID, current.SyncStatus)
	}
	if !a.online() {
		return result, domain.ErrNetworkOffline
	}
	if current.InventoryProcessed {
		result.Warnings = append(result.Warnings, "order was already marked inventory processed")
	}

	net, err := a.ledger.NetDeducted(ctx, orderID)
	if err != nil {
		return result, err
	}

	o := *current
	o.Items = append([]domain.OrderItem(nil), current.Items...)
	pending := make([]int, 0, len(o.Items))
	var short []string
	for i, item := range o.Items {
		if !item.StockTracked || !item.Quantity.IsPositive() {
			continue
		}
		if net[item.ProductID].IsPositive() {
			result.Warnings = append(result.Warnings, fmt.Sprintf("line %s already deducted", item.ID))
			continue
		}
		v, err := a.ledger.ValidateStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return result, err
		}
		if !v.IsValid {
			short = append(short, fmt.Sprintf("%s needs %s, has %s", item.ProductID, item.Quantity, v.TotalAvailable))
			continue
		}
		pending = append(pending, i)
	}
	if len(short) > 0 {
		return result, fmt.Errorf("%w: %s", domain.ErrInsufficientStock, strings.Join(short, "; "))
	}

	actorID := oc.ActorID
	executed := make([]int, 0, len(pending))
	for _, i := range pending {
		item := &o.Items[i]
		details, err := a.ledger.ExecuteFIFODeduction(ctx, domain.DeductionRequest{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			OrderID:       o.ID,
			OrderDetailID: item.ID,
			ActorID:       actorID,
			SyncStatus:    domain.DeductionReconciled,
		})
		if err != nil {
			a.compensate(ctx, o, executed, actorID)
			return result, fmt.Errorf("deduct %s: %w", item.ProductID, err)
		}
		item.BatchDeductions = details
		executed = append(executed, i)
		result.Lines = append(result.Lines, ReprocessedLine{OrderItemID: item.ID, ProductID: item.ProductID, Deductions: details})
	}

	o.InventoryProcessed = true
	o.UpdatedAt = a.now()
	if err := a.repo.CommitWrites(ctx, store.WriteSet{Orders: []domain.Order{o}}); err != nil {
		a.compensate(ctx, o, executed, actorID)
		result.Lines = nil
		return result, fmt.Errorf("save order: %w", err)
	}
	after = &o
	return result, nil
}

// CreateMissingLedger books one ledger entry from the order's tracked sales.
func (a *Auditor) CreateMissingLedger(ctx context.Context, orderID string, oc domain.OperationContext) (entry domain.LedgerEntry, err error) {
	var before, after *domain.Order
	defer func() {
		a.audit(ctx, domain.ReconcileCreateLedger, orderID, oc, before, after, nil, err)
	}()

	current, err := a.repo.GetOrder(ctx, orderID)
	if err != nil {
		return entry, err
	}
	before = current

	existing, err := a.repo.ListLedgerEntries(ctx, store.LedgerFilter{OrderID: orderID})
	if err != nil {
		return entry, err
	}
	if len(existing) > 0 {
		return entry, fmt.Errorf("%w: order %s", domain.ErrLedgerExists, orderID)
	}

	tracking, err := a.repo.ListTracking(ctx, store.TrackingFilter{
		OrderID:  orderID,
		Statuses: []string{domain.TrackingCompleted, domain.TrackingProcessing},
	})
	if err != nil {
		return entry, err
	}
	if len(tracking) == 0 {
		return entry, fmt.Errorf("%w: order %s has no tracked sales", domain.ErrInvalidRequest, orderID)
	}

	now := a.now()
	amount, qty := decimal.Zero, decimal.Zero
	for _, t := range tracking {
		amount = amount.Add(t.Amount)
		qty = qty.Add(t.Quantity)
	}
	entry = order.LedgerEntry(*current, domain.LedgerSourceRecon, now)
	entry.Amount = amount
	entry.Quantity = qty

	o := *current
	o.LedgerProcessed = true
	o.UpdatedAt = now
	if err := a.repo.CommitWrites(ctx, store.WriteSet{Orders: []domain.Order{o}, Ledger: []domain.LedgerEntry{entry}}); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("write ledger: %w", err)
	}
	after = &o
	return entry, nil
}

// MarkAsReconciled clears the reconciliation flag and stamps the order.
func (a *Auditor) MarkAsReconciled(ctx context.Context, orderID string, oc domain.OperationContext) (err error) {
	var before, after *domain.Order
	defer func() {
		a.audit(ctx, domain.ReconcileMarkReconciled, orderID, oc, before, after, nil, err)
	}()

	current, err := a.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	before = current

	now := a.now()
	o := *current
	o.NeedsReconciliation = false
	o.ReconciledAt = &now
	o.UpdatedAt = now
	if err := a.repo.CommitWrites(ctx, store.WriteSet{Orders: []domain.Order{o}}); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	after = &o
	return nil
}

func (a *Auditor) compensate(ctx context.Context, o domain.Order, executed []int, actorID string) {
	for _, i := range executed {
		item := o.Items[i]
		if _, err := a.ledger.ReverseFIFODeduction(ctx, item.BatchDeductions, o.ID, item.ProductID, actorID, "reprocess aborted"); err != nil {
			a.log.Error("compensating reversal failed",
				zap.String("order_id", o.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err))
		}
	}
}

// audit appends one entry whether the action succeeded or not. A failed
// append is logged and never replaces the action's own error.
func (a *Auditor) audit(ctx context.Context, action string, orderID string, oc domain.OperationContext, before *domain.Order, after *domain.Order, warnings []string, cause error) {
	entry := domain.ReconciliationAuditEntry{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		StoreID:   oc.StoreID,
		Action:    action,
		ActorID:   oc.ActorID,
		Before:    snapshot(before),
		After:     snapshot(after),
		Success:   cause == nil,
		Warnings:  warnings,
		CreatedAt: a.now(),
	}
	if before != nil && before.StoreID != "" {
		entry.StoreID = before.StoreID
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	a.metrics.AuditAction(action, entry.Success)
	if err := a.repo.AppendReconciliationAudit(context.WithoutCancel(ctx), entry); err != nil {
		a.log.Error("audit append failed",
			zap.String("order_id", orderID),
			zap.String("action", action),
			zap.Error(err))
	}
	if cause != nil && !errors.Is(cause, domain.ErrInvalidRequest) {
		a.log.Warn("reconciliation action failed",
			zap.String("order_id", orderID),
			zap.String("action", action),
			zap.Error(cause))
	}
}

func snapshot(o *domain.Order) json.RawMessage {
	if o == nil {
		return nil
	}
	raw, err := json.Marshal(o)
	if err != nil {
		return nil
	}
	return raw
}
