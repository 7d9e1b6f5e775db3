package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/inventory"
	"kasirsync/backend/internal/logger"
	"kasirsync/backend/internal/metrics"
	"kasirsync/backend/internal/store"
)

const dayLayout = "2006-01-02"

type Options struct {
	// Online gates repair actions that mutate inventory. Nil means online.
	Online func() bool
	// IncludeOnlineOrders widens the audit to orders taken online, used when
	// inventory is applied by the auditor instead of at checkout.
	IncludeOnlineOrders bool
	Logger              *zap.Logger
	Metrics             *metrics.Recorder
	Clock               func() time.Time
}

// Auditor compares sales tracking, the accounting ledger and deduction rows
// after the fact and repairs what is missing. It never blocks checkout.
type Auditor struct {
	repo          store.Repository
	ledger        *inventory.Ledger
	online        func() bool
	includeOnline bool
	log           *zap.Logger
	metrics       *metrics.Recorder
	now           func() time.Time
}

func NewAuditor(repo store.Repository, ledger *inventory.Ledger, opts Options) *Auditor {
	if opts.Online == nil {
		opts.Online = func() bool { return true }
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Auditor{
		repo:          repo,
		ledger:        ledger,
		online:        opts.Online,
		includeOnline: opts.IncludeOnlineOrders,
		log:           logger.OrNop(opts.Logger).Named("reconciliation"),
		metrics:       opts.Metrics,
		now:           opts.Clock,
	}
}

type orderDay struct {
	date    string
	orderID string
}

type trackingTotals struct {
	storeID      string
	amount       decimal.Decimal
	quantity     decimal.Decimal
	offline      bool
	stockTracked bool
	products     []string
}

// FindDiscrepancies reports, per order and day, whether the ledger entry and
// the FIFO deduction exist and whether ledger totals match tracked sales.
// Orders with nothing wrong are left out.
func (a *Auditor) FindDiscrepancies(ctx context.Context, storeID string, start time.Time, end time.Time) ([]domain.ReconciliationDiscrepancy, error) {
	entries, err := a.repo.ListTracking(ctx, store.TrackingFilter{
		StoreID:  storeID,
		From:     start,
		To:       end,
		Statuses: []string{domain.TrackingCompleted, domain.TrackingProcessing},
	})
	if err != nil {
		return nil, fmt.Errorf("list tracking: %w", err)
	}

	groups := make(map[orderDay]*trackingTotals)
	keys := make([]orderDay, 0, 16)
	for _, entry := range entries {
		k := orderDay{date: entry.CreatedAt.UTC().Format(dayLayout), orderID: entry.OrderID}
		g, ok := groups[k]
		if !ok {
			g = &trackingTotals{storeID: entry.StoreID}
			groups[k] = g
			keys = append(keys, k)
		}
		g.amount = g.amount.Add(entry.Amount)
		g.quantity = g.quantity.Add(entry.Quantity)
		g.offline = g.offline || entry.IsOffline
		if entry.StockTracked {
			g.stockTracked = true
			if !slices.Contains(g.products, entry.ProductID) {
				g.products = append(g.products, entry.ProductID)
			}
		}
	}

	result := make([]domain.ReconciliationDiscrepancy, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		disc, ok, err := a.inspect(ctx, k, g)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, disc)
		}
	}

	slices.SortFunc(result, func(x, y domain.ReconciliationDiscrepancy) int {
		if x.Priority != y.Priority {
			return x.Priority - y.Priority
		}
		if c := strings.Compare(x.Date, y.Date); c != 0 {
			return c
		}
		return strings.Compare(x.OrderID, y.OrderID)
	})
	return result, nil
}

func (a *Auditor) inspect(ctx context.Context, k orderDay, g *trackingTotals) (domain.ReconciliationDiscrepancy, bool, error) {
	var notes []string
	var status domain.SyncStatus
	offline := g.offline

	o, err := a.repo.GetOrder(ctx, k.orderID)
	switch {
	case err == nil:
		if o.ReconciledAt != nil && !o.NeedsReconciliation {
			return domain.ReconciliationDiscrepancy{}, false, nil
		}
		if o.IsOffline != g.offline {
			notes = append(notes, fmt.Sprintf("offline flag differs: order=%t tracking=%t, order record used", o.IsOffline, g.offline))
		}
		offline = o.IsOffline
		status = o.SyncStatus
	case errors.Is(err, store.ErrNotFound):
		notes = append(notes, "order record missing, tracking flags used")
	default:
		return domain.ReconciliationDiscrepancy{}, false, fmt.Errorf("get order %s: %w", k.orderID, err)
	}

	if !g.stockTracked || (!offline && !a.includeOnline) {
		return domain.ReconciliationDiscrepancy{}, false, nil
	}

	ledgerEntries, err := a.repo.ListLedgerEntries(ctx, store.LedgerFilter{OrderID: k.orderID, Status: domain.LedgerStatusComplete})
	if err != nil {
		return domain.ReconciliationDiscrepancy{}, false, fmt.Errorf("list ledger %s: %w", k.orderID, err)
	}
	ledgerAmount, ledgerQty := decimal.Zero, decimal.Zero
	for _, e := range ledgerEntries {
		ledgerAmount = ledgerAmount.Add(e.Amount)
		ledgerQty = ledgerQty.Add(e.Quantity)
	}

	net, err := a.ledger.NetDeducted(ctx, k.orderID)
	if err != nil {
		return domain.ReconciliationDiscrepancy{}, false, err
	}
	inventoryProcessed := true
	for _, productID := range g.products {
		if !net[productID].IsPositive() {
			inventoryProcessed = false
			break
		}
	}

	ledgerExists := len(ledgerEntries) > 0
	amountsMatch := ledgerExists && g.amount.Equal(ledgerAmount) && g.quantity.Equal(ledgerQty)

	disc := domain.ReconciliationDiscrepancy{
		OrderID:             k.orderID,
		StoreID:             g.storeID,
		Date:                k.date,
		SyncStatus:          status,
		TrackingAmount:      g.amount,
		LedgerAmount:        ledgerAmount,
		AmountDiscrepancy:   g.amount.Sub(ledgerAmount),
		TrackingQuantity:    g.quantity,
		LedgerQuantity:      ledgerQty,
		QuantityDiscrepancy: g.quantity.Sub(ledgerQty),
		LedgerExists:        ledgerExists,
		InventoryProcessed:  inventoryProcessed,
		AmountsMatch:        amountsMatch,
		Notes:               notes,
	}
	switch {
	case !ledgerExists && !inventoryProcessed:
		disc.Severity, disc.Priority = domain.SeverityCritical, 1
	case !ledgerExists || !inventoryProcessed:
		disc.Severity, disc.Priority = domain.SeverityWarning, 2
	case !amountsMatch:
		disc.Severity, disc.Priority = domain.SeverityWarning, 2
	case len(notes) > 0:
		disc.Severity, disc.Priority = domain.SeverityInfo, 3
	default:
		return domain.ReconciliationDiscrepancy{}, false, nil
	}
	disc.Actions = actionsFor(disc)
	return disc, true, nil
}

func actionsFor(d domain.ReconciliationDiscrepancy) []domain.ReconciliationAction {
	actions := make([]domain.ReconciliationAction, 0, 3)
	if !d.InventoryProcessed && !AwaitingSync(d.SyncStatus) {
		actions = append(actions, domain.ReconciliationAction{
			Type: domain.ReconcileReprocessInventory, Label: "Apply FIFO deduction", OrderID: d.OrderID, Automated: true,
		})
	}
	if !d.LedgerExists {
		actions = append(actions, domain.ReconciliationAction{
			Type: domain.ReconcileCreateLedger, Label: "Create ledger entry", OrderID: d.OrderID, Automated: true,
		})
	}
	if d.LedgerExists && d.InventoryProcessed && !d.AmountsMatch {
		actions = append(actions, domain.ReconciliationAction{
			Type: domain.ReconcileReviewManual, Label: "Review amounts manually", OrderID: d.OrderID,
		})
	}
	return append(actions, domain.ReconciliationAction{
		Type: domain.ReconcileMarkReconciled, Label: "Mark as reconciled", OrderID: d.OrderID,
	})
}

// AwaitingSync reports whether the sync path still owns the order's stock.
// Such orders are deducted by sync or manual resolution, never by repair.
func AwaitingSync(status domain.SyncStatus) bool {
	switch status {
	case domain.SyncStatusPending, domain.SyncStatusPendingAdjustment, domain.SyncStatusConflict:
		return true
	}
	return false
}

// Sweep flags discrepant orders in the lookback window for operator review
// and returns how many discrepancies are open.
func (a *Auditor) Sweep(ctx context.Context, storeID string, lookback time.Duration) (int, error) {
	end := a.now()
	found, err := a.FindDiscrepancies(ctx, storeID, end.Add(-lookback), end)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, disc := range found {
		if disc.Severity == domain.SeverityInfo {
			continue
		}
		o, err := a.repo.GetOrder(ctx, disc.OrderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return 0, err
		}
		// Orders still waiting for their first sync are the sync path's job.
		if o.NeedsReconciliation || o.SyncStatus == domain.SyncStatusPending {
			continue
		}
		o.NeedsReconciliation = true
		o.UpdatedAt = end
		if err := a.repo.CommitWrites(ctx, store.WriteSet{Orders: []domain.Order{*o}}); err != nil {
			return 0, fmt.Errorf("flag order %s: %w", o.ID, err)
		}
		flagged++
	}

	a.metrics.SetOpenDiscrepancies(len(found))
	a.log.Info("reconciliation sweep finished",
		zap.String("store_id", storeID),
		zap.Int("discrepancies", len(found)),
		zap.Int("newly_flagged", flagged))
	return len(found), nil
}
