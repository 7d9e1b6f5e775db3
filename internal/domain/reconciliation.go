package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

const (
	ReconcileReprocessInventory = "reprocess_inventory"
	ReconcileCreateLedger       = "create_ledger"
	ReconcileReviewManual       = "review_manual"
	ReconcileMarkReconciled     = "mark_reconciled"
)

type ReconciliationAction struct {
	Type      string `json:"type"`
	Label     string `json:"label"`
	OrderID   string `json:"order_id"`
	Automated bool   `json:"automated"`
}

// ReconciliationDiscrepancy is a read-only view over tracking, ledger and
// deduction rows for one order on one day.
type ReconciliationDiscrepancy struct {
	OrderID             string                 `json:"order_id"`
	StoreID             string                 `json:"store_id"`
	Date                string                 `json:"date"`
	SyncStatus          SyncStatus             `json:"sync_status,omitempty"`
	TrackingAmount      decimal.Decimal        `json:"tracking_amount"`
	LedgerAmount        decimal.Decimal        `json:"ledger_amount"`
	AmountDiscrepancy   decimal.Decimal        `json:"amount_discrepancy"`
	TrackingQuantity    decimal.Decimal        `json:"tracking_quantity"`
	LedgerQuantity      decimal.Decimal        `json:"ledger_quantity"`
	QuantityDiscrepancy decimal.Decimal        `json:"quantity_discrepancy"`
	LedgerExists        bool                   `json:"ledger_exists"`
	InventoryProcessed  bool                   `json:"inventory_processed"`
	AmountsMatch        bool                   `json:"amounts_match"`
	Severity            Severity               `json:"severity"`
	Priority            int                    `json:"priority"`
	Actions             []ReconciliationAction `json:"actions"`
	Notes               []string               `json:"notes,omitempty"`
}

type ReconciliationAuditEntry struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	StoreID   string          `json:"store_id"`
	Action    string          `json:"action"`
	ActorID   string          `json:"actor_id"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
