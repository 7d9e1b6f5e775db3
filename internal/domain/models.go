package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchStatusActive   BatchStatus = "active"
	BatchStatusDepleted BatchStatus = "depleted"
	BatchStatusInactive BatchStatus = "inactive"
	BatchStatusExpired  BatchStatus = "expired"
)

type SyncStatus string

const (
	SyncStatusPending           SyncStatus = "PENDING"
	SyncStatusSynced            SyncStatus = "SYNCED"
	SyncStatusPendingAdjustment SyncStatus = "PENDING_ADJUSTMENT"
	SyncStatusConflict          SyncStatus = "CONFLICT"
)

// DeductionSyncStatus tells whether a deduction row reflects a real stock
// movement. Only non-pending rows count as "FIFO applied" for reconciliation.
type DeductionSyncStatus string

const (
	DeductionPending    DeductionSyncStatus = "pending"
	DeductionSynced     DeductionSyncStatus = "synced"
	DeductionReconciled DeductionSyncStatus = "reconciled"
)

type Product struct {
	ID           string          `json:"id"`
	CompanyID    string          `json:"company_id"`
	StoreID      string          `json:"store_id"`
	Name         string          `json:"name"`
	StockTracked bool            `json:"stock_tracked"`
	TotalStock   decimal.Decimal `json:"total_stock"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type InventoryBatch struct {
	ID              string          `json:"batch_id"`
	ProductID       string          `json:"product_id"`
	StoreID         string          `json:"store_id"`
	CompanyID       string          `json:"company_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	InitialQuantity decimal.Decimal `json:"initial_quantity"`
	TotalDeducted   decimal.Decimal `json:"total_deducted"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	ReceivedAt      time.Time       `json:"received_at"`
	Status          BatchStatus     `json:"status"`
	Version         int64           `json:"version"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DepletedAt      *time.Time      `json:"depleted_at,omitempty"`
}

type ReceiveBatchRequest struct {
	BatchID    string          `json:"batch_id,omitempty"`
	ProductID  string          `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	ReceivedAt *time.Time      `json:"received_at,omitempty"`
}

type DeductionRecord struct {
	ID            string              `json:"id"`
	OrderID       string              `json:"order_id"`
	OrderDetailID string              `json:"order_detail_id"`
	BatchID       string              `json:"batch_id"`
	ProductID     string              `json:"product_id"`
	Quantity      decimal.Decimal     `json:"quantity"`
	UnitCost      decimal.Decimal     `json:"unit_cost"`
	DeductedAt    time.Time           `json:"deducted_at"`
	DeductedBy    string              `json:"deducted_by"`
	IsOffline     bool                `json:"is_offline"`
	SyncStatus    DeductionSyncStatus `json:"sync_status"`
}

type ReversalRecord struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	BatchID    string          `json:"batch_id"`
	ProductID  string          `json:"product_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	ReversedAt time.Time       `json:"reversed_at"`
	ReversedBy string          `json:"reversed_by"`
	Reason     string          `json:"reason,omitempty"`
}

type BatchDeductionDetail struct {
	BatchID          string          `json:"batch_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	BatchOrder       int             `json:"batch_order"`
	RemainingInBatch decimal.Decimal `json:"remaining_in_batch"`
}

type BatchAllocation struct {
	BatchID           string          `json:"batch_id"`
	AllocatedQuantity decimal.Decimal `json:"allocated_quantity"`
	RemainingInBatch  decimal.Decimal `json:"remaining_in_batch"`
	BatchOrder        int             `json:"batch_order"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
}

type FIFODeductionPlan struct {
	ProductID         string            `json:"product_id"`
	RequestedQuantity decimal.Decimal   `json:"requested_quantity"`
	Allocations       []BatchAllocation `json:"batch_allocations"`
	CanFulfill        bool              `json:"can_fulfill"`
	Shortfall         decimal.Decimal   `json:"shortfall"`
}

// Details converts allocations into the shape stored on order items.
func (p FIFODeductionPlan) Details() []BatchDeductionDetail {
	details := make([]BatchDeductionDetail, 0, len(p.Allocations))
	for _, alloc := range p.Allocations {
		details = append(details, BatchDeductionDetail{
			BatchID:          alloc.BatchID,
			Quantity:         alloc.AllocatedQuantity,
			UnitCost:         alloc.UnitCost,
			BatchOrder:       alloc.BatchOrder,
			RemainingInBatch: alloc.RemainingInBatch,
		})
	}
	return details
}

type StockValidation struct {
	ProductID      string           `json:"product_id"`
	Requested      decimal.Decimal  `json:"requested"`
	TotalAvailable decimal.Decimal  `json:"total_available"`
	IsValid        bool             `json:"is_valid"`
	LowStock       bool             `json:"low_stock"`
	Batches        []InventoryBatch `json:"batches"`
}

type DeductionRequest struct {
	ProductID     string
	Quantity      decimal.Decimal
	OrderID       string
	OrderDetailID string
	IsOffline     bool
	ActorID       string
	SyncStatus    DeductionSyncStatus
}

// OperationContext is the explicit caller identity every core operation
// receives. It replaces any ambient "current user" lookups.
type OperationContext struct {
	ActorID   string `json:"actor_id"`
	CompanyID string `json:"company_id"`
	StoreID   string `json:"store_id"`
	DeviceID  string `json:"device_id"`
}

type CartItem struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`
	VATRate   decimal.Decimal `json:"vat_rate"`
}

type ItemDiscrepancy struct {
	OrderItemID       string          `json:"order_item_id"`
	ProductID         string          `json:"product_id"`
	ExpectedQuantity  decimal.Decimal `json:"expected_quantity"`
	ActualQuantity    decimal.Decimal `json:"actual_quantity"`
	MissingQuantity   decimal.Decimal `json:"missing_quantity"`
	RecommendedAction string          `json:"recommended_action"`
	Reason            string          `json:"reason,omitempty"`
}

const (
	ActionCancelOrder      = "CANCEL_ORDER"
	ActionManualAdjustment = "MANUAL_ADJUSTMENT"
	ActionInventoryRecount = "INVENTORY_RECOUNT"
)

type OrderItem struct {
	ID                 string                 `json:"id"`
	ProductID          string                 `json:"product_id"`
	Name               string                 `json:"name"`
	StockTracked       bool                   `json:"stock_tracked"`
	Quantity           decimal.Decimal        `json:"quantity"`
	Price              decimal.Decimal        `json:"price"`
	Discount           decimal.Decimal        `json:"discount"`
	VAT                decimal.Decimal        `json:"vat"`
	Total              decimal.Decimal        `json:"total"`
	BatchDeductions    []BatchDeductionDetail `json:"batch_deductions"`
	SyncStatus         SyncStatus             `json:"sync_status"`
	AdjustmentRequired bool                   `json:"adjustment_required"`
	Discrepancy        *ItemDiscrepancy       `json:"discrepancy,omitempty"`
}

type Order struct {
	ID                  string          `json:"id"`
	StoreID             string          `json:"store_id"`
	CompanyID           string          `json:"company_id"`
	DeviceID            string          `json:"device_id"`
	CreatedBy           string          `json:"created_by"`
	Items               []OrderItem     `json:"items"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	Tax                 decimal.Decimal `json:"tax"`
	Discount            decimal.Decimal `json:"discount"`
	Total               decimal.Decimal `json:"total"`
	IsOffline           bool            `json:"is_offline"`
	SyncStatus          SyncStatus      `json:"sync_status"`
	BatchNumber         int64           `json:"batch_number"`
	SyncAttempts        int             `json:"sync_attempts"`
	LastSyncError       string          `json:"last_sync_error,omitempty"`
	AdjustmentRequired  bool            `json:"adjustment_required"`
	InventoryProcessed  bool            `json:"inventory_processed"`
	LedgerProcessed     bool            `json:"ledger_processed"`
	NeedsReconciliation bool            `json:"needs_reconciliation"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	SyncedAt            *time.Time      `json:"synced_at,omitempty"`
	ReconciledAt        *time.Time      `json:"reconciled_at,omitempty"`
}

const (
	ResolutionApprove        = "APPROVE"
	ResolutionPartialApprove = "PARTIAL_APPROVE"
	ResolutionCancel         = "CANCEL"
)

type ItemResolution struct {
	OrderItemID      string          `json:"order_item_id"`
	Action           string          `json:"action"`
	AdjustedQuantity decimal.Decimal `json:"adjusted_quantity"`
	Note             string          `json:"note,omitempty"`
}

type SyncResult struct {
	OrderID       string            `json:"order_id"`
	Success       bool              `json:"success"`
	Status        SyncStatus        `json:"status"`
	Skipped       bool              `json:"skipped,omitempty"`
	Discrepancies []ItemDiscrepancy `json:"discrepancies,omitempty"`
	Notes         []string          `json:"notes,omitempty"`
	Error         string            `json:"error,omitempty"`
}

type SyncSummary struct {
	Total    int          `json:"total"`
	Synced   int          `json:"synced"`
	Adjusted int          `json:"adjusted"`
	Failed   int          `json:"failed"`
	Results  []SyncResult `json:"results"`
}

const (
	TrackingPending    = "pending"
	TrackingProcessing = "processing"
	TrackingCompleted  = "completed"
	TrackingCancelled  = "cancelled"
)

// SellingTrackingEntry is the per-line sales fact.
type SellingTrackingEntry struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	OrderItemID  string          `json:"order_item_id"`
	StoreID      string          `json:"store_id"`
	CompanyID    string          `json:"company_id"`
	ProductID    string          `json:"product_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	IsOffline    bool            `json:"is_offline"`
	StockTracked bool            `json:"stock_tracked"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

const (
	LedgerEventSale      = "sale"
	LedgerStatusComplete = "completed"
	LedgerSourceOrder    = "order"
	LedgerSourceRecon    = "reconciliation"
)

type LedgerEntry struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	StoreID   string          `json:"store_id"`
	CompanyID string          `json:"company_id"`
	EventType string          `json:"event_type"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Quantity  decimal.Decimal `json:"quantity"`
	Source    string          `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}
