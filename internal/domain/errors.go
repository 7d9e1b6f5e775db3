package domain

import "errors"

var (
	ErrInsufficientStock          = errors.New("insufficient stock")
	ErrInsufficientBatchQuantity  = errors.New("insufficient batch quantity")
	ErrBatchNotFound              = errors.New("batch not found")
	ErrOfflineDeductionNotAllowed = errors.New("offline deduction not allowed")
	ErrCannotFulfillOfflinePlan   = errors.New("cannot fulfill offline plan")
	ErrOrderNotPendingAdjustment  = errors.New("order not pending adjustment")
	ErrInventoryUnavailable       = errors.New("inventory unavailable")
	ErrNotAuthenticated           = errors.New("not authenticated")
	ErrNoCompanyPermission        = errors.New("no company permission")
	ErrNetworkOffline             = errors.New("network offline")
	ErrInvalidRequest             = errors.New("invalid request")
	ErrLedgerExists               = errors.New("ledger entry already exists")
)
