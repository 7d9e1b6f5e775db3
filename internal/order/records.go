package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"kasirsync/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// TrackingID is stable per order line so later status changes overwrite the
// same sales fact instead of adding a second one.
func TrackingID(itemID string) string {
	return "trk-" + itemID
}

// TrackingEntries builds one sales fact per order line.
func TrackingEntries(o domain.Order, status string, at time.Time) []domain.SellingTrackingEntry {
	entries := make([]domain.SellingTrackingEntry, 0, len(o.Items))
	for _, item := range o.Items {
		entries = append(entries, domain.SellingTrackingEntry{
			ID:           TrackingID(item.ID),
			OrderID:      o.ID,
			OrderItemID:  item.ID,
			StoreID:      o.StoreID,
			CompanyID:    o.CompanyID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			Amount:       item.Total,
			Status:       status,
			IsOffline:    o.IsOffline,
			StockTracked: item.StockTracked,
			CreatedAt:    o.CreatedAt,
			UpdatedAt:    at,
		})
	}
	return entries
}

// LedgerEntry summarises the order as a single completed sale event.
func LedgerEntry(o domain.Order, source string, at time.Time) domain.LedgerEntry {
	qty := decimal.Zero
	for _, item := range o.Items {
		qty = qty.Add(item.Quantity)
	}
	return domain.LedgerEntry{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		StoreID:   o.StoreID,
		CompanyID: o.CompanyID,
		EventType: domain.LedgerEventSale,
		Status:    domain.LedgerStatusComplete,
		Amount:    o.Total,
		Quantity:  qty,
		Source:    source,
		CreatedAt: at,
	}
}

// RecomputeTotals derives the order header amounts from its lines.
func RecomputeTotals(o *domain.Order) {
	subtotal := decimal.Zero
	discount := decimal.Zero
	tax := decimal.Zero
	total := decimal.Zero
	for _, item := range o.Items {
		subtotal = subtotal.Add(item.Quantity.Mul(item.Price))
		discount = discount.Add(item.Discount)
		tax = tax.Add(item.VAT)
		total = total.Add(item.Total)
	}
	o.Subtotal = subtotal
	o.Discount = discount
	o.Tax = tax
	o.Total = total
}

// PriceLine fills Price, Discount, VAT and Total for a line. The discount is an
// absolute amount capped at the gross; vatRate is a percentage of the net.
func PriceLine(item *domain.OrderItem, price decimal.Decimal, discount decimal.Decimal, vatRate decimal.Decimal) {
	gross := item.Quantity.Mul(price)
	discount = decimal.Min(discount, gross)
	net := gross.Sub(discount)
	vat := net.Mul(vatRate).Div(hundred).Round(2)

	item.Price = price
	item.Discount = discount
	item.VAT = vat
	item.Total = net.Add(vat)
}

// RescaleLine changes a line's quantity and scales discount and VAT in the
// same proportion. A zero quantity zeroes the line.
func RescaleLine(item *domain.OrderItem, qty decimal.Decimal) {
	if !qty.IsPositive() {
		item.Quantity = decimal.Zero
		item.Discount = decimal.Zero
		item.VAT = decimal.Zero
		item.Total = decimal.Zero
		item.BatchDeductions = nil
		return
	}
	if item.Quantity.IsZero() {
		item.Quantity = qty
		PriceLine(item, item.Price, decimal.Zero, decimal.Zero)
		return
	}
	ratio := qty.Div(item.Quantity)
	item.Quantity = qty
	item.Discount = item.Discount.Mul(ratio).Round(2)
	item.VAT = item.VAT.Mul(ratio).Round(2)
	item.Total = qty.Mul(item.Price).Sub(item.Discount).Add(item.VAT)
}
