package reconciliation

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"kasirsync/backend/internal/domain"
)

const sheetName = "Discrepancies"

var workbookHeaders = []any{
	"Date", "Order", "Store", "Severity", "Priority",
	"Tracking Amount", "Ledger Amount", "Amount Diff",
	"Tracking Qty", "Ledger Qty", "Qty Diff",
	"Ledger Exists", "Inventory Processed", "Actions", "Notes",
}

// WriteWorkbook renders discrepancies as a single-sheet xlsx report.
func WriteWorkbook(w io.Writer, discrepancies []domain.ReconciliationDiscrepancy) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheetName, "A1", &workbookHeaders); err != nil {
		return err
	}

	for i, d := range discrepancies {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		actions := make([]string, 0, len(d.Actions))
		for _, a := range d.Actions {
			actions = append(actions, a.Type)
		}
		row := []any{
			d.Date, d.OrderID, d.StoreID, string(d.Severity), d.Priority,
			d.TrackingAmount.InexactFloat64(), d.LedgerAmount.InexactFloat64(), d.AmountDiscrepancy.InexactFloat64(),
			d.TrackingQuantity.InexactFloat64(), d.LedgerQuantity.InexactFloat64(), d.QuantityDiscrepancy.InexactFloat64(),
			d.LedgerExists, d.InventoryProcessed,
			strings.Join(actions, ", "), strings.Join(d.Notes, "; "),
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}
