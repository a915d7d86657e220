// Package export renders documents as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"stockflow/internal/domain/sales"
)

// XLSXContentType is the MIME type of the workbooks written here.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const pickingSheet = "Picking"

var pickingHeadings = []string{"Product", "Flavor", "Size", "Lot", "Shelf", "Quantity"}

// WritePickingList writes one row per allocation, in picking order.
func WritePickingList(w io.Writer, documentNumber string, lines []sales.PickingLine) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", pickingSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	if err := f.SetCellValue(pickingSheet, "A1", "Picking list"); err != nil {
		return err
	}
	if err := f.SetCellValue(pickingSheet, "B1", documentNumber); err != nil {
		return err
	}
	if err := f.SetSheetRow(pickingSheet, "A3", &pickingHeadings); err != nil {
		return fmt.Errorf("write headings: %w", err)
	}

	for i, l := range lines {
		cell, err := excelize.CoordinatesToCellName(1, i+4)
		if err != nil {
			return err
		}
		row := []any{l.ProductName, l.Flavor, l.Size, l.LotNumber, l.Location, l.Quantity}
		if err := f.SetSheetRow(pickingSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.SetColWidth(pickingSheet, "A", "A", 32); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
