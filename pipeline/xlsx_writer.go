package pipeline

import (
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/aluiziolira/planete-oui-connector/models"
)

const xlsxSheet = "Bills"

// XLSXWriter keeps a workbook in memory and saves it after every batch.
type XLSXWriter struct {
	path string
	file *excelize.File
	row  int
	mu   sync.Mutex
}

// NewXLSXWriter creates the workbook with its header row and saves it once.
func NewXLSXWriter(filename string) (*XLSXWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(csvHeader))
	for i, h := range csvHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}
	if err := f.SaveAs(filename); err != nil {
		f.Close()
		return nil, fmt.Errorf("save xlsx file: %w", err)
	}

	return &XLSXWriter{path: filename, file: f, row: 1}, nil
}

// Write appends one row per record and saves the workbook.
func (xw *XLSXWriter) Write(records []*models.BillingRecord) error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	for _, r := range records {
		xw.row++
		cell, err := excelize.CoordinatesToCellName(1, xw.row)
		if err != nil {
			return fmt.Errorf("xlsx cell name: %w", err)
		}

		var amount interface{}
		if r.Amount != nil {
			amount = *r.Amount
		}
		values := []interface{}{
			r.Date.Format("2006-01-02"), amount, r.Currency, r.Vendor, r.VendorRef,
			r.Filename, r.FileURL, r.AccountRef, r.AccountName, r.Folder,
			r.Metadata.ImportDate.Format("2006-01-02T15:04:05Z07:00"), r.Metadata.Version,
		}
		if err := xw.file.SetSheetRow(xlsxSheet, cell, &values); err != nil {
			return fmt.Errorf("write xlsx row: %w", err)
		}
	}

	if err := xw.file.SaveAs(xw.path); err != nil {
		return fmt.Errorf("save xlsx file: %w", err)
	}
	return nil
}

// Close releases the workbook.
func (xw *XLSXWriter) Close() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()
	return xw.file.Close()
}

// Validate ensures the workbook exists on disk.
func (xw *XLSXWriter) Validate() error {
	info, err := os.Stat(xw.path)
	if err != nil {
		return fmt.Errorf("stat xlsx file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("xlsx file is empty")
	}
	return nil
}
