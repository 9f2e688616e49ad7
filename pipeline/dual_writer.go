package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/planete-oui-connector/models"
)

// DualWriter sends every batch to a CSV sheet and a JSONL log of the same records.
type DualWriter struct {
	mu    sync.Mutex
	sheet *CSVWriter
	log   *JSONWriter
}

// NewDualWriter opens both outputs. A failure on the second closes the first.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	sheet, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("open csv output: %w", err)
	}

	log, err := NewJSONWriter(jsonFilename)
	if err != nil {
		sheet.Close()
		return nil, fmt.Errorf("open jsonl output: %w", err)
	}

	return &DualWriter{sheet: sheet, log: log}, nil
}

// Write appends records to both outputs, CSV first.
func (dw *DualWriter) Write(records []*models.BillingRecord) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.sheet.Write(records); err != nil {
		return fmt.Errorf("write csv bills: %w", err)
	}
	if err := dw.log.Write(records); err != nil {
		return fmt.Errorf("write jsonl bills: %w", err)
	}
	return nil
}

// Close flushes and closes both outputs, reporting every failure.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	return errors.Join(
		wrapErr("close csv output", dw.sheet.Close()),
		wrapErr("close jsonl output", dw.log.Close()),
	)
}

// Validate checks that both files were produced.
func (dw *DualWriter) Validate() error {
	return errors.Join(
		wrapErr("validate csv output", dw.sheet.Validate()),
		wrapErr("validate jsonl output", dw.log.Validate()),
	)
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
