package parser

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/planete-oui-connector/models"
)

// Drop reasons reported in Stats.Dropped.
const (
	DropMissingLink = "missing_link"
	DropInvalidDate = "invalid_date"
)

// Stats summarises one Assemble call.
type Stats struct {
	Rows           int
	Emitted        int
	Dropped        map[string]int
	InvalidAmounts int
}

// Assembler builds BillingRecords from raw rows of a single account.
type Assembler struct {
	BaseURL string
	// MultiAccount embeds the amount in filenames and links records to their account.
	MultiAccount bool
	Now          func() time.Time
}

// NewAssembler returns an assembler stamping records with the wall clock.
func NewAssembler(baseURL string, multiAccount bool) *Assembler {
	return &Assembler{
		BaseURL:      baseURL,
		MultiAccount: multiAccount,
		Now:          time.Now,
	}
}

// Assemble normalizes rows in order. Rows without a link or with an unparseable
// date are dropped; an unparseable amount leaves the record without an amount.
func (a *Assembler) Assemble(account *models.Account, folder string, rows []models.RawRow) ([]*models.BillingRecord, Stats) {
	stats := Stats{Rows: len(rows), Dropped: make(map[string]int)}
	records := make([]*models.BillingRecord, 0, len(rows))
	importDate := a.now()

	for _, row := range rows {
		fileURL := ResolveLink(a.BaseURL, row.Link)
		if fileURL == nil {
			stats.Dropped[DropMissingLink]++
			continue
		}

		date, err := NormalizeDate(row.DateText)
		if err != nil {
			stats.Dropped[DropInvalidDate]++
			slog.Warn("dropping row with unparseable date",
				slog.String("date", row.DateText),
				slog.String("url", *fileURL),
				slog.Any("error", err),
			)
			continue
		}

		amount, err := NormalizeAmount(row.AmountText)
		if err != nil {
			stats.InvalidAmounts++
			slog.Debug("amount not parsed", slog.String("amount", row.AmountText), slog.Any("error", err))
		}

		record := &models.BillingRecord{
			Date:      date,
			Amount:    amount,
			FileURL:   *fileURL,
			Currency:  Currency,
			Vendor:    Vendor,
			VendorRef: VendorRef(*fileURL),
			Filename:  Filename(date, amount, a.MultiAccount),
			Folder:    folder,
			Metadata: models.Metadata{
				ImportDate: importDate,
				Version:    SchemaVersion,
			},
		}
		if a.MultiAccount && account != nil {
			record.AccountRef = account.ID
			record.AccountName = account.Name
		}
		records = append(records, record)
	}

	stats.Emitted = len(records)
	return records, stats
}

func (a *Assembler) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

// ValidateRecord ensures a record carries what the sink needs.
func ValidateRecord(r *models.BillingRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if r.FileURL == "" {
		return fmt.Errorf("record missing file url")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("record missing date for %s", r.FileURL)
	}
	if r.Filename == "" {
		return fmt.Errorf("record missing filename for %s", r.FileURL)
	}
	return nil
}
