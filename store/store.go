// Package store persists bills in SQLite and links them to bank operations.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aluiziolira/planete-oui-connector/models"
)

//go:embed schema.sql
var schema string

const dateLayout = "2006-01-02"

// matchWindow is how long after the billing month a debit can still match.
const matchWindow = 3

// amountTolerance absorbs float rounding between bill and bank amounts.
const amountTolerance = 0.005

// BankOperation is a bank transaction bills are matched against.
type BankOperation struct {
	ID     int64
	Label  string
	Amount float64
	Date   time.Time
}

// Stats counts what the store did during the current run.
type Stats struct {
	Inserted   int
	Duplicates int
	Matched    int
}

// BillStore is a pipeline sink backed by SQLite.
type BillStore struct {
	ctx         context.Context
	db          *sql.DB
	identifiers []string
	runID       string

	mu    sync.Mutex
	stats Stats
}

// Open opens (or creates) the database at path and applies the schema.
// identifiers are matched case-insensitively against bank operation labels.
func Open(ctx context.Context, path string, identifiers []string) (*BillStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	lowered := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			lowered = append(lowered, id)
		}
	}

	return &BillStore{
		ctx:         ctx,
		db:          db,
		identifiers: lowered,
		runID:       uuid.NewString(),
	}, nil
}

// RunID identifies the import run that inserted bills in this session.
func (s *BillStore) RunID() string {
	return s.runID
}

// Write inserts new bills, skips ones already stored, and links every bill
// to the matching bank operations it is not linked to yet.
func (s *BillStore) Write(records []*models.BillingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(s.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var inserted []*models.BillingRecord
	duplicates := 0
	for _, r := range records {
		var amount sql.NullFloat64
		if r.Amount != nil {
			amount = sql.NullFloat64{Float64: *r.Amount, Valid: true}
		}
		res, err := tx.ExecContext(s.ctx, `
			INSERT INTO bills (dedupe_key, vendor_ref, filename, folder, date, amount, currency, vendor,
				file_url, account_ref, account_name, import_date, version, import_run)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (dedupe_key) DO NOTHING`,
			r.DedupeKey(), r.VendorRef, r.Filename, r.Folder, r.Date.Format(dateLayout), amount,
			r.Currency, r.Vendor, r.FileURL, r.AccountRef, r.AccountName,
			r.Metadata.ImportDate.UTC().Format(time.RFC3339), r.Metadata.Version, s.runID,
		)
		if err != nil {
			return fmt.Errorf("insert bill %s: %w", r.DedupeKey(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			duplicates++
		} else {
			inserted = append(inserted, r)
		}
	}

	// Stored bills are relinked as well; operations can arrive after the bill.
	matched := 0
	for _, r := range records {
		n, err := s.linkOperations(tx, r)
		if err != nil {
			return err
		}
		matched += n
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bills: %w", err)
	}

	s.stats.Inserted += len(inserted)
	s.stats.Duplicates += duplicates
	s.stats.Matched += matched
	slog.Debug("stored bills",
		slog.Int("inserted", len(inserted)),
		slog.Int("duplicates", duplicates),
		slog.Int("matched_operations", matched),
	)
	return nil
}

func (s *BillStore) linkOperations(tx *sql.Tx, r *models.BillingRecord) (int, error) {
	if r.Amount == nil || len(s.identifiers) == 0 {
		return 0, nil
	}

	rows, err := tx.QueryContext(s.ctx, `
		SELECT id, label FROM bank_operations
		WHERE abs(abs(amount) - ?) < ? AND date >= ? AND date < ?`,
		*r.Amount, amountTolerance,
		r.Date.Format(dateLayout), r.Date.AddDate(0, matchWindow, 0).Format(dateLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("query bank operations: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var (
			id    int64
			label string
		)
		if err := rows.Scan(&id, &label); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan bank operation: %w", err)
		}
		if s.labelMatches(label) {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate bank operations: %w", err)
	}
	rows.Close()

	linked := 0
	for _, id := range ids {
		res, err := tx.ExecContext(s.ctx,
			`INSERT OR IGNORE INTO bill_operations (dedupe_key, operation_id) VALUES (?, ?)`,
			r.DedupeKey(), id,
		)
		if err != nil {
			return 0, fmt.Errorf("link bill %s to operation %d: %w", r.DedupeKey(), id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		linked += int(n)
	}
	return linked, nil
}

func (s *BillStore) labelMatches(label string) bool {
	label = strings.ToLower(label)
	for _, id := range s.identifiers {
		if strings.Contains(label, id) {
			return true
		}
	}
	return false
}

// AddOperation records a bank operation. Operations are normally imported by
// the host platform; this is used to seed the table.
func (s *BillStore) AddOperation(ctx context.Context, op BankOperation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bank_operations (label, amount, date) VALUES (?, ?, ?)`,
		op.Label, op.Amount, op.Date.Format(dateLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("insert bank operation: %w", err)
	}
	return res.LastInsertId()
}

// Operations returns the bank operations linked to the bill with dedupeKey.
func (s *BillStore) Operations(ctx context.Context, dedupeKey string) ([]BankOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.label, o.amount, o.date FROM bank_operations o
		JOIN bill_operations bo ON bo.operation_id = o.id
		WHERE bo.dedupe_key = ?
		ORDER BY o.id`, dedupeKey)
	if err != nil {
		return nil, fmt.Errorf("query linked operations: %w", err)
	}
	defer rows.Close()

	var ops []BankOperation
	for rows.Next() {
		var (
			op   BankOperation
			date string
		)
		if err := rows.Scan(&op.ID, &op.Label, &op.Amount, &date); err != nil {
			return nil, fmt.Errorf("scan linked operation: %w", err)
		}
		if op.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("parse operation date %q: %w", date, err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Count returns the number of stored bills.
func (s *BillStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM bills`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count bills: %w", err)
	}
	return n, nil
}

// Stats returns the counters for this session.
func (s *BillStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Validate checks the database is still reachable.
func (s *BillStore) Validate() error {
	if err := s.db.PingContext(s.ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *BillStore) Close() error {
	return s.db.Close()
}
