package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/aluiziolira/planete-oui-connector/models"
)

func sampleRecord() *models.BillingRecord {
	amount := 45.67
	return &models.BillingRecord{
		Date:        time.Date(2016, time.June, 1, 0, 0, 0, 0, time.UTC),
		Amount:      &amount,
		FileURL:     "https://www.planete-oui.fr/Espace-Client/doc/abc123",
		Currency:    "€",
		Vendor:      "Oui Energy",
		VendorRef:   "abc123",
		Filename:    "2016-06_planete-oui_45.67€.pdf",
		AccountRef:  "9f8e7d",
		AccountName: "Maison",
		Folder:      "bills/Maison",
		Metadata: models.Metadata{
			ImportDate: time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC),
			Version:    1,
		},
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "bills.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	noAmount := sampleRecord()
	noAmount.Amount = nil
	noAmount.VendorRef = "def456"

	if err := writer.Write([]*models.BillingRecord{sampleRecord(), noAmount}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	if records[0][0] != "date" || records[0][1] != "amount" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][0] != "2016-06-01" || records[1][1] != "45.67" || records[1][5] != "2016-06_planete-oui_45.67€.pdf" {
		t.Fatalf("unexpected row: %v", records[1])
	}
	if records[2][1] != "" {
		t.Fatalf("absent amount should be blank, got %q", records[2][1])
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bills.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	if err := writer.Write([]*models.BillingRecord{sampleRecord()}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded models.BillingRecord
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		if decoded.VendorRef != "abc123" || decoded.Metadata.Version != 1 {
			t.Fatalf("unexpected record: %+v", decoded)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if count != 1 {
		t.Fatalf("json lines=%d, want 1", count)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bills.csv")
	jsonPath := filepath.Join(dir, "bills.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.Write([]*models.BillingRecord{sampleRecord()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}

func TestDualWriterValidateNamesFailingOutput(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bills.csv")
	jsonPath := filepath.Join(dir, "bills.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write([]*models.BillingRecord{sampleRecord()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.log.Close(); err != nil {
		t.Fatalf("close jsonl output: %v", err)
	}

	err = writer.Validate()
	if err == nil {
		t.Fatalf("expected validation error for closed jsonl output")
	}
	if !strings.Contains(err.Error(), "validate jsonl output") || strings.Contains(err.Error(), "validate csv output") {
		t.Fatalf("validation error = %v", err)
	}
}

func TestXLSXWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bills.xlsx")

	writer, err := NewXLSXWriter(path)
	if err != nil {
		t.Fatalf("create xlsx writer: %v", err)
	}
	if err := writer.Write([]*models.BillingRecord{sampleRecord()}); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate xlsx: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close xlsx: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d, want 2", len(rows))
	}
	if rows[1][4] != "abc123" {
		t.Fatalf("vendor ref cell = %q, want abc123", rows[1][4])
	}
}

func TestEnsureFolderIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b")
	for i := 0; i < 2; i++ {
		if err := EnsureFolder(path); err != nil {
			t.Fatalf("ensure folder (pass %d): %v", i, err)
		}
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		t.Fatalf("folder not created: %v", err)
	}
}

func TestAccountFolderSameNameDistinctAccounts(t *testing.T) {
	a := AccountFolder("root", &models.Account{ID: "9f8e7d", Name: "Maison"})
	b := AccountFolder("root", &models.Account{ID: "abc123", Name: "Maison"})
	if a == b {
		t.Fatalf("accounts with the same name share folder %q", a)
	}
}

func TestAccountFolder(t *testing.T) {
	tests := []struct {
		name    string
		account *models.Account
		want    string
	}{
		{name: "no account", account: nil, want: "root"},
		{name: "named", account: &models.Account{ID: "9f8e7d", Name: "  Maison   principale "}, want: filepath.Join("root", "Maison principale (9f8e7d)")},
		{name: "separators replaced", account: &models.Account{ID: "1", Name: "Lot 3/B"}, want: filepath.Join("root", "Lot 3-B (1)")},
		{name: "id fallback", account: &models.Account{ID: "9f8e7d"}, want: filepath.Join("root", "9f8e7d")},
		{name: "name only", account: &models.Account{Name: "Garage"}, want: filepath.Join("root", "Garage")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AccountFolder("root", tt.account); got != tt.want {
				t.Fatalf("AccountFolder() = %q, want %q", got, tt.want)
			}
		})
	}
}
