package parser

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/planete-oui-connector/models"
)

const testBaseURL = "https://www.planete-oui.fr"

func fixedClock() time.Time {
	return time.Date(2024, time.March, 3, 10, 0, 0, 0, time.UTC)
}

func link(s string) *string { return &s }

func newTestAssembler(multi bool) *Assembler {
	a := NewAssembler(testBaseURL, multi)
	a.Now = fixedClock
	return a
}

func TestAssembleScenarioFullRow(t *testing.T) {
	account := &models.Account{ID: "9f8e7d", Href: "Accueil?site=9f8e7d", Name: "Maison"}
	rows := []models.RawRow{
		{DateText: "Juin 2016", Link: link("/doc/abc123"), AmountText: "45.67€"},
	}

	records, stats := newTestAssembler(true).Assemble(account, "bills/Maison", rows)
	require.Len(t, records, 1)
	require.Equal(t, 1, stats.Emitted)

	r := records[0]
	require.Equal(t, time.Date(2016, time.June, 1, 0, 0, 0, 0, time.UTC), r.Date)
	require.NotNil(t, r.Amount)
	require.Equal(t, 45.67, *r.Amount)
	require.Equal(t, "https://www.planete-oui.fr/Espace-Client/doc/abc123", r.FileURL)
	require.Equal(t, "abc123", r.VendorRef)
	require.Equal(t, "2016-06_planete-oui_45.67€.pdf", r.Filename)
	require.Equal(t, "€", r.Currency)
	require.Equal(t, "Oui Energy", r.Vendor)
	require.Equal(t, "9f8e7d", r.AccountRef)
	require.Equal(t, "Maison", r.AccountName)
	require.Equal(t, "bills/Maison", r.Folder)
	require.Equal(t, fixedClock(), r.Metadata.ImportDate)
	require.Equal(t, SchemaVersion, r.Metadata.Version)
}

func TestAssembleScenarioMissingLinkDropped(t *testing.T) {
	rows := []models.RawRow{
		{DateText: "Mars 2020", Link: nil, AmountText: "__.__€"},
	}

	records, stats := newTestAssembler(true).Assemble(nil, "bills", rows)
	require.Empty(t, records)
	require.Equal(t, 1, stats.Dropped[DropMissingLink])
}

func TestAssembleFilteringInvariant(t *testing.T) {
	months := []string{"Janvier", "Février", "Mars", "Avril", "Mai", "Juin"}
	rows := make([]models.RawRow, 0, 30)
	withLink := 0
	for i := 0; i < 30; i++ {
		row := models.RawRow{
			DateText:   fmt.Sprintf("%s %d", months[i%len(months)], 2015+i%5),
			AmountText: fmt.Sprintf("%d.%02d€", i, i),
		}
		switch i % 3 {
		case 0:
			row.Link = link(fmt.Sprintf("/doc/%d", i))
			withLink++
		case 1:
			row.Link = link("")
		}
		rows = append(rows, row)
	}

	records, stats := newTestAssembler(true).Assemble(nil, "bills", rows)
	require.Len(t, records, withLink)
	require.Equal(t, len(rows)-withLink, stats.Dropped[DropMissingLink])
	for _, r := range records {
		require.NoError(t, ValidateRecord(r))
	}
}

func TestAssembleRejectsUnknownMonth(t *testing.T) {
	rows := []models.RawRow{
		{DateText: "Juno 2016", Link: link("/doc/1"), AmountText: "1.00€"},
		{DateText: "Juin 2016", Link: link("/doc/2"), AmountText: "2.00€"},
	}

	records, stats := newTestAssembler(true).Assemble(nil, "bills", rows)
	require.Len(t, records, 1)
	require.Equal(t, "2", records[0].VendorRef)
	require.Equal(t, 1, stats.Dropped[DropInvalidDate])
}

func TestAssembleKeepsRecordWithUnparseableAmount(t *testing.T) {
	rows := []models.RawRow{
		{DateText: "Mai 2022", Link: link("/doc/9"), AmountText: "n/a"},
	}

	records, stats := newTestAssembler(true).Assemble(nil, "bills", rows)
	require.Len(t, records, 1)
	require.Nil(t, records[0].Amount)
	require.Equal(t, "2022-05_planete-oui.pdf", records[0].Filename)
	require.Equal(t, 1, stats.InvalidAmounts)
}

func TestAssembleFilenameDeterministic(t *testing.T) {
	rows := []models.RawRow{
		{DateText: "Octobre 2023", Link: link("/doc/x1"), AmountText: "61.20€"},
		{DateText: "Octobre 2023", Link: link("/doc/x2"), AmountText: "12.00€"},
	}

	first, _ := NewAssembler(testBaseURL, true).Assemble(nil, "bills", rows)
	second, _ := NewAssembler(testBaseURL, true).Assemble(nil, "bills", rows)
	require.Len(t, second, len(first))
	for i := range first {
		require.Equal(t, first[i].Filename, second[i].Filename)
		require.Equal(t, first[i].VendorRef, second[i].VendorRef)
	}
	require.NotEqual(t, first[0].Filename, first[1].Filename)
}

func TestAssembleSingleAccountVariant(t *testing.T) {
	account := &models.Account{ID: "abc", Name: "ignored"}
	rows := []models.RawRow{
		{DateText: "Juin 2016", Link: link("/doc/abc123"), AmountText: "45.67€"},
	}

	records, _ := newTestAssembler(false).Assemble(account, "bills", rows)
	require.Len(t, records, 1)
	require.Equal(t, "2016-06-planete-oui.pdf", records[0].Filename)
	require.Empty(t, records[0].AccountRef)
	require.Empty(t, records[0].AccountName)
}

func TestValidateRecord(t *testing.T) {
	valid := &models.BillingRecord{
		Date:     time.Date(2016, time.June, 1, 0, 0, 0, 0, time.UTC),
		FileURL:  testBaseURL + "/Espace-Client/doc/1",
		Filename: "2016-06_planete-oui.pdf",
	}
	require.NoError(t, ValidateRecord(valid))
	require.Error(t, ValidateRecord(nil))
	require.Error(t, ValidateRecord(&models.BillingRecord{Date: valid.Date, Filename: valid.Filename}))
	require.Error(t, ValidateRecord(&models.BillingRecord{FileURL: valid.FileURL, Filename: valid.Filename}))
	require.Error(t, ValidateRecord(&models.BillingRecord{Date: valid.Date, FileURL: valid.FileURL}))
}
