// Package models defines data structures for the connector.
package models

import "time"

// RawRow is one scraped row of the billing-history table, before normalization.
type RawRow struct {
	DateText   string
	Link       *string
	AmountText string
}

// Account is a sub-account (site) listed on the customer portal landing page.
type Account struct {
	ID   string `json:"id"`
	Href string `json:"href"`
	Name string `json:"name"`
}

// Metadata carries import bookkeeping attached to every record.
type Metadata struct {
	ImportDate time.Time `json:"importDate"`
	Version    int       `json:"version"`
}

// BillingRecord is a normalized bill ready for the sink.
type BillingRecord struct {
	Date        time.Time `csv:"date" json:"date"`
	Amount      *float64  `csv:"amount" json:"amount,omitempty"`
	FileURL     string    `csv:"fileurl" json:"fileurl"`
	Currency    string    `csv:"currency" json:"currency"`
	Vendor      string    `csv:"vendor" json:"vendor"`
	VendorRef   string    `csv:"vendor_ref" json:"vendorRef"`
	Filename    string    `csv:"filename" json:"filename"`
	AccountRef  string    `csv:"account_ref" json:"accountRef,omitempty"`
	AccountName string    `csv:"account_name" json:"accountName,omitempty"`
	Folder      string    `csv:"folder" json:"folder"`
	Metadata    Metadata  `csv:"-" json:"metadata"`
}

// DedupeKey identifies the underlying document across scrapes.
func (r *BillingRecord) DedupeKey() string {
	if r.VendorRef != "" {
		return r.VendorRef
	}
	return r.Filename
}

// RunResult holds the overall result of a connector run.
type RunResult struct {
	StartTime      time.Time
	EndTime        time.Time
	Accounts       int
	RowsScraped    int
	RecordsEmitted int
	Downloaded     int
	AlreadyPresent int
	Dropped        map[string]int
	RequestCount   int
	ErrorCount     int
	ErrorsByType   map[string]int
}
