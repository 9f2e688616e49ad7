package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aluiziolira/planete-oui-connector/models"
)

const billRowSelector = ".tableFacturation tbody tr"

var billFields = []Field[models.RawRow]{
	{
		Name:     "date",
		Selector: "td:nth-child(1)",
		Parse: func(row *models.RawRow, value string, _ bool) {
			row.DateText = value
		},
	},
	{
		Name:     "fileurl",
		Selector: "a",
		Attr:     "href",
		Parse: func(row *models.RawRow, value string, present bool) {
			if present && strings.TrimSpace(value) != "" {
				row.Link = &value
			}
		},
	},
	{
		Name:     "amount",
		Selector: "td:nth-child(3)",
		Parse: func(row *models.RawRow, value string, _ bool) {
			row.AmountText = value
		},
	},
}

// FetchBills switches the session to account, when given, and scrapes the
// billing-history table.
func (s *Session) FetchBills(ctx context.Context, account *models.Account) ([]models.RawRow, error) {
	if account != nil && account.Href != "" {
		landing, err := url.Parse(s.URL(accountsPath))
		if err != nil {
			return nil, fmt.Errorf("parse accounts url: %w", err)
		}
		target := s.resolve(landing, account.Href)
		if _, _, err := s.Fetch(ctx, target); err != nil {
			return nil, fmt.Errorf("select account %s: %w", account.ID, err)
		}
	}

	doc, _, err := s.Fetch(ctx, s.URL(billsPath))
	if err != nil {
		return nil, fmt.Errorf("load bills page: %w", err)
	}
	return ScrapeRows(doc.Selection, billRowSelector, billFields), nil
}
