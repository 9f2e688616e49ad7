package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/aluiziolira/planete-oui-connector/models"
	"github.com/aluiziolira/planete-oui-connector/parser"
)

const accountSelector = "a[href*='site=']"

var accountFields = []Field[models.Account]{
	{
		Name: "href",
		Attr: "href",
		Parse: func(a *models.Account, value string, _ bool) {
			a.Href = strings.TrimSpace(value)
			a.ID, _ = parser.ExtractAccountID(a.Href)
		},
	},
	{
		Name: "name",
		Parse: func(a *models.Account, value string, _ bool) {
			a.Name = strings.Join(strings.Fields(value), " ")
		},
	},
}

// ListAccounts reads the sub-accounts linked from the landing page.
func (s *Session) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	doc, _, err := s.Fetch(ctx, s.URL(accountsPath))
	if err != nil {
		return nil, fmt.Errorf("load accounts page: %w", err)
	}

	accounts := ScrapeRows(doc.Selection, accountSelector, accountFields)

	seen := make(map[string]struct{}, len(accounts))
	out := make([]*models.Account, 0, len(accounts))
	for i := range accounts {
		a := accounts[i]
		if a.ID == "" {
			continue
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, &a)
	}
	return out, nil
}
