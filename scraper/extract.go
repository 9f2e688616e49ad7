package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Field maps one cell of a scraped row onto T. Selector is relative to the
// row (empty means the row itself). With Attr set the attribute value is read,
// otherwise the trimmed text. present is false when the element or the
// attribute is missing.
type Field[T any] struct {
	Name     string
	Selector string
	Attr     string
	Parse    func(item *T, value string, present bool)
}

// ScrapeRows applies fields to every element matching rowSelector under root,
// in document order.
func ScrapeRows[T any](root *goquery.Selection, rowSelector string, fields []Field[T]) []T {
	rows := root.Find(rowSelector)
	items := make([]T, 0, rows.Length())

	rows.Each(func(_ int, row *goquery.Selection) {
		var item T
		for _, f := range fields {
			sel := row
			if f.Selector != "" {
				sel = row.Find(f.Selector).First()
			}

			var (
				value   string
				present bool
			)
			if f.Attr != "" {
				value, present = sel.Attr(f.Attr)
			} else {
				present = sel.Length() > 0
				value = strings.TrimSpace(sel.Text())
			}
			if f.Parse != nil {
				f.Parse(&item, value, present)
			}
		}
		items = append(items, item)
	})
	return items
}
