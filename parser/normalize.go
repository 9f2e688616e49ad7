// Package parser turns scraped billing rows into normalized records.
package parser

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// Vendor is the supplier name attached to every record.
	Vendor = "Oui Energy"
	// VendorSlug is the vendor token used in filenames.
	VendorSlug = "planete-oui"
	// Currency is the portal's only currency.
	Currency = "€"
	// SchemaVersion is bumped whenever the record layout changes.
	SchemaVersion = 1
	// AmountPlaceholder is what the portal shows for bills without an amount yet.
	AmountPlaceholder = "__.__€"

	clientAreaPath = "/Espace-Client/"
)

var (
	// ErrUnknownMonth is returned for month names outside the French table.
	ErrUnknownMonth = errors.New("parser: unknown month name")
	// ErrInvalidDate is returned when the text is not "<Month> <Year>".
	ErrInvalidDate = errors.New("parser: invalid date")
	// ErrInvalidAmount is returned when an amount cell cannot be parsed.
	ErrInvalidAmount = errors.New("parser: invalid amount")
)

// frenchMonths is keyed by the lower-cased, accent-folded month name.
var frenchMonths = map[string]time.Month{
	"janvier":   time.January,
	"fevrier":   time.February,
	"mars":      time.March,
	"avril":     time.April,
	"mai":       time.May,
	"juin":      time.June,
	"juillet":   time.July,
	"aout":      time.August,
	"septembre": time.September,
	"octobre":   time.October,
	"novembre":  time.November,
	"decembre":  time.December,
}

var siteIDPattern = regexp.MustCompile(`site=([0-9a-fA-F]+)`)

// NormalizeDate converts "Juin 2016" into 2016-06-01T00:00:00Z.
func NormalizeDate(text string) (time.Time, error) {
	parts := strings.Fields(text)
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, text)
	}

	month, ok := frenchMonths[foldMonth(parts[0])]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownMonth, parts[0])
	}

	year, err := strconv.Atoi(parts[1])
	if err != nil || year < 1 || year > 9999 {
		return time.Time{}, fmt.Errorf("%w: year %q", ErrInvalidDate, parts[1])
	}

	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), nil
}

func foldMonth(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	return strings.ToLower(folded)
}

// NormalizeAmount parses "45.67€". The placeholder yields a nil amount and no error.
func NormalizeAmount(text string) (*float64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == AmountPlaceholder {
		return nil, nil
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ReplaceAll(trimmed, Currency, ""))
	cleaned = strings.ReplaceAll(cleaned, ",", ".")

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	return &value, nil
}

// ResolveLink joins a scraped href onto the client area of baseURL.
// A missing or blank href resolves to nil.
func ResolveLink(baseURL string, link *string) *string {
	if link == nil {
		return nil
	}
	href := strings.TrimSpace(*link)
	if href == "" {
		return nil
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return &href
	}

	resolved := strings.TrimSuffix(baseURL, "/") + clientAreaPath + strings.TrimPrefix(href, "/")
	return &resolved
}

// VendorRef returns the last path segment of fileURL.
func VendorRef(fileURL string) string {
	p := fileURL
	if u, err := url.Parse(fileURL); err == nil {
		p = u.Path
	}
	ref := path.Base(strings.TrimSuffix(p, "/"))
	if ref == "." || ref == "/" {
		return ""
	}
	return ref
}

// Filename derives the stored file name. withAmount selects the multi-account layout.
func Filename(date time.Time, amount *float64, withAmount bool) string {
	month := date.Format("2006-01")
	if !withAmount {
		return fmt.Sprintf("%s-%s.pdf", month, VendorSlug)
	}
	if amount == nil {
		return fmt.Sprintf("%s_%s.pdf", month, VendorSlug)
	}
	return fmt.Sprintf("%s_%s_%.2f%s.pdf", month, VendorSlug, *amount, Currency)
}

// ExtractAccountID pulls the hexadecimal site id out of an account link.
func ExtractAccountID(href string) (string, bool) {
	m := siteIDPattern.FindStringSubmatch(href)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}
