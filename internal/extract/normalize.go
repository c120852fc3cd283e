// Package extract turns raw oracle output into canonical line-item records.
// Everything here is pure: no I/O, no clocks beyond the textual-date default
// year, deterministic for a given input.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrParse means the oracle response was not a usable JSON document.
	ErrParse = errors.New("unparseable extraction response")
	// ErrNoData means the response parsed but contained no usable items.
	ErrNoData = errors.New("no usable data in extraction response")
)

var (
	reDashDate  = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{2}|\d{4})$`)
	reSlashDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	reISODate   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	reTextDate  = regexp.MustCompile(`(?i)^(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?(?:,?\s+(\d{4}))?$`)

	reUnitSuffix = regexp.MustCompile(`(?i)\s*(kg|g|lbs|oz|pcs|pieces|units|each)\.?\s*$`)
	reCodeFence  = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
)

var monthNumbers = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// struckMarkers are cancellation markers; an item whose product or quantity
// text contains one is dropped during flattening.
var struckMarkers = []string{"struck out", "cancelled"}

// ParseDocument decodes a raw oracle response into a Document. Markdown code
// fences around the JSON are tolerated. Malformed JSON yields ErrParse; a
// structurally empty document (no items) yields ErrNoData.
func ParseDocument(raw string) (*Document, error) {
	content := strings.TrimSpace(raw)
	if m := reCodeFence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	if content == "" {
		return nil, fmt.Errorf("%w: empty response", ErrParse)
	}

	if err := validateShape([]byte(content)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(doc.Items) == 0 {
		return nil, fmt.Errorf("%w: document has no items", ErrNoData)
	}
	return &doc, nil
}

// Flatten projects a document onto canonical records, one per surviving item.
// Struck-out and empty-product items are dropped; an empty slice with
// ErrNoData is returned when nothing survives.
func Flatten(doc *Document) ([]Record, error) {
	d := doc.DocumentDetails

	date := string(d.Date)
	if date == "" {
		date = string(d.ReceivedDate)
	}

	orderNumber := string(d.OrderNumber)
	invoiceNumber := string(d.InvoiceNumber)
	// A bare documentNumber populates both when the source does not
	// distinguish order from invoice.
	if n := string(d.DocumentNumber); n != "" {
		if orderNumber == "" {
			orderNumber = n
		}
		if invoiceNumber == "" {
			invoiceNumber = n
		}
	}

	records := make([]Record, 0, len(doc.Items))
	for _, item := range doc.Items {
		if isStruckOut(item) {
			continue
		}
		rec := Record{
			Date:                  NormalizeDate(date),
			Time:                  strings.TrimSpace(string(d.Time)),
			Supplier:              strings.TrimSpace(string(d.Supplier)),
			Product:               strings.TrimSpace(string(item.Product)),
			Qty:                   ParseQuantity(string(item.Quantity)),
			OrderNumber:           orderNumber,
			InvoiceNumber:         invoiceNumber,
			BatchCode:             strings.TrimSpace(string(item.BatchCode)),
			UseByDate:             NormalizeDate(string(item.UseByDate)),
			TempCheck:             checkOrOK(item.TempCheck),
			ProductIntegrityCheck: checkOrOK(item.ProductIntegrityCheck),
			WeightCheck:           checkOrOK(item.WeightCheck),
			Comments:              strings.TrimSpace(string(item.Comments)),
			Signature:             strings.TrimSpace(string(d.Signature)),
		}
		records = append(records, rec)
	}

	for i := range records {
		validateRecord(&records[i], i)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: all items filtered", ErrNoData)
	}
	return records, nil
}

// validateRecord repairs values no real-world line item can carry: a
// non-positive quantity becomes 1 and an empty product gets a positional
// placeholder.
func validateRecord(r *Record, index int) {
	if r.Qty <= 0 {
		r.Qty = 1
	}
	if r.Product == "" {
		r.Product = fmt.Sprintf("Item %d", index+1)
	}
}

func isStruckOut(item Item) bool {
	product := strings.ToLower(strings.TrimSpace(string(item.Product)))
	quantity := strings.ToLower(string(item.Quantity))
	if product == "" {
		return true
	}
	for _, marker := range struckMarkers {
		if strings.Contains(product, marker) || strings.Contains(quantity, marker) {
			return true
		}
	}
	return false
}

func checkOrOK(v FlexString) string {
	s := strings.TrimSpace(string(v))
	if s == "" {
		return "OK"
	}
	return s
}

// ParseQuantity strips one trailing unit token (kg, g, lbs, oz, pcs, pieces,
// units, each) and parses the rest as a float. Anything non-numeric yields 0;
// validateRecord later coerces that to 1.
func ParseQuantity(s string) float64 {
	s = strings.TrimSpace(s)
	s = reUnitSuffix.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// NormalizeDate rewrites a raw date string to DD/MM/YYYY. Patterns are tried
// in a fixed priority order: DD-MM-YY (two-digit years pivot at 50),
// DD/MM/YYYY passthrough, ISO YYYY-MM-DD, then textual month names with an
// optional ordinal suffix and year. No match yields the empty string.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if m := reDashDate.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year = expandYear(year)
		}
		return formatDMY(day, month, year)
	}

	if m := reSlashDate.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return formatDMY(day, month, year)
	}

	if m := reISODate.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return formatDMY(day, month, year)
	}

	if m := reTextDate.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month := monthNumbers[strings.ToLower(m[2])]
		year := time.Now().Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		return formatDMY(day, month, year)
	}

	return ""
}

// expandYear applies the two-digit-year pivot: years below 50 land in the
// 2000s, the rest in the 1900s.
func expandYear(yy int) int {
	if yy < 50 {
		return 2000 + yy
	}
	return 1900 + yy
}

func formatDMY(day, month, year int) string {
	return fmt.Sprintf("%02d/%02d/%04d", day, month, year)
}
