// Package memory is the persistent per-supplier format store. It learns
// extraction templates and hints from successful extractions and refines its
// accuracy statistics from reviewer corrections.
package memory

import (
	"strings"
	"time"

	"docketscan/internal/extract"
)

// Format tags are a closed vocabulary rather than free text so that hint sets
// stay semantic sets: the same observation always produces the same tag.
type (
	DateFormat     string
	TimeFormat     string
	QuantityFormat string
	PriceFormat    string
)

const (
	DateSlash   DateFormat = "DD/MM/YYYY"
	DateDash    DateFormat = "DD-MM-YY"
	DateOrdinal DateFormat = "DD ordinal Month YYYY"

	Time24h      TimeFormat = "HH:MM"
	TimeMeridiem TimeFormat = "HH:MM AM/PM"

	QuantityDecimal QuantityFormat = "decimal"
	QuantityInteger QuantityFormat = "integer"

	PriceCurrency PriceFormat = "currency"
	PriceNone     PriceFormat = "none"
)

// CommonFields holds free-form exemplars observed on this supplier's
// documents, quoted back to the oracle as guidance.
type CommonFields struct {
	Supplier       string `json:"supplier"`
	DocumentNumber string `json:"documentNumber"`
	Signature      string `json:"signature"`
}

// ExtractionTemplate is the structural summary inferred from extractions.
type ExtractionTemplate struct {
	HeaderLocation string         `json:"headerLocation"`
	DateFormat     DateFormat     `json:"dateFormat"`
	TimeFormat     TimeFormat     `json:"timeFormat"`
	ItemsSection   string         `json:"itemsSection"`
	QuantityFormat QuantityFormat `json:"quantityFormat"`
	PriceFormat    PriceFormat    `json:"priceFormat"`
	CommonFields   CommonFields   `json:"commonFields"`
}

// ExtractionHints accumulate across extractions. The pattern slices are
// semantic sets: a tag is stored at most once and never removed.
type ExtractionHints struct {
	DatePatterns        []DateFormat     `json:"datePatterns"`
	QuantityPatterns    []QuantityFormat `json:"quantityPatterns"`
	ItemSeparators      []string         `json:"itemSeparators"`
	SignatureLocation   string           `json:"signatureLocation"`
	SpecialInstructions []string         `json:"specialInstructions"`
}

// Accuracy tracks how well extraction has gone for this format. SuccessRate
// starts at 100, loses a fixed 5 per correction, and never recovers.
type Accuracy struct {
	SuccessRate     int       `json:"successRate"`
	CommonErrors    []string  `json:"commonErrors"`
	LastUpdated     time.Time `json:"lastUpdated"`
	ExtractionCount int       `json:"extractionCount"`
}

// Correction pairs what the pipeline produced with what a reviewer fixed.
type Correction struct {
	Original  *extract.Document `json:"original"`
	Corrected *extract.Document `json:"corrected"`
	Timestamp time.Time         `json:"timestamp"`
}

// Examples keeps a bounded rolling window of good extractions and an
// unbounded append-only correction log.
type Examples struct {
	GoodExtractions []*extract.Document `json:"goodExtractions"`
	Corrections     []Correction        `json:"corrections"`
}

// DocumentFormat is one learned (supplier, documentType) format.
type DocumentFormat struct {
	ID           string             `json:"id"`
	Supplier     string             `json:"supplier"`
	DocumentType string             `json:"documentType"`
	Template     ExtractionTemplate `json:"extractionTemplate"`
	Hints        ExtractionHints    `json:"extractionHints"`
	Accuracy     Accuracy           `json:"accuracy"`
	Examples     Examples           `json:"examples"`
}

// goodExtractionWindow bounds Examples.GoodExtractions; the oldest entry is
// evicted first.
const goodExtractionWindow = 5

// correctionPenalty is the fixed successRate decrement per correction.
const correctionPenalty = 5

// Key builds the case-insensitive composite store key.
func Key(supplier, documentType string) string {
	return strings.ToLower(strings.TrimSpace(supplier)) + "-" + strings.ToLower(strings.TrimSpace(documentType))
}

// Clone returns a deep copy safe to hand to callers while the manager keeps
// mutating its own copy.
func (f *DocumentFormat) Clone() *DocumentFormat {
	if f == nil {
		return nil
	}
	out := *f
	out.Hints.DatePatterns = append([]DateFormat(nil), f.Hints.DatePatterns...)
	out.Hints.QuantityPatterns = append([]QuantityFormat(nil), f.Hints.QuantityPatterns...)
	out.Hints.ItemSeparators = append([]string(nil), f.Hints.ItemSeparators...)
	out.Hints.SpecialInstructions = append([]string(nil), f.Hints.SpecialInstructions...)
	out.Accuracy.CommonErrors = append([]string(nil), f.Accuracy.CommonErrors...)
	out.Examples.GoodExtractions = append([]*extract.Document(nil), f.Examples.GoodExtractions...)
	out.Examples.Corrections = append([]Correction(nil), f.Examples.Corrections...)
	return &out
}

// newFormat seeds a format from the first successful extraction for a key.
func newFormat(supplier, documentType string, doc *extract.Document, now time.Time) *DocumentFormat {
	return &DocumentFormat{
		ID:           Key(supplier, documentType),
		Supplier:     supplier,
		DocumentType: strings.ToLower(strings.TrimSpace(documentType)),
		Template:     seedTemplate(doc),
		Hints:        seedHints(doc),
		Accuracy: Accuracy{
			SuccessRate:     100,
			CommonErrors:    []string{},
			LastUpdated:     now,
			ExtractionCount: 1,
		},
		Examples: Examples{
			GoodExtractions: []*extract.Document{doc},
			Corrections:     []Correction{},
		},
	}
}

func seedTemplate(doc *extract.Document) ExtractionTemplate {
	d := doc.DocumentDetails
	documentNumber := string(d.DocumentNumber)
	if documentNumber == "" {
		documentNumber = string(d.InvoiceNumber)
	}
	if documentNumber == "" {
		documentNumber = string(d.OrderNumber)
	}
	return ExtractionTemplate{
		HeaderLocation: "top",
		DateFormat:     detectDateFormat(documentDate(doc)),
		TimeFormat:     detectTimeFormat(string(d.Time)),
		ItemsSection:   "center",
		QuantityFormat: detectQuantityFormat(doc.Items),
		PriceFormat:    detectPriceFormat(doc.Items),
		CommonFields: CommonFields{
			Supplier:       string(d.Supplier),
			DocumentNumber: documentNumber,
			Signature:      string(d.Signature),
		},
	}
}

func seedHints(doc *extract.Document) ExtractionHints {
	return ExtractionHints{
		DatePatterns:      detectDatePatterns(documentDate(doc)),
		QuantityPatterns:  detectQuantityPatterns(doc.Items),
		ItemSeparators:    []string{"new line", "dashed line", "blank space"},
		SignatureLocation: "bottom right",
		SpecialInstructions: []string{
			"Look for handwritten corrections",
			"Ignore crossed-out items",
			"Check for multiple pages",
			"Verify decimal precision for quantities",
		},
	}
}

// refine unions newly observed pattern tags into the existing hint sets.
// Learned patterns are never removed.
func (f *DocumentFormat) refine(doc *extract.Document) {
	for _, p := range detectDatePatterns(documentDate(doc)) {
		if !containsDate(f.Hints.DatePatterns, p) {
			f.Hints.DatePatterns = append(f.Hints.DatePatterns, p)
		}
	}
	for _, p := range detectQuantityPatterns(doc.Items) {
		if !containsQuantity(f.Hints.QuantityPatterns, p) {
			f.Hints.QuantityPatterns = append(f.Hints.QuantityPatterns, p)
		}
	}
}

func documentDate(doc *extract.Document) string {
	if d := string(doc.DocumentDetails.Date); d != "" {
		return d
	}
	return string(doc.DocumentDetails.ReceivedDate)
}

func detectDateFormat(date string) DateFormat {
	switch {
	case date == "":
		return DateSlash
	case strings.Contains(date, "-"):
		return DateDash
	default:
		return DateSlash
	}
}

func detectTimeFormat(t string) TimeFormat {
	upper := strings.ToUpper(t)
	if strings.Contains(upper, "AM") || strings.Contains(upper, "PM") {
		return TimeMeridiem
	}
	return Time24h
}

func detectQuantityFormat(items []extract.Item) QuantityFormat {
	if len(items) == 0 {
		return QuantityDecimal
	}
	for _, item := range items {
		if strings.Contains(string(item.Quantity), ".") {
			return QuantityDecimal
		}
	}
	return QuantityInteger
}

func detectPriceFormat(items []extract.Item) PriceFormat {
	if len(items) == 0 {
		return PriceCurrency
	}
	for _, item := range items {
		if item.UnitPrice != "" || item.TotalPrice != "" {
			return PriceCurrency
		}
	}
	return PriceNone
}

func detectDatePatterns(date string) []DateFormat {
	if date == "" {
		return nil
	}
	var patterns []DateFormat
	if strings.Contains(date, "-") {
		patterns = append(patterns, DateDash)
	}
	if strings.Contains(date, "/") {
		patterns = append(patterns, DateSlash)
	}
	if hasOrdinalDay(date) {
		patterns = append(patterns, DateOrdinal)
	}
	return patterns
}

func hasOrdinalDay(date string) bool {
	lower := strings.ToLower(date)
	for _, suffix := range []string{"st", "nd", "rd", "th"} {
		if i := strings.Index(lower, suffix); i > 0 {
			if c := lower[i-1]; c >= '0' && c <= '9' {
				return true
			}
		}
	}
	return false
}

func detectQuantityPatterns(items []extract.Item) []QuantityFormat {
	var patterns []QuantityFormat
	for _, item := range items {
		qty := strings.TrimSpace(string(item.Quantity))
		if qty == "" {
			continue
		}
		if strings.Contains(qty, ".") && !containsQuantity(patterns, QuantityDecimal) {
			patterns = append(patterns, QuantityDecimal)
		}
		if hasDigit(qty) && !containsQuantity(patterns, QuantityInteger) {
			patterns = append(patterns, QuantityInteger)
		}
	}
	return patterns
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func containsDate(set []DateFormat, p DateFormat) bool {
	for _, x := range set {
		if x == p {
			return true
		}
	}
	return false
}

func containsQuantity(set []QuantityFormat, p QuantityFormat) bool {
	for _, x := range set {
		if x == p {
			return true
		}
	}
	return false
}

// Error kinds produced by correction analysis.
const (
	ErrKindDate      = "date_extraction_error"
	ErrKindItemCount = "item_count_mismatch"
	ErrKindQuantity  = "quantity_parsing_error"
)

// analyzeError tags a correction with the first structural difference found.
// Only one tag per correction, even when several kinds apply at once.
func analyzeError(original, corrected *extract.Document) string {
	if original == nil || corrected == nil {
		return ""
	}
	if documentDate(original) != documentDate(corrected) {
		return ErrKindDate
	}
	if len(original.Items) != len(corrected.Items) {
		return ErrKindItemCount
	}
	for i := range original.Items {
		if string(original.Items[i].Quantity) != string(corrected.Items[i].Quantity) {
			return ErrKindQuantity
		}
	}
	return ""
}
