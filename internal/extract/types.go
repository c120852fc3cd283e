package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexString decodes a JSON string, number, boolean, or null into a plain
// string. Oracle output is untrusted; quantities in particular arrive as
// either `5.5` or `"5.5 kg"` depending on the document.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	// number or bool: keep the raw token
	*f = FlexString(string(b))
	return nil
}

func (f FlexString) String() string { return string(f) }

// Item is one line of a document as the oracle reported it, before
// normalization.
type Item struct {
	Product               FlexString `json:"product"`
	Quantity              FlexString `json:"quantity"`
	UnitPrice             FlexString `json:"unitPrice"`
	TotalPrice            FlexString `json:"totalPrice"`
	BatchCode             FlexString `json:"batchCode"`
	UseByDate             FlexString `json:"useByDate"`
	TempCheck             FlexString `json:"tempCheck"`
	ProductIntegrityCheck FlexString `json:"productIntegrityCheck"`
	WeightCheck           FlexString `json:"weightCheck"`
	Comments              FlexString `json:"comments"`
}

// DocumentDetails carries the per-document header fields. Everything is
// optional; absent fields normalize to the empty string.
type DocumentDetails struct {
	Supplier       FlexString `json:"supplier"`
	DocumentType   FlexString `json:"documentType"`
	DocumentNumber FlexString `json:"documentNumber"`
	OrderNumber    FlexString `json:"orderNumber"`
	InvoiceNumber  FlexString `json:"invoiceNumber"`
	Date           FlexString `json:"date"`
	ReceivedDate   FlexString `json:"receivedDate"`
	Time           FlexString `json:"time"`
	ReceivedBy     FlexString `json:"receivedBy"`
	Signature      FlexString `json:"signature"`
}

// Document is the structured shape the oracle is asked to produce: one
// documentDetails object plus an items array.
type Document struct {
	DocumentDetails DocumentDetails `json:"documentDetails"`
	Items           []Item          `json:"items"`
}

// Record is the canonical, flattened one-row-per-item projection of a
// document. All 14 fields are always present; empty string / zero, never
// null. Column order here is the sink's column order.
type Record struct {
	Date                  string  `json:"date"`
	Time                  string  `json:"time"`
	Supplier              string  `json:"supplier"`
	Product               string  `json:"product"`
	Qty                   float64 `json:"qty"`
	OrderNumber           string  `json:"orderNumber"`
	InvoiceNumber         string  `json:"invoiceNumber"`
	BatchCode             string  `json:"batchCode"`
	UseByDate             string  `json:"useByDate"`
	TempCheck             string  `json:"tempCheck"`
	ProductIntegrityCheck string  `json:"productIntegrityCheck"`
	WeightCheck           string  `json:"weightCheck"`
	Comments              string  `json:"comments"`
	Signature             string  `json:"signature"`
}

// Row returns the record as a slice in the fixed 14-column sink order.
func (r Record) Row() []any {
	qty := strconv.FormatFloat(r.Qty, 'f', -1, 64)
	return []any{
		r.Date, r.Time, r.Supplier, r.Product, qty,
		r.OrderNumber, r.InvoiceNumber, r.BatchCode, r.UseByDate,
		r.TempCheck, r.ProductIntegrityCheck, r.WeightCheck,
		r.Comments, r.Signature,
	}
}

// ColumnHeaders is the fixed header row matching Record.Row.
var ColumnHeaders = []string{
	"DATE", "TIME", "SUPPLIER", "PRODUCT", "QTY",
	"ORDER NUMBER", "INVOICE NUMBER", "BATCH CODE", "USE BY DATE",
	"TEMP CHECK", "PRODUCT INTEGRITY CHECK", "WEIGHT CHECK",
	"COMMENTS", "SIGNATURE",
}

// DocumentTypes is the closed set of recognized document types.
var DocumentTypes = []string{"receipt", "invoice", "docket", "purchase_order"}

// IsDocumentType reports whether s (case-insensitively) names a known
// document type.
func IsDocumentType(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range DocumentTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Result is the outcome of one image extraction: the flattened records plus
// diagnostics about the enrichment path taken.
type Result struct {
	Records      []Record  `json:"records"`
	Document     *Document `json:"document,omitempty"`
	Supplier     string    `json:"supplier,omitempty"`
	DocumentType string    `json:"documentType,omitempty"`
	FormatUsed   bool      `json:"formatUsed"`
}
