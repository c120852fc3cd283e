// Package prompt composes the text sent to the extraction oracle. Composers
// are stateless: every call builds the full instruction set from scratch,
// optionally enriched with a learned document format.
package prompt

import (
	"fmt"
	"strings"

	"docketscan/internal/memory"
)

// Classification builds the minimal first-phase prompt: supplier and document
// type only, cheap enough to fail without consequence.
func Classification() string {
	return strings.Join([]string{
		"Look at this commercial document image and identify only two things:",
		"the supplier (the business that issued the document) and the document type.",
		"Document type must be exactly one of: receipt, invoice, docket, purchase_order.",
		"Return ONLY a JSON object in this exact shape:",
		`{"supplier": "Company Name", "documentType": "docket"}`,
		"If the supplier cannot be read, use an empty string.",
	}, "\n")
}

// Extraction builds the full second-phase prompt. The fixed preamble and the
// exact output schema are always present; when a learned format is supplied a
// supplier-specific addendum follows, framed as guidance rather than hard
// constraints since the document may still use a novel layout.
func Extraction(format *memory.DocumentFormat) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n")
	b.WriteString(outputSchema)
	if format != nil {
		b.WriteString("\n\n")
		b.WriteString(formatAddendum(format))
	}
	return b.String()
}

const basePrompt = `Analyze this commercial document image carefully and extract its details into JSON.

**Document type:** one of receipt, invoice, docket, purchase_order — judge from layout and wording.

**Header section:**
- Supplier: company name issuing the document
- Order Number: number associated with the order
- Invoice/Docket Number: any number associated with the invoice or docket
- Date and Time: when the document was issued or received
- Received By and Signature: names from the received/signed section, usually at the bottom

**Items section (one entry per line item):**
- Product: full description; join descriptions that wrap over multiple lines into one
- Quantity: numeric value, keep decimal precision, include the unit if printed
- Batch Code: alphanumeric code if present (e.g. 'RB-S-2-26')
- Use By Date: date if present
- Temp Check / Product Integrity Check / Weight Check: any notation (e.g. "Passed", "Damaged", "Correct"); leave empty if not marked
- Comments: any additional notes related to the item

**Rules:**
- Handwritten corrections take priority over printed text.
- Skip line items that are crossed out; if you must include one, put "struck out" in its product field.
- Standardize dates to DD/MM/YYYY.
- Include every field for every item, using an empty string where nothing applies. Never use null.`

const outputSchema = `Return the JSON in exactly this structure:

{
  "documentDetails": {
    "supplier": "Company Name",
    "documentType": "docket",
    "orderNumber": "Number",
    "invoiceNumber": "Number",
    "date": "DD/MM/YYYY",
    "time": "HH:MM",
    "receivedBy": "Name",
    "signature": "Name"
  },
  "items": [
    {
      "product": "Description",
      "quantity": "1",
      "batchCode": "Code",
      "useByDate": "Date",
      "tempCheck": "Check Result",
      "productIntegrityCheck": "Check Result",
      "weightCheck": "Check Result",
      "comments": "Any Comments"
    }
  ]
}`

// formatAddendum renders the learned supplier context.
func formatAddendum(f *memory.DocumentFormat) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Supplier-specific guidance (learned from %d prior extraction(s), %d%% success rate):**\n",
		f.Accuracy.ExtractionCount, f.Accuracy.SuccessRate)
	fmt.Fprintf(&b, "- Supplier is usually %q, document type %q.\n", f.Template.CommonFields.Supplier, f.DocumentType)
	fmt.Fprintf(&b, "- Dates on these documents use %s; times use %s.\n", f.Template.DateFormat, f.Template.TimeFormat)
	fmt.Fprintf(&b, "- Quantities are typically %s values.\n", f.Template.QuantityFormat)

	if len(f.Hints.DatePatterns) > 0 {
		fmt.Fprintf(&b, "- Date patterns seen before: %s.\n", joinDatePatterns(f.Hints.DatePatterns))
	}
	if len(f.Hints.QuantityPatterns) > 0 {
		fmt.Fprintf(&b, "- Quantity patterns seen before: %s.\n", joinQuantityPatterns(f.Hints.QuantityPatterns))
	}
	if f.Hints.SignatureLocation != "" {
		fmt.Fprintf(&b, "- The signature is usually at the %s of the document.\n", f.Hints.SignatureLocation)
	}
	if n := f.Template.CommonFields.DocumentNumber; n != "" {
		fmt.Fprintf(&b, "- Document numbers look like %q.\n", n)
	}
	for _, instruction := range f.Hints.SpecialInstructions {
		fmt.Fprintf(&b, "- %s.\n", strings.TrimSuffix(instruction, "."))
	}
	if len(f.Accuracy.CommonErrors) > 0 {
		b.WriteString("- Errors to avoid on this supplier:\n")
		for _, e := range f.Accuracy.CommonErrors {
			fmt.Fprintf(&b, "  - %s\n", errorGuidance(e))
		}
	}
	b.WriteString("Treat all of the above as guidance, not hard constraints: the document may use a new layout.")
	return b.String()
}

func errorGuidance(kind string) string {
	switch kind {
	case memory.ErrKindDate:
		return "date format misinterpretation; double-check date patterns"
	case memory.ErrKindItemCount:
		return "missing or extra items; verify item separation"
	case memory.ErrKindQuantity:
		return "quantity decimal/unit errors; check number formatting"
	default:
		return kind
	}
}

func joinDatePatterns(ps []memory.DateFormat) string {
	ss := make([]string, len(ps))
	for i, p := range ps {
		ss[i] = string(p)
	}
	return strings.Join(ss, ", ")
}

func joinQuantityPatterns(ps []memory.QuantityFormat) string {
	ss := make([]string, len(ps))
	for i, p := range ps {
		ss[i] = string(p)
	}
	return strings.Join(ss, ", ")
}

// ExpectedItemFields is the closed field set for items in the output schema,
// kept in one place so schema text and validators stay aligned.
var ExpectedItemFields = []string{
	"product", "quantity", "batchCode", "useByDate",
	"tempCheck", "productIntegrityCheck", "weightCheck", "comments",
}
