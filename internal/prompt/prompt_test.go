package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"docketscan/internal/memory"
)

func TestClassificationPrompt(t *testing.T) {
	p := Classification()
	assert.Contains(t, p, "supplier")
	assert.Contains(t, p, "receipt, invoice, docket, purchase_order")
	assert.Contains(t, p, `"documentType"`)
	// classification must not ask for line items
	assert.NotContains(t, p, "items")
}

func TestExtractionPromptWithoutFormat(t *testing.T) {
	p := Extraction(nil)
	assert.Contains(t, p, "documentDetails")
	assert.Contains(t, p, "DD/MM/YYYY")
	assert.Contains(t, p, "crossed out")
	assert.Contains(t, p, "Handwritten corrections take priority")
	for _, field := range ExpectedItemFields {
		assert.Contains(t, p, `"`+field+`"`, "schema must name item field %s", field)
	}
	assert.NotContains(t, p, "Supplier-specific guidance")
}

func TestExtractionPromptWithFormat(t *testing.T) {
	f := &memory.DocumentFormat{
		ID:           "acme foods-docket",
		Supplier:     "Acme Foods",
		DocumentType: "docket",
		Template: memory.ExtractionTemplate{
			DateFormat:     memory.DateDash,
			TimeFormat:     memory.Time24h,
			QuantityFormat: memory.QuantityDecimal,
			CommonFields: memory.CommonFields{
				Supplier:       "Acme Foods",
				DocumentNumber: "INV-100",
			},
		},
		Hints: memory.ExtractionHints{
			DatePatterns:      []memory.DateFormat{memory.DateDash, memory.DateSlash},
			SignatureLocation: "bottom right",
			SpecialInstructions: []string{
				"Ignore crossed-out items",
			},
		},
		Accuracy: memory.Accuracy{SuccessRate: 85, ExtractionCount: 12, CommonErrors: []string{memory.ErrKindDate}},
	}

	p := Extraction(f)
	assert.Contains(t, p, "Supplier-specific guidance")
	assert.Contains(t, p, "12 prior extraction(s)")
	assert.Contains(t, p, "85% success rate")
	assert.Contains(t, p, `"Acme Foods"`)
	assert.Contains(t, p, "DD-MM-YY, DD/MM/YYYY")
	assert.Contains(t, p, "bottom right")
	assert.Contains(t, p, `"INV-100"`)
	assert.Contains(t, p, "date format misinterpretation")
	assert.Contains(t, p, "guidance, not hard constraints")
	// the fixed preamble and schema are still present
	assert.Contains(t, p, "documentDetails")
	assert.Contains(t, p, "DD/MM/YYYY")
}

func TestComposerStateless(t *testing.T) {
	assert.Equal(t, Extraction(nil), Extraction(nil))
	assert.Equal(t, Classification(), Classification())
}
