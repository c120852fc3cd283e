package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docketscan/internal/extract"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	backend := NewFileBackend(filepath.Join(t.TempDir(), "document-memory.json"))
	m, err := NewManager(context.Background(), backend, nil)
	require.NoError(t, err)
	return m
}

func sampleDocument(date string, quantities ...string) *extract.Document {
	doc := &extract.Document{
		DocumentDetails: extract.DocumentDetails{
			Supplier:      "Acme Foods",
			Date:          extract.FlexString(date),
			InvoiceNumber: "INV-100",
			Signature:     "J. Smith",
		},
	}
	for i, q := range quantities {
		doc.Items = append(doc.Items, extract.Item{
			Product:  extract.FlexString(fmt.Sprintf("Product %d", i+1)),
			Quantity: extract.FlexString(q),
		})
	}
	return doc
}

func TestKey(t *testing.T) {
	assert.Equal(t, "acme foods-docket", Key("Acme Foods", "DOCKET"))
	assert.Equal(t, "acme-invoice", Key("  Acme ", " Invoice "))
}

func TestLearnFromExtractionCreatesFormat(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.Nil(t, m.Get("Acme Foods", "docket"))

	err := m.LearnFromExtraction(ctx, "Acme Foods", "docket", sampleDocument("20-02-25", "5.5"))
	require.NoError(t, err)

	f := m.Get("Acme Foods", "docket")
	require.NotNil(t, f)
	assert.Equal(t, 100, f.Accuracy.SuccessRate)
	assert.Equal(t, 1, f.Accuracy.ExtractionCount)
	assert.Equal(t, DateDash, f.Template.DateFormat)
	assert.Equal(t, QuantityDecimal, f.Template.QuantityFormat)
	assert.Equal(t, "Acme Foods", f.Template.CommonFields.Supplier)
	assert.Equal(t, "INV-100", f.Template.CommonFields.DocumentNumber)
	assert.Contains(t, f.Hints.DatePatterns, DateDash)
	require.Len(t, f.Examples.GoodExtractions, 1)
}

func TestLearnFromExtractionIncrementsAndRefines(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.LearnFromExtraction(ctx, "Acme", "docket", sampleDocument("20-02-25", "5")))
	before := m.Get("Acme", "docket")

	require.NoError(t, m.LearnFromExtraction(ctx, "Acme", "docket", sampleDocument("20/02/2025", "5.5")))
	after := m.Get("Acme", "docket")

	assert.Equal(t, before.Accuracy.ExtractionCount+1, after.Accuracy.ExtractionCount)
	// extraction never moves the success rate
	assert.Equal(t, before.Accuracy.SuccessRate, after.Accuracy.SuccessRate)
	// both observed date patterns are present, each exactly once
	assert.ElementsMatch(t, []DateFormat{DateDash, DateSlash}, after.Hints.DatePatterns)
}

func TestHintSetsNeverDuplicate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, m.LearnFromExtraction(ctx, "Acme", "docket", sampleDocument("20-02-25", "5.5")))
	}
	f := m.Get("Acme", "docket")
	assert.Equal(t, []DateFormat{DateDash}, f.Hints.DatePatterns)
	assert.ElementsMatch(t, []QuantityFormat{QuantityDecimal, QuantityInteger}, f.Hints.QuantityPatterns)
}

func TestGoodExtractionWindowBounded(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		doc := sampleDocument("20-02-25", fmt.Sprintf("%d", i+1))
		require.NoError(t, m.LearnFromExtraction(ctx, "Acme", "docket", doc))
	}
	f := m.Get("Acme", "docket")
	assert.Equal(t, 9, f.Accuracy.ExtractionCount)
	require.Len(t, f.Examples.GoodExtractions, 5)
	// oldest evicted first: the window holds extractions 5..9
	assert.Equal(t, "5", string(f.Examples.GoodExtractions[0].Items[0].Quantity))
	assert.Equal(t, "9", string(f.Examples.GoodExtractions[4].Items[0].Quantity))
}

func TestLearnFromCorrection(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.LearnFromExtraction(ctx, "Acme", "docket", sampleDocument("20-02-25", "5")))

	original := sampleDocument("20-02-25", "5")
	corrected := sampleDocument("21-02-25", "5")
	require.NoError(t, m.LearnFromCorrection(ctx, "Acme", "docket", original, corrected))

	f := m.Get("Acme", "docket")
	assert.Equal(t, 95, f.Accuracy.SuccessRate)
	assert.Equal(t, []string{ErrKindDate}, f.Accuracy.CommonErrors)
	require.Len(t, f.Examples.Corrections, 1)
}

func TestCorrectionErrorTaxonomyFirstMatchWins(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.LearnFromExtraction(ctx, "Acme", "docket", sampleDocument("20-02-25", "5")))

	// date AND quantity both differ; only the date tag is recorded
	original := sampleDocument("20-02-25", "5")
	corrected := sampleDocument("21-02-25", "7")
	require.NoError(t, m.LearnFromCorrection(ctx, "Acme", "docket", original, corrected))

	f := m.Get("Acme", "docket")
	assert.Equal(t, []string{ErrKindDate}, f.Accuracy.CommonErrors)
}

func TestCorrectionTaxonomyKinds(t *testing.T) {
	t.Run("item count", func(t *testing.T) {
		got := analyzeError(sampleDocument("20-02-25", "5"), sampleDocument("20-02-25", "5", "2"))
		assert.Equal(t, ErrKindItemCount, got)
	})
	t.Run("quantity", func(t *testing.T) {
		got := analyzeError(sampleDocument("20-02-25", "5"), sampleDocument("20-02-25", "6"))
		assert.Equal(t, ErrKindQuantity, got)
	})
	t.Run("no difference", func(t *testing.T) {
		got := analyzeError(sampleDocument("20-02-25", "5"), sampleDocument("20-02-25", "5"))
		assert.Equal(t, "", got)
	})
}

func TestSuccessRateFlooredAtZero(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.LearnFromExtraction(ctx, "Acme", "docket", sampleDocument("20-02-25", "5")))

	for i := 0; i < 25; i++ {
		require.NoError(t, m.LearnFromCorrection(ctx, "Acme", "docket",
			sampleDocument("20-02-25", "5"), sampleDocument("21-02-25", "5")))
	}
	f := m.Get("Acme", "docket")
	assert.Equal(t, 0, f.Accuracy.SuccessRate)
	assert.Len(t, f.Examples.Corrections, 25)
}

func TestCorrectionForUnknownKeyIsNoop(t *testing.T) {
	m := newTestManager(t)
	err := m.LearnFromCorrection(context.Background(), "Nobody", "receipt",
		sampleDocument("20-02-25", "5"), sampleDocument("21-02-25", "5"))
	require.NoError(t, err)
	assert.Nil(t, m.Get("Nobody", "receipt"))
	assert.Empty(t, m.All())
}

func TestPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "document-memory.json")

	backend := NewFileBackend(path)
	m, err := NewManager(ctx, backend, nil)
	require.NoError(t, err)
	require.NoError(t, m.LearnFromExtraction(ctx, "Acme", "docket", sampleDocument("20-02-25", "5.5")))
	require.NoError(t, m.LearnFromCorrection(ctx, "Acme", "docket",
		sampleDocument("20-02-25", "5.5"), sampleDocument("20-02-25", "6")))

	// a second manager over the same file sees the learned state
	m2, err := NewManager(ctx, NewFileBackend(path), nil)
	require.NoError(t, err)
	f := m2.Get("Acme", "docket")
	require.NotNil(t, f)
	assert.Equal(t, 95, f.Accuracy.SuccessRate)
	assert.Equal(t, 1, f.Accuracy.ExtractionCount)
	assert.Equal(t, []string{ErrKindQuantity}, f.Accuracy.CommonErrors)
}

func TestClear(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.LearnFromExtraction(ctx, "Acme", "docket", sampleDocument("20-02-25", "5")))
	require.NoError(t, m.Clear(ctx))
	assert.Empty(t, m.All())
	assert.Nil(t, m.Get("Acme", "docket"))
}

func TestConcurrentLearnsSameKey(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.LearnFromExtraction(ctx, "Acme", "docket", sampleDocument("20-02-25", "5"))
		}()
	}
	wg.Wait()

	f := m.Get("Acme", "docket")
	require.NotNil(t, f)
	assert.Equal(t, n, f.Accuracy.ExtractionCount)
	assert.LessOrEqual(t, len(f.Examples.GoodExtractions), 5)
}

func TestTemplateSeeding(t *testing.T) {
	t.Run("price format follows priced items", func(t *testing.T) {
		doc := sampleDocument("20-02-25", "2")
		assert.Equal(t, PriceNone, seedTemplate(doc).PriceFormat)

		doc.Items[0].TotalPrice = "12.50"
		assert.Equal(t, PriceCurrency, seedTemplate(doc).PriceFormat)
	})
	t.Run("defaults without items", func(t *testing.T) {
		tpl := seedTemplate(&extract.Document{})
		assert.Equal(t, QuantityDecimal, tpl.QuantityFormat)
		assert.Equal(t, PriceCurrency, tpl.PriceFormat)
	})
}
