package export

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"docketscan/internal/extract"
)

func TestXLSXRender(t *testing.T) {
	x := NewXLSX(slog.New(slog.DiscardHandler))

	records := []extract.Record{
		{
			Date: "20/02/2025", Time: "14:30", Supplier: "Acme Foods",
			Product: "Widget", Qty: 5.5,
			OrderNumber: "D-991", InvoiceNumber: "D-991",
			TempCheck: "OK", ProductIntegrityCheck: "OK", WeightCheck: "OK",
		},
		{
			Date: "21/02/2025", Supplier: "Acme Foods",
			Product: "Gadget", Qty: 2,
			TempCheck: "OK", ProductIntegrityCheck: "OK", WeightCheck: "OK",
		},
	}

	out, err := x.Render(records)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Records")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, extract.ColumnHeaders, rows[0])
	assert.Equal(t, "20/02/2025", rows[1][0])
	assert.Equal(t, "Acme Foods", rows[1][2])
	assert.Equal(t, "5.5", rows[1][4])
	assert.Equal(t, "Gadget", rows[2][3])
}

func TestXLSXRenderEmpty(t *testing.T) {
	x := NewXLSX(slog.New(slog.DiscardHandler))
	out, err := x.Render(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Records")
	require.NoError(t, err)
	require.Len(t, rows, 1, "header only")
}
