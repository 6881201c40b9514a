package invoices

import (
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/invoicedesk/invoicedesk/internal/document"
	"github.com/invoicedesk/invoicedesk/internal/platform/httpx"
)

var (
	widgetID  = uuid.MustParse("6f1f6c1e-4d4b-4b8f-9a43-2a8d1d0b0001")
	gadgetID  = uuid.MustParse("6f1f6c1e-4d4b-4b8f-9a43-2a8d1d0b0002")
	soldOutID = uuid.MustParse("6f1f6c1e-4d4b-4b8f-9a43-2a8d1d0b0003")
)

func testCatalog() CatalogSnapshot {
	return NewCatalog(
		CatalogProduct{ID: widgetID, Name: "Widget", Price: 9.99, Stock: 5},
		CatalogProduct{ID: gadgetID, Name: "Gadget", Price: 15.00, Stock: 1},
	)
}

func TestDraftTotalMatchesExample(t *testing.T) {
	d := NewDraft()
	d.ClientName = "Acme"
	require.NoError(t, d.SelectProduct(0, widgetID, testCatalog()))
	require.NoError(t, d.SetQuantity(0, 2))
	i := d.AddLine(KindCatalog)
	require.NoError(t, d.SelectProduct(i, gadgetID, testCatalog()))

	require.InDelta(t, 34.98, d.Total(), 1e-9)
	require.NoError(t, d.Validate())
}

func TestDraftSetQuantityClampsCatalogLines(t *testing.T) {
	d := NewDraft()
	require.NoError(t, d.SelectProduct(0, widgetID, testCatalog()))

	err := d.SetQuantity(0, 9)
	require.ErrorIs(t, err, ErrQuantityExceedsStock)
	require.Equal(t, 5, d.Lines[0].Quantity)

	require.ErrorIs(t, d.SetQuantity(0, 0), ErrInvalidQuantity)
	require.Equal(t, 5, d.Lines[0].Quantity)
}

func TestDraftManualLinesAreUnbounded(t *testing.T) {
	d := NewDraft()
	require.NoError(t, d.SetManual(0, "Consulting", 120))
	require.NoError(t, d.SetQuantity(0, 1000))
	require.InDelta(t, 120000.0, d.Total(), 1e-6)
}

func TestDraftSelectProductResetsQuantity(t *testing.T) {
	d := NewDraft()
	require.NoError(t, d.SetQuantity(0, 7))
	require.NoError(t, d.SelectProduct(0, widgetID, testCatalog()))
	require.Equal(t, 1, d.Lines[0].Quantity)
	require.Equal(t, "Widget", d.Lines[0].Description)
	require.Equal(t, KindCatalog, d.Lines[0].Kind)

	require.ErrorIs(t, d.SetManual(0, "x", 1), ErrLineKind)
	require.ErrorIs(t, d.SelectProduct(0, uuid.New(), testCatalog()), ErrUnknownProduct)
}

func TestDraftRemoveLineGuards(t *testing.T) {
	d := NewDraft()
	require.ErrorIs(t, d.RemoveLine(0), ErrLastLine)
	require.ErrorIs(t, d.RemoveLine(3), ErrLineIndex)

	d.AddLine(KindManual)
	require.NoError(t, d.SetManual(1, "Second", 2))
	require.NoError(t, d.RemoveLine(0))
	require.Len(t, d.Lines, 1)
	require.Equal(t, "Second", d.Lines[0].Description)
}

func TestDraftValidateReportsFields(t *testing.T) {
	d := NewDraft()
	err := d.Validate()
	require.ErrorIs(t, err, httpx.ErrValidation)

	var verr *httpx.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "clientName")
	require.Contains(t, verr.Fields, "lines[0].description")
}

func TestDraftDocumentLinesKeepOrder(t *testing.T) {
	d := NewDraft()
	require.NoError(t, d.SetManual(0, "First", 1))
	d.AddLine(KindManual)
	require.NoError(t, d.SetManual(1, "Second", 2))

	lines := d.DocumentLines()
	require.Equal(t, "First", lines[0].Description)
	require.Equal(t, "Second", lines[1].Description)
}

func TestDraftRefusesSoldOutProduct(t *testing.T) {
	catalog := NewCatalog(CatalogProduct{ID: soldOutID, Name: "Sold out", Price: 4, Stock: 0})
	d := NewDraft()
	require.NoError(t, d.SetManual(0, "Keep me", 3))

	require.ErrorIs(t, d.SelectProduct(0, soldOutID, catalog), ErrOutOfStock)
	require.Equal(t, KindManual, d.Lines[0].Kind)
	require.Equal(t, "Keep me", d.Lines[0].Description)
	require.Equal(t, 1, d.Lines[0].Quantity)
}

func TestDraftSetQuantityNeverDropsBelowOne(t *testing.T) {
	d := &Draft{Lines: []DraftLine{{Kind: KindCatalog, ProductID: soldOutID, Description: "Stale", Quantity: 1, UnitPrice: 4, Available: 0}}}

	require.ErrorIs(t, d.SetQuantity(0, 1), ErrQuantityExceedsStock)
	require.Equal(t, 1, d.Lines[0].Quantity)
}

// cents keeps the expected total exact while the draft works in float64.
func expectedTotal(d *Draft) float64 {
	var sum int64
	for _, l := range d.Lines {
		sum += int64(l.Quantity) * int64(l.UnitPrice*100+0.5)
	}
	return float64(sum) / 100
}

func TestDraftTotalTracksRandomEdits(t *testing.T) {
	catalog := NewCatalog(
		CatalogProduct{ID: widgetID, Name: "Widget", Price: 9.99, Stock: 5},
		CatalogProduct{ID: gadgetID, Name: "Gadget", Price: 15.00, Stock: 1},
		CatalogProduct{ID: soldOutID, Name: "Sold out", Price: 4.25, Stock: 0},
	)
	ids := []uuid.UUID{widgetID, gadgetID, soldOutID}
	prices := []float64{0, 0.01, 2.5, 19.99, 120}

	for seed := uint64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewPCG(seed, 7))
		d := NewDraft()
		for step := 0; step < 200; step++ {
			i := rng.IntN(len(d.Lines))
			switch rng.IntN(5) {
			case 0:
				d.AddLine(LineKind([]string{"manual", "catalog"}[rng.IntN(2)]))
			case 1:
				_ = d.RemoveLine(i)
			case 2:
				_ = d.SelectProduct(i, ids[rng.IntN(len(ids))], catalog)
			case 3:
				_ = d.SetQuantity(i, rng.IntN(8)-1)
			case 4:
				_ = d.SetManual(i, "Manual", prices[rng.IntN(len(prices))])
			}

			require.NotEmpty(t, d.Lines, "seed %d step %d", seed, step)
			require.InDelta(t, expectedTotal(d), d.Total(), 1e-9, "seed %d step %d", seed, step)
			for _, l := range d.Lines {
				require.GreaterOrEqual(t, l.Quantity, 1, "seed %d step %d", seed, step)
				if l.Kind == KindCatalog && l.ProductID != uuid.Nil {
					require.LessOrEqual(t, l.Quantity, l.Available, "seed %d step %d", seed, step)
				}
			}
		}
	}
}

func TestDraftDocumentMatchesDraft(t *testing.T) {
	d := NewDraft()
	d.ClientName = "Acme"
	require.NoError(t, d.SelectProduct(0, widgetID, testCatalog()))
	require.NoError(t, d.SetQuantity(0, 2))
	i := d.AddLine(KindCatalog)
	require.NoError(t, d.SelectProduct(i, gadgetID, testCatalog()))
	i = d.AddLine(KindManual)
	require.NoError(t, d.SetManual(i, "Setup fee", 12.5))
	require.NoError(t, d.SetQuantity(i, 3))

	layout := document.Build(document.Input{Number: "INV-1", ClientName: d.ClientName, Lines: d.DocumentLines()})

	require.Len(t, layout.Rows, len(d.Lines))
	for n, l := range d.Lines {
		require.Equal(t, l.Description, layout.Rows[n][0])
	}
	require.Equal(t, "Total: "+document.FormatMoney(d.Total()), layout.Total)
	require.Equal(t, "Total: $72.48", layout.Total)
}
