// Package document renders invoice PDFs. Build produces the textual layout
// and Render lays it out on a page with maroto.
package document

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Columns is the fixed table header of every invoice document.
var Columns = [4]string{"Product", "Quantity", "Price", "Total"}

// Line is one billed row.
type Line struct {
	Description string
	Quantity    int
	UnitPrice   float64
}

// Amount is the line total rounded to cents.
func (l Line) Amount() float64 {
	return RoundCents(float64(l.Quantity) * l.UnitPrice)
}

// Input carries everything a document is built from.
type Input struct {
	Number      string
	IssuedAt    time.Time
	ClientName  string
	ClientEmail string
	Lines       []Line
}

// Total sums the rounded line amounts.
func (in Input) Total() float64 {
	var sum float64
	for _, l := range in.Lines {
		sum += l.Amount()
	}
	return RoundCents(sum)
}

// Layout is the printable content of a document, independent of the PDF backend.
type Layout struct {
	Title   string
	Header  []string
	BillTo  []string
	Columns [4]string
	Rows    [][4]string
	Total   string
}

// Build turns the input into a layout. It has no side effects.
func Build(in Input) Layout {
	layout := Layout{
		Title: "Invoice",
		Header: []string{
			"Date: " + in.IssuedAt.Format("2006-01-02"),
			"Invoice #: " + in.Number,
		},
		BillTo:  []string{"Bill To:", in.ClientName},
		Columns: Columns,
		Rows:    make([][4]string, 0, len(in.Lines)),
		Total:   "Total: " + FormatMoney(in.Total()),
	}
	if in.ClientEmail != "" {
		layout.BillTo = append(layout.BillTo, in.ClientEmail)
	}
	for _, l := range in.Lines {
		layout.Rows = append(layout.Rows, [4]string{
			l.Description,
			strconv.Itoa(l.Quantity),
			FormatMoney(l.UnitPrice),
			FormatMoney(l.Amount()),
		})
	}
	return layout
}

// FormatMoney renders an amount with two decimals and a dollar sign.
func FormatMoney(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// RoundCents rounds half away from zero to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// FileName is the download name for a document issued at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("invoice-%d.pdf", t.UnixMilli())
}
