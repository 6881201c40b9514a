package document

import (
	"errors"
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ContentType of every rendered document.
const ContentType = "application/pdf"

// ErrEmptyDocument is returned when there is nothing to bill.
var ErrEmptyDocument = errors.New("document: at least one line required")

// File is a rendered document ready for download or upload.
type File struct {
	Name        string
	ContentType string
	Bytes       []byte
}

// Render produces the PDF for in.
func Render(in Input) (File, error) {
	if len(in.Lines) == 0 {
		return File{}, ErrEmptyDocument
	}
	layout := Build(in)

	cfg := config.NewBuilder().
		WithTitle(layout.Title+" "+in.Number, true).
		WithCreationDate(in.IssuedAt).
		WithLeftMargin(15).
		WithRightMargin(15).
		WithTopMargin(15).
		Build()
	m := maroto.New(cfg)

	m.AddRows(text.NewRow(14, layout.Title, props.Text{Size: 20, Style: fontstyle.Bold}))
	for _, h := range layout.Header {
		m.AddRows(text.NewRow(6, h, props.Text{Size: 10}))
	}
	m.AddRows(line.NewRow(6))
	for i, b := range layout.BillTo {
		style := fontstyle.Normal
		if i == 0 {
			style = fontstyle.Bold
		}
		m.AddRows(text.NewRow(6, b, props.Text{Size: 10, Style: style}))
	}
	m.AddRows(line.NewRow(6))

	addTableRow(m, layout.Columns, fontstyle.Bold)
	for _, r := range layout.Rows {
		addTableRow(m, r, fontstyle.Normal)
	}

	m.AddRows(line.NewRow(6))
	m.AddRows(text.NewRow(8, layout.Total, props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right}))

	doc, err := m.Generate()
	if err != nil {
		return File{}, fmt.Errorf("document: generate: %w", err)
	}
	return File{
		Name:        FileName(in.IssuedAt),
		ContentType: ContentType,
		Bytes:       doc.GetBytes(),
	}, nil
}

func addTableRow(m core.Maroto, cells [4]string, style fontstyle.Type) {
	m.AddRow(7,
		text.NewCol(6, cells[0], props.Text{Size: 10, Style: style}),
		text.NewCol(2, cells[1], props.Text{Size: 10, Style: style, Align: align.Center}),
		text.NewCol(2, cells[2], props.Text{Size: 10, Style: style, Align: align.Right}),
		text.NewCol(2, cells[3], props.Text{Size: 10, Style: style, Align: align.Right}),
	)
}
