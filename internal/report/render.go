package report

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
)

const fontFamily = "Helvetica"

// Render writes doc as PDF. Creation and modification dates come from
// doc.CreatedAt, so the same document always yields the same bytes.
func Render(doc *Document, w io.Writer) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(doc.CreatedAt)
	pdf.SetModificationDate(doc.CreatedAt)
	pdf.SetCatalogSort(true)
	pdf.SetCompression(true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(Margin, TopReset, Margin)
	pdf.SetTitle(doc.Title, true)
	pdf.SetAuthor(doc.Author, true)
	pdf.SetCreator("surgieval", false)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, page := range doc.Pages {
		pdf.AddPage()
		for _, e := range page.Elements {
			draw(pdf, tr, e)
		}
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func draw(pdf *fpdf.Fpdf, tr func(string) string, e Element) {
	switch el := e.(type) {
	case Rect:
		style := ""
		if el.Fill != nil {
			pdf.SetFillColor(int(el.Fill.R), int(el.Fill.G), int(el.Fill.B))
			style += "F"
		}
		if el.Stroke != nil {
			pdf.SetDrawColor(int(el.Stroke.R), int(el.Stroke.G), int(el.Stroke.B))
			pdf.SetLineWidth(0.2)
			style += "D"
		}
		if style == "" {
			return
		}
		pdf.Rect(el.X, el.Y, el.W, el.H, style)
	case Line:
		pdf.SetDrawColor(int(el.Color.R), int(el.Color.G), int(el.Color.B))
		pdf.SetLineWidth(el.Width)
		pdf.Line(el.X1, el.Y1, el.X2, el.Y2)
	case Text:
		pdf.SetFont(fontFamily, string(el.Style), el.Size)
		pdf.SetTextColor(int(el.Color.R), int(el.Color.G), int(el.Color.B))
		s := tr(el.Text)
		x := el.X
		switch el.Align {
		case AlignRight:
			x -= pdf.GetStringWidth(s)
		case AlignCenter:
			x -= pdf.GetStringWidth(s) / 2
		}
		pdf.Text(x, el.Y, s)
	}
}
