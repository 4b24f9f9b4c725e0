// Package report lays out the station report as a paginated document and
// renders it to PDF.
package report

import "time"

// Page geometry in millimetres (A4 portrait).
const (
	PageWidth  = 210.0
	PageHeight = 297.0
	Margin     = 15.0
	TopReset   = 20.0
	// Bottom is the lowest y content may reach.
	Bottom = PageHeight - Margin
)

// Color is an RGB triple.
type Color struct{ R, G, B uint8 }

// Gray returns a neutral color.
func Gray(v uint8) Color { return Color{v, v, v} }

// FontStyle is a core-font style: "", "B" or "I".
type FontStyle string

const (
	Regular FontStyle = ""
	Bold    FontStyle = "B"
	Italic  FontStyle = "I"
)

// Align positions text relative to its x coordinate.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

// Element is something drawn on a page.
type Element interface {
	isElement()
}

// Rect is a rectangle. A nil Fill or Stroke is not painted.
type Rect struct {
	X, Y, W, H float64
	Fill       *Color
	Stroke     *Color
}

// Line is a straight segment.
type Line struct {
	X1, Y1, X2, Y2 float64
	Width          float64
	Color          Color
}

// Text is a single line of text with its baseline at Y.
type Text struct {
	X, Y  float64
	Text  string
	Size  float64
	Style FontStyle
	Color Color
	Align Align
}

func (Rect) isElement() {}
func (Line) isElement() {}
func (Text) isElement() {}

// Page holds the elements of one page in drawing order.
type Page struct {
	Elements []Element
}

// Texts returns the text elements of the page.
func (p *Page) Texts() []Text {
	var out []Text
	for _, e := range p.Elements {
		if t, ok := e.(Text); ok {
			out = append(out, t)
		}
	}
	return out
}

// Rects returns the rectangles of the page.
func (p *Page) Rects() []Rect {
	var out []Rect
	for _, e := range p.Elements {
		if r, ok := e.(Rect); ok {
			out = append(out, r)
		}
	}
	return out
}

// Document is a laid-out report.
type Document struct {
	Title     string
	Author    string
	CreatedAt time.Time
	Pages     []*Page
}

// Texts returns every text element in page order.
func (d *Document) Texts() []Text {
	var out []Text
	for _, p := range d.Pages {
		out = append(out, p.Texts()...)
	}
	return out
}
