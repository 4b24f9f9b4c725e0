package report

import (
	"strings"
	"sync"

	"github.com/go-pdf/fpdf"
)

// Measurer returns the width in millimetres of text set in the core
// Helvetica font at the given size.
type Measurer interface {
	Width(text string, size float64, style FontStyle) float64
}

// FPDFMeasurer measures with the fpdf core-font metrics.
type FPDFMeasurer struct {
	mu  sync.Mutex
	pdf *fpdf.Fpdf
	tr  func(string) string
}

// NewFPDFMeasurer returns a measurer backed by an off-screen fpdf document.
func NewFPDFMeasurer() *FPDFMeasurer {
	pdf := fpdf.New("P", "mm", "A4", "")
	return &FPDFMeasurer{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

func (m *FPDFMeasurer) Width(text string, size float64, style FontStyle) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pdf.SetFont(fontFamily, string(style), size)
	return m.pdf.GetStringWidth(m.tr(text))
}

// Wrap breaks text into lines no wider than width. Words are packed
// greedily; a word wider than the line is broken between characters.
// Explicit newlines start a new line. Blank text yields no lines.
func Wrap(m Measurer, text string, width, size float64, style FontStyle) []string {
	var lines []string
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		cur := ""
		for _, w := range words {
			candidate := w
			if cur != "" {
				candidate = cur + " " + w
			}
			if m.Width(candidate, size, style) <= width {
				cur = candidate
				continue
			}
			if cur != "" {
				lines = append(lines, cur)
				cur = ""
			}
			if m.Width(w, size, style) <= width {
				cur = w
				continue
			}
			pieces := breakWord(m, w, width, size, style)
			lines = append(lines, pieces[:len(pieces)-1]...)
			cur = pieces[len(pieces)-1]
		}
		if cur != "" {
			lines = append(lines, cur)
		}
	}
	return lines
}

func breakWord(m Measurer, word string, width, size float64, style FontStyle) []string {
	var out []string
	runes := []rune(word)
	start := 0
	for start < len(runes) {
		end := start + 1
		for end < len(runes) && m.Width(string(runes[start:end+1]), size, style) <= width {
			end++
		}
		out = append(out, string(runes[start:end]))
		start = end
	}
	return out
}
