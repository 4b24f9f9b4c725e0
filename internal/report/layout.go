package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/surgieval/internal/model"
)

// ErrUnsigned is returned for a snapshot without an evaluator name.
var ErrUnsigned = errors.New("report has no evaluator name")

const contentWidth = PageWidth - 2*Margin

var (
	navy      = Color{0, 51, 102}
	white     = Color{255, 255, 255}
	black     = Color{0, 0, 0}
	ink       = Gray(30)
	boxFill   = Color{248, 250, 252}
	boxStroke = Gray(200)
	tableHead = Color{226, 232, 240}
	headText  = Color{71, 85, 105}
	noteBand  = Color{241, 245, 249}
	justFill  = Color{255, 255, 240}
	justEdge  = Color{230, 230, 200}
)

var badgeColors = map[model.PerformanceStatus]Color{
	model.StatusCorrect:   {22, 163, 74},
	model.StatusPartial:   {202, 138, 4},
	model.StatusIncorrect: {220, 38, 38},
	model.StatusNotDone:   {100, 116, 139},
}

type feedbackBlock struct {
	title string
	items []string
	color Color
	bg    Color
}

// Build lays out the report for a completed station.
func Build(snap model.Snapshot, labels Labels, m Measurer) (*Document, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(snap.Review.EvaluatorName) == "" {
		return nil, ErrUnsigned
	}

	b := &builder{
		doc: &Document{
			Title:     labels.Title,
			Author:    strings.TrimSpace(snap.Review.EvaluatorName),
			CreatedAt: snap.IssuedAt,
		},
		m:      m,
		labels: labels,
	}
	b.newPage()

	b.header(snap)
	b.infoBoxes(snap)
	b.score(snap.Review)
	b.feedback(snap.Feedback)
	b.checklist(snap.Scenario.Checklist, snap.Responses)
	b.notes(snap.Notes)
	b.signature(snap.Review.EvaluatorName)
	b.footers()
	return b.doc, nil
}

type builder struct {
	doc    *Document
	page   *Page
	y      float64
	m      Measurer
	labels Labels

	// onPage runs after each page break; it may advance y by at most reserve.
	onPage  func()
	reserve float64
}

func (b *builder) newPage() {
	b.page = &Page{}
	b.doc.Pages = append(b.doc.Pages, b.page)
	b.y = TopReset
	if b.onPage != nil {
		b.onPage()
	}
}

// ensure starts a new page when h more millimetres do not fit.
func (b *builder) ensure(h float64) bool {
	if b.y+h > Bottom {
		b.newPage()
		return true
	}
	return false
}

// flow places lines in boxes that take pad millimetres plus spacing per line.
// A block that fits on one page is moved whole to the next page when needed.
// A taller block is split line by line, filling the current page first.
// draw is called once per box with b.y at its top.
func (b *builder) flow(lines []string, spacing, pad float64, draw func(part []string, h float64, first bool)) {
	if h := float64(len(lines))*spacing + pad; h <= Bottom-TopReset-b.reserve {
		b.ensure(h)
		draw(lines, h, true)
		b.y += h
		return
	}
	first := true
	for len(lines) > 0 {
		n := int((Bottom - b.y - pad) / spacing)
		if n < 1 {
			b.newPage()
			continue
		}
		n = min(n, len(lines))
		h := float64(n)*spacing + pad
		draw(lines[:n], h, first)
		b.y += h
		lines = lines[n:]
		first = false
		if len(lines) > 0 {
			b.newPage()
		}
	}
}

func (b *builder) add(e Element) {
	b.page.Elements = append(b.page.Elements, e)
}

func (b *builder) text(x, y float64, s string, size float64, style FontStyle, c Color) {
	b.add(Text{X: x, Y: y, Text: s, Size: size, Style: style, Color: c})
}

// lines draws wrapped lines from baseline y with the given spacing.
func (b *builder) lines(x, y float64, lines []string, spacing, size float64, style FontStyle, c Color) {
	for i, l := range lines {
		b.text(x, y+float64(i)*spacing, l, size, style, c)
	}
}

func (b *builder) header(snap model.Snapshot) {
	b.add(Rect{X: 0, Y: 0, W: PageWidth, H: 30, Fill: &navy})
	b.text(Margin, 20, b.labels.Title, 18, Bold, white)
	b.add(Text{
		X: PageWidth - Margin, Y: 20,
		Text:  snap.IssuedAt.Format(b.labels.layout()),
		Size:  10,
		Color: white,
		Align: AlignRight,
	})
	b.y = 40
}

func (b *builder) infoBoxes(snap model.Snapshot) {
	const boxHeight = 35
	colWidth := contentWidth/2 - 3
	y := b.y

	b.add(Rect{X: Margin, Y: y, W: colWidth, H: boxHeight, Fill: &boxFill, Stroke: &boxStroke})
	b.text(Margin+4, y+8, strings.ToUpper(b.labels.Student), 9, Bold, navy)
	b.text(Margin+4, y+18, snap.Student.Name, 11, Regular, black)
	b.text(Margin+4, y+26, b.labels.document(snap.Student.ID), 10, Regular, black)

	x := Margin + colWidth + 6
	b.add(Rect{X: x, Y: y, W: colWidth, H: boxHeight, Fill: &boxFill, Stroke: &boxStroke})
	b.text(x+4, y+8, strings.ToUpper(b.labels.Station), 9, Bold, navy)
	topic := snap.Scenario.Topic
	if strings.TrimSpace(topic) == "" {
		topic = snap.Scenario.Title
	}
	b.lines(x+4, y+18, Wrap(b.m, topic, colWidth-8, 10, Regular), 4.5, 10, Regular, black)

	b.y += boxHeight + 12
}

func (b *builder) score(r model.Review) {
	b.add(Line{X1: Margin, Y1: b.y, X2: PageWidth - Margin, Y2: b.y, Width: 0.5, Color: navy})
	b.y += 10
	b.text(Margin, b.y, fmt.Sprintf("%s: %.1f / 5.0", b.labels.FinalScore, r.FinalScore), 16, Bold, navy)

	just := strings.TrimSpace(r.Justification)
	if just == "" {
		b.y += 15
		return
	}
	b.y += 8
	lines := Wrap(b.m, just, contentWidth-4, 9, Italic)
	b.flow(lines, 5, 12, func(part []string, h float64, _ bool) {
		b.add(Rect{X: Margin, Y: b.y, W: contentWidth, H: h, Fill: &justFill, Stroke: &justEdge})
		b.text(Margin+3, b.y+6, b.labels.Justification, 9, Bold, Gray(100))
		b.lines(Margin+3, b.y+12, part, 5, 9, Italic, black)
	})
	b.y += 5
}

func (b *builder) feedback(fb *model.Feedback) {
	blocks := []feedbackBlock{
		{b.labels.Strengths, fb.Strengths, Color{22, 163, 74}, Color{220, 252, 231}},
		{b.labels.Weaknesses, fb.Weaknesses, Color{180, 83, 9}, Color{254, 243, 199}},
		{b.labels.Recommendations, fb.Recommendations, Color{29, 78, 216}, Color{219, 234, 254}},
	}
	for _, blk := range blocks {
		b.ensure(20)
		bg := blk.bg
		b.add(Rect{X: Margin, Y: b.y, W: contentWidth, H: 8, Fill: &bg})
		b.text(Margin+3, b.y+5.5, strings.ToUpper(blk.title), 10, Bold, blk.color)
		b.y += 10

		items := nonBlank(blk.items)
		if len(items) == 0 {
			b.text(Margin+3, b.y, b.labels.EmptyList, 9, Regular, ink)
			b.y += 6
		}
		for _, item := range items {
			lines := Wrap(b.m, "• "+item, contentWidth-6, 9, Regular)
			b.flow(lines, 5, 0, func(part []string, _ float64, _ bool) {
				b.lines(Margin+3, b.y, part, 5, 9, Regular, ink)
			})
			b.y += 2
		}
		b.y += 6
	}
	b.y += 5
}

func (b *builder) tableHeader() {
	b.add(Rect{X: Margin, Y: b.y, W: contentWidth, H: 8, Fill: &tableHead})
	b.text(Margin+3, b.y+5, strings.ToUpper(b.labels.StatusHeader), 8, Bold, headText)
	b.text(Margin+35, b.y+5, strings.ToUpper(b.labels.CriterionHeader), 8, Bold, headText)
	b.y += 8
}

func (b *builder) checklist(items []model.ChecklistItem, responses model.ResponseMap) {
	if b.y > PageHeight-60 {
		b.newPage()
	}
	b.text(Margin, b.y, b.labels.Checklist, 14, Bold, navy)
	b.y += 8
	b.tableHeader()

	b.onPage, b.reserve = b.tableHeader, 8
	defer func() { b.onPage, b.reserve = nil, 0 }()

	for i, item := range items {
		status := responses.StatusOf(item.ID)
		lines := Wrap(b.m, fmt.Sprintf("[%s] %s", item.Category, item.Text), contentWidth-40, 9, Regular)
		if len(lines) == 0 {
			lines = []string{""}
		}
		b.flow(lines, 4.5, 6, func(part []string, h float64, first bool) {
			if i%2 == 0 {
				b.add(Rect{X: Margin, Y: b.y, W: contentWidth, H: h, Fill: &boxFill})
			}
			if first {
				b.text(Margin+3, b.y+4, b.labels.badge(status), 7, Bold, badgeColors[status])
			}
			b.lines(Margin+35, b.y+4, part, 4.5, 9, Regular, ink)
		})
	}
}

func (b *builder) notes(notes string) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return
	}
	b.y += 10
	b.ensure(15)
	b.add(Rect{X: Margin, Y: b.y, W: contentWidth, H: 8, Fill: &noteBand})
	b.text(Margin+3, b.y+5.5, strings.ToUpper(b.labels.Notes), 10, Bold, black)
	b.y += 12

	lines := Wrap(b.m, notes, contentWidth-6, 9, Regular)
	b.flow(lines, 5, 10, func(part []string, h float64, _ bool) {
		b.add(Rect{X: Margin, Y: b.y, W: contentWidth, H: h, Stroke: &boxStroke})
		b.lines(Margin+3, b.y+6, part, 5, 9, Regular, black)
	})
}

// signatureHeight is the space from the previous block to the role line.
const signatureHeight = 30 + 14

func (b *builder) signature(name string) {
	if b.y+signatureHeight > Bottom {
		b.newPage()
		b.y = 40
	} else {
		b.y += 30
	}
	b.add(Line{X1: Margin, Y1: b.y, X2: Margin + 80, Y2: b.y, Width: 0.5, Color: black})
	b.text(Margin, b.y+5, b.labels.EvaluatedBy, 10, Bold, black)
	b.text(Margin, b.y+10, strings.TrimSpace(name), 10, Regular, black)
	b.text(Margin, b.y+14, b.labels.EvaluatorRole, 8, Regular, Gray(100))
}

func (b *builder) footers() {
	total := len(b.doc.Pages)
	for i, p := range b.doc.Pages {
		p.Elements = append(p.Elements, Text{
			X: PageWidth / 2, Y: PageHeight - 10,
			Text:  b.labels.footer(i+1, total),
			Size:  8,
			Color: Gray(150),
			Align: AlignCenter,
		})
	}
}

func nonBlank(items []string) []string {
	var out []string
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			out = append(out, strings.TrimSpace(it))
		}
	}
	return out
}
