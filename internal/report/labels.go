package report

import (
	"context"
	"fmt"

	"github.com/pavelanni/surgieval/internal/i18n"
	"github.com/pavelanni/surgieval/internal/model"
)

// Labels are the fixed strings printed on the report.
type Labels struct {
	Title           string
	Student         string
	Document        func(id string) string
	Station         string
	FinalScore      string
	Justification   string
	Strengths       string
	Weaknesses      string
	Recommendations string
	EmptyList       string
	Checklist       string
	StatusHeader    string
	CriterionHeader string
	Badges          map[model.PerformanceStatus]string
	Notes           string
	EvaluatedBy     string
	EvaluatorRole   string
	Footer          func(page, total int) string
	DateTimeLayout  string
}

// LocalizedLabels reads the labels from the localizer in ctx.
func LocalizedLabels(ctx context.Context) Labels {
	badges := make(map[model.PerformanceStatus]string, len(model.Statuses))
	for _, s := range model.Statuses {
		badges[s] = i18n.T(ctx, "ReportBadge_"+string(s))
	}
	return Labels{
		Title:   i18n.T(ctx, "ReportTitle"),
		Student: i18n.T(ctx, "ReportStudent"),
		Document: func(id string) string {
			return i18n.Td(ctx, "ReportDocument", map[string]any{"ID": id})
		},
		Station:         i18n.T(ctx, "ReportStation"),
		FinalScore:      i18n.T(ctx, "ReportFinalScore"),
		Justification:   i18n.T(ctx, "ReportJustification"),
		Strengths:       i18n.T(ctx, "Strengths"),
		Weaknesses:      i18n.T(ctx, "Weaknesses"),
		Recommendations: i18n.T(ctx, "Recommendations"),
		EmptyList:       i18n.T(ctx, "ReportEmptyList"),
		Checklist:       i18n.T(ctx, "ReportChecklist"),
		StatusHeader:    i18n.T(ctx, "ReportStatusHeader"),
		CriterionHeader: i18n.T(ctx, "ReportCriterionHeader"),
		Badges:          badges,
		Notes:           i18n.T(ctx, "ReportNotes"),
		EvaluatedBy:     i18n.T(ctx, "ReportEvaluatedBy"),
		EvaluatorRole:   i18n.T(ctx, "ReportEvaluatorRole"),
		Footer: func(page, total int) string {
			return i18n.Td(ctx, "ReportPage", map[string]any{"Page": page, "Total": total})
		},
		DateTimeLayout: i18n.T(ctx, "DateTimeLayout"),
	}
}

func (l Labels) badge(s model.PerformanceStatus) string {
	if b, ok := l.Badges[s]; ok && b != "" {
		return b
	}
	return string(s)
}

func (l Labels) document(id string) string {
	if l.Document == nil {
		return "ID: " + id
	}
	return l.Document(id)
}

func (l Labels) footer(page, total int) string {
	if l.Footer == nil {
		return fmt.Sprintf("%d / %d", page, total)
	}
	return l.Footer(page, total)
}

func (l Labels) layout() string {
	if l.DateTimeLayout == "" {
		return "2006-01-02 15:04"
	}
	return l.DateTimeLayout
}
