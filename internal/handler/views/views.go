// Package views renders the proctor pages as templ components.
package views

//go:generate templ generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/surgieval/internal/i18n"
	"github.com/pavelanni/surgieval/internal/model"
	"github.com/pavelanni/surgieval/internal/scoring"
	"github.com/pavelanni/surgieval/internal/session"
)

// PageData is everything a stage page needs.
type PageData struct {
	State  session.State
	Topics []string
	Error  string
}

func tr(ctx context.Context, id string) string {
	return appI18n.T(ctx, id)
}

// href resolves an application path against the configured base path.
func href(ctx context.Context, p string) templ.SafeURL {
	return templ.URL(pathTo(ctx, p))
}

func pathTo(ctx context.Context, p string) string {
	return model.BasePathFromContext(ctx) + p
}

func csrfToken(ctx context.Context) string {
	return model.CSRFTokenFromContext(ctx)
}

func studentLabel(s model.Student) string {
	return s.Name + " (" + s.ID + ")"
}

func itemLabel(it model.ChecklistItem) string {
	return "[" + it.Category + "] " + it.Text
}

func topicHeading(ctx context.Context, mode model.ExamMode) string {
	return tr(ctx, "Mode_"+string(mode)) + ": " + tr(ctx, "ChooseTopic")
}

func topicsAvailable(ctx context.Context, n int) string {
	return appI18n.Tp(ctx, "TopicsAvailable", n)
}

func score(v float64) string {
	return fmt.Sprintf("%.1f", v)
}

// bandSuffix renders " / 5.0 (band)" after a calculated score.
func bandSuffix(ctx context.Context, v float64) string {
	return " / 5.0 (" + tr(ctx, "Band_"+string(scoring.BandOf(v))) + ")"
}

func scoreCounts(ctx context.Context, c scoring.Counts) string {
	return appI18n.Td(ctx, "ScoreCounts", map[string]any{
		"Correct": c.Correct, "Partial": c.Partial, "Incorrect": c.Incorrect, "NotDone": c.NotDone,
	})
}

func evaluator(r model.Review) string {
	return strings.TrimSpace(r.EvaluatorName)
}
