package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/surgieval/internal/model"
	"github.com/pavelanni/surgieval/internal/scoring"
)

//go:embed templates/*.tmpl
var Templates embed.FS

var notesTagRegex = regexp.MustCompile(`(?i)</?\s*evaluator-notes\b[^>]*>`)

const maxNotesRunes = 4000

// PromptVariant represents a feedback prompt variant.
type PromptVariant string

const (
	// PromptStrict grades as a demanding examiner.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default feedback variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient grades formative stations.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce          sync.Once
	loadErr           error
	scenarioTemplates map[model.ExamMode]*template.Template
	feedbackTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// ScenarioData holds template data for scenario prompts.
type ScenarioData struct {
	Topic                   string
	IncludeSimulatedPatient bool
	LanguageName            string
	AttentionMinutes        int
}

// ItemData is one checklist line of a feedback prompt.
type ItemData struct {
	Category string
	Text     string
	Status   model.PerformanceStatus
}

// FeedbackData holds template data for feedback prompts.
type FeedbackData struct {
	Title        string
	Topic        string
	IsProcedure  bool
	LanguageName string
	LocalScore   float64
	Counts       scoring.Counts
	Items        []ItemData
	Notes        string
}

// Load parses the prompt templates from fsys. Only the first call has an
// effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		scenarioTemplates = make(map[model.ExamMode]*template.Template)
		feedbackTemplates = make(map[PromptVariant]*template.Template)

		files := map[model.ExamMode]string{
			model.ModeCase:      "templates/scenario_case.tmpl",
			model.ModeProcedure: "templates/scenario_procedure.tmpl",
		}
		for mode, name := range files {
			tmpl, err := parse(fsys, name)
			if err != nil {
				loadErr = err
				return
			}
			scenarioTemplates[mode] = tmpl
		}

		for _, v := range []PromptVariant{PromptStrict, PromptStandard, PromptLenient} {
			tmpl, err := parse(fsys, "templates/feedback_"+string(v)+".tmpl")
			if err != nil {
				loadErr = err
				return
			}
			feedbackTemplates[v] = tmpl
		}
	})
	return loadErr
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildScenarioPrompt renders the scenario prompt for the request.
func BuildScenarioPrompt(req model.ScenarioRequest, attentionMinutes int) (string, error) {
	if scenarioTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	mode := model.ModeCase
	if req.IsProcedure {
		mode = model.ModeProcedure
	}
	tmpl, ok := scenarioTemplates[mode]
	if !ok {
		return "", fmt.Errorf("templates load failed: %w", loadErr)
	}

	data := ScenarioData{
		Topic:                   strings.TrimSpace(req.Topic),
		IncludeSimulatedPatient: req.IncludeSimulatedPatient && !req.IsProcedure,
		LanguageName:            LanguageName(req.Language),
		AttentionMinutes:        attentionMinutes,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildFeedbackPrompt renders the feedback prompt using the specified variant.
func BuildFeedbackPrompt(variant PromptVariant, req model.FeedbackRequest) (string, error) {
	if feedbackTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := feedbackTemplates[variant]
	if !ok {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	if req.Scenario == nil {
		return "", errors.New("feedback request has no scenario")
	}

	items := make([]ItemData, 0, len(req.Scenario.Checklist))
	for _, it := range req.Scenario.Checklist {
		items = append(items, ItemData{
			Category: it.Category,
			Text:     it.Text,
			Status:   req.Responses.StatusOf(it.ID),
		})
	}
	data := FeedbackData{
		Title:        req.Scenario.Title,
		Topic:        req.Scenario.Topic,
		IsProcedure:  req.Scenario.Mode() == model.ModeProcedure,
		LanguageName: LanguageName(req.Language),
		LocalScore:   req.LocalScore,
		Counts:       scoring.Tally(req.Scenario.Checklist, req.Responses),
		Items:        items,
		Notes:        sanitizeNotes(req.Notes),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LanguageName names the output language for the model.
func LanguageName(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "es", "es-co":
		return "Spanish (Colombia)"
	case "en":
		return "English"
	default:
		return lang
	}
}

func sanitizeNotes(notes string) string {
	notes = notesTagRegex.ReplaceAllString(notes, "")
	notes = strings.TrimSpace(notes)

	if notes == "" {
		return "[No notes]"
	}

	if utf8.RuneCountInString(notes) > maxNotesRunes {
		runes := []rune(notes)
		notes = string(runes[:maxNotesRunes]) + "\n\n[Notes truncated due to length]"
	}
	return notes
}
