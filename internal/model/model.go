package model

import (
	"context"
	"strings"
)

// Student identifies the examinee for one station.
type Student struct {
	Name string `json:"name" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

// Complete reports whether both identity fields are non-blank.
func (s Student) Complete() bool {
	return strings.TrimSpace(s.Name) != "" && strings.TrimSpace(s.ID) != ""
}

// ExamMode selects between a clinical case and a technical procedure station.
type ExamMode string

const (
	// ModeCase is a clinical reasoning station (diagnosis and management).
	ModeCase ExamMode = "CASE"
	// ModeProcedure is a technical skill station.
	ModeProcedure ExamMode = "PROCEDURE"
)

// Valid reports whether m is a known mode.
func (m ExamMode) Valid() bool {
	return m == ModeCase || m == ModeProcedure
}

// PerformanceStatus is the proctor's verdict on one checklist item.
type PerformanceStatus string

const (
	StatusCorrect   PerformanceStatus = "CORRECT"
	StatusPartial   PerformanceStatus = "PARTIAL"
	StatusIncorrect PerformanceStatus = "INCORRECT"
	StatusNotDone   PerformanceStatus = "NOT_DONE"
)

// Statuses lists every status in display order.
var Statuses = []PerformanceStatus{StatusCorrect, StatusPartial, StatusIncorrect, StatusNotDone}

// Valid reports whether s is a known status.
func (s PerformanceStatus) Valid() bool {
	switch s {
	case StatusCorrect, StatusPartial, StatusIncorrect, StatusNotDone:
		return true
	}
	return false
}

// Credit returns the fraction of a point earned for the status.
func (s PerformanceStatus) Credit() float64 {
	switch s {
	case StatusCorrect:
		return 1.0
	case StatusPartial:
		return 0.5
	default:
		return 0
	}
}

// ResponseMap maps checklist item IDs to the recorded status.
// Items missing from the map count as NOT_DONE.
type ResponseMap map[string]PerformanceStatus

// StatusOf returns the recorded status for an item, defaulting to NOT_DONE.
func (r ResponseMap) StatusOf(itemID string) PerformanceStatus {
	if s, ok := r[itemID]; ok {
		return s
	}
	return StatusNotDone
}

// With returns a copy of r with status recorded for itemID.
func (r ResponseMap) With(itemID string, status PerformanceStatus) ResponseMap {
	out := make(ResponseMap, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[itemID] = status
	return out
}

// Clone returns an independent copy of r (never nil).
func (r ResponseMap) Clone() ResponseMap {
	out := make(ResponseMap, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Feedback is the performance summary for a finished station.
type Feedback struct {
	CalculatedScore float64  `json:"calculated_score"`
	ModelScore      *float64 `json:"model_score,omitempty"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
	Fallback        bool     `json:"fallback,omitempty"`
}

// Clone returns a deep copy of f.
func (f *Feedback) Clone() *Feedback {
	if f == nil {
		return nil
	}
	out := *f
	if f.ModelScore != nil {
		v := *f.ModelScore
		out.ModelScore = &v
	}
	out.Strengths = append([]string(nil), f.Strengths...)
	out.Weaknesses = append([]string(nil), f.Weaknesses...)
	out.Recommendations = append([]string(nil), f.Recommendations...)
	return &out
}

// FallbackText holds the placeholder lines used when AI feedback is unavailable.
type FallbackText struct {
	Strength       string
	Weakness       string
	Recommendation string
}

// DefaultFallbackText is used when no localized text is configured.
var DefaultFallbackText = FallbackText{
	Strength:       "AI analysis could not be generated.",
	Weakness:       "Check the connection to the AI service.",
	Recommendation: "Review the standard guidelines.",
}

// FallbackFeedback builds the deterministic feedback used when the AI call fails.
func FallbackFeedback(score float64, text FallbackText) *Feedback {
	return &Feedback{
		CalculatedScore: score,
		Strengths:       []string{text.Strength},
		Weaknesses:      []string{text.Weakness},
		Recommendations: []string{text.Recommendation},
		Fallback:        true,
	}
}

// Review is the instructor's validation of the result.
type Review struct {
	FinalScore    float64 `json:"final_score"`
	Justification string  `json:"justification,omitempty"`
	EvaluatorName string  `json:"evaluator_name"`
}

// ScenarioRequest is the input of a scenario generation call.
type ScenarioRequest struct {
	Topic                   string
	IsProcedure             bool
	IncludeSimulatedPatient bool
	Language                string
}

// FeedbackRequest is the input of a feedback generation call.
type FeedbackRequest struct {
	Scenario   *Scenario
	Responses  ResponseMap
	Notes      string
	LocalScore float64
	Language   string
}

// StationConfig holds runtime station parameters set via CLI flags.
type StationConfig struct {
	StationSeconds int    // countdown length, 480 by default
	AutoFinish     bool   // finish the station when the countdown expires
	Language       string // UI, prompt and report language
	BasePath       string // URL prefix for sub-path deployments (e.g. "/osce")
	SecureCookies  bool   // Set Secure flag on cookies (disable for local dev)
	PromptVariant  string // Feedback prompt variant (strict, standard, lenient)
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}
