package llm

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pavelanni/surgieval/internal/llm/prompts"
	"github.com/pavelanni/surgieval/internal/model"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrInvalidResponse is returned when the model answer does not fit the schema.
var ErrInvalidResponse = errors.New("invalid LLM response")

const (
	scenarioTemperature = 0.6
	feedbackTemperature = 0.5
	// DefaultAttentionMinutes is the time announced in the student instructions.
	DefaultAttentionMinutes = 7
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api              *openai.Client
	model            string
	variant          prompts.PromptVariant
	attentionMinutes int

	tracer         trace.Tracer
	sanitizer      *bluemonday.Policy
	validate       *validator.Validate
	scenarioSchema *jsonschema.Schema
	feedbackSchema *jsonschema.Schema
}

// Option configures a Client.
type Option func(*Client)

// WithAttentionMinutes sets the minutes announced to the student.
func WithAttentionMinutes(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attentionMinutes = n
		}
	}
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName, promptVariant string, opts ...Option) (*Client, error) {
	if err := prompts.Load(prompts.Templates); err != nil {
		return nil, fmt.Errorf("load prompt templates: %w", err)
	}
	if !prompts.IsValidVariant(promptVariant) {
		return nil, fmt.Errorf("invalid prompt variant %q", promptVariant)
	}
	scenarioSchema, err := compileSchema("schemas/scenario.schema.json")
	if err != nil {
		return nil, err
	}
	feedbackSchema, err := compileSchema("schemas/feedback.schema.json")
	if err != nil {
		return nil, err
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	c := &Client{
		api:              openai.NewClientWithConfig(config),
		model:            modelName,
		variant:          prompts.PromptVariant(promptVariant),
		attentionMinutes: DefaultAttentionMinutes,
		tracer:           otel.Tracer("github.com/pavelanni/surgieval/internal/llm"),
		sanitizer:        bluemonday.StrictPolicy(),
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		scenarioSchema:   scenarioSchema,
		feedbackSchema:   feedbackSchema,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func compileSchema(name string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	schema, err := jsonschema.CompileString(name, string(data))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// Ping checks that the endpoint answers and knows the configured model.
func (c *Client) Ping(ctx context.Context) error {
	models, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models.Models {
		if m.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not served by the endpoint", c.model)
}

// GenerateScenario asks the model for a station scenario.
func (c *Client) GenerateScenario(ctx context.Context, req model.ScenarioRequest) (*model.Scenario, error) {
	ctx, span := c.tracer.Start(ctx, "llm.generate_scenario", trace.WithAttributes(
		attribute.String("model", c.model),
		attribute.Bool("procedure", req.IsProcedure),
	))
	defer span.End()

	prompt, err := prompts.BuildScenarioPrompt(req, c.attentionMinutes)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("build scenario prompt: %w", err))
	}
	raw, err := c.complete(ctx, prompt, scenarioTemperature)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("LLM scenario call: %w", err))
	}
	sc, err := c.parseScenario(raw, req)
	if err != nil {
		slog.Debug("rejected scenario response", "raw", raw, "error", err)
		return nil, failSpan(span, err)
	}
	span.SetAttributes(attribute.Int("checklist_items", len(sc.Checklist)))
	return sc, nil
}

// GenerateFeedback asks the model for a performance summary. The returned
// CalculatedScore is the request's local score; the model's own grade is
// kept in ModelScore.
func (c *Client) GenerateFeedback(ctx context.Context, req model.FeedbackRequest) (*model.Feedback, error) {
	ctx, span := c.tracer.Start(ctx, "llm.generate_feedback", trace.WithAttributes(
		attribute.String("model", c.model),
		attribute.String("variant", string(c.variant)),
	))
	defer span.End()

	prompt, err := prompts.BuildFeedbackPrompt(c.variant, req)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("build feedback prompt: %w", err))
	}
	raw, err := c.complete(ctx, prompt, feedbackTemperature)
	if err != nil {
		return nil, failSpan(span, fmt.Errorf("LLM feedback call: %w", err))
	}
	fb, err := c.parseFeedback(raw)
	if err != nil {
		slog.Debug("rejected feedback response", "raw", raw, "error", err)
		return nil, failSpan(span, err)
	}
	fb.CalculatedScore = req.LocalScore
	return fb, nil
}

func (c *Client) complete(ctx context.Context, prompt string, temperature float32) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if raw == "" {
		return "", fmt.Errorf("LLM returned an empty message")
	}
	return raw, nil
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// checkSchema decodes raw and validates it against schema.
func checkSchema(schema *jsonschema.Schema, raw string) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// stripFences removes a Markdown code fence some models wrap JSON in.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimPrefix(raw, "json")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}

// itemID accepts both string and numeric checklist ids.
type itemID string

func (id *itemID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = itemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = itemID(n.String())
	return nil
}

type scenarioPayload struct {
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	ChiefComplaint      string   `json:"chiefComplaint"`
	CurrentIllness      string   `json:"currentIllness"`
	StudentInstructions string   `json:"studentInstructions"`
	Objectives          []string `json:"objectives"`
	History             string   `json:"history"`
	VitalsAndLabs       string   `json:"vitalsAndLabs"`
	Supplies            string   `json:"supplies"`
	RedFlags            []string `json:"redFlags"`
	SimulatedPatient    *struct {
		Attitude    string   `json:"attitude"`
		Gestures    string   `json:"gestures"`
		Phrases     []string `json:"phrases"`
		AllowedInfo string   `json:"allowedInfo"`
		Limitations string   `json:"limitations"`
	} `json:"simulatedPatientScript"`
	Checklist []struct {
		ID       itemID `json:"id"`
		Category string `json:"category"`
		Text     string `json:"text"`
	} `json:"checklist"`
}

func (c *Client) parseScenario(raw string, req model.ScenarioRequest) (*model.Scenario, error) {
	raw = stripFences(raw)
	if err := checkSchema(c.scenarioSchema, raw); err != nil {
		return nil, err
	}
	var p scenarioPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	sc := &model.Scenario{
		Title:               c.clean(p.Title),
		Topic:               strings.TrimSpace(req.Topic),
		Description:         c.clean(p.Description),
		ChiefComplaint:      c.clean(p.ChiefComplaint),
		CurrentIllness:      c.clean(p.CurrentIllness),
		StudentInstructions: c.clean(p.StudentInstructions),
		History:             c.clean(p.History),
		Objectives:          c.cleanAll(p.Objectives),
		RedFlags:            c.cleanAll(p.RedFlags),
	}
	for _, it := range p.Checklist {
		sc.Checklist = append(sc.Checklist, model.ChecklistItem{
			ID:       strings.TrimSpace(string(it.ID)),
			Category: c.clean(it.Category),
			Text:     c.clean(it.Text),
		})
	}

	if req.IsProcedure {
		sc.Details = model.ProcedureDetails{Supplies: c.clean(p.Supplies)}
	} else {
		details := model.ClinicalDetails{VitalsAndLabs: c.clean(p.VitalsAndLabs)}
		if req.IncludeSimulatedPatient && p.SimulatedPatient != nil {
			details.SimulatedPatient = &model.SimulatedPatientScript{
				Attitude:    c.clean(p.SimulatedPatient.Attitude),
				Gestures:    c.clean(p.SimulatedPatient.Gestures),
				Phrases:     c.cleanAll(p.SimulatedPatient.Phrases),
				AllowedInfo: c.clean(p.SimulatedPatient.AllowedInfo),
				Limitations: c.clean(p.SimulatedPatient.Limitations),
			}
		}
		sc.Details = details
	}

	if err := c.validate.Struct(sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return sc, nil
}

type feedbackPayload struct {
	CalculatedScore float64  `json:"calculatedScore"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
}

func (c *Client) parseFeedback(raw string) (*model.Feedback, error) {
	raw = stripFences(raw)
	if err := checkSchema(c.feedbackSchema, raw); err != nil {
		return nil, err
	}
	var p feedbackPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	score := p.CalculatedScore
	return &model.Feedback{
		ModelScore:      &score,
		Strengths:       c.cleanAll(p.Strengths),
		Weaknesses:      c.cleanAll(p.Weaknesses),
		Recommendations: c.cleanAll(p.Recommendations),
	}, nil
}

// clean strips markup from model text.
func (c *Client) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(c.sanitizer.Sanitize(s)))
}

func (c *Client) cleanAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = c.clean(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
