package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/surgieval/internal/model"
)

const scenarioJSON = `{
  "title": "Dolor en fosa iliaca derecha",
  "description": "Paciente de 22 años con dolor abdominal.",
  "chiefComplaint": "Dolor abdominal",
  "currentIllness": "Inicio periumbilical hace 18 horas",
  "studentInstructions": "Realice la anamnesis dirigida. Dispone de 7 minutos.",
  "objectives": ["Identificar signos de irritación peritoneal"],
  "history": "Sin antecedentes",
  "vitalsAndLabs": "FC 110, T 38.4, leucocitos 16000",
  "redFlags": ["<b>Defensa</b> abdominal"],
  "simulatedPatientScript": {
    "attitude": "ansioso",
    "gestures": "se lleva la mano al abdomen",
    "phrases": ["me duele mucho"],
    "allowedInfo": "dolor migratorio",
    "limitations": "no conoce su diagnóstico"
  },
  "checklist": [
    {"id": 1, "category": "Anamnesis", "text": "Pregunta inicio del dolor"},
    {"id": "2", "category": "Examen", "text": "Busca signo de <script>alert(1)</script>Blumberg"}
  ]
}`

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(baseURL, "test-key", "test-model", "standard")
	require.NoError(t, err)
	return c
}

func TestParseScenario(t *testing.T) {
	c := newTestClient(t, "")

	sc, err := c.parseScenario(scenarioJSON, model.ScenarioRequest{Topic: " Apendicitis aguda ", IncludeSimulatedPatient: true})
	require.NoError(t, err)
	require.Equal(t, model.ModeCase, sc.Mode())
	require.Equal(t, "Apendicitis aguda", sc.Topic)
	require.Len(t, sc.Checklist, 2)
	require.Equal(t, "1", sc.Checklist[0].ID)
	require.Equal(t, "2", sc.Checklist[1].ID)
	require.Equal(t, "Busca signo de Blumberg", sc.Checklist[1].Text)
	require.Equal(t, []string{"Defensa abdominal"}, sc.RedFlags)
	require.Equal(t, "FC 110, T 38.4, leucocitos 16000", sc.Clinical().VitalsAndLabs)
	require.NotNil(t, sc.Clinical().SimulatedPatient)
	require.Equal(t, []string{"me duele mucho"}, sc.Clinical().SimulatedPatient.Phrases)
}

func TestParseScenarioDropsUnrequestedPatient(t *testing.T) {
	c := newTestClient(t, "")
	sc, err := c.parseScenario(scenarioJSON, model.ScenarioRequest{Topic: "Apendicitis"})
	require.NoError(t, err)
	require.Nil(t, sc.Clinical().SimulatedPatient)
}

func TestParseScenarioProcedure(t *testing.T) {
	c := newTestClient(t, "")
	raw := "```json\n" + `{
	  "title": "Sutura simple",
	  "description": "Herida en antebrazo",
	  "chiefComplaint": "Herida",
	  "currentIllness": "Corte con vidrio",
	  "studentInstructions": "Realice la sutura",
	  "objectives": [],
	  "history": "",
	  "supplies": "Nylon 3-0, porta agujas",
	  "redFlags": [],
	  "checklist": [{"id": "a", "category": "Técnica", "text": "Lavado de manos"}]
	}` + "\n```"

	sc, err := c.parseScenario(raw, model.ScenarioRequest{Topic: "Suturas", IsProcedure: true})
	require.NoError(t, err)
	require.Equal(t, model.ModeProcedure, sc.Mode())
	require.Equal(t, "Nylon 3-0, porta agujas", sc.Procedure().Supplies)
}

func TestParseScenarioRejects(t *testing.T) {
	c := newTestClient(t, "")
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "I cannot help with that"},
		{"missing checklist", `{"title":"x","description":"","chiefComplaint":"","currentIllness":"","studentInstructions":"","objectives":[],"history":"","redFlags":[]}`},
		{"empty checklist", `{"title":"x","description":"","chiefComplaint":"","currentIllness":"","studentInstructions":"","objectives":[],"history":"","redFlags":[],"checklist":[]}`},
		{"duplicate ids", `{"title":"x","description":"","chiefComplaint":"","currentIllness":"","studentInstructions":"","objectives":[],"history":"","redFlags":[],
			"checklist":[{"id":"1","category":"a","text":"b"},{"id":1,"category":"c","text":"d"}]}`},
		{"markup only text", `{"title":"x","description":"","chiefComplaint":"","currentIllness":"","studentInstructions":"","objectives":[],"history":"","redFlags":[],
			"checklist":[{"id":"1","category":"a","text":"<script>x</script>"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.parseScenario(tt.raw, model.ScenarioRequest{Topic: "x"})
			require.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestParseFeedback(t *testing.T) {
	c := newTestClient(t, "")
	fb, err := c.parseFeedback(`{"calculatedScore": 3.5, "strengths": ["Buena anamnesis", " "], "weaknesses": [], "recommendations": ["Repasar <i>Alvarado</i>"]}`)
	require.NoError(t, err)
	require.NotNil(t, fb.ModelScore)
	require.Equal(t, 3.5, *fb.ModelScore)
	require.Equal(t, []string{"Buena anamnesis"}, fb.Strengths)
	require.Empty(t, fb.Weaknesses)
	require.Equal(t, []string{"Repasar Alvarado"}, fb.Recommendations)
	require.False(t, fb.Fallback)

	_, err = c.parseFeedback(`{"calculatedScore": 7, "strengths": [], "weaknesses": [], "recommendations": []}`)
	require.ErrorIs(t, err, ErrInvalidResponse)

	_, err = c.parseFeedback(`{"strengths": []}`)
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestStripFences(t *testing.T) {
	tests := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}```", `{"a":1}`},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, stripFences(tt.in))
	}
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	_, err := New("", "k", "m", "harsh")
	require.Error(t, err)
}

// fakeOpenAI serves the two endpoints the client uses.
type fakeOpenAI struct {
	mu      sync.Mutex
	content string
	status  int
	prompts []string
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/models"):
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"test-model","object":"model"}]}`)
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
			ResponseFormat struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		for _, m := range req.Messages {
			f.prompts = append(f.prompts, m.Content)
		}
		status, content := f.status, f.content
		f.mu.Unlock()

		if req.ResponseFormat.Type != "json_object" {
			http.Error(w, `{"error":{"message":"json mode required"}}`, http.StatusBadRequest)
			return
		}
		if status != 0 {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":{"message":"upstream failure","type":"server_error"}}`)
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []any{map[string]any{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": content}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		http.NotFound(w, r)
	}
}

func TestClientAgainstFakeServer(t *testing.T) {
	fake := &fakeOpenAI{content: scenarioJSON}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/v1")
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	sc, err := c.GenerateScenario(ctx, model.ScenarioRequest{Topic: "Apendicitis aguda", Language: "es"})
	require.NoError(t, err)
	require.Equal(t, "Apendicitis aguda", sc.Topic)
	require.Contains(t, fake.prompts[0], "Apendicitis aguda")

	fake.mu.Lock()
	fake.content = `{"calculatedScore": 4.8, "strengths": ["Ordenado"], "weaknesses": ["Omitió Blumberg"], "recommendations": ["Practicar"]}`
	fake.mu.Unlock()

	fb, err := c.GenerateFeedback(ctx, model.FeedbackRequest{
		Scenario:   sc,
		Responses:  model.ResponseMap{"1": model.StatusCorrect},
		Notes:      "Buen trato",
		LocalScore: 2.5,
		Language:   "es",
	})
	require.NoError(t, err)
	require.Equal(t, 2.5, fb.CalculatedScore)
	require.Equal(t, 4.8, *fb.ModelScore)
	require.Contains(t, fake.prompts[1], "Buen trato")
}

func TestClientUpstreamError(t *testing.T) {
	fake := &fakeOpenAI{status: http.StatusInternalServerError}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/v1")
	_, err := c.GenerateScenario(context.Background(), model.ScenarioRequest{Topic: "Apendicitis"})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrInvalidResponse))
}

func TestPingUnknownModel(t *testing.T) {
	srv := httptest.NewServer(&fakeOpenAI{})
	defer srv.Close()

	c, err := New(srv.URL+"/v1", "k", "other-model", "strict")
	require.NoError(t, err)
	require.Error(t, c.Ping(context.Background()))
}
