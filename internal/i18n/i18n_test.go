package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "ReportTitle")
	if got != "OSCE Evaluation Report - Surgery" {
		t.Errorf("T(ReportTitle) = %q", got)
	}

	got = T(ctx, "StartStation")
	if got != "Start station" {
		t.Errorf("T(StartStation) = %q, want 'Start station'", got)
	}
}

func TestTranslateSpanish(t *testing.T) {
	ctx := initLang(t, "es")

	tests := map[string]string{
		"ReportTitle":           "Reporte de Evaluación ECOE - Cirugía",
		"ReportBadge_INCORRECT": "ERROR",
		"FallbackStrength":      "No se pudo generar análisis AI.",
		"ReportEvaluatedBy":     "Evaluado por:",
	}
	for id, want := range tests {
		if got := T(ctx, id); got != want {
			t.Errorf("T(%s) = %q, want %q", id, got, want)
		}
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "TopicsAvailable", 1)
	if got1 != "1 topic available." {
		t.Errorf("Tp(TopicsAvailable, 1) = %q, want '1 topic available.'", got1)
	}

	got5 := Tp(ctx, "TopicsAvailable", 5)
	if got5 != "5 topics available." {
		t.Errorf("Tp(TopicsAvailable, 5) = %q, want '5 topics available.'", got5)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "es")

	got := Td(ctx, "ReportPage", map[string]any{"Page": 2, "Total": 3})
	if got != "Página 2 de 3" {
		t.Errorf("Td(ReportPage) = %q, want 'Página 2 de 3'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestInitRejectsUnknownLanguage(t *testing.T) {
	if err := Init("ru"); err == nil {
		t.Fatal("Init(ru) succeeded without a locale file")
	}
	if err := Init("not a tag!"); err == nil {
		t.Fatal("Init accepted a malformed tag")
	}
}

func TestSupported(t *testing.T) {
	initLang(t, "en")
	for _, lang := range []string{"en", "es", "es-CO"} {
		if !Supported(lang) {
			t.Errorf("Supported(%q) = false", lang)
		}
	}
	if Supported("de") {
		t.Error("Supported(de) = true")
	}
}

func TestMiddlewareSetsLocalizer(t *testing.T) {
	initLang(t, "en")
	var got string
	h := Middleware("es")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "Continue")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got != "Continuar" {
		t.Errorf("T(Continue) = %q, want 'Continuar'", got)
	}
	if rec.Header().Get("Content-Language") != "es" {
		t.Errorf("Content-Language = %q", rec.Header().Get("Content-Language"))
	}
}

func TestLanguagesListsLocaleFilesOnly(t *testing.T) {
	initLang(t, "es")
	got := Languages()
	if len(got) != 2 || got[0] != "en" || got[1] != "es" {
		t.Errorf("Languages() = %v, want [en es]", got)
	}
	if Supported("ru") {
		t.Error("Supported(ru) = true with no ru locale file")
	}
}

func TestLocalesShareMessageIDs(t *testing.T) {
	ids := func(file string) map[string]bool {
		t.Helper()
		data, err := localeFS.ReadFile("locales/" + file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		var raw map[string]any
		if err := jsonUnmarshal(data, &raw); err != nil {
			t.Fatalf("decode %s: %v", file, err)
		}
		out := make(map[string]bool, len(raw))
		for id := range raw {
			out[id] = true
		}
		return out
	}
	en, es := ids("en.json"), ids("es.json")
	for id := range en {
		if !es[id] {
			t.Errorf("es.json is missing %q", id)
		}
	}
	for id := range es {
		if !en[id] {
			t.Errorf("en.json is missing %q", id)
		}
	}
}

func TestScenarioDescriptionLabel(t *testing.T) {
	tests := map[string]string{"en": "Description", "es": "Descripción"}
	for lang, want := range tests {
		ctx := initLang(t, lang)
		if got := T(ctx, "ScenarioDescription"); got != want {
			t.Errorf("T(ScenarioDescription) in %s = %q, want %q", lang, got, want)
		}
	}
}
