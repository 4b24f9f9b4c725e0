package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/surgieval/internal/model"
)

func writeSnapshot(t *testing.T, dir string, snap model.Snapshot) string {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	path := filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func issuedSnapshot() model.Snapshot {
	return model.Snapshot{
		Student: model.Student{Name: "Juan  Pérez", ID: "77"},
		Mode:    model.ModeProcedure,
		Scenario: &model.Scenario{
			Title:     "Sutura simple",
			Topic:     "Suturas (todos los tipos)",
			Checklist: []model.ChecklistItem{{ID: "1", Category: "Técnica", Text: "Lavado de manos"}},
			Details:   model.ProcedureDetails{Supplies: "Nylon 3-0"},
		},
		Responses: model.ResponseMap{"1": model.StatusCorrect},
		Feedback:  &model.Feedback{CalculatedScore: 5, Strengths: []string{"Asepsia"}},
		Review:    model.Review{FinalScore: 5, EvaluatorName: "Dra. Gómez"},
		IssuedAt:  time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRenderCommand(t *testing.T) {
	dir := t.TempDir()
	snapPath := writeSnapshot(t, dir, issuedSnapshot())
	outDir := filepath.Join(dir, "reports")

	out, err := run(t, "render", "--snapshot", snapPath, "-o", outDir, "--lang", "en")
	require.NoError(t, err)

	want := filepath.Join(outDir, "Juan_Pérez_77.pdf")
	require.Equal(t, want, strings.TrimSpace(out))
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	// Same snapshot, same bytes.
	_, err = run(t, "render", "--snapshot", snapPath, "-o", outDir, "--lang", "en")
	require.NoError(t, err)
	again, err := os.ReadFile(want)
	require.NoError(t, err)
	require.Equal(t, data, again)
}

func TestRenderCommandRejectsUnsigned(t *testing.T) {
	dir := t.TempDir()
	snap := issuedSnapshot()
	snap.Review.EvaluatorName = ""
	_, err := run(t, "render", "--snapshot", writeSnapshot(t, dir, snap), "-o", dir, "--lang", "en")
	require.Error(t, err)

	snap = issuedSnapshot()
	snap.IssuedAt = time.Time{}
	_, err = run(t, "render", "--snapshot", writeSnapshot(t, dir, snap), "-o", dir, "--lang", "en")
	require.ErrorIs(t, err, model.ErrIncompleteSnapshot)
}

func TestTopicsCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "catalog.db")
	extra := filepath.Join(dir, "extra.json")
	require.NoError(t, os.WriteFile(extra, []byte(`[{"mode":"PROCEDURE","name":"Paracentesis"}]`), 0o644))

	out, err := run(t, "topics", "--db", db, "--topics", extra, "--mode", "procedure")
	require.NoError(t, err)
	require.Contains(t, out, "Paracentesis")
	require.Contains(t, out, "Toracostomía")
	require.NotContains(t, out, "Apendicitis aguda")

	_, err = run(t, "topics", "--db", db, "--mode", "surgery")
	require.Error(t, err)
}

func TestStationRules(t *testing.T) {
	_, err := run(t, "render", "--snapshot", writeSnapshot(t, t.TempDir(), issuedSnapshot()), "-o", t.TempDir(), "--lang", "es")
	require.NoError(t, err)

	rules := stationRules("es", 300, true)
	require.Equal(t, 300, rules.StationSeconds)
	require.True(t, rules.AutoFinish)
	require.Equal(t, "es", rules.Language)
	require.NotEqual(t, model.DefaultFallbackText.Strength, rules.Fallback.Strength)
	require.NotEmpty(t, rules.ScenarioFailed)
}
