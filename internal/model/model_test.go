package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseMapDefaultsToNotDone(t *testing.T) {
	r := ResponseMap{"a": StatusCorrect}
	require.Equal(t, StatusCorrect, r.StatusOf("a"))
	require.Equal(t, StatusNotDone, r.StatusOf("missing"))

	var nilMap ResponseMap
	require.Equal(t, StatusNotDone, nilMap.StatusOf("a"))
}

func TestResponseMapWithIsCopyOnWrite(t *testing.T) {
	orig := ResponseMap{"a": StatusPartial}
	next := orig.With("b", StatusCorrect)

	require.Len(t, orig, 1)
	require.Len(t, next, 2)

	again := next.With("b", StatusCorrect)
	require.Equal(t, next, again)
}

func TestStatusCredit(t *testing.T) {
	tests := []struct {
		status PerformanceStatus
		want   float64
	}{
		{StatusCorrect, 1},
		{StatusPartial, 0.5},
		{StatusIncorrect, 0},
		{StatusNotDone, 0},
		{PerformanceStatus("BOGUS"), 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			require.Equal(t, tt.want, tt.status.Credit())
		})
	}
}

func TestScenarioJSONKeepsVariant(t *testing.T) {
	t.Run("clinical", func(t *testing.T) {
		in := Scenario{
			Title:     "Appendicitis",
			Checklist: []ChecklistItem{{ID: "1", Category: "Exam", Text: "McBurney"}},
			Details: ClinicalDetails{
				VitalsAndLabs: "HR 110",
				SimulatedPatient: &SimulatedPatientScript{
					Attitude: "anxious",
					Phrases:  []string{"me duele"},
				},
			},
		}
		data, err := json.Marshal(in)
		require.NoError(t, err)
		require.Contains(t, string(data), `"mode":"CASE"`)

		var out Scenario
		require.NoError(t, json.Unmarshal(data, &out))
		require.Equal(t, ModeCase, out.Mode())
		require.NotNil(t, out.Clinical())
		require.Nil(t, out.Procedure())
		require.Equal(t, "HR 110", out.Clinical().VitalsAndLabs)
		require.Equal(t, []string{"me duele"}, out.Clinical().SimulatedPatient.Phrases)
	})

	t.Run("procedure", func(t *testing.T) {
		in := Scenario{Title: "Suture", Details: ProcedureDetails{Supplies: "Nylon 3-0"}}
		data, err := json.Marshal(in)
		require.NoError(t, err)

		var out Scenario
		require.NoError(t, json.Unmarshal(data, &out))
		require.Equal(t, ModeProcedure, out.Mode())
		require.Equal(t, "Nylon 3-0", out.Procedure().Supplies)
	})

	t.Run("unknown mode", func(t *testing.T) {
		var out Scenario
		require.Error(t, json.Unmarshal([]byte(`{"title":"x","mode":"OTHER"}`), &out))
	})
}

func TestScenarioCloneIsDeep(t *testing.T) {
	s := &Scenario{
		Checklist: []ChecklistItem{{ID: "1"}},
		Details:   ClinicalDetails{SimulatedPatient: &SimulatedPatientScript{Phrases: []string{"a"}}},
	}
	c := s.Clone()
	c.Checklist[0].ID = "changed"
	c.Clinical().SimulatedPatient.Phrases[0] = "b"

	require.Equal(t, "1", s.Checklist[0].ID)
	require.Equal(t, "a", s.Clinical().SimulatedPatient.Phrases[0])
}

func TestSnapshotValidate(t *testing.T) {
	full := Snapshot{
		Student:  Student{Name: "Ana", ID: "1"},
		Scenario: &Scenario{Details: ProcedureDetails{}},
		Feedback: &Feedback{},
	}
	require.NoError(t, full.Validate())

	missing := full
	missing.Feedback = nil
	require.ErrorIs(t, missing.Validate(), ErrIncompleteSnapshot)
}
