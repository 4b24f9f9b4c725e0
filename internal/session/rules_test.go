package session

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/surgieval/internal/model"
)

func testScenario(mode model.ExamMode) *model.Scenario {
	sc := &model.Scenario{
		Title: "Station",
		Checklist: []model.ChecklistItem{
			{ID: "1", Category: "History", Text: "Asks onset"},
			{ID: "2", Category: "Exam", Text: "Palpates abdomen"},
			{ID: "3", Category: "Plan", Text: "Orders labs"},
			{ID: "4", Category: "Plan", Text: "Consults surgery"},
		},
	}
	if mode == model.ModeProcedure {
		sc.Details = model.ProcedureDetails{Supplies: "Nylon 3-0"}
	} else {
		sc.Details = model.ClinicalDetails{VitalsAndLabs: "HR 110"}
	}
	return sc
}

// apply runs the events in order and fails on the first error.
func apply(t *testing.T, r Rules, s State, events ...Event) (State, []Effect) {
	t.Helper()
	var effects []Effect
	for _, ev := range events {
		var err error
		s, effects, err = r.Apply(s, ev)
		require.NoError(t, err, "%T", ev)
	}
	return s, effects
}

func atPreview(t *testing.T, r Rules, mode model.ExamMode) State {
	t.Helper()
	s, _ := apply(t, r, Initial(),
		Login{Name: "Ana", ID: "123"},
		SelectMode{Mode: mode},
		SelectTopic{Topic: "Apendicitis"},
		ScenarioResult{Scenario: testScenario(mode)},
	)
	require.Equal(t, StagePreview, s.Stage)
	return s
}

func atResults(t *testing.T, r Rules) State {
	t.Helper()
	s := atPreview(t, r, model.ModeCase)
	s, _ = apply(t, r, s,
		StartExam{},
		RecordResponse{ItemID: "1", Status: model.StatusCorrect},
		RecordResponse{ItemID: "2", Status: model.StatusCorrect},
		RecordResponse{ItemID: "3", Status: model.StatusPartial},
		FinishExam{},
		FeedbackResult{Err: errors.New("offline")},
	)
	require.Equal(t, StageResults, s.Stage)
	return s
}

func TestLoginRequiresBothFields(t *testing.T) {
	tests := []struct {
		name, student, id string
		want              Stage
	}{
		{"both", "Ana", "123", StageModeSelection},
		{"blank name", "   ", "123", StageLogin},
		{"blank id", "Ana", "", StageLogin},
		{"both blank", "", " ", StageLogin},
	}
	r := DefaultRules()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, effects, err := r.Apply(Initial(), Login{Name: tt.student, ID: tt.id})
			require.NoError(t, err)
			require.Empty(t, effects)
			require.Equal(t, tt.want, s.Stage)
		})
	}
}

func TestLoginTrimsIdentity(t *testing.T) {
	s, _ := apply(t, DefaultRules(), Initial(), Login{Name: "  Ana  ", ID: " 1 "})
	require.Equal(t, model.Student{Name: "Ana", ID: "1"}, s.Student)
}

func TestSelectModeRejectsUnknown(t *testing.T) {
	r := DefaultRules()
	s, _ := apply(t, r, Initial(), Login{Name: "Ana", ID: "1"})
	got, _, err := r.Apply(s, SelectMode{Mode: "OTHER"})
	require.ErrorIs(t, err, ErrUnknownMode)
	require.Equal(t, StageModeSelection, got.Stage)
}

func TestBackToModesKeepsStudent(t *testing.T) {
	r := DefaultRules()
	s, _ := apply(t, r, Initial(), Login{Name: "Ana", ID: "1"}, SelectMode{Mode: model.ModeCase}, BackToModes{})
	require.Equal(t, StageModeSelection, s.Stage)
	require.Equal(t, "Ana", s.Student.Name)
	require.Empty(t, s.Mode)
}

func TestSelectTopicEmitsRequest(t *testing.T) {
	tests := []struct {
		name        string
		mode        model.ExamMode
		patient     bool
		wantPatient bool
	}{
		{"case with patient", model.ModeCase, true, true},
		{"case without patient", model.ModeCase, false, false},
		{"procedure ignores patient", model.ModeProcedure, true, false},
	}
	r := DefaultRules()
	r.Language = "es"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, effects := apply(t, r, Initial(),
				Login{Name: "Ana", ID: "1"},
				SelectMode{Mode: tt.mode},
				SetSimulatedPatient{On: tt.patient},
				SelectTopic{Topic: " Hernia inguinal "},
			)
			require.Equal(t, StageGenerating, s.Stage)
			require.Equal(t, "Hernia inguinal", s.Topic)
			require.Len(t, effects, 1)
			req := effects[0].(RequestScenario).Request
			require.Equal(t, "Hernia inguinal", req.Topic)
			require.Equal(t, tt.mode == model.ModeProcedure, req.IsProcedure)
			require.Equal(t, tt.wantPatient, req.IncludeSimulatedPatient)
			require.Equal(t, "es", req.Language)
		})
	}
}

func TestSelectTopicRejectsBlank(t *testing.T) {
	r := DefaultRules()
	s, _ := apply(t, r, Initial(), Login{Name: "Ana", ID: "1"}, SelectMode{Mode: model.ModeCase})
	got, effects, err := r.Apply(s, SelectTopic{Topic: "  "})
	require.ErrorIs(t, err, ErrTopicRequired)
	require.Empty(t, effects)
	require.Equal(t, StageTopicSelection, got.Stage)
}

func TestScenarioResultStampsTopic(t *testing.T) {
	s := atPreview(t, DefaultRules(), model.ModeCase)
	require.Equal(t, "Apendicitis", s.Scenario.Topic)
	require.Empty(t, s.Error)
}

func TestScenarioFailureReturnsToTopics(t *testing.T) {
	tests := []struct {
		name string
		ev   ScenarioResult
	}{
		{"error", ScenarioResult{Err: errors.New("boom")}},
		{"nil scenario", ScenarioResult{}},
		{"mode mismatch", ScenarioResult{Scenario: testScenario(model.ModeProcedure)}},
		{"empty checklist", ScenarioResult{Scenario: &model.Scenario{Details: model.ClinicalDetails{}}}},
	}
	r := DefaultRules()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := apply(t, r, Initial(),
				Login{Name: "Ana", ID: "1"},
				SelectMode{Mode: model.ModeCase},
				SelectTopic{Topic: "Apendicitis"},
				tt.ev,
			)
			require.Equal(t, StageTopicSelection, s.Stage)
			require.Nil(t, s.Scenario)
			require.Equal(t, r.ScenarioFailed, s.Error)

			// The error clears on the next attempt.
			s, _ = apply(t, r, s, SelectTopic{Topic: "Apendicitis"})
			require.Empty(t, s.Error)
		})
	}
}

func TestCancelPreviewDiscardsScenario(t *testing.T) {
	r := DefaultRules()
	s, _ := apply(t, r, atPreview(t, r, model.ModeCase), CancelPreview{})
	require.Equal(t, StageTopicSelection, s.Stage)
	require.Nil(t, s.Scenario)
}

func TestStartExamResetsStation(t *testing.T) {
	r := DefaultRules()
	s := atPreview(t, r, model.ModeCase)
	s.Responses = model.ResponseMap{"1": model.StatusCorrect}
	s.Notes = "stale"

	s, effects := apply(t, r, s, StartExam{})
	require.Equal(t, StageExamRunning, s.Stage)
	require.Equal(t, 480, s.TimeRemaining)
	require.True(t, s.TimerActive)
	require.Empty(t, s.Responses)
	require.Empty(t, s.Notes)
	require.Equal(t, []Effect{StartTimer{Seconds: 480}}, effects)
}

func TestRecordResponse(t *testing.T) {
	r := DefaultRules()
	s, _ := apply(t, r, atPreview(t, r, model.ModeCase), StartExam{})

	once, _ := apply(t, r, s, RecordResponse{ItemID: "1", Status: model.StatusPartial})
	twice, _ := apply(t, r, once, RecordResponse{ItemID: "1", Status: model.StatusPartial})
	require.Equal(t, once.Responses, twice.Responses)
	require.Empty(t, s.Responses, "the previous state must not see the upsert")

	_, _, err := r.Apply(s, RecordResponse{ItemID: "99", Status: model.StatusCorrect})
	require.ErrorIs(t, err, ErrUnknownItem)

	_, _, err = r.Apply(s, RecordResponse{ItemID: "1", Status: "MAYBE"})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestFinishExamComputesLocalScore(t *testing.T) {
	r := DefaultRules()
	s, effects := apply(t, r, atPreview(t, r, model.ModeCase),
		StartExam{},
		RecordResponse{ItemID: "1", Status: model.StatusCorrect},
		RecordResponse{ItemID: "2", Status: model.StatusCorrect},
		RecordResponse{ItemID: "3", Status: model.StatusPartial},
		SetNotes{Notes: "good rapport"},
		FinishExam{},
	)
	require.Equal(t, StageFeedbackGeneration, s.Stage)
	require.False(t, s.TimerActive)
	require.InDelta(t, 3.125, s.LocalScore, 1e-9)

	require.Len(t, effects, 2)
	require.Equal(t, StopTimer{}, effects[0])
	req := effects[1].(RequestFeedback).Request
	require.InDelta(t, 3.125, req.LocalScore, 1e-9)
	require.Equal(t, "good rapport", req.Notes)
	require.Len(t, req.Responses, 3)
}

func TestFeedbackFailureFallsBack(t *testing.T) {
	r := DefaultRules()
	s := atResults(t, r)

	require.True(t, s.Feedback.Fallback)
	require.InDelta(t, 3.125, s.Feedback.CalculatedScore, 1e-9)
	require.Equal(t, 3.1, s.Review.FinalScore)
	require.Equal(t, []string{r.Fallback.Strength}, s.Feedback.Strengths)
	require.Equal(t, []string{r.Fallback.Weakness}, s.Feedback.Weaknesses)
	require.Equal(t, []string{r.Fallback.Recommendation}, s.Feedback.Recommendations)
}

func TestFeedbackSuccessKeepsLocalScore(t *testing.T) {
	r := DefaultRules()
	s, _ := apply(t, r, atPreview(t, r, model.ModeCase),
		StartExam{},
		RecordResponse{ItemID: "1", Status: model.StatusCorrect},
		FinishExam{},
	)
	modelScore := 4.8
	s, _ = apply(t, r, s, FeedbackResult{Feedback: &model.Feedback{
		CalculatedScore: modelScore,
		ModelScore:      &modelScore,
		Strengths:       []string{"Systematic history"},
	}})

	require.Equal(t, StageResults, s.Stage)
	require.False(t, s.Feedback.Fallback)
	require.InDelta(t, 1.25, s.Feedback.CalculatedScore, 1e-9)
	require.Equal(t, 4.8, *s.Feedback.ModelScore)
	require.Equal(t, 1.3, s.Review.FinalScore)
	require.False(t, s.NeedsJustification())
}

func TestTimerExpired(t *testing.T) {
	t.Run("manual finish", func(t *testing.T) {
		r := DefaultRules()
		s, effects := apply(t, r, atPreview(t, r, model.ModeCase), StartExam{}, TimerExpired{})
		require.Equal(t, StageExamRunning, s.Stage)
		require.False(t, s.TimerActive)
		require.Zero(t, s.TimeRemaining)
		require.Empty(t, effects)

		s, _ = apply(t, r, s, RecordResponse{ItemID: "1", Status: model.StatusCorrect}, FinishExam{})
		require.Equal(t, StageFeedbackGeneration, s.Stage)
	})

	t.Run("auto finish", func(t *testing.T) {
		r := DefaultRules()
		r.AutoFinish = true
		s, effects := apply(t, r, atPreview(t, r, model.ModeCase), StartExam{}, TimerExpired{})
		require.Equal(t, StageFeedbackGeneration, s.Stage)
		require.Len(t, effects, 2)
	})
}

func TestFinalScoreRange(t *testing.T) {
	r := DefaultRules()
	s := atResults(t, r)
	for _, bad := range []float64{-0.1, 5.1, math.NaN(), math.Inf(1)} {
		got, _, err := r.Apply(s, SetFinalScore{Score: bad})
		require.ErrorIs(t, err, ErrScoreOutOfRange, "%v", bad)
		require.Equal(t, 3.1, got.Review.FinalScore)
	}
	for _, ok := range []float64{0, 2.5, 5} {
		got, _ := apply(t, r, s, SetFinalScore{Score: ok})
		require.Equal(t, ok, got.Review.FinalScore)
	}
}

func TestNeedsJustification(t *testing.T) {
	r := DefaultRules()
	s := atResults(t, r)
	require.False(t, s.NeedsJustification())

	s, _ = apply(t, r, s, SetFinalScore{Score: 4})
	require.True(t, s.NeedsJustification())

	s, _ = apply(t, r, s, SetJustification{Text: "Excellent communication"})
	require.False(t, s.NeedsJustification())
}

func TestIssueReport(t *testing.T) {
	r := DefaultRules()
	s := atResults(t, r)
	at := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

	_, _, err := r.Apply(s, IssueReport{At: at})
	require.ErrorIs(t, err, ErrEvaluatorNameRequired)

	s, _ = apply(t, r, s, SetEvaluatorName{Name: "   "})
	_, _, err = r.Apply(s, IssueReport{At: at})
	require.ErrorIs(t, err, ErrEvaluatorNameRequired)

	s, _ = apply(t, r, s, SetEvaluatorName{Name: " Dr. Ruiz "}, IssueReport{At: at})
	require.True(t, s.Issued)
	require.Equal(t, "Dr. Ruiz", s.Review.EvaluatorName)

	_, _, err = r.Apply(s, SetFinalScore{Score: 1})
	require.ErrorIs(t, err, ErrReportIssued)
	_, _, err = r.Apply(s, SetEvaluatorName{Name: "Other"})
	require.ErrorIs(t, err, ErrReportIssued)

	again, _ := apply(t, r, s, IssueReport{At: at.Add(time.Hour)})
	first, err := s.Snapshot()
	require.NoError(t, err)
	second, err := again.Snapshot()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestResetTearsDown(t *testing.T) {
	r := DefaultRules()
	s, effects := apply(t, r, atResults(t, r), Reset{})
	require.Equal(t, Initial(), s)
	require.Equal(t, []Effect{StopTimer{}}, effects)
}

func TestBusyStagesRejectUserEvents(t *testing.T) {
	r := DefaultRules()
	generating, _ := apply(t, r, Initial(),
		Login{Name: "Ana", ID: "1"},
		SelectMode{Mode: model.ModeCase},
		SelectTopic{Topic: "Apendicitis"},
	)
	feedback, _ := apply(t, r, atPreview(t, r, model.ModeCase), StartExam{}, FinishExam{})

	for _, s := range []State{generating, feedback} {
		for _, ev := range []Event{Reset{}, CancelPreview{}, FinishExam{}, SelectTopic{Topic: "x"}, TimerExpired{}} {
			got, effects, err := r.Apply(s, ev)
			require.ErrorIs(t, err, ErrBusy, "%T during %s", ev, s.Stage)
			require.Empty(t, effects)
			require.Equal(t, s, got)
		}
	}

	_, _, err := r.Apply(generating, FeedbackResult{})
	require.ErrorIs(t, err, ErrBusy)
	_, _, err = r.Apply(feedback, ScenarioResult{})
	require.ErrorIs(t, err, ErrBusy)
}

func TestInvalidTransitions(t *testing.T) {
	r := DefaultRules()
	tests := []struct {
		name string
		s    State
		ev   Event
	}{
		{"start before login", Initial(), StartExam{}},
		{"reset before results", Initial(), Reset{}},
		{"record outside exam", atPreview(t, r, model.ModeCase), RecordResponse{ItemID: "1", Status: model.StatusCorrect}},
		{"review outside results", atPreview(t, r, model.ModeCase), SetFinalScore{Score: 3}},
		{"scenario result outside generating", Initial(), ScenarioResult{}},
		{"login twice", atPreview(t, r, model.ModeCase), Login{Name: "B", ID: "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := r.Apply(tt.s, tt.ev)
			require.ErrorIs(t, err, ErrInvalidTransition)
			require.Equal(t, tt.s, got)
		})
	}
}
