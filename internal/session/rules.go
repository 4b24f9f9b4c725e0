package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/surgieval/internal/model"
	"github.com/pavelanni/surgieval/internal/scoring"
)

// DefaultStationSeconds is the length of a station.
const DefaultStationSeconds = 480

var (
	ErrInvalidTransition     = errors.New("event not allowed in the current stage")
	ErrBusy                  = errors.New("waiting for the AI service")
	ErrUnknownMode           = errors.New("unknown exam mode")
	ErrTopicRequired         = errors.New("topic is required")
	ErrUnknownItem           = errors.New("unknown checklist item")
	ErrInvalidStatus         = errors.New("invalid performance status")
	ErrScoreOutOfRange       = errors.New("final score must be between 0 and 5")
	ErrEvaluatorNameRequired = errors.New("evaluator name is required")
	ErrReportIssued          = errors.New("report already issued")
)

// Rules are the station parameters the transition function depends on.
type Rules struct {
	StationSeconds int
	AutoFinish     bool
	Language       string
	Fallback       model.FallbackText
	// ScenarioFailed is shown when scenario generation fails.
	ScenarioFailed string
}

// DefaultRules returns the rules of a standard eight-minute station.
func DefaultRules() Rules {
	return Rules{
		StationSeconds: DefaultStationSeconds,
		Fallback:       model.DefaultFallbackText,
		ScenarioFailed: "Scenario generation failed. Check the AI service and try again.",
	}
}

// Apply computes the state following ev. On error the returned state is s
// unchanged and no effects are produced.
func (r Rules) Apply(s State, ev Event) (State, []Effect, error) {
	if s.Stage.Busy() {
		switch e := ev.(type) {
		case ScenarioResult:
			if s.Stage == StageGenerating {
				return r.scenarioResult(s, e)
			}
		case FeedbackResult:
			if s.Stage == StageFeedbackGeneration {
				return r.feedbackResult(s, e)
			}
		}
		return s, nil, fmt.Errorf("%T during %s: %w", ev, s.Stage, ErrBusy)
	}

	next := s.Clone()
	switch e := ev.(type) {
	case Login:
		if s.Stage != StageLogin {
			break
		}
		student := model.Student{Name: strings.TrimSpace(e.Name), ID: strings.TrimSpace(e.ID)}
		if !student.Complete() {
			return s, nil, nil
		}
		next.Student = student
		next.Stage = StageModeSelection
		return next, nil, nil

	case SelectMode:
		if s.Stage != StageModeSelection {
			break
		}
		if !e.Mode.Valid() {
			return s, nil, fmt.Errorf("%q: %w", e.Mode, ErrUnknownMode)
		}
		next.Mode = e.Mode
		next.Error = ""
		next.Stage = StageTopicSelection
		return next, nil, nil

	case BackToModes:
		if s.Stage != StageTopicSelection {
			break
		}
		next.Mode = ""
		next.Topic = ""
		next.SimulatedPatient = false
		next.Error = ""
		next.Stage = StageModeSelection
		return next, nil, nil

	case SetSimulatedPatient:
		if s.Stage != StageTopicSelection {
			break
		}
		next.SimulatedPatient = e.On
		return next, nil, nil

	case SelectTopic:
		if s.Stage != StageTopicSelection {
			break
		}
		topic := strings.TrimSpace(e.Topic)
		if topic == "" {
			return s, nil, ErrTopicRequired
		}
		next.Topic = topic
		next.Error = ""
		next.Scenario = nil
		next.Stage = StageGenerating
		req := model.ScenarioRequest{
			Topic:                   topic,
			IsProcedure:             s.Mode == model.ModeProcedure,
			IncludeSimulatedPatient: s.SimulatedPatient && s.Mode == model.ModeCase,
			Language:                r.Language,
		}
		return next, []Effect{RequestScenario{Request: req}}, nil

	case CancelPreview:
		if s.Stage != StagePreview {
			break
		}
		next.Scenario = nil
		next.Stage = StageTopicSelection
		return next, nil, nil

	case StartExam:
		if s.Stage != StagePreview {
			break
		}
		seconds := r.stationSeconds()
		next.Responses = model.ResponseMap{}
		next.Notes = ""
		next.TimeRemaining = seconds
		next.TimerActive = true
		next.Stage = StageExamRunning
		return next, []Effect{StartTimer{Seconds: seconds}}, nil

	case RecordResponse:
		if s.Stage != StageExamRunning {
			break
		}
		if _, ok := s.Scenario.Item(e.ItemID); !ok {
			return s, nil, fmt.Errorf("%q: %w", e.ItemID, ErrUnknownItem)
		}
		if !e.Status.Valid() {
			return s, nil, fmt.Errorf("%q: %w", e.Status, ErrInvalidStatus)
		}
		next.Responses = s.Responses.With(e.ItemID, e.Status)
		return next, nil, nil

	case SetNotes:
		if s.Stage != StageExamRunning {
			break
		}
		next.Notes = e.Notes
		return next, nil, nil

	case TimerExpired:
		if s.Stage != StageExamRunning {
			break
		}
		next.TimerActive = false
		next.TimeRemaining = 0
		if r.AutoFinish {
			return r.finish(s, next)
		}
		return next, nil, nil

	case FinishExam:
		if s.Stage != StageExamRunning {
			break
		}
		return r.finish(s, next)

	case SetFinalScore:
		if err := reviewable(s); err != nil {
			return s, nil, err
		}
		if !scoring.InRange(e.Score) {
			return s, nil, fmt.Errorf("%v: %w", e.Score, ErrScoreOutOfRange)
		}
		next.Review.FinalScore = e.Score
		return next, nil, nil

	case SetJustification:
		if err := reviewable(s); err != nil {
			return s, nil, err
		}
		next.Review.Justification = e.Text
		return next, nil, nil

	case SetEvaluatorName:
		if err := reviewable(s); err != nil {
			return s, nil, err
		}
		next.Review.EvaluatorName = e.Name
		return next, nil, nil

	case IssueReport:
		if s.Stage != StageResults {
			break
		}
		if s.Issued {
			return next, nil, nil
		}
		name := strings.TrimSpace(s.Review.EvaluatorName)
		if name == "" {
			return s, nil, ErrEvaluatorNameRequired
		}
		next.Review.EvaluatorName = name
		next.Issued = true
		next.IssuedAt = e.At
		return next, nil, nil

	case Reset:
		if s.Stage != StageResults {
			break
		}
		return Initial(), []Effect{StopTimer{}}, nil
	}
	return s, nil, fmt.Errorf("%T during %s: %w", ev, s.Stage, ErrInvalidTransition)
}

func (r Rules) stationSeconds() int {
	if r.StationSeconds <= 0 {
		return DefaultStationSeconds
	}
	return r.StationSeconds
}

func (r Rules) fallbackText() model.FallbackText {
	if r.Fallback == (model.FallbackText{}) {
		return model.DefaultFallbackText
	}
	return r.Fallback
}

func reviewable(s State) error {
	if s.Stage != StageResults {
		return fmt.Errorf("review during %s: %w", s.Stage, ErrInvalidTransition)
	}
	if s.Issued {
		return ErrReportIssued
	}
	return nil
}

func (r Rules) finish(s, next State) (State, []Effect, error) {
	if next.Scenario == nil {
		return s, nil, scoring.ErrEmptyChecklist
	}
	score, err := scoring.Score(next.Scenario.Checklist, next.Responses)
	if err != nil {
		return s, nil, err
	}
	next.TimerActive = false
	next.LocalScore = score
	next.Feedback = nil
	next.Stage = StageFeedbackGeneration
	req := model.FeedbackRequest{
		Scenario:   next.Scenario.Clone(),
		Responses:  next.Responses.Clone(),
		Notes:      next.Notes,
		LocalScore: score,
		Language:   r.Language,
	}
	return next, []Effect{StopTimer{}, RequestFeedback{Request: req}}, nil
}

func (r Rules) scenarioResult(s State, e ScenarioResult) (State, []Effect, error) {
	next := s.Clone()
	sc := e.Scenario
	if e.Err == nil && sc != nil && sc.Mode() == s.Mode && len(sc.Checklist) > 0 {
		sc = sc.Clone()
		sc.Topic = s.Topic
		next.Scenario = sc
		next.Error = ""
		next.Stage = StagePreview
		return next, nil, nil
	}
	next.Scenario = nil
	next.Error = r.ScenarioFailed
	if next.Error == "" {
		next.Error = DefaultRules().ScenarioFailed
	}
	next.Stage = StageTopicSelection
	return next, nil, nil
}

func (r Rules) feedbackResult(s State, e FeedbackResult) (State, []Effect, error) {
	next := s.Clone()
	var fb *model.Feedback
	if e.Err == nil && e.Feedback != nil {
		fb = e.Feedback.Clone()
		fb.CalculatedScore = s.LocalScore
		fb.Fallback = false
	} else {
		fb = model.FallbackFeedback(s.LocalScore, r.fallbackText())
	}
	next.Feedback = fb
	next.Review = model.Review{FinalScore: scoring.Round1(s.LocalScore)}
	next.Issued = false
	next.IssuedAt = time.Time{}
	next.Stage = StageResults
	return next, nil, nil
}
