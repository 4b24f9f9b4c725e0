package session

import (
	"strings"
	"time"

	"github.com/pavelanni/surgieval/internal/model"
	"github.com/pavelanni/surgieval/internal/scoring"
)

// State is everything the proctor sees for the current station.
type State struct {
	Stage            Stage
	Student          model.Student
	Mode             model.ExamMode
	Topic            string
	SimulatedPatient bool
	Scenario         *model.Scenario
	Responses        model.ResponseMap
	Notes            string
	TimeRemaining    int
	TimerActive      bool
	LocalScore       float64
	Feedback         *model.Feedback
	Review           model.Review
	Issued           bool
	IssuedAt         time.Time
	Error            string
}

// Initial returns the state of a fresh session.
func Initial() State {
	return State{Stage: StageLogin, Responses: model.ResponseMap{}}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Scenario = s.Scenario.Clone()
	out.Responses = s.Responses.Clone()
	out.Feedback = s.Feedback.Clone()
	return out
}

// CalculatedScore is the rounded local score shown next to the final score.
func (s State) CalculatedScore() float64 {
	if s.Feedback == nil {
		return 0
	}
	return scoring.Round1(s.Feedback.CalculatedScore)
}

// NeedsJustification reports whether the final score departs from the
// calculated one without a written justification.
func (s State) NeedsJustification() bool {
	if s.Stage != StageResults || s.Feedback == nil {
		return false
	}
	return s.Review.FinalScore != s.CalculatedScore() && strings.TrimSpace(s.Review.Justification) == ""
}

// Counts tallies the current responses over the scenario checklist.
func (s State) Counts() scoring.Counts {
	if s.Scenario == nil {
		return scoring.Counts{}
	}
	return scoring.Tally(s.Scenario.Checklist, s.Responses)
}

// Snapshot freezes the state into the report input. It fails until the
// station has reached the results stage.
func (s State) Snapshot() (model.Snapshot, error) {
	snap := model.Snapshot{
		Student:   s.Student,
		Mode:      s.Mode,
		Scenario:  s.Scenario.Clone(),
		Responses: s.Responses.Clone(),
		Notes:     s.Notes,
		Feedback:  s.Feedback.Clone(),
		Review:    s.Review,
		IssuedAt:  s.IssuedAt,
	}
	if err := snap.Validate(); err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}
