package session

import (
	"time"

	"github.com/pavelanni/surgieval/internal/model"
)

// Event is an input to the state machine.
type Event interface {
	isEvent()
}

// Login records the student identity.
type Login struct{ Name, ID string }

// SelectMode chooses between a clinical case and a procedure.
type SelectMode struct{ Mode model.ExamMode }

// BackToModes returns from topic selection to mode selection.
type BackToModes struct{}

// SetSimulatedPatient toggles the standardized patient script for clinical cases.
type SetSimulatedPatient struct{ On bool }

// SelectTopic starts scenario generation for the topic.
type SelectTopic struct{ Topic string }

// ScenarioResult delivers the outcome of scenario generation.
type ScenarioResult struct {
	Scenario *model.Scenario
	Err      error
}

// CancelPreview discards the generated scenario.
type CancelPreview struct{}

// StartExam starts the countdown and the checklist.
type StartExam struct{}

// RecordResponse marks one checklist item.
type RecordResponse struct {
	ItemID string
	Status model.PerformanceStatus
}

// SetNotes replaces the evaluator notes.
type SetNotes struct{ Notes string }

// TimerExpired is sent by the countdown when it reaches zero.
type TimerExpired struct{}

// FinishExam ends the station and requests feedback.
type FinishExam struct{}

// FeedbackResult delivers the outcome of feedback generation.
type FeedbackResult struct {
	Feedback *model.Feedback
	Err      error
}

// SetFinalScore overrides the grade.
type SetFinalScore struct{ Score float64 }

// SetJustification records why the grade was overridden.
type SetJustification struct{ Text string }

// SetEvaluatorName records who signs the report.
type SetEvaluatorName struct{ Name string }

// IssueReport freezes the review for the report.
type IssueReport struct{ At time.Time }

// Reset tears the session down and returns to login.
type Reset struct{}

func (Login) isEvent()               {}
func (SelectMode) isEvent()          {}
func (BackToModes) isEvent()         {}
func (SetSimulatedPatient) isEvent() {}
func (SelectTopic) isEvent()         {}
func (ScenarioResult) isEvent()      {}
func (CancelPreview) isEvent()       {}
func (StartExam) isEvent()           {}
func (RecordResponse) isEvent()      {}
func (SetNotes) isEvent()            {}
func (TimerExpired) isEvent()        {}
func (FinishExam) isEvent()          {}
func (FeedbackResult) isEvent()      {}
func (SetFinalScore) isEvent()       {}
func (SetJustification) isEvent()    {}
func (SetEvaluatorName) isEvent()    {}
func (IssueReport) isEvent()         {}
func (Reset) isEvent()               {}

// Effect is work the machine must perform after a transition.
type Effect interface {
	isEffect()
}

// RequestScenario asks the generator for a scenario.
type RequestScenario struct{ Request model.ScenarioRequest }

// RequestFeedback asks the generator for feedback.
type RequestFeedback struct{ Request model.FeedbackRequest }

// StartTimer (re)starts the countdown.
type StartTimer struct{ Seconds int }

// StopTimer stops the countdown.
type StopTimer struct{}

func (RequestScenario) isEffect() {}
func (RequestFeedback) isEffect() {}
func (StartTimer) isEffect()      {}
func (StopTimer) isEffect()       {}
