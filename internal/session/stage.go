// Package session sequences one OSCE station from login to the issued report.
//
// Rules.Apply is a pure transition function. Machine owns the single live
// session, executes the effects Apply asks for and feeds their results back.
package session

// Stage is a step of the station workflow.
type Stage string

const (
	StageLogin              Stage = "LOGIN"
	StageModeSelection      Stage = "MODE_SELECTION"
	StageTopicSelection     Stage = "TOPIC_SELECTION"
	StageGenerating         Stage = "GENERATING"
	StagePreview            Stage = "PREVIEW"
	StageExamRunning        Stage = "EXAM_RUNNING"
	StageFeedbackGeneration Stage = "FEEDBACK_GENERATION"
	StageResults            Stage = "RESULTS"
)

// Stages lists every stage in workflow order.
var Stages = []Stage{
	StageLogin,
	StageModeSelection,
	StageTopicSelection,
	StageGenerating,
	StagePreview,
	StageExamRunning,
	StageFeedbackGeneration,
	StageResults,
}

// Busy reports whether the stage waits on an external call.
func (s Stage) Busy() bool {
	return s == StageGenerating || s == StageFeedbackGeneration
}

// Index returns the position of s in the workflow, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}
