package model

import (
	"errors"
	"time"
)

// ErrIncompleteSnapshot is returned when a snapshot lacks a scenario or feedback.
var ErrIncompleteSnapshot = errors.New("snapshot is incomplete")

// Snapshot is the frozen session state consumed by the report assembler.
// It is also the JSON document written by the snapshot export.
type Snapshot struct {
	Student   Student     `json:"student"`
	Mode      ExamMode    `json:"mode"`
	Scenario  *Scenario   `json:"scenario"`
	Responses ResponseMap `json:"responses"`
	Notes     string      `json:"notes,omitempty"`
	Feedback  *Feedback   `json:"feedback"`
	Review    Review      `json:"review"`
	IssuedAt  time.Time   `json:"issued_at"`
}

// Validate checks that the snapshot can be turned into a report.
func (s Snapshot) Validate() error {
	if s.Scenario == nil || s.Feedback == nil {
		return ErrIncompleteSnapshot
	}
	if !s.Student.Complete() {
		return ErrIncompleteSnapshot
	}
	return nil
}
