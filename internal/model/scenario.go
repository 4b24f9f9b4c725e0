package model

import (
	"encoding/json"
	"fmt"
)

// ChecklistItem is one observable criterion of the station.
type ChecklistItem struct {
	ID       string `json:"id" validate:"required"`
	Category string `json:"category" validate:"required"`
	Text     string `json:"text" validate:"required"`
}

// SimulatedPatientScript tells the standardized patient how to behave.
type SimulatedPatientScript struct {
	Attitude    string   `json:"attitude"`
	Gestures    string   `json:"gestures"`
	Phrases     []string `json:"phrases"`
	AllowedInfo string   `json:"allowed_info"`
	Limitations string   `json:"limitations"`
}

// ScenarioDetails carries the mode-specific part of a scenario.
// It is implemented only by ClinicalDetails and ProcedureDetails.
type ScenarioDetails interface {
	Mode() ExamMode
	isScenarioDetails()
}

// ClinicalDetails are the fields that only make sense for a clinical case.
type ClinicalDetails struct {
	VitalsAndLabs    string                  `json:"vitals_and_labs"`
	SimulatedPatient *SimulatedPatientScript `json:"simulated_patient,omitempty"`
}

func (ClinicalDetails) Mode() ExamMode     { return ModeCase }
func (ClinicalDetails) isScenarioDetails() {}

// ProcedureDetails are the fields that only make sense for a procedure.
type ProcedureDetails struct {
	Supplies string `json:"supplies"`
}

func (ProcedureDetails) Mode() ExamMode     { return ModeProcedure }
func (ProcedureDetails) isScenarioDetails() {}

// Scenario is the generated station content. It is immutable once generated.
type Scenario struct {
	Title               string          `json:"title" validate:"required"`
	Topic               string          `json:"topic"`
	Description         string          `json:"description"`
	ChiefComplaint      string          `json:"chief_complaint"`
	CurrentIllness      string          `json:"current_illness"`
	StudentInstructions string          `json:"student_instructions"`
	History             string          `json:"history"`
	Objectives          []string        `json:"objectives"`
	RedFlags            []string        `json:"red_flags"`
	Checklist           []ChecklistItem `json:"checklist" validate:"required,min=1,unique=ID,dive"`
	Details             ScenarioDetails `json:"-" validate:"-"`
}

// Mode returns the mode of the scenario variant.
func (s *Scenario) Mode() ExamMode {
	if s == nil || s.Details == nil {
		return ""
	}
	return s.Details.Mode()
}

// Clinical returns the clinical details, or nil for a procedure.
func (s *Scenario) Clinical() *ClinicalDetails {
	if d, ok := s.Details.(ClinicalDetails); ok {
		return &d
	}
	return nil
}

// Procedure returns the procedure details, or nil for a clinical case.
func (s *Scenario) Procedure() *ProcedureDetails {
	if d, ok := s.Details.(ProcedureDetails); ok {
		return &d
	}
	return nil
}

// Item returns the checklist item with the given ID.
func (s *Scenario) Item(id string) (ChecklistItem, bool) {
	if s == nil {
		return ChecklistItem{}, false
	}
	for _, it := range s.Checklist {
		if it.ID == id {
			return it, true
		}
	}
	return ChecklistItem{}, false
}

// Clone returns a deep copy of s.
func (s *Scenario) Clone() *Scenario {
	if s == nil {
		return nil
	}
	out := *s
	out.Objectives = append([]string(nil), s.Objectives...)
	out.RedFlags = append([]string(nil), s.RedFlags...)
	out.Checklist = append([]ChecklistItem(nil), s.Checklist...)
	if c, ok := s.Details.(ClinicalDetails); ok && c.SimulatedPatient != nil {
		sp := *c.SimulatedPatient
		sp.Phrases = append([]string(nil), sp.Phrases...)
		c.SimulatedPatient = &sp
		out.Details = c
	}
	return &out
}

type scenarioAlias Scenario

type scenarioJSON struct {
	*scenarioAlias
	Mode      ExamMode          `json:"mode"`
	Clinical  *ClinicalDetails  `json:"clinical,omitempty"`
	Procedure *ProcedureDetails `json:"procedure,omitempty"`
}

// MarshalJSON writes the variant under a "mode" discriminator.
func (s Scenario) MarshalJSON() ([]byte, error) {
	out := scenarioJSON{scenarioAlias: (*scenarioAlias)(&s)}
	switch d := s.Details.(type) {
	case ClinicalDetails:
		out.Mode = ModeCase
		out.Clinical = &d
	case ProcedureDetails:
		out.Mode = ModeProcedure
		out.Procedure = &d
	default:
		return nil, fmt.Errorf("scenario has no details")
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the variant selected by the "mode" discriminator.
func (s *Scenario) UnmarshalJSON(data []byte) error {
	in := scenarioJSON{scenarioAlias: (*scenarioAlias)(s)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Mode {
	case ModeCase:
		if in.Clinical == nil {
			in.Clinical = &ClinicalDetails{}
		}
		s.Details = *in.Clinical
	case ModeProcedure:
		if in.Procedure == nil {
			in.Procedure = &ProcedureDetails{}
		}
		s.Details = *in.Procedure
	default:
		return fmt.Errorf("unknown scenario mode %q", in.Mode)
	}
	return nil
}
