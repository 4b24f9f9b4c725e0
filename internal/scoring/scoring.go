// Package scoring computes station grades from checklist responses.
package scoring

import (
	"errors"
	"math"

	"github.com/pavelanni/surgieval/internal/model"
)

// MaxScore is the top of the grading scale.
const MaxScore = 5.0

// ErrEmptyChecklist is returned when there is nothing to score.
var ErrEmptyChecklist = errors.New("checklist is empty")

// Counts summarizes the responses over a checklist.
type Counts struct {
	Correct   int
	Partial   int
	Incorrect int
	NotDone   int
	Raw       float64 // sum of credits
	Total     int
}

// Tally counts statuses over the checklist. Items without a response count as NOT_DONE.
func Tally(checklist []model.ChecklistItem, responses model.ResponseMap) Counts {
	var c Counts
	for _, item := range checklist {
		status := responses.StatusOf(item.ID)
		switch status {
		case model.StatusCorrect:
			c.Correct++
		case model.StatusPartial:
			c.Partial++
		case model.StatusIncorrect:
			c.Incorrect++
		default:
			c.NotDone++
		}
		c.Raw += status.Credit()
		c.Total++
	}
	return c
}

// Score returns 5 * Σcredit / N for the checklist.
func Score(checklist []model.ChecklistItem, responses model.ResponseMap) (float64, error) {
	if len(checklist) == 0 {
		return 0, ErrEmptyChecklist
	}
	c := Tally(checklist, responses)
	return c.Raw / float64(c.Total) * MaxScore, nil
}

// Round1 rounds to one decimal, half away from zero.
func Round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// InRange reports whether x is a usable grade.
func InRange(x float64) bool {
	return !math.IsNaN(x) && x >= 0 && x <= MaxScore
}

// Band names the rubric band a score falls in.
type Band string

const (
	BandInsufficient Band = "insufficient"
	BandAcceptable   Band = "acceptable"
	BandGood         Band = "good"
	BandExcellent    Band = "excellent"
)

// BandOf maps a score onto the rubric: <3.0 insufficient, <4.0 acceptable,
// up to 4.5 good, above that excellent.
func BandOf(score float64) Band {
	switch {
	case score < 3.0:
		return BandInsufficient
	case score < 4.0:
		return BandAcceptable
	case score <= 4.5:
		return BandGood
	default:
		return BandExcellent
	}
}
