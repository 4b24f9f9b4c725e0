package scoring

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/surgieval/internal/model"
)

func checklist(n int) []model.ChecklistItem {
	items := make([]model.ChecklistItem, n)
	for i := range items {
		items[i] = model.ChecklistItem{ID: fmt.Sprintf("item-%d", i), Category: "c", Text: "t"}
	}
	return items
}

func TestScoreWorkedCase(t *testing.T) {
	items := checklist(4)
	responses := model.ResponseMap{
		"item-0": model.StatusCorrect,
		"item-1": model.StatusCorrect,
		"item-2": model.StatusPartial,
		"item-3": model.StatusNotDone,
	}
	got, err := Score(items, responses)
	require.NoError(t, err)
	require.InDelta(t, 3.125, got, 1e-9)

	c := Tally(items, responses)
	require.Equal(t, 2.5, c.Raw)
	require.Equal(t, Counts{Correct: 2, Partial: 1, NotDone: 1, Raw: 2.5, Total: 4}, c)
}

func TestScoreEmptyChecklist(t *testing.T) {
	_, err := Score(nil, model.ResponseMap{"x": model.StatusCorrect})
	require.ErrorIs(t, err, ErrEmptyChecklist)
}

func TestScoreIgnoresUnknownResponses(t *testing.T) {
	items := checklist(2)
	got, err := Score(items, model.ResponseMap{"item-0": model.StatusCorrect, "other": model.StatusCorrect})
	require.NoError(t, err)
	require.InDelta(t, 2.5, got, 1e-9)
}

func TestScoreRangeAndFormula(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.IntN(40)
		items := checklist(n)
		responses := model.ResponseMap{}
		var raw float64
		for _, it := range items {
			if rng.IntN(5) == 0 {
				continue
			}
			s := model.Statuses[rng.IntN(len(model.Statuses))]
			responses[it.ID] = s
			raw += s.Credit()
		}
		got, err := Score(items, responses)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got, 0.0)
		require.LessOrEqual(t, got, MaxScore)
		require.InDelta(t, 5*raw/float64(n), got, 1e-9)
	}
}

func TestScoreMonotonic(t *testing.T) {
	items := checklist(5)
	ladder := []model.PerformanceStatus{model.StatusNotDone, model.StatusIncorrect, model.StatusPartial, model.StatusCorrect}
	base := model.ResponseMap{"item-1": model.StatusPartial, "item-3": model.StatusCorrect}

	for _, it := range items {
		prev := -1.0
		for _, s := range ladder {
			got, err := Score(items, base.With(it.ID, s))
			require.NoError(t, err)
			require.GreaterOrEqual(t, got, prev, "upgrading %s to %s lowered the score", it.ID, s)
			prev = got
		}
	}
}

func TestRound1(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{3.125, 3.1},
		{3.15, 3.2},
		{4.95, 5.0},
		{0, 0},
		{2.04, 2.0},
	}
	for _, tt := range tests {
		require.InDelta(t, tt.want, Round1(tt.in), 1e-9, "Round1(%v)", tt.in)
	}
}

func TestInRange(t *testing.T) {
	require.True(t, InRange(0))
	require.True(t, InRange(5))
	require.False(t, InRange(-0.1))
	require.False(t, InRange(5.01))
	require.False(t, InRange(math.NaN()))
}

func TestBandOf(t *testing.T) {
	tests := []struct {
		score float64
		want  Band
	}{
		{0, BandInsufficient},
		{2.9, BandInsufficient},
		{3.0, BandAcceptable},
		{3.9, BandAcceptable},
		{4.0, BandGood},
		{4.5, BandGood},
		{4.6, BandExcellent},
		{5, BandExcellent},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, BandOf(tt.score), "BandOf(%v)", tt.score)
	}
}
