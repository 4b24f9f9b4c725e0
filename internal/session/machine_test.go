package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pavelanni/surgieval/internal/countdown"
	"github.com/pavelanni/surgieval/internal/model"
)

type fakeGenerator struct {
	mu          sync.Mutex
	scenario    *model.Scenario
	scenarioErr error
	feedback    *model.Feedback
	feedbackErr error
	gate        chan struct{} // when set, calls block until it is closed
	requests    []model.FeedbackRequest
}

func (f *fakeGenerator) wait(ctx context.Context) error {
	if f.gate == nil {
		return nil
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeGenerator) GenerateScenario(ctx context.Context, _ model.ScenarioRequest) (*model.Scenario, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.scenario, f.scenarioErr
}

func (f *fakeGenerator) GenerateFeedback(ctx context.Context, req model.FeedbackRequest) (*model.Feedback, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.feedback, f.feedbackErr
}

type stepTicker struct{ ch chan time.Time }

func (s *stepTicker) C() <-chan time.Time { return s.ch }
func (s *stepTicker) Stop()               {}

type tickers struct {
	mu  sync.Mutex
	all []*stepTicker
}

func (tk *tickers) New(time.Duration) countdown.Ticker {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	t := &stepTicker{ch: make(chan time.Time)}
	tk.all = append(tk.all, t)
	return t
}

func (tk *tickers) last() *stepTicker {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	return tk.all[len(tk.all)-1]
}

func newMachine(t *testing.T, gen Generator, rules Rules, opts ...Option) (*Machine, *tickers) {
	t.Helper()
	tk := &tickers{}
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTimerOptions(countdown.WithTicker(tk.New)),
	}, opts...)
	m := New(gen, rules, opts...)
	t.Cleanup(m.Close)
	return m, tk
}

func dispatch(t *testing.T, m *Machine, events ...Event) {
	t.Helper()
	for _, ev := range events {
		require.NoError(t, m.Dispatch(context.Background(), ev), "%T", ev)
	}
}

func toExam(t *testing.T, m *Machine) {
	t.Helper()
	dispatch(t, m, Login{Name: "Ana María", ID: "123"}, SelectMode{Mode: model.ModeCase}, SelectTopic{Topic: "Apendicitis"})
	m.Wait()
	require.Equal(t, StagePreview, m.State().Stage)
	dispatch(t, m, StartExam{})
}

func TestMachineFullStation(t *testing.T) {
	modelScore := 4.5
	gen := &fakeGenerator{
		scenario: testScenario(model.ModeCase),
		feedback: &model.Feedback{
			ModelScore:      &modelScore,
			Strengths:       []string{"Structured history"},
			Weaknesses:      []string{"Missed rebound"},
			Recommendations: []string{"Review peritoneal signs"},
		},
	}
	m, _ := newMachine(t, gen, DefaultRules())
	toExam(t, m)

	s := m.State()
	require.Equal(t, StageExamRunning, s.Stage)
	require.Equal(t, 480, s.TimeRemaining)
	require.True(t, s.TimerActive)

	dispatch(t, m,
		RecordResponse{ItemID: "1", Status: model.StatusCorrect},
		RecordResponse{ItemID: "2", Status: model.StatusCorrect},
		RecordResponse{ItemID: "3", Status: model.StatusPartial},
		FinishExam{},
	)
	m.Wait()

	s = m.State()
	require.Equal(t, StageResults, s.Stage)
	require.False(t, s.Feedback.Fallback)
	require.InDelta(t, 3.125, s.Feedback.CalculatedScore, 1e-9)
	require.Equal(t, 3.1, s.Review.FinalScore)
	require.Len(t, gen.requests, 1)
	require.InDelta(t, 3.125, gen.requests[0].LocalScore, 1e-9)

	_, err := m.Snapshot(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrEvaluatorNameRequired)

	dispatch(t, m, SetEvaluatorName{Name: "Dr. Ruiz"})
	at := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	snap, err := m.Snapshot(context.Background(), at)
	require.NoError(t, err)
	require.Equal(t, "Dr. Ruiz", snap.Review.EvaluatorName)
	require.Equal(t, at, snap.IssuedAt)
	require.Equal(t, "Apendicitis", snap.Scenario.Topic)

	again, err := m.Snapshot(context.Background(), at.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, snap, again)
}

func TestMachineFeedbackFailureReachesResults(t *testing.T) {
	gen := &fakeGenerator{scenario: testScenario(model.ModeCase), feedbackErr: errors.New("connection refused")}
	m, _ := newMachine(t, gen, DefaultRules())
	toExam(t, m)
	dispatch(t, m, RecordResponse{ItemID: "4", Status: model.StatusCorrect}, FinishExam{})
	m.Wait()

	s := m.State()
	require.Equal(t, StageResults, s.Stage)
	require.True(t, s.Feedback.Fallback)
	require.Equal(t, 1.3, s.Review.FinalScore)
}

func TestMachineFeedbackTimeoutFallsBack(t *testing.T) {
	gen := &fakeGenerator{scenario: testScenario(model.ModeCase)}
	m, _ := newMachine(t, gen, DefaultRules(), WithCallTimeout(20*time.Millisecond))
	toExam(t, m)

	gen.gate = make(chan struct{})
	dispatch(t, m, FinishExam{})
	m.Wait()

	s := m.State()
	require.Equal(t, StageResults, s.Stage)
	require.True(t, s.Feedback.Fallback)
}

func TestMachineScenarioFailure(t *testing.T) {
	gen := &fakeGenerator{scenarioErr: errors.New("rate limited")}
	m, _ := newMachine(t, gen, DefaultRules())
	dispatch(t, m, Login{Name: "Ana", ID: "1"}, SelectMode{Mode: model.ModeCase}, SelectTopic{Topic: "Apendicitis"})
	m.Wait()

	s := m.State()
	require.Equal(t, StageTopicSelection, s.Stage)
	require.NotEmpty(t, s.Error)
	require.Nil(t, s.Scenario)
}

func TestMachineBusyWhileGenerating(t *testing.T) {
	gen := &fakeGenerator{scenario: testScenario(model.ModeCase), gate: make(chan struct{})}
	m, _ := newMachine(t, gen, DefaultRules())
	dispatch(t, m, Login{Name: "Ana", ID: "1"}, SelectMode{Mode: model.ModeCase}, SelectTopic{Topic: "Apendicitis"})

	require.ErrorIs(t, m.Dispatch(context.Background(), SelectTopic{Topic: "Other"}), ErrBusy)
	require.ErrorIs(t, m.Dispatch(context.Background(), StartExam{}), ErrBusy)

	close(gen.gate)
	m.Wait()
	require.Equal(t, StagePreview, m.State().Stage)
}

func TestMachineCountdown(t *testing.T) {
	rules := DefaultRules()
	rules.StationSeconds = 2
	rules.AutoFinish = true
	gen := &fakeGenerator{scenario: testScenario(model.ModeCase)}
	m, tk := newMachine(t, gen, rules)
	toExam(t, m)

	ticker := tk.last()
	ticker.ch <- time.Now()
	require.Eventually(t, func() bool { return m.State().TimeRemaining == 1 }, time.Second, time.Millisecond)

	ticker.ch <- time.Now()
	require.Eventually(t, func() bool { return m.State().Stage == StageResults }, time.Second, time.Millisecond)
	require.True(t, m.State().Feedback.Fallback)
}

func TestMachineFinishStopsCountdown(t *testing.T) {
	gen := &fakeGenerator{scenario: testScenario(model.ModeCase)}
	m, tk := newMachine(t, gen, DefaultRules())
	toExam(t, m)
	ticker := tk.last()

	ticker.ch <- time.Now()
	require.Eventually(t, func() bool { return m.State().TimeRemaining == 479 }, time.Second, time.Millisecond)

	dispatch(t, m, FinishExam{})
	m.Wait()
	s := m.State()
	require.Equal(t, StageResults, s.Stage)
	require.False(t, s.TimerActive)
}

func TestMachineResetStartsNewSession(t *testing.T) {
	gen := &fakeGenerator{scenario: testScenario(model.ModeCase)}
	m, _ := newMachine(t, gen, DefaultRules())
	toExam(t, m)
	dispatch(t, m, FinishExam{})
	m.Wait()

	id := m.ID()
	dispatch(t, m, Reset{})
	require.NotEqual(t, id, m.ID())

	s := m.State()
	require.Equal(t, StageLogin, s.Stage)
	require.Empty(t, s.Student.Name)
	require.Nil(t, s.Scenario)
	require.Nil(t, s.Feedback)
	require.Empty(t, s.Responses)
}

func TestMachineStateIsACopy(t *testing.T) {
	gen := &fakeGenerator{scenario: testScenario(model.ModeCase)}
	m, _ := newMachine(t, gen, DefaultRules())
	toExam(t, m)
	dispatch(t, m, RecordResponse{ItemID: "1", Status: model.StatusCorrect})

	s := m.State()
	s.Responses["2"] = model.StatusCorrect
	s.Scenario.Checklist[0].Text = "changed"

	fresh := m.State()
	require.Len(t, fresh.Responses, 1)
	require.Equal(t, "Asks onset", fresh.Scenario.Checklist[0].Text)
}

func (m *Machine) currentRun() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run
}

func TestMachineDropsExpiryFromEarlierExam(t *testing.T) {
	gen := &fakeGenerator{
		scenario: testScenario(model.ModeCase),
		feedback: &model.Feedback{Strengths: []string{"ok"}},
	}
	rules := DefaultRules()
	rules.AutoFinish = true
	m, _ := newMachine(t, gen, rules)

	toExam(t, m)
	oldRun := m.currentRun()
	require.NotZero(t, oldRun)

	dispatch(t, m, FinishExam{})
	require.Zero(t, m.currentRun())
	m.Wait()
	dispatch(t, m, Reset{})
	toExam(t, m)
	newRun := m.currentRun()
	require.NotEqual(t, oldRun, newRun)

	// An expiry from the first exam arriving late leaves the new one running.
	m.onTimerExpired(oldRun)
	require.Equal(t, StageExamRunning, m.State().Stage)

	m.onTimerExpired(newRun)
	m.Wait()
	require.Equal(t, StageResults, m.State().Stage)

	// A second delivery of the same expiry is ignored.
	m.onTimerExpired(newRun)
	require.Equal(t, StageResults, m.State().Stage)
}
