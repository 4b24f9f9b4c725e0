package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/surgieval/internal/countdown"
	"github.com/pavelanni/surgieval/internal/model"
	"github.com/pavelanni/surgieval/internal/observability"
)

// DefaultCallTimeout bounds one AI call.
const DefaultCallTimeout = 90 * time.Second

// Generator produces scenarios and feedback. It is implemented by the llm client.
type Generator interface {
	GenerateScenario(ctx context.Context, req model.ScenarioRequest) (*model.Scenario, error)
	GenerateFeedback(ctx context.Context, req model.FeedbackRequest) (*model.Feedback, error)
}

// Machine owns the live session.
type Machine struct {
	mu    sync.Mutex
	id    string
	rules Rules
	gen   Generator
	state State
	timer *countdown.Timer
	run   uint64 // countdown run of the current exam, 0 when none

	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	callTimeout time.Duration
	timerOpts   []countdown.Option
	logger      *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithCallTimeout bounds each AI call. Zero or negative keeps the default.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.callTimeout = d
		}
	}
}

// WithLogger sets the logger. slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithTimerOptions passes options to the countdown (used by tests to inject a ticker).
func WithTimerOptions(opts ...countdown.Option) Option {
	return func(m *Machine) { m.timerOpts = append(m.timerOpts, opts...) }
}

// New creates a machine at the login stage.
func New(gen Generator, rules Rules, opts ...Option) *Machine {
	m := &Machine{
		id:          uuid.NewString(),
		rules:       rules,
		gen:         gen,
		state:       Initial(),
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	timerOpts := append([]countdown.Option{countdown.OnExpire(m.onTimerExpired)}, m.timerOpts...)
	m.timer = countdown.New(timerOpts...)
	return m
}

// ID returns the identifier of the current session.
func (m *Machine) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Rules returns the rules the machine was built with.
func (m *Machine) Rules() Rules {
	return m.rules
}

// Dispatch applies ev to the session and runs the resulting effects.
func (m *Machine) Dispatch(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(ctx, ev)
}

// State returns a copy of the current state with the live countdown.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state.Clone()
	if s.Stage == StageExamRunning {
		s.TimeRemaining = m.timer.Remaining()
		s.TimerActive = m.timer.Active()
	}
	return s
}

// Snapshot issues the report at the given time and returns the frozen
// session. Repeated calls return the same snapshot.
func (m *Machine) Snapshot(ctx context.Context, at time.Time) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.applyLocked(ctx, IssueReport{At: at}); err != nil {
		return model.Snapshot{}, err
	}
	return m.state.Snapshot()
}

// Wait blocks until no AI call is in flight.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// Close stops the countdown and cancels in-flight calls.
func (m *Machine) Close() {
	m.cancel()
	m.timer.Stop()
	m.wg.Wait()
}

func (m *Machine) applyLocked(ctx context.Context, ev Event) error {
	if m.state.Stage == StageExamRunning {
		m.state.TimeRemaining = m.timer.Remaining()
	}
	from := m.state.Stage
	next, effects, err := m.rules.Apply(m.state, ev)
	if err != nil {
		m.logger.DebugContext(ctx, "event rejected",
			"session", m.id, "stage", from, "event", eventName(ev), "error", err)
		return err
	}
	m.state = next
	if _, ok := ev.(Reset); ok {
		m.id = uuid.NewString()
	}
	if next.Stage != from {
		observability.Transitions().WithLabelValues(string(next.Stage)).Inc()
		m.logger.InfoContext(ctx, "stage changed",
			"session", m.id, "from", from, "to", next.Stage)
	}
	for _, eff := range effects {
		m.runLocked(eff)
	}
	return nil
}

func (m *Machine) runLocked(eff Effect) {
	switch e := eff.(type) {
	case StartTimer:
		m.run = m.timer.Start(e.Seconds)
	case StopTimer:
		m.timer.Stop()
		m.run = 0
	case RequestScenario:
		m.wg.Add(1)
		go m.requestScenario(m.id, e.Request)
	case RequestFeedback:
		m.wg.Add(1)
		go m.requestFeedback(m.id, e.Request)
	}
}

func (m *Machine) requestScenario(id string, req model.ScenarioRequest) {
	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(m.ctx, m.callTimeout)
	defer cancel()

	start := time.Now()
	sc, err := m.gen.GenerateScenario(ctx, req)
	observeCall("scenario", start, err)
	if err != nil {
		m.logger.Error("scenario generation failed",
			"session", id, "topic", req.Topic, "error", err)
	}
	m.deliver(id, ScenarioResult{Scenario: sc, Err: err})
}

func (m *Machine) requestFeedback(id string, req model.FeedbackRequest) {
	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(m.ctx, m.callTimeout)
	defer cancel()

	start := time.Now()
	fb, err := m.gen.GenerateFeedback(ctx, req)
	observeCall("feedback", start, err)
	if err != nil || fb == nil {
		observability.Fallbacks().Inc()
		m.logger.Warn("feedback generation failed, using fallback",
			"session", id, "score", req.LocalScore, "error", err)
	}
	m.deliver(id, FeedbackResult{Feedback: fb, Err: err})
}

// deliver feeds a result back unless the session it belongs to is gone.
func (m *Machine) deliver(id string, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.id {
		return
	}
	_ = m.applyLocked(context.Background(), ev)
}

func (m *Machine) onTimerExpired(run uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run == 0 || run != m.run {
		m.logger.Debug("stale timer expiry dropped", "session", m.id, "run", run)
		return
	}
	m.run = 0
	m.logger.Info("station time expired", "session", m.id, "auto_finish", m.rules.AutoFinish)
	// A stop racing the expiry leaves the stage elsewhere; the rejection is harmless.
	_ = m.applyLocked(context.Background(), TimerExpired{})
}

func observeCall(kind string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.AIRequests().WithLabelValues(kind, outcome).Inc()
	observability.AILatency().WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func eventName(ev Event) string {
	switch ev.(type) {
	case Login:
		return "login"
	case SelectMode:
		return "select_mode"
	case BackToModes:
		return "back_to_modes"
	case SetSimulatedPatient:
		return "set_simulated_patient"
	case SelectTopic:
		return "select_topic"
	case ScenarioResult:
		return "scenario_result"
	case CancelPreview:
		return "cancel_preview"
	case StartExam:
		return "start_exam"
	case RecordResponse:
		return "record_response"
	case SetNotes:
		return "set_notes"
	case TimerExpired:
		return "timer_expired"
	case FinishExam:
		return "finish_exam"
	case FeedbackResult:
		return "feedback_result"
	case SetFinalScore:
		return "set_final_score"
	case SetJustification:
		return "set_justification"
	case SetEvaluatorName:
		return "set_evaluator_name"
	case IssueReport:
		return "issue_report"
	case Reset:
		return "reset"
	}
	return "unknown"
}
