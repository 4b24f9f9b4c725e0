package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/surgieval/internal/countdown"
	"github.com/pavelanni/surgieval/internal/handler/views"
	appI18n "github.com/pavelanni/surgieval/internal/i18n"
	"github.com/pavelanni/surgieval/internal/model"
	"github.com/pavelanni/surgieval/internal/observability"
	"github.com/pavelanni/surgieval/internal/report"
	"github.com/pavelanni/surgieval/internal/session"
)

// TopicSource lists the catalog topics of a mode.
type TopicSource interface {
	TopicNames(mode model.ExamMode) ([]string, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	machine  *session.Machine
	topics   TopicSource
	config   model.StationConfig
	measurer report.Measurer
	now      func() time.Time
}

// New creates a new Handler.
func New(m *session.Machine, topics TopicSource, cfg model.StationConfig) *Handler {
	observability.RegisterMetrics()
	return &Handler{
		machine:  m,
		topics:   topics,
		config:   cfg,
		measurer: report.NewFPDFMeasurer(),
		now:      time.Now,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(countRequests)
	r.Get("/metrics", observability.Handler().ServeHTTP)
	r.Get("/exam/timer", h.handleTimer)

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/", h.handleIndex)
		r.Post("/login", h.handleLogin)
		r.Post("/mode", h.handleMode)
		r.Post("/mode/back", h.dispatchThen(session.BackToModes{}))
		r.Post("/topic/patient", h.handlePatient)
		r.Post("/topic", h.handleTopic)
		r.Post("/preview/cancel", h.dispatchThen(session.CancelPreview{}))
		r.Post("/exam/start", h.dispatchThen(session.StartExam{}))
		r.Post("/exam/response", h.handleResponse)
		r.Post("/exam/notes", h.handleNotes)
		r.Post("/exam/finish", h.dispatchThen(session.FinishExam{}))
		r.Post("/results/review", h.handleReview)
		r.Get("/results/report.pdf", h.handleReport)
		r.Get("/results/snapshot.json", h.handleSnapshot)
		r.Post("/reset", h.dispatchThen(session.Reset{}))
	})
}

// BasePathMiddleware stores the configured URL prefix in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.HTTPRequests().WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, http.StatusOK, "")
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	st := h.machine.State()
	if errMsg == "" {
		errMsg = st.Error
	}
	data := views.PageData{State: st, Error: errMsg}
	if st.Stage == session.StageTopicSelection && h.topics != nil {
		topics, err := h.topics.TopicNames(st.Mode)
		if err != nil {
			slog.Error("failed to list topics", "mode", st.Mode, "error", err)
		}
		data.Topics = topics
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := views.Page(data).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// dispatch applies events in order and stops at the first error, which is
// rendered on the current page. It reports whether every event was accepted.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, events ...session.Event) bool {
	for _, ev := range events {
		if err := h.machine.Dispatch(r.Context(), ev); err != nil {
			h.fail(w, r, err)
			return false
		}
	}
	return true
}

func (h *Handler) dispatchThen(ev session.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.dispatch(w, r, ev) {
			h.redirectHome(w, r)
		}
	}
}

func (h *Handler) redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID := classify(err)
	slog.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	h.renderPage(w, r, status, appI18n.T(r.Context(), msgID))
}

// classify maps an error to an HTTP status and a message ID.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "ErrBusy"
	case errors.Is(err, session.ErrReportIssued):
		return http.StatusConflict, "ErrReportIssued"
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, model.ErrIncompleteSnapshot):
		return http.StatusConflict, "ErrInvalidTransition"
	case errors.Is(err, session.ErrEvaluatorNameRequired), errors.Is(err, report.ErrUnsigned):
		return http.StatusUnprocessableEntity, "ErrEvaluatorNameRequired"
	case errors.Is(err, session.ErrScoreOutOfRange):
		return http.StatusBadRequest, "ErrScoreOutOfRange"
	case errors.Is(err, session.ErrTopicRequired):
		return http.StatusBadRequest, "ErrTopicRequired"
	case errors.Is(err, session.ErrUnknownMode),
		errors.Is(err, session.ErrUnknownItem),
		errors.Is(err, session.ErrInvalidStatus):
		return http.StatusBadRequest, "ErrBadRequest"
	default:
		return http.StatusInternalServerError, "ErrBadRequest"
	}
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ev := session.Login{Name: r.FormValue("name"), ID: r.FormValue("id")}
	if h.dispatch(w, r, ev) {
		h.redirectHome(w, r)
	}
}

func (h *Handler) handleMode(w http.ResponseWriter, r *http.Request) {
	mode := model.ExamMode(strings.ToUpper(r.FormValue("mode")))
	if h.dispatch(w, r, session.SelectMode{Mode: mode}) {
		h.redirectHome(w, r)
	}
}

func (h *Handler) handlePatient(w http.ResponseWriter, r *http.Request) {
	if h.dispatch(w, r, session.SetSimulatedPatient{On: r.FormValue("patient") == "on"}) {
		h.redirectHome(w, r)
	}
}

func (h *Handler) handleTopic(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(r.FormValue("custom_topic"))
	if topic == "" {
		topic = r.FormValue("topic")
	}
	events := []session.Event{session.SelectTopic{Topic: topic}}
	if h.machine.State().Mode == model.ModeCase {
		patient := session.SetSimulatedPatient{On: r.FormValue("patient") == "on"}
		events = append([]session.Event{patient}, events...)
	}
	if h.dispatch(w, r, events...) {
		h.redirectHome(w, r)
	}
}

func (h *Handler) handleResponse(w http.ResponseWriter, r *http.Request) {
	ev := session.RecordResponse{
		ItemID: r.FormValue("item"),
		Status: model.PerformanceStatus(r.FormValue("status")),
	}
	if h.dispatch(w, r, ev) {
		h.redirectHome(w, r)
	}
}

func (h *Handler) handleNotes(w http.ResponseWriter, r *http.Request) {
	if h.dispatch(w, r, session.SetNotes{Notes: r.FormValue("notes")}) {
		h.redirectHome(w, r)
	}
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	score, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("final_score")), 64)
	if err != nil {
		h.fail(w, r, session.ErrScoreOutOfRange)
		return
	}
	ok := h.dispatch(w, r,
		session.SetFinalScore{Score: score},
		session.SetJustification{Text: r.FormValue("justification")},
		session.SetEvaluatorName{Name: r.FormValue("evaluator_name")},
	)
	if ok {
		h.redirectHome(w, r)
	}
}

type timerResponse struct {
	Stage     session.Stage `json:"stage"`
	Remaining int           `json:"remaining"`
	Active    bool          `json:"active"`
	Display   string        `json:"display"`
}

func (h *Handler) handleTimer(w http.ResponseWriter, r *http.Request) {
	st := h.machine.State()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	resp := timerResponse{
		Stage:     st.Stage,
		Remaining: st.TimeRemaining,
		Active:    st.TimerActive,
		Display:   countdown.Format(st.TimeRemaining),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encode timer", "error", err)
	}
}

// plainError answers a download request that cannot be served.
func (h *Handler) plainError(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("download failed", "path", r.URL.Path, "error", err)
	}
	http.Error(w, appI18n.T(r.Context(), msgID), status)
}

// attachment formats a Content-Disposition value. Names outside ASCII are
// sent as filename*=utf-8''...
func attachment(filename string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": filename})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	snap, err := h.machine.Snapshot(r.Context(), h.now())
	if err != nil {
		observability.Reports().WithLabelValues("rejected").Inc()
		h.plainError(w, r, err)
		return
	}
	doc, err := report.Build(snap, report.LocalizedLabels(r.Context()), h.measurer)
	if err != nil {
		observability.Reports().WithLabelValues("rejected").Inc()
		h.plainError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := report.Render(doc, &buf); err != nil {
		observability.Reports().WithLabelValues("error").Inc()
		h.plainError(w, r, err)
		return
	}
	observability.Reports().WithLabelValues("ok").Inc()
	slog.Info("report issued", "session", h.machine.ID(), "pages", len(doc.Pages), "bytes", buf.Len())

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", attachment(report.Filename(snap.Student)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("write report", "error", err)
	}
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.machine.Snapshot(r.Context(), h.now())
	if err != nil {
		h.plainError(w, r, err)
		return
	}
	name := strings.TrimSuffix(report.Filename(snap.Student), ".pdf") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", attachment(name))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		slog.Error("encode snapshot", "error", err)
	}
}
