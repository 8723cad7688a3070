package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/mockexam/internal/exam"
	"github.com/pavelanni/mockexam/internal/handler/views"
	"github.com/pavelanni/mockexam/internal/model"
	"github.com/pavelanni/mockexam/internal/store"
)

const explainTimeout = 90 * time.Second

// Explainer produces a natural-language explanation of a question's
// correct answer.
type Explainer interface {
	Explain(ctx context.Context, q model.Question, sel model.Selection) (string, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	exams     *exam.Manager
	explainer Explainer
	config    model.ExamConfig
}

// New creates a new Handler. A nil explainer disables explanations.
func New(s *store.Store, exams *exam.Manager, explainer Explainer, cfg model.ExamConfig) (*Handler, error) {
	if s == nil || exams == nil {
		return nil, errors.New("handler needs a store and an exam manager")
	}
	return &Handler{store: s, exams: exams, explainer: explainer, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Get("/", h.handleIndex)
		r.Post("/exam/start", h.handleStart)
		r.Get("/exam", h.handleExamPage)
		r.Get("/exam/view", h.handleView)
		r.Post("/exam/save", h.handleSave)
		r.Post("/exam/answer/{position}", h.handleAnswer)
		r.Post("/exam/submit", h.handleSubmit)
		r.Post("/exam/retake", h.handleRetake)
		r.Post("/exam/explain/{position}", h.handleExplain)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/admin/bank", h.handleAdminBankPage)
			r.Post("/admin/bank", h.handleUploadBank)
		})
	})
}

// BasePathMiddleware stores the configured base path in the request context.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) indexData(r *http.Request) (views.IndexData, error) {
	count, err := h.store.QuestionCount()
	if err != nil {
		return views.IndexData{}, err
	}
	info, err := h.store.GetBankInfo()
	if err != nil {
		return views.IndexData{}, err
	}
	d := views.IndexData{Bank: info, Available: count, Blueprint: h.config.Blueprint}
	if key, ok := sessionKey(r); ok {
		d.InProgress = h.exams.State(key) == model.StateInProgress
	}
	return d, nil
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	d, err := h.indexData(r)
	if err != nil {
		slog.Error("load index data", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	render(w, r, http.StatusOK, views.IndexPage(d))
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	key := h.ensureSessionKey(w, r)
	if err := h.startSession(key); err != nil {
		if !errors.Is(err, exam.ErrInsufficientPool) {
			slog.Error("start session", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		slog.Warn("cannot start session", "error", err)
		d, derr := h.indexData(r)
		if derr != nil {
			http.Error(w, derr.Error(), http.StatusInternalServerError)
			return
		}
		d.Error = err.Error()
		render(w, r, http.StatusConflict, views.IndexPage(d))
		return
	}
	http.Redirect(w, r, h.path("/exam"), http.StatusSeeOther)
}

func (h *Handler) startSession(key string) error {
	bank, err := h.store.ListQuestions()
	if err != nil {
		return err
	}
	s, err := h.exams.Start(key, bank, h.config.Blueprint)
	if err != nil {
		return err
	}
	slog.Info("exam session started", "slots", len(s.Slots()), "time_limit", s.TimeLimit())
	return nil
}

// view snapshots the caller's session.
func (h *Handler) view(r *http.Request) (exam.View, error) {
	key, ok := sessionKey(r)
	if !ok {
		return exam.View{}, exam.ErrNoSession
	}
	var v exam.View
	err := h.exams.With(key, func(s *exam.Session) error {
		v = s.View()
		return nil
	})
	return v, err
}

func (h *Handler) handleExamPage(w http.ResponseWriter, r *http.Request) {
	v, err := h.view(r)
	if errors.Is(err, exam.ErrNoSession) {
		http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
		return
	}
	render(w, r, http.StatusOK, views.ExamPage(views.ExamData{View: v, Explain: h.explainer != nil}))
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	v, err := h.view(r)
	if err != nil {
		jsonError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// recordForm stores the q_<position> fields of form for every slot. A slot
// without a field gets an empty selection.
func recordForm(s *exam.Session, form map[string][]string) error {
	for _, slot := range s.Slots() {
		sel := model.NewSelection(form[views.FieldName(slot.Position)]...)
		if err := s.RecordAnswer(slot, sel); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(*exam.Session) error) bool {
	key, ok := sessionKey(r)
	if !ok {
		http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
		return false
	}
	err := h.exams.With(key, fn)
	switch {
	case err == nil:
		return true
	case errors.Is(err, exam.ErrNoSession):
		http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
	case errors.Is(err, exam.ErrTooManyLabels), errors.Is(err, exam.ErrUnknownSlot):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("session update", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
	return false
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if !h.withSession(w, r, func(s *exam.Session) error { return recordForm(s, r.PostForm) }) {
		return
	}
	http.Redirect(w, r, h.path("/exam"), http.StatusSeeOther)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	ok := h.withSession(w, r, func(s *exam.Session) error {
		if err := recordForm(s, r.PostForm); err != nil {
			return err
		}
		s.Submit()
		res, err := s.Result()
		if err != nil {
			return err
		}
		slog.Info("exam session submitted", "reason", s.SubmitReason(), "total", res.Total, "max", res.TotalMax)
		return nil
	})
	if !ok {
		return
	}
	http.Redirect(w, r, h.path("/exam"), http.StatusSeeOther)
}

func (h *Handler) handleRetake(w http.ResponseWriter, r *http.Request) {
	key := h.ensureSessionKey(w, r)
	if err := h.startSession(key); err != nil {
		slog.Warn("retake failed", "error", err)
		d, derr := h.indexData(r)
		if derr != nil {
			http.Error(w, derr.Error(), http.StatusInternalServerError)
			return
		}
		d.Error = err.Error()
		render(w, r, http.StatusConflict, views.IndexPage(d))
		return
	}
	http.Redirect(w, r, h.path("/exam"), http.StatusSeeOther)
}

type answerResponse struct {
	Position  int                `json:"position"`
	Selection model.Selection    `json:"selection"`
	State     model.SessionState `json:"state"`
	Remaining string             `json:"remaining"`
}

// handleAnswer records one slot's selection from repeated "label" fields.
func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	position, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid position")
		return
	}
	if err := r.ParseForm(); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid form")
		return
	}
	key, ok := sessionKey(r)
	if !ok {
		jsonError(w, http.StatusNotFound, exam.ErrNoSession.Error())
		return
	}

	var resp answerResponse
	err = h.exams.With(key, func(s *exam.Session) error {
		slot, err := s.SlotAt(position)
		if err != nil {
			return err
		}
		if err := s.RecordAnswer(slot, model.NewSelection(r.PostForm["label"]...)); err != nil {
			return err
		}
		resp = answerResponse{
			Position:  position,
			Selection: s.Answer(slot),
			State:     s.State(),
			Remaining: exam.FormatClock(s.Remaining()),
		}
		return nil
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, exam.ErrNoSession), errors.Is(err, exam.ErrUnknownSlot):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, exam.ErrTooManyLabels):
		jsonError(w, http.StatusBadRequest, err.Error())
	default:
		jsonError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleExplain asks the explainer about one slot of a submitted session.
func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	if h.explainer == nil {
		http.Error(w, "explanations are not enabled", http.StatusNotFound)
		return
	}
	position, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil {
		http.Error(w, "invalid position", http.StatusBadRequest)
		return
	}
	key, ok := sessionKey(r)
	if !ok {
		http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
		return
	}

	var (
		q   model.Question
		sel model.Selection
		v   exam.View
	)
	err = h.exams.With(key, func(s *exam.Session) error {
		res, err := s.Result()
		if err != nil {
			return err
		}
		if position < 0 || position >= len(res.Slots) {
			return exam.ErrUnknownSlot
		}
		q, sel = res.Slots[position].Question, res.Slots[position].Selection
		v = s.View()
		return nil
	})
	switch {
	case errors.Is(err, exam.ErrNoSession):
		http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
		return
	case errors.Is(err, exam.ErrNotSubmitted):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, exam.ErrUnknownSlot):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), explainTimeout)
	defer cancel()
	text, err := h.explainer.Explain(ctx, q, sel)
	if err != nil {
		slog.Error("explanation failed", "question_id", q.ID, "error", err)
		http.Error(w, "explanation failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		render(w, r, http.StatusOK, views.Explanation(position, text))
		return
	}
	render(w, r, http.StatusOK, views.ExamPage(views.ExamData{
		View:         v,
		Explain:      true,
		Explanations: map[int]string{position: text},
	}))
}
