package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"classroom-quiz-service/internal/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

var errBadRequest = errors.New("malformed request body")

// Handler exposes the runtime over REST. Clients poll; there is no push channel.
type Handler struct {
	runtime   *app.RuntimeService
	lifecycle *app.LifecycleService
	auth      *Authenticator
	cronKey   string
	origins   []string
	log       *slog.Logger
}

type Options struct {
	// CronKey, when set, must be sent as X-Cron-Key to trigger the lifecycle sweep.
	CronKey        string
	AllowedOrigins []string
	Log            *slog.Logger
}

func NewHandler(runtime *app.RuntimeService, lifecycle *app.LifecycleService, auth *Authenticator, opts Options) *Handler {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Handler{runtime: runtime, lifecycle: lifecycle, auth: auth, cronKey: opts.CronKey, origins: origins, log: log}
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Cron-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/sessions/auto", h.sweep)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/join", h.join)
			r.Post("/start", h.startSession)
			r.Post("/end", h.endSession)
			r.Get("/status", h.sessionStatus)
			r.Get("/teacherToken", h.teacherToken)
			r.Get("/scoreboard", h.scoreboard)
			r.Get("/checkpointLogs", h.checkpointLogs)
		})
		r.Route("/attempts/{attemptID}", func(r chi.Router) {
			r.Get("/state", h.state)
			r.Get("/questions", h.questions)
			r.Get("/answers", h.listAnswers)
			r.Put("/answers", h.saveAnswer)
			r.Post("/verifyToken", h.verifyToken)
			r.Post("/submit", h.submit)
		})
	})
	return r
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	res, err := h.runtime.Join(r.Context(), userFrom(r.Context()), chi.URLParam(r, "sessionID"))
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	res, err := h.runtime.State(r.Context(), userFrom(r.Context()), chi.URLParam(r, "attemptID"))
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) questions(w http.ResponseWriter, r *http.Request) {
	res, err := h.runtime.Questions(r.Context(), userFrom(r.Context()), chi.URLParam(r, "attemptID"))
	h.respond(w, r, http.StatusOK, map[string]any{"questions": res}, err)
}

func (h *Handler) listAnswers(w http.ResponseWriter, r *http.Request) {
	res, err := h.runtime.ListAnswers(r.Context(), userFrom(r.Context()), chi.URLParam(r, "attemptID"))
	h.respond(w, r, http.StatusOK, map[string]any{"answers": res}, err)
}

type saveAnswerRequest struct {
	SessionQuestionID string `json:"sessionQuestionId"`
	Selected          []int  `json:"selected"`
}

func (h *Handler) saveAnswer(w http.ResponseWriter, r *http.Request) {
	var req saveAnswerRequest
	if err := decode(r, &req); err != nil || req.SessionQuestionID == "" {
		writeError(w, errBadRequest)
		return
	}
	res, err := h.runtime.SaveAnswer(r.Context(), userFrom(r.Context()), chi.URLParam(r, "attemptID"), req.SessionQuestionID, req.Selected)
	h.respond(w, r, http.StatusOK, res, err)
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (h *Handler) verifyToken(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, errBadRequest)
		return
	}
	res, err := h.runtime.VerifyToken(r.Context(), userFrom(r.Context()), chi.URLParam(r, "attemptID"), req.Token)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	res, err := h.runtime.Submit(r.Context(), userFrom(r.Context()), chi.URLParam(r, "attemptID"))
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) teacherToken(w http.ResponseWriter, r *http.Request) {
	res, err := h.runtime.TeacherToken(r.Context(), userFrom(r.Context()), chi.URLParam(r, "sessionID"))
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.runtime.StartSession(r.Context(), userFrom(r.Context()), chi.URLParam(r, "sessionID"))
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.runtime.EndSession(r.Context(), userFrom(r.Context()), chi.URLParam(r, "sessionID"))
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) sessionStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.runtime.SessionStatus(r.Context(), userFrom(r.Context()), chi.URLParam(r, "sessionID"))
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) scoreboard(w http.ResponseWriter, r *http.Request) {
	res, err := h.runtime.Scoreboard(r.Context(), userFrom(r.Context()), chi.URLParam(r, "sessionID"))
	h.respond(w, r, http.StatusOK, map[string]any{"attempts": res}, err)
}

func (h *Handler) checkpointLogs(w http.ResponseWriter, r *http.Request) {
	res, err := h.runtime.CheckpointLogs(r.Context(), userFrom(r.Context()), chi.URLParam(r, "sessionID"))
	h.respond(w, r, http.StatusOK, map[string]any{"logs": res}, err)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	if h.cronKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Cron-Key")), []byte(h.cronKey)) != 1 {
		writeError(w, errUnauthenticated)
		return
	}
	res, err := h.lifecycle.Sweep(r.Context())
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, body any, err error) {
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, status, body)
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return errBadRequest
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}
