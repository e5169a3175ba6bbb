package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"facefeed/internal/session"
)

// Sessions is the session surface the API drives.
type Sessions interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	SelectSource(ctx context.Context, sourceID int) error
	Status() session.Status
}

// Handler exposes the session and its detections over HTTP using go-chi.
type Handler struct {
	sessions Sessions
	log      *slog.Logger
}

// NewHandler returns a Handler driving s.
func NewHandler(s Sessions, log *slog.Logger) *Handler {
	return &Handler{sessions: s, log: log.With(slog.String("component", "api"))}
}

// Routes mounts the handler endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.GetStatus)
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Post("/reset", h.Reset)
		r.Put("/source/{source_id}", h.SelectSource)
	})
	r.Get("/detections", h.GetDetections)
	r.Get("/summary", h.GetSummary)
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}

// GetStatus handles GET /session.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sessions.Status())
}

// Start handles POST /session/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	err := h.sessions.Start(r.Context())
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, h.sessions.Status())
	case errors.Is(err, session.ErrSessionUnavailable):
		h.log.Info("session start refused", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.Is(err, session.ErrSessionStartFailed):
		h.log.Warn("session start failed", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		h.log.Error("session start failed", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

// Stop handles POST /session/stop. It always succeeds.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Stop(r.Context()); err != nil {
		h.log.Warn("session stop reported error", slog.String("error", err.Error()))
	}
	h.writeJSON(w, http.StatusOK, h.sessions.Status())
}

// Reset handles POST /session/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Reset(r.Context()); err != nil {
		h.log.Error("reset failed", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, h.sessions.Status())
}

// SelectSource handles PUT /session/source/{source_id}.
func (h *Handler) SelectSource(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(r, "source_id"))
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: "source_id must be a non-negative integer"})
		return
	}

	err = h.sessions.SelectSource(r.Context(), id)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, h.sessions.Status())
	case errors.Is(err, session.ErrSessionStartFailed):
		h.log.Warn("restart on new source failed", slog.Int("source_id", id), slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		h.log.Error("select source failed", slog.Int("source_id", id), slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

// GetDetections handles GET /detections.
func (h *Handler) GetDetections(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sessions.Status().Detections)
}

// GetSummary handles GET /summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sessions.Status().Summary)
}
