package progress

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/auth"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/httputil"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/metrics"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/validate"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/videotoken"
)

// Store is the read/write side of PGRecorder used by the HTTP API.
type Store interface {
	Upsert(ctx context.Context, userID, lessonID string, completedAt time.Time) error
	Get(ctx context.Context, userID, lessonID string) (Progress, error)
}

type Handler struct {
	store   Store
	catalog videotoken.Catalog
	clock   clockwork.Clock
	metrics metrics.Recorder
}

func NewHandler(store Store, catalog videotoken.Catalog, clock clockwork.Clock, m metrics.Recorder) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Handler{store: store, catalog: catalog, clock: clock, metrics: m}
}

type progressResponse struct {
	LessonID    string  `json:"lessonId"`
	Completed   bool    `json:"completed"`
	StartedAt   *string `json:"startedAt,omitempty"`
	CompletedAt *string `json:"completedAt,omitempty"`
}

func toResponse(p Progress) progressResponse {
	resp := progressResponse{LessonID: p.LessonID, Completed: p.Completed}
	if p.StartedAt != nil {
		s := p.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if p.CompletedAt != nil {
		s := p.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

// Complete handles POST /api/lessons/{lessonId}/complete, the manual
// "mark complete" action.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "AuthRequired")
		return
	}
	lessonID := chi.URLParam(r, "lessonId")
	if msg := validate.LessonID(lessonID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	lesson, err := h.catalog.Lesson(r.Context(), lessonID)
	if errors.Is(err, videotoken.ErrLessonNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "lesson not found")
		return
	}
	if err != nil {
		slog.Error("progress: lesson lookup failed", "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to record progress")
		return
	}
	entitled, err := h.catalog.Entitled(r.Context(), userID, lesson)
	if err != nil {
		slog.Error("progress: entitlement check failed", "user_id", userID, "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to record progress")
		return
	}
	if !entitled {
		httputil.WriteError(w, http.StatusForbidden, "AccessDenied")
		return
	}

	if err := h.store.Upsert(r.Context(), userID, lessonID, h.clock.Now()); err != nil {
		slog.Error("progress: manual completion failed", "user_id", userID, "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to record progress")
		return
	}
	h.metrics.CompletionRecorded("manual")

	p, err := h.store.Get(r.Context(), userID, lessonID)
	if err != nil {
		slog.Error("progress: read back failed", "user_id", userID, "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(p))
}

// Get handles GET /api/lessons/{lessonId}/progress.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "AuthRequired")
		return
	}
	lessonID := chi.URLParam(r, "lessonId")
	if msg := validate.LessonID(lessonID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	p, err := h.store.Get(r.Context(), userID, lessonID)
	if err != nil {
		slog.Error("progress: read failed", "user_id", userID, "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(p))
}
