package videotoken

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/click2025-space493/learnova-paltform-sub000/internal/auth"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/clientinfo"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/httputil"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/metrics"
	"github.com/click2025-space493/learnova-paltform-sub000/internal/validate"
)

type Handler struct {
	svc     *Service
	clients *clientinfo.Resolver
	metrics metrics.Recorder
}

func NewHandler(svc *Service, clients *clientinfo.Resolver, m metrics.Recorder) *Handler {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Handler{svc: svc, clients: clients, metrics: m}
}

type issueRequest struct {
	LessonID string `json:"lessonId"`
	CourseID string `json:"courseId"`
}

type issueResponse struct {
	Token       string `json:"token"`
	ExpiresAt   string `json:"expiresAt"`
	VideoID     string `json:"videoId"`
	PlaybackURL string `json:"playbackUrl,omitempty"`
}

type validatePayload struct {
	LessonID  string `json:"lessonId"`
	UserID    string `json:"userId"`
	CourseID  string `json:"courseId"`
	ExpiresAt string `json:"expiresAt"`
}

type validateResponse struct {
	Valid   bool             `json:"valid"`
	Payload *validatePayload `json:"payload,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}

// Issue handles POST /video-token. It sits behind auth.Handler.Middleware.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	viewer, ok := auth.ViewerFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "AuthRequired")
		return
	}

	var req issueRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LessonID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "lessonId is required")
		return
	}
	if msg := validate.LessonID(req.LessonID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validate.CourseID(req.CourseID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	grant, err := h.svc.Issue(r.Context(), IssueRequest{
		UserID:     viewer.UserID,
		ViewerName: viewer.Name,
		LessonID:   req.LessonID,
		CourseID:   req.CourseID,
		Client:     h.clients.Describe(r),
	})
	if err != nil {
		h.writeIssueError(w, err, viewer.UserID, req.LessonID)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, issueResponse{
		Token:       grant.Signature,
		ExpiresAt:   grant.ExpiresAt.UTC().Format(time.RFC3339),
		VideoID:     grant.VideoID,
		PlaybackURL: grant.PlaybackURL,
	})
}

func (h *Handler) writeIssueError(w http.ResponseWriter, err error, userID, lessonID string) {
	switch {
	case errors.Is(err, ErrAuthRequired):
		httputil.WriteError(w, http.StatusUnauthorized, "AuthRequired")
	case errors.Is(err, ErrAccessDenied):
		slog.Info("videotoken: access denied", "user_id", userID, "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusForbidden, "AccessDenied")
	case errors.Is(err, ErrServiceUnavailable):
		slog.Error("videotoken: issue failed", "user_id", userID, "lesson_id", lessonID, "error", err)
		w.Header().Set("Retry-After", "1")
		httputil.WriteError(w, http.StatusServiceUnavailable, "ServiceUnavailable")
	default:
		slog.Error("videotoken: unexpected issue error", "user_id", userID, "lesson_id", lessonID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to issue token")
	}
}

// Validate handles GET /video-token?token=...&lessonId=...
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	lessonID := r.URL.Query().Get("lessonId")
	if tokenStr == "" || lessonID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "token and lessonId are required")
		return
	}
	if msg := validate.Token(tokenStr) + validate.LessonID(lessonID); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	claims, err := h.svc.Validate(tokenStr, lessonID)
	if err != nil {
		reason := Reason(err)
		h.metrics.TokenValidated(reason)
		httputil.WriteJSON(w, http.StatusOK, validateResponse{Valid: false, Reason: reason})
		return
	}

	h.metrics.TokenValidated("Valid")
	httputil.WriteJSON(w, http.StatusOK, validateResponse{
		Valid: true,
		Payload: &validatePayload{
			LessonID:  claims.LessonID,
			UserID:    claims.UserID,
			CourseID:  claims.CourseID,
			ExpiresAt: claims.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})
}
